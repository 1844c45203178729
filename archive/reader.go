package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// Entry is one regular file read from an archive.
type Entry struct {
	Archive string
	Name    string
	Data    []byte
}

// Reader iterates the regular files of one archive in stored order.
type Reader struct {
	path    string
	file    *os.File
	closers []io.Closer
	tr      *tar.Reader
}

// Open opens the archive at path, decompressing according to its extension.
func Open(path string) (*Reader, error) {
	compression, err := CompressionFor(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open archive")
	}

	r := &Reader{path: path, file: file}
	var src io.Reader = file
	switch compression {
	case Gzip:
		gz, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, errors.Wrapf(err, "%s: bad gzip stream", path)
		}
		r.closers = append(r.closers, gz)
		src = gz
	case XZ:
		xr, err := xz.NewReader(file)
		if err != nil {
			file.Close()
			return nil, errors.Wrapf(err, "%s: bad xz stream", path)
		}
		src = xr
	}
	r.tr = tar.NewReader(src)
	return r, nil
}

// Path returns the archive location.
func (r *Reader) Path() string {
	return r.path
}

// Next returns the next regular file, or io.EOF after the last one.
func (r *Reader) Next() (Entry, error) {
	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			return Entry{}, io.EOF
		}
		if err != nil {
			return Entry{}, errors.Wrapf(err, "%s: failed to read tar header", r.path)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(r.tr)
		if err != nil {
			return Entry{}, errors.Wrapf(err, "%s: failed to read %s", r.path, hdr.Name)
		}
		return Entry{Archive: r.path, Name: hdr.Name, Data: data}, nil
	}
}

// Skip advances past the next regular file without reading its content and
// returns its name.
func (r *Reader) Skip() (string, error) {
	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			return "", io.EOF
		}
		if err != nil {
			return "", errors.Wrapf(err, "%s: failed to read tar header", r.path)
		}
		if hdr.Typeflag == tar.TypeReg {
			return hdr.Name, nil
		}
	}
}

// Close releases the decompressor and the file.
func (r *Reader) Close() error {
	for _, c := range r.closers {
		c.Close()
	}
	return r.file.Close()
}

// Glob lists the archives in root whose base name matches pattern, sorted
// lexically. Files that are not tar archives are ignored.
func Glob(root, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(root, pattern))
	if err != nil {
		return nil, errors.Wrapf(err, "bad pattern %q", pattern)
	}
	var out []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if _, err := CompressionFor(m); err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// ReadAll returns every entry of the archive at path.
func ReadAll(path string) ([]Entry, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var entries []Entry
	for {
		e, err := r.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
}
