// Package archive packs category folders into compressed tar files and reads
// them back entry by entry.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
	"k8s.io/klog/v2"
)

// Compression selects the stream wrapped around the tar data.
type Compression int

const (
	None Compression = iota
	Gzip
	XZ
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case XZ:
		return "xz"
	default:
		return "unknown"
	}
}

// CompressionFor picks the compression from a file name.
func CompressionFor(name string) (Compression, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return Gzip, nil
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return XZ, nil
	case strings.HasSuffix(lower, ".tar"):
		return None, nil
	default:
		return None, errors.Errorf("%s: not a tar archive name", name)
	}
}

// SidecarKey is the metadata field holding the category of an image.
const SidecarKey = "category_id"

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".gif": true, ".webp": true,
}

// IsImage reports whether name carries a known image extension.
func IsImage(name string) bool {
	return imageExtensions[strings.ToLower(path.Ext(name))]
}

// ImageFolder is an ordered list of category folders that end up in one archive.
type ImageFolder struct {
	folders  []string
	sidecars bool
}

// Option configures an ImageFolder.
type Option func(*ImageFolder)

// WithSidecars adds a "<stem>.json" metadata record holding the folder name
// as category id next to every image that has no such record yet.
func WithSidecars() Option {
	return func(f *ImageFolder) { f.sidecars = true }
}

// NewImageFolder groups folders; each folder is one category.
func NewImageFolder(folders []string, opts ...Option) *ImageFolder {
	f := &ImageFolder{folders: append([]string(nil), folders...)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ToTar writes every regular file below every folder into a single archive at
// dst, named "<folder base>/<path relative to folder>". Compression follows the
// extension of dst. A missing or unreadable folder aborts the write.
func (f *ImageFolder) ToTar(dst string) (err error) {
	compression, err := CompressionFor(dst)
	if err != nil {
		return err
	}
	for _, folder := range f.folders {
		info, err := os.Stat(folder)
		if err != nil {
			return errors.Wrapf(err, "category folder %s", folder)
		}
		if !info.IsDir() {
			return errors.Errorf("category folder %s is not a directory", folder)
		}
	}

	file, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "failed to create archive")
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "failed to close archive")
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	w, closeCompressor, err := compressWriter(file, compression)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(w)

	count := 0
	for _, folder := range f.folders {
		n, err := f.addFolder(tw, folder)
		if err != nil {
			return err
		}
		count += n
	}

	if err := tw.Close(); err != nil {
		return errors.Wrap(err, "failed to finish tar stream")
	}
	if err := closeCompressor(); err != nil {
		return errors.Wrapf(err, "failed to finish %s stream", compression)
	}
	klog.V(1).Infof("wrote %d entries from %d folders to %s (%s)", count, len(f.folders), dst, compression)
	return nil
}

func (f *ImageFolder) addFolder(tw *tar.Writer, folder string) (int, error) {
	base := filepath.Base(filepath.Clean(folder))
	count := 0
	err := filepath.WalkDir(folder, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(folder, p)
		if err != nil {
			return err
		}
		name := path.Join(base, filepath.ToSlash(rel))
		if err := addFile(tw, p, name); err != nil {
			return err
		}
		count++

		if f.sidecars && IsImage(name) {
			added, err := addSidecar(tw, p, name, base)
			if err != nil {
				return err
			}
			if added {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return count, errors.Wrapf(err, "failed to archive folder %s", folder)
	}
	return count, nil
}

func addFile(tw *tar.Writer, src, name string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, in)
	return err
}

// addSidecar writes "<stem>.json" unless the folder already has one.
func addSidecar(tw *tar.Writer, src, name, category string) (bool, error) {
	stem := strings.TrimSuffix(src, filepath.Ext(src))
	if _, err := os.Stat(stem + ".json"); err == nil {
		return false, nil
	}
	data, err := json.Marshal(map[string]string{SidecarKey: category})
	if err != nil {
		return false, err
	}
	info, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     strings.TrimSuffix(name, path.Ext(name)) + ".json",
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  info.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return false, err
	}
	_, err = tw.Write(data)
	return err == nil, err
}

func compressWriter(w io.Writer, c Compression) (io.Writer, func() error, error) {
	switch c {
	case Gzip:
		gz := gzip.NewWriter(w)
		return gz, gz.Close, nil
	case XZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to start xz stream")
		}
		return xw, xw.Close, nil
	default:
		return w, func() error { return nil }, nil
	}
}
