package dataset

import (
	"fmt"
	"image"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-datapipe/vision/preprocessing"
)

// ImageFolder is a dataset laid out as root/<class>/<image>. The tree is
// scanned once at construction; samples are decoded on access.
type ImageFolder struct {
	root       string
	imagePaths []string
	labels     []int
	classNames []string
	assigner   LabelAssigner
	transform  Transform
	cache      *ImageCache
}

// NewImageFolder scans root. Classes are the subdirectories, indexed
// alphabetically unless WithLabels supplies a mapping.
func NewImageFolder(root string, opts ...Option) (*ImageFolder, error) {
	o := buildOptions(opts)

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list classes")
	}
	var classes []string
	for _, e := range entries {
		if e.IsDir() {
			classes = append(classes, e.Name())
		}
	}

	assigner := o.labels
	if assigner == nil {
		assigner = NewSortedLabels(classes)
	}

	d := &ImageFolder{
		root:       root,
		classNames: classes,
		assigner:   assigner,
		transform:  o.transform,
		cache:      o.cache,
	}

	for _, className := range classes {
		classIdx, err := assigner.Index(className)
		if err != nil {
			return nil, errors.Wrapf(err, "class folder %s", className)
		}
		files, err := listImages(filepath.Join(root, className), o.extensions)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			d.imagePaths = append(d.imagePaths, file)
			d.labels = append(d.labels, classIdx)
		}
	}

	if len(d.imagePaths) == 0 {
		return nil, errors.Wrapf(ErrEmptyDataset, "no images found in %s", root)
	}

	klog.V(1).Infof("image folder %s: %d images in %d classes", root, len(d.imagePaths), len(classes))
	return d, nil
}

func listImages(dir string, extensions []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		for _, want := range extensions {
			if ext == want {
				files = append(files, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan %s", dir)
	}
	return files, nil
}

// Len returns the number of items in the dataset.
func (d *ImageFolder) Len() int {
	return len(d.imagePaths)
}

// Path returns the file and label at the given index without decoding it.
func (d *ImageFolder) Path(index int) (string, int, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, errors.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], d.labels[index], nil
}

// Get decodes and transforms the image at index.
func (d *ImageFolder) Get(index int) (Sample, error) {
	path, label, err := d.Path(index)
	if err != nil {
		return Sample{}, err
	}
	img, err := d.load(path)
	if err != nil {
		return Sample{}, err
	}
	t, err := d.transform.Apply(img)
	if err != nil {
		return Sample{}, errors.Wrap(err, path)
	}
	rel, err := filepath.Rel(d.root, path)
	if err != nil {
		rel = path
	}
	return Sample{Image: t, Label: label, Key: filepath.ToSlash(rel)}, nil
}

func (d *ImageFolder) load(path string) (*image.RGBA, error) {
	if d.cache != nil {
		if img, ok := d.cache.Get(path); ok {
			return img, nil
		}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image")
	}
	defer f.Close()

	img, _, err := preprocessing.Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	if d.cache != nil {
		d.cache.Put(path, img)
	}
	return img, nil
}

// Iter walks the dataset in index order.
func (d *ImageFolder) Iter() (Iterator, error) {
	return &folderIterator{d: d}, nil
}

type folderIterator struct {
	d   *ImageFolder
	pos int
}

func (it *folderIterator) Next() (Sample, error) {
	if it.pos >= it.d.Len() {
		return Sample{}, io.EOF
	}
	s, err := it.d.Get(it.pos)
	if err != nil {
		return Sample{}, err
	}
	it.pos++
	return s, nil
}

func (it *folderIterator) Close() error { return nil }

// Labels returns the mapping used for class indices.
func (d *ImageFolder) Labels() LabelAssigner {
	return d.assigner
}

// NumClasses returns the number of classes.
func (d *ImageFolder) NumClasses() int {
	return d.assigner.Len()
}

// ClassNames returns the class folders found under root.
func (d *ImageFolder) ClassNames() []string {
	return d.classNames
}

// ClassDistribution returns the number of samples per class.
func (d *ImageFolder) ClassDistribution() map[string]int {
	classes := d.assigner.Classes()
	dist := make(map[string]int)
	for _, label := range d.labels {
		dist[classes[label]]++
	}
	return dist
}

// String returns a string representation of the dataset.
func (d *ImageFolder) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ImageFolder %s: %d samples, %d classes\n", d.root, len(d.imagePaths), len(d.classNames)))
	dist := d.ClassDistribution()
	for _, className := range d.classNames {
		sb.WriteString(fmt.Sprintf("  %s: %d samples\n", className, dist[className]))
	}
	return sb.String()
}
