package dataset

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-datapipe/archive"
)

// Datapipe streams samples out of the <split>*.tar* archives under a root
// directory. Each sample is an image entry paired with a metadata entry of the
// same key; the label is the metadata's category id.
//
// The size is computed by a full pre-scan at construction. Every call to Iter
// reads the archives again.
type Datapipe struct {
	root      string
	split     Split
	archives  []string
	labels    LabelAssigner
	transform Transform
	decoder   *Decoder
	size      int
}

// NewDatapipe lists and pre-scans the archives of split under root. Labels
// default to a first-seen mapping private to this datapipe; pass WithLabels
// to share one between splits.
func NewDatapipe(root string, split Split, opts ...Option) (*Datapipe, error) {
	o := buildOptions(opts)
	archives, err := archive.Glob(root, string(split)+"*")
	if err != nil {
		return nil, err
	}
	if len(archives) == 0 {
		return nil, errors.Wrapf(ErrEmptyDataset, "no %s archives under %s", split, root)
	}

	labels := o.labels
	if labels == nil {
		labels = NewFirstSeenLabels(0)
	}
	d := &Datapipe{
		root:      root,
		split:     split,
		archives:  archives,
		labels:    labels,
		transform: o.transform,
		decoder:   NewDecoder(),
	}

	size, err := d.scan()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, errors.Wrapf(ErrEmptyDataset, "no image records in %s archives under %s", split, root)
	}
	d.size = size
	klog.V(1).Infof("datapipe %s/%s: %d records in %d archives", root, split, size, len(archives))
	return d, nil
}

func (d *Datapipe) scan() (int, error) {
	it := d.newIterator(false)
	defer it.Close()

	n := 0
	for {
		if _, err := it.Next(); err != nil {
			if err == io.EOF {
				return n, nil
			}
			return 0, err
		}
		n++
	}
}

// Len returns the number of samples found by the pre-scan.
func (d *Datapipe) Len() int {
	return d.size
}

// Iter starts a new read of every archive.
func (d *Datapipe) Iter() (Iterator, error) {
	return d.newIterator(true), nil
}

// Labels returns the mapping used for class indices.
func (d *Datapipe) Labels() LabelAssigner {
	return d.labels
}

// Archives returns the archive files read by each pass.
func (d *Datapipe) Archives() []string {
	return append([]string(nil), d.archives...)
}

func (d *Datapipe) String() string {
	return fmt.Sprintf("Datapipe %s/%s*: %d samples from %d archives, %d labels seen",
		d.root, d.split, d.size, len(d.archives), d.labels.Len())
}

func (d *Datapipe) newIterator(transform bool) *streamIterator {
	return &streamIterator{d: d, transform: transform, grouper: NewGrouper(GroupSize)}
}

type streamIterator struct {
	d         *Datapipe
	transform bool
	next      int
	reader    *archive.Reader
	grouper   *Grouper
	ready     [][]Record
}

func (it *streamIterator) Next() (Sample, error) {
	for {
		for len(it.ready) > 0 {
			group := it.ready[0]
			it.ready = it.ready[1:]
			s, ok, err := it.sample(group)
			if err != nil {
				return Sample{}, err
			}
			if ok {
				return s, nil
			}
		}

		if it.reader == nil {
			if it.next >= len(it.d.archives) {
				return Sample{}, io.EOF
			}
			r, err := archive.Open(it.d.archives[it.next])
			if err != nil {
				return Sample{}, err
			}
			it.next++
			it.reader = r
		}

		entry, err := it.reader.Next()
		if err == io.EOF {
			it.reader.Close()
			it.reader = nil
			for _, e := range it.grouper.Flush() {
				if it.transform {
					klog.Warningf("skipping %v", e)
				}
			}
			continue
		}
		if err != nil {
			return Sample{}, err
		}
		if group, ok := it.grouper.Add(it.d.decoder.Decode(entry)); ok {
			it.ready = append(it.ready, group)
		}
	}
}

// sample builds a Sample from a complete group. Groups lacking a decoded
// image or a category id are skipped.
func (it *streamIterator) sample(group []Record) (Sample, bool, error) {
	var img *Record
	var category string
	for i := range group {
		rec := &group[i]
		if rec.Kind == KindImage && img == nil {
			img = rec
			continue
		}
		if id, ok := CategoryID(*rec); ok && category == "" {
			category = id
		}
	}
	if img == nil || category == "" {
		if it.transform {
			klog.Warningf("skipping %s: group has no decodable image or no %s", group[0].Key, archive.SidecarKey)
		}
		return Sample{}, false, nil
	}

	label, err := it.d.labels.Index(category)
	if err != nil {
		return Sample{}, false, errors.Wrap(err, img.Name)
	}
	s := Sample{Label: label, Key: img.Key}
	if !it.transform {
		return s, true, nil
	}
	s.Image, err = it.d.transform.Apply(img.Image)
	if err != nil {
		return Sample{}, false, errors.Wrap(err, img.Name)
	}
	return s, true, nil
}

func (it *streamIterator) Close() error {
	if it.reader == nil {
		return nil
	}
	err := it.reader.Close()
	it.reader = nil
	return err
}
