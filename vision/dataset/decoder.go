package dataset

import (
	"image"
	"path"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-datapipe/archive"
	"github.com/tsawler/go-datapipe/vision/preprocessing"
)

// RecordKind tells which handler decoded an archive entry.
type RecordKind int

const (
	KindBytes RecordKind = iota
	KindImage
	KindMetadata
	KindText
)

func (k RecordKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindMetadata:
		return "metadata"
	case KindText:
		return "text"
	default:
		return "bytes"
	}
}

// Record is a decoded archive entry. Exactly one payload field is set,
// according to Kind.
type Record struct {
	Name  string
	Key   string
	Kind  RecordKind
	Image image.Image
	Meta  *structpb.Struct
	Text  string
	Raw   []byte
}

// Handler decodes an entry or reports that it does not apply, in which case
// the next handler is tried.
type Handler func(name string, data []byte) (Record, bool)

// Decoder routes each entry through its handlers in order, ending with the
// raw-bytes fallback.
type Decoder struct {
	handlers []Handler
}

// NewDecoder returns the image handler followed by the basic handlers.
func NewDecoder() *Decoder {
	return &Decoder{handlers: []Handler{ImageHandler, MetadataHandler, TextHandler}}
}

// Decode never fails: entries no handler accepts are kept as raw bytes.
func (d *Decoder) Decode(e archive.Entry) Record {
	for _, h := range d.handlers {
		if rec, ok := h(e.Name, e.Data); ok {
			rec.Name = e.Name
			rec.Key = KeyOf(e.Name)
			return rec
		}
	}
	return Record{Name: e.Name, Key: KeyOf(e.Name), Kind: KindBytes, Raw: e.Data}
}

// KeyOf is the entry name without its extension; it pairs an image with its
// metadata file.
func KeyOf(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}

// ImageHandler decodes image files to RGB.
func ImageHandler(name string, data []byte) (Record, bool) {
	if !archive.IsImage(name) {
		return Record{}, false
	}
	img, _, err := preprocessing.DecodeBytes(data)
	if err != nil {
		klog.Warningf("%s: not decodable as RGB image, keeping raw bytes: %v", name, err)
		return Record{}, false
	}
	return Record{Kind: KindImage, Image: img}, true
}

// MetadataHandler parses JSON objects.
func MetadataHandler(name string, data []byte) (Record, bool) {
	if strings.ToLower(path.Ext(name)) != ".json" {
		return Record{}, false
	}
	meta := &structpb.Struct{}
	if err := protojson.Unmarshal(data, meta); err != nil {
		klog.Warningf("%s: invalid JSON metadata: %v", name, err)
		return Record{}, false
	}
	return Record{Kind: KindMetadata, Meta: meta}, true
}

// TextHandler reads .txt and .cls entries as strings.
func TextHandler(name string, data []byte) (Record, bool) {
	switch strings.ToLower(path.Ext(name)) {
	case ".txt", ".cls":
		return Record{Kind: KindText, Text: strings.TrimSpace(string(data))}, true
	}
	return Record{}, false
}

// CategoryID reads the category id from a metadata or text record.
func CategoryID(rec Record) (string, bool) {
	switch rec.Kind {
	case KindText:
		return rec.Text, rec.Text != ""
	case KindMetadata:
		v, ok := rec.Meta.GetFields()[archive.SidecarKey]
		if !ok {
			return "", false
		}
		switch kind := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			return kind.StringValue, kind.StringValue != ""
		case *structpb.Value_NumberValue:
			return strconv.FormatFloat(kind.NumberValue, 'f', -1, 64), true
		}
	}
	return "", false
}
