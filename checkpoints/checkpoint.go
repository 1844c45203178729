package checkpoints

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/tsawler/go-datapipe/layers"
)

// Checkpoint is a weight file: the architecture it belongs to and the values
// of every named parameter. It carries no optimizer or training state.
type Checkpoint struct {
	ModelSpec *layers.ModelSpec  `json:"model_spec,omitempty"`
	Weights   []WeightTensor     `json:"weights"`
	Metadata  CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight" or "bias"
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	Model       string    `json:"model,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// FromParameters captures the current values of params.
func FromParameters(spec *layers.ModelSpec, params []*layers.Parameter) *Checkpoint {
	cp := &Checkpoint{ModelSpec: spec}
	for _, p := range params {
		data := make([]float32, len(p.Data))
		for i, v := range p.Data {
			data[i] = float32(v)
		}
		layer, kind := splitName(p.Name)
		cp.Weights = append(cp.Weights, WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Shape...),
			Data:  data,
			Layer: layer,
			Type:  kind,
		})
	}
	return cp
}

// Apply loads the stored weights into params, matching them by name.
// Every parameter must be present with an identical shape.
func (c *Checkpoint) Apply(params []*layers.Parameter) error {
	byName := make(map[string]WeightTensor, len(c.Weights))
	for _, w := range c.Weights {
		byName[w.Name] = w
	}

	for _, p := range params {
		w, ok := byName[p.Name]
		if !ok {
			return errors.Errorf("checkpoint has no weight named %s", p.Name)
		}
		if !sameShape(w.Shape, p.Shape) {
			return errors.Errorf("shape mismatch for weight %s: checkpoint %v vs model %v", p.Name, w.Shape, p.Shape)
		}
		if len(w.Data) != len(p.Data) {
			return errors.Errorf("weight %s has %d values, want %d", p.Name, len(w.Data), len(p.Data))
		}
		for i, v := range w.Data {
			p.Data[i] = float64(v)
		}
	}
	return nil
}

// Save writes the checkpoint as indented JSON, gzip-compressed when the
// path ends in ".gz".
func Save(c *Checkpoint, path string) (err error) {
	if c.Metadata.Framework == "" {
		c.Metadata.Framework = "go-datapipe"
		c.Metadata.Version = "1.0.0"
		c.Metadata.CreatedAt = time.Now()
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create checkpoint file")
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "failed to close checkpoint file")
		}
	}()

	var w io.Writer = file
	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(file)
		defer func() {
			if cerr := gz.Close(); err == nil && cerr != nil {
				err = errors.Wrap(cerr, "failed to flush compressed checkpoint")
			}
		}()
		w = gz
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c); err != nil {
		return errors.Wrap(err, "failed to encode checkpoint")
	}
	return nil
}

// Load reads a checkpoint written by Save.
func Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint file")
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open compressed checkpoint")
		}
		defer gz.Close()
		r = gz
	}

	var checkpoint Checkpoint
	if err := json.NewDecoder(r).Decode(&checkpoint); err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint")
	}
	return &checkpoint, nil
}

// LoadWeights reads path and applies it to params.
func LoadWeights(path string, params []*layers.Parameter) error {
	cp, err := Load(path)
	if err != nil {
		return err
	}
	return errors.Wrapf(cp.Apply(params), "failed to apply %s", path)
}

func splitName(name string) (layer, kind string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, "weight"
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
