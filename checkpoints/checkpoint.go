package checkpoints

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"strings"
	"time"

	"github.com/golang/snappy"
)

// Format defines the serialization format
type Format int

const (
	FormatProto Format = iota
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatProto:
		return "proto"
	default:
		return "unknown"
	}
}

// ParseFormat maps a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "proto", "protobuf":
		return FormatProto, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatProto, fmt.Errorf("unknown checkpoint format %q (want proto or json)", s)
	}
}

// Checkpoint is a full parameter snapshot plus the training state it was
// taken at.
type Checkpoint struct {
	Weights        []WeightTensor  `json:"weights"`
	TrainingState  TrainingState   `json:"training_state"`
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`
	Metadata       Metadata        `json:"metadata"`
	Architecture   Architecture    `json:"architecture"`
}

// Architecture records the layer sizes the weights were built with. Zero
// fields are unknown (checkpoints written before sizes were recorded).
type Architecture struct {
	Channels   int `json:"channels"`
	WeatherDim int `json:"weather_dim"`
	Classes    int `json:"classes"`
	Hidden     int `json:"hidden"`
	Features   int `json:"features"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight" or "bias"
}

// TrainingState records why and when the checkpoint was written.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	Task         string  `json:"task"`
	Metric       float64 `json:"metric"`
	LearningRate float64 `json:"learning_rate"`
	BatchSize    int     `json:"batch_size"`
	Momentum     float64 `json:"momentum"`
}

// OptimizerState captures optimizer-specific state (momentum buffers and
// hyperparameters).
type OptimizerState struct {
	Type       string             `json:"type"`
	Parameters map[string]float64 `json:"parameters"`
	StateData  []OptimizerTensor  `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"`
}

// Metadata contains checkpoint metadata
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	RunID       string    `json:"run_id,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Weight returns the named weight tensor.
func (c *Checkpoint) Weight(name string) (WeightTensor, bool) {
	for _, w := range c.Weights {
		if w.Name == name {
			return w, true
		}
	}
	return WeightTensor{}, false
}

// Saver encodes checkpoints in one format, optionally snappy-compressed.
type Saver struct {
	format   Format
	compress bool
}

func NewSaver(format Format, compress bool) *Saver {
	return &Saver{format: format, compress: compress}
}

func (s *Saver) Format() Format { return s.format }

// snappy framing format stream identifier
var snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")

// Save writes ckpt to w.
func (s *Saver) Save(w io.Writer, ckpt *Checkpoint) error {
	if ckpt.Metadata.Framework == "" {
		ckpt.Metadata.Framework = "multitask"
		ckpt.Metadata.Version = "1.0.0"
	}
	if ckpt.Metadata.CreatedAt.IsZero() {
		ckpt.Metadata.CreatedAt = time.Now().UTC()
	}

	var data []byte
	switch s.format {
	case FormatJSON:
		var err error
		data, err = json.Marshal(ckpt)
		if err != nil {
			return fmt.Errorf("failed to encode checkpoint: %v", err)
		}
	case FormatProto:
		data = marshalCheckpoint(ckpt)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", s.format)
	}

	if !s.compress {
		_, err := w.Write(data)
		return err
	}
	sw := snappy.NewBufferedWriter(w)
	if _, err := sw.Write(data); err != nil {
		return fmt.Errorf("failed to compress checkpoint: %v", err)
	}
	return sw.Close()
}

// Load reads a checkpoint written by any Saver: compression and format are
// detected from the content.
func (s *Saver) Load(r io.Reader) (*Checkpoint, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(snappyMagic)); err == nil && bytes.Equal(head, snappyMagic) {
		r = snappy.NewReader(br)
	} else {
		r = br
	}

	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %v", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty checkpoint")
	}

	if data[0] == '{' {
		var ckpt Checkpoint
		if err := json.Unmarshal(data, &ckpt); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
		}
		return &ckpt, nil
	}
	ckpt, err := unmarshalCheckpoint(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	return ckpt, nil
}
