package checkpoints

import (
	"fmt"
	"math"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Protobuf wire layout of a checkpoint:
//
//	Checkpoint     { 1: repeated WeightTensor, 2: TrainingState, 3: OptimizerState, 4: Metadata, 5: Architecture }
//	WeightTensor   { 1: name, 2: packed int64 shape, 3: packed float data, 4: layer, 5: type }
//	TrainingState  { 1: epoch, 2: step, 3: task, 4: double metric, 5: double lr, 6: batch size, 7: double momentum }
//	OptimizerState { 1: type, 2: repeated Param, 3: repeated OptimizerTensor }
//	Param          { 1: name, 2: double value }
//	OptimizerTensor{ 1: name, 2: packed int64 shape, 3: packed float data, 4: state type }
//	Metadata       { 1: version, 2: framework, 3: unix nanos, 4: run id, 5: description, 6: repeated tag }
//	Architecture   { 1: channels, 2: weather dim, 3: classes, 4: hidden, 5: features }

func marshalCheckpoint(c *Checkpoint) []byte {
	var b []byte
	for _, w := range c.Weights {
		b = appendMessage(b, 1, marshalWeight(w))
	}
	b = appendMessage(b, 2, marshalTrainingState(c.TrainingState))
	if c.OptimizerState != nil {
		b = appendMessage(b, 3, marshalOptimizerState(c.OptimizerState))
	}
	b = appendMessage(b, 4, marshalMetadata(c.Metadata))
	if c.Architecture != (Architecture{}) {
		b = appendMessage(b, 5, marshalArchitecture(c.Architecture))
	}
	return b
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendShape(b []byte, num protowire.Number, shape []int) []byte {
	if len(shape) == 0 {
		return b
	}
	var packed []byte
	for _, d := range shape {
		packed = protowire.AppendVarint(packed, uint64(d))
	}
	return appendMessage(b, num, packed)
}

func appendFloats(b []byte, num protowire.Number, data []float32) []byte {
	if len(data) == 0 {
		return b
	}
	packed := make([]byte, 0, 4*len(data))
	for _, v := range data {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	return appendMessage(b, num, packed)
}

func marshalWeight(w WeightTensor) []byte {
	var b []byte
	b = appendString(b, 1, w.Name)
	b = appendShape(b, 2, w.Shape)
	b = appendFloats(b, 3, w.Data)
	b = appendString(b, 4, w.Layer)
	b = appendString(b, 5, w.Type)
	return b
}

func marshalTrainingState(s TrainingState) []byte {
	var b []byte
	b = appendVarint(b, 1, int64(s.Epoch))
	b = appendVarint(b, 2, int64(s.Step))
	b = appendString(b, 3, s.Task)
	b = appendDouble(b, 4, s.Metric)
	b = appendDouble(b, 5, s.LearningRate)
	b = appendVarint(b, 6, int64(s.BatchSize))
	b = appendDouble(b, 7, s.Momentum)
	return b
}

func marshalOptimizerState(s *OptimizerState) []byte {
	var b []byte
	b = appendString(b, 1, s.Type)

	// sorted for a stable encoding
	names := make([]string, 0, len(s.Parameters))
	for name := range s.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		var p []byte
		p = appendString(p, 1, name)
		p = appendDouble(p, 2, s.Parameters[name])
		b = appendMessage(b, 2, p)
	}

	for _, t := range s.StateData {
		var m []byte
		m = appendString(m, 1, t.Name)
		m = appendShape(m, 2, t.Shape)
		m = appendFloats(m, 3, t.Data)
		m = appendString(m, 4, t.StateType)
		b = appendMessage(b, 3, m)
	}
	return b
}

func marshalArchitecture(a Architecture) []byte {
	var b []byte
	b = appendVarint(b, 1, int64(a.Channels))
	b = appendVarint(b, 2, int64(a.WeatherDim))
	b = appendVarint(b, 3, int64(a.Classes))
	b = appendVarint(b, 4, int64(a.Hidden))
	b = appendVarint(b, 5, int64(a.Features))
	return b
}

func marshalMetadata(m Metadata) []byte {
	var b []byte
	b = appendString(b, 1, m.Version)
	b = appendString(b, 2, m.Framework)
	if !m.CreatedAt.IsZero() {
		b = appendVarint(b, 3, m.CreatedAt.UnixNano())
	}
	b = appendString(b, 4, m.RunID)
	b = appendString(b, 5, m.Description)
	for _, tag := range m.Tags {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}
	return b
}

// field is one decoded top-level field of a message.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	bytes []byte
	u     uint64
}

// parseFields splits a message into its fields. Unknown wire types are an
// error; unknown field numbers are left for the caller to ignore.
func parseFields(b []byte) ([]field, error) {
	var fields []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u = uint64(v)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		fields = append(fields, f)
	}
	return fields, nil
}

func parseShape(b []byte) ([]int, error) {
	var shape []int
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		shape = append(shape, int(v))
		b = b[n:]
	}
	return shape, nil
}

func parseFloats(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("packed float field has %d bytes", len(b))
	}
	data := make([]float32, 0, len(b)/4)
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = append(data, math.Float32frombits(v))
		b = b[n:]
	}
	return data, nil
}

func unmarshalCheckpoint(b []byte) (*Checkpoint, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	c := &Checkpoint{}
	for _, f := range fields {
		switch f.num {
		case 1:
			w, err := unmarshalWeight(f.bytes)
			if err != nil {
				return nil, fmt.Errorf("weight %d: %v", len(c.Weights), err)
			}
			c.Weights = append(c.Weights, w)
		case 2:
			if c.TrainingState, err = unmarshalTrainingState(f.bytes); err != nil {
				return nil, fmt.Errorf("training state: %v", err)
			}
		case 3:
			if c.OptimizerState, err = unmarshalOptimizerState(f.bytes); err != nil {
				return nil, fmt.Errorf("optimizer state: %v", err)
			}
		case 4:
			if c.Metadata, err = unmarshalMetadata(f.bytes); err != nil {
				return nil, fmt.Errorf("metadata: %v", err)
			}
		case 5:
			if c.Architecture, err = unmarshalArchitecture(f.bytes); err != nil {
				return nil, fmt.Errorf("architecture: %v", err)
			}
		}
	}
	return c, nil
}

func unmarshalWeight(b []byte) (WeightTensor, error) {
	var w WeightTensor
	fields, err := parseFields(b)
	if err != nil {
		return w, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			w.Name = string(f.bytes)
		case 2:
			if w.Shape, err = parseShape(f.bytes); err != nil {
				return w, err
			}
		case 3:
			if w.Data, err = parseFloats(f.bytes); err != nil {
				return w, err
			}
		case 4:
			w.Layer = string(f.bytes)
		case 5:
			w.Type = string(f.bytes)
		}
	}
	return w, nil
}

func unmarshalTrainingState(b []byte) (TrainingState, error) {
	var s TrainingState
	fields, err := parseFields(b)
	if err != nil {
		return s, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			s.Epoch = int(f.u)
		case 2:
			s.Step = int(f.u)
		case 3:
			s.Task = string(f.bytes)
		case 4:
			s.Metric = math.Float64frombits(f.u)
		case 5:
			s.LearningRate = math.Float64frombits(f.u)
		case 6:
			s.BatchSize = int(f.u)
		case 7:
			s.Momentum = math.Float64frombits(f.u)
		}
	}
	return s, nil
}

func unmarshalOptimizerState(b []byte) (*OptimizerState, error) {
	s := &OptimizerState{Parameters: make(map[string]float64)}
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			s.Type = string(f.bytes)
		case 2:
			pf, err := parseFields(f.bytes)
			if err != nil {
				return nil, err
			}
			var name string
			var value float64
			for _, p := range pf {
				switch p.num {
				case 1:
					name = string(p.bytes)
				case 2:
					value = math.Float64frombits(p.u)
				}
			}
			s.Parameters[name] = value
		case 3:
			tf, err := parseFields(f.bytes)
			if err != nil {
				return nil, err
			}
			var t OptimizerTensor
			for _, p := range tf {
				switch p.num {
				case 1:
					t.Name = string(p.bytes)
				case 2:
					if t.Shape, err = parseShape(p.bytes); err != nil {
						return nil, err
					}
				case 3:
					if t.Data, err = parseFloats(p.bytes); err != nil {
						return nil, err
					}
				case 4:
					t.StateType = string(p.bytes)
				}
			}
			s.StateData = append(s.StateData, t)
		}
	}
	return s, nil
}

func unmarshalArchitecture(b []byte) (Architecture, error) {
	var a Architecture
	fields, err := parseFields(b)
	if err != nil {
		return a, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			a.Channels = int(f.u)
		case 2:
			a.WeatherDim = int(f.u)
		case 3:
			a.Classes = int(f.u)
		case 4:
			a.Hidden = int(f.u)
		case 5:
			a.Features = int(f.u)
		}
	}
	return a, nil
}

func unmarshalMetadata(b []byte) (Metadata, error) {
	var m Metadata
	fields, err := parseFields(b)
	if err != nil {
		return m, err
	}
	for _, f := range fields {
		switch f.num {
		case 1:
			m.Version = string(f.bytes)
		case 2:
			m.Framework = string(f.bytes)
		case 3:
			m.CreatedAt = time.Unix(0, int64(f.u)).UTC()
		case 4:
			m.RunID = string(f.bytes)
		case 5:
			m.Description = string(f.bytes)
		case 6:
			m.Tags = append(m.Tags, string(f.bytes))
		}
	}
	return m, nil
}
