package checkpoints

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// The binary format is protobuf wire encoding of:
//
//	message Checkpoint { repeated Weight weights = 1; State state = 2; Metadata metadata = 3; }
//	message Weight     { string name = 1; repeated int64 shape = 2; repeated float data = 3; }
//	message State      { int64 iteration = 1; int64 epoch = 2; float learning_rate = 3; float gen_loss = 4; float disc_loss = 5; }
//	message Metadata   { string version = 1; string framework = 2; int64 created_unix_nano = 3;
//	                     string run_id = 4; string tag = 5; string model = 6; string description = 7; }
//
// Packed repeated fields are used for shape and data.

const (
	fieldWeights  protowire.Number = 1
	fieldState    protowire.Number = 2
	fieldMetadata protowire.Number = 3
)

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

func appendFloat(b []byte, num protowire.Number, f float32) []byte {
	if f == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(f))
}

func marshalWeight(w WeightTensor) []byte {
	var b []byte
	b = appendString(b, 1, w.Name)

	var shape []byte
	for _, d := range w.Shape {
		shape = protowire.AppendVarint(shape, uint64(d))
	}
	b = appendMessage(b, 2, shape)

	data := make([]byte, 0, 4*len(w.Data))
	for _, v := range w.Data {
		data = protowire.AppendFixed32(data, math.Float32bits(v))
	}
	return appendMessage(b, 3, data)
}

func marshalBinary(cp *Checkpoint) []byte {
	var b []byte
	for _, w := range cp.Weights {
		b = appendMessage(b, fieldWeights, marshalWeight(w))
	}

	var state []byte
	state = appendVarint(state, 1, int64(cp.TrainingState.Iteration))
	state = appendVarint(state, 2, int64(cp.TrainingState.Epoch))
	state = appendFloat(state, 3, cp.TrainingState.LearningRate)
	state = appendFloat(state, 4, cp.TrainingState.GenLoss)
	state = appendFloat(state, 5, cp.TrainingState.DiscLoss)
	b = appendMessage(b, fieldState, state)

	md := cp.Metadata
	var meta []byte
	meta = appendString(meta, 1, md.Version)
	meta = appendString(meta, 2, md.Framework)
	if !md.CreatedAt.IsZero() {
		meta = appendVarint(meta, 3, md.CreatedAt.UnixNano())
	}
	meta = appendString(meta, 4, md.RunID)
	meta = appendString(meta, 5, md.Tag)
	meta = appendString(meta, 6, md.Model)
	meta = appendString(meta, 7, md.Description)
	return appendMessage(b, fieldMetadata, meta)
}

// field is one decoded top-level entry of a message.
type field struct {
	num   protowire.Number
	typ   protowire.Type
	bytes []byte
	value uint64
}

// parseFields splits a message into its fields. Unknown wire types are
// rejected; unknown field numbers are returned and ignored by callers.
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
			f.value, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.value = uint64(v)
		case protowire.Fixed64Type:
			f.value, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			return nil, errors.Errorf("unsupported wire type %d for field %d", typ, num)
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		fields = append(fields, f)
	}
	return fields, nil
}

func unmarshalWeight(b []byte) (WeightTensor, error) {
	var w WeightTensor
	fields, err := parseFields(b)
	if err != nil {
		return w, err
	}
	w.Shape = []int{}
	for _, f := range fields {
		switch f.num {
		case 1:
			w.Name = string(f.bytes)
		case 2:
			packed := f.bytes
			for len(packed) > 0 {
				v, n := protowire.ConsumeVarint(packed)
				if n < 0 {
					return w, protowire.ParseError(n)
				}
				w.Shape = append(w.Shape, int(v))
				packed = packed[n:]
			}
		case 3:
			if len(f.bytes)%4 != 0 {
				return w, errors.Errorf("weight %q data length %d is not a multiple of 4", w.Name, len(f.bytes))
			}
			w.Data = make([]float32, 0, len(f.bytes)/4)
			packed := f.bytes
			for len(packed) > 0 {
				v, n := protowire.ConsumeFixed32(packed)
				if n < 0 {
					return w, protowire.ParseError(n)
				}
				w.Data = append(w.Data, math.Float32frombits(v))
				packed = packed[n:]
			}
		}
	}
	return w, nil
}

func unmarshalBinary(b []byte) (*Checkpoint, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}

	cp := &Checkpoint{}
	for _, f := range fields {
		switch f.num {
		case fieldWeights:
			w, err := unmarshalWeight(f.bytes)
			if err != nil {
				return nil, errors.Wrapf(err, "weight %d", len(cp.Weights))
			}
			cp.Weights = append(cp.Weights, w)
		case fieldState:
			sub, err := parseFields(f.bytes)
			if err != nil {
				return nil, errors.Wrap(err, "training state")
			}
			for _, s := range sub {
				switch s.num {
				case 1:
					cp.TrainingState.Iteration = int(s.value)
				case 2:
					cp.TrainingState.Epoch = int(s.value)
				case 3:
					cp.TrainingState.LearningRate = math.Float32frombits(uint32(s.value))
				case 4:
					cp.TrainingState.GenLoss = math.Float32frombits(uint32(s.value))
				case 5:
					cp.TrainingState.DiscLoss = math.Float32frombits(uint32(s.value))
				}
			}
		case fieldMetadata:
			sub, err := parseFields(f.bytes)
			if err != nil {
				return nil, errors.Wrap(err, "metadata")
			}
			md := &cp.Metadata
			for _, s := range sub {
				switch s.num {
				case 1:
					md.Version = string(s.bytes)
				case 2:
					md.Framework = string(s.bytes)
				case 3:
					md.CreatedAt = time.Unix(0, int64(s.value)).UTC()
				case 4:
					md.RunID = string(s.bytes)
				case 5:
					md.Tag = string(s.bytes)
				case 6:
					md.Model = string(s.bytes)
				case 7:
					md.Description = string(s.bytes)
				}
			}
		}
	}
	return cp, nil
}
