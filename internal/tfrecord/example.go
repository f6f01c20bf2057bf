package tfrecord

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidExample is returned when bytes do not parse as a tf.Example.
var ErrInvalidExample = errors.New("tfrecord: invalid tf.Example")

// FeatureKind identifies which list a Feature holds.
type FeatureKind int

// Feature kinds, numbered as the oneof fields of tensorflow.Feature.
const (
	KindNone      FeatureKind = 0
	KindBytesList FeatureKind = 1
	KindFloatList FeatureKind = 2
	KindInt64List FeatureKind = 3
)

func (k FeatureKind) String() string {
	switch k {
	case KindBytesList:
		return "bytes_list"
	case KindFloatList:
		return "float_list"
	case KindInt64List:
		return "int64_list"
	default:
		return "none"
	}
}

// Feature is one named value list of an Example.
type Feature struct {
	Kind   FeatureKind
	Bytes  [][]byte
	Floats []float32
	Int64s []int64
}

// BytesFeature builds a bytes_list feature.
func BytesFeature(values ...[]byte) Feature {
	return Feature{Kind: KindBytesList, Bytes: values}
}

// FloatFeature builds a float_list feature.
func FloatFeature(values ...float32) Feature {
	return Feature{Kind: KindFloatList, Floats: values}
}

// Int64Feature builds an int64_list feature.
func Int64Feature(values ...int64) Feature {
	return Feature{Kind: KindInt64List, Int64s: values}
}

// Example is a tensorflow.Example: a map of named features.
type Example struct {
	Features map[string]Feature
}

// field numbers shared by Example, Features, the map entry and the lists.
const (
	fieldFeatures protowire.Number = 1 // Example.features, Features.feature
	fieldKey      protowire.Number = 1 // map entry key
	fieldValue    protowire.Number = 2 // map entry value
	fieldList     protowire.Number = 1 // BytesList/FloatList/Int64List.value
)

// ParseExample decodes a serialized tf.Example. Unknown fields are skipped;
// both packed and unpacked numeric lists are accepted.
func ParseExample(b []byte) (*Example, error) {
	ex := &Example{Features: make(map[string]Feature)}
	err := rangeFields(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		if num != fieldFeatures || typ != protowire.BytesType {
			return nil
		}
		features, err := bytesValue(raw)
		if err != nil {
			return err
		}
		return parseFeatures(features, ex.Features)
	})
	if err != nil {
		return nil, err
	}
	return ex, nil
}

func parseFeatures(b []byte, into map[string]Feature) error {
	return rangeFields(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		if num != fieldFeatures || typ != protowire.BytesType {
			return nil
		}
		entry, err := bytesValue(raw)
		if err != nil {
			return err
		}

		var key string
		var feature Feature
		err = rangeFields(entry, func(num protowire.Number, typ protowire.Type, raw []byte) error {
			if typ != protowire.BytesType {
				return nil
			}
			v, err := bytesValue(raw)
			if err != nil {
				return err
			}
			switch num {
			case fieldKey:
				key = string(v)
			case fieldValue:
				feature, err = parseFeature(v)
			}
			return err
		})
		if err != nil {
			return err
		}
		into[key] = feature
		return nil
	})
}

func parseFeature(b []byte) (Feature, error) {
	var f Feature
	err := rangeFields(b, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		list, err := bytesValue(raw)
		if err != nil {
			return err
		}
		switch FeatureKind(num) {
		case KindBytesList:
			f = Feature{Kind: KindBytesList}
			return rangeFields(list, func(num protowire.Number, typ protowire.Type, raw []byte) error {
				if num != fieldList || typ != protowire.BytesType {
					return nil
				}
				v, err := bytesValue(raw)
				f.Bytes = append(f.Bytes, v)
				return err
			})
		case KindFloatList:
			f = Feature{Kind: KindFloatList}
			return rangeFields(list, func(num protowire.Number, typ protowire.Type, raw []byte) error {
				vals, err := fixed32Values(num, typ, raw)
				for _, v := range vals {
					f.Floats = append(f.Floats, math.Float32frombits(v))
				}
				return err
			})
		case KindInt64List:
			f = Feature{Kind: KindInt64List}
			return rangeFields(list, func(num protowire.Number, typ protowire.Type, raw []byte) error {
				vals, err := varintValues(num, typ, raw)
				for _, v := range vals {
					f.Int64s = append(f.Int64s, int64(v))
				}
				return err
			})
		}
		return nil
	})
	return f, err
}

// rangeFields calls fn with every field of a message. raw holds the field's
// encoded value without its tag.
func rangeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidExample, protowire.ParseError(n))
		}
		b = b[n:]
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrInvalidExample, num, protowire.ParseError(n))
		}
		if err := fn(num, typ, b[:n]); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func bytesValue(raw []byte) ([]byte, error) {
	v, n := protowire.ConsumeBytes(raw)
	if n < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExample, protowire.ParseError(n))
	}
	return v, nil
}

func fixed32Values(num protowire.Number, typ protowire.Type, raw []byte) ([]uint32, error) {
	if num != fieldList {
		return nil, nil
	}
	switch typ {
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(raw)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidExample, protowire.ParseError(n))
		}
		return []uint32{v}, nil
	case protowire.BytesType:
		packed, err := bytesValue(raw)
		if err != nil {
			return nil, err
		}
		if len(packed)%4 != 0 {
			return nil, fmt.Errorf("%w: packed float list of %d bytes", ErrInvalidExample, len(packed))
		}
		out := make([]uint32, 0, len(packed)/4)
		for len(packed) > 0 {
			v, n := protowire.ConsumeFixed32(packed)
			out = append(out, v)
			packed = packed[n:]
		}
		return out, nil
	}
	return nil, nil
}

func varintValues(num protowire.Number, typ protowire.Type, raw []byte) ([]uint64, error) {
	if num != fieldList {
		return nil, nil
	}
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(raw)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidExample, protowire.ParseError(n))
		}
		return []uint64{v}, nil
	case protowire.BytesType:
		packed, err := bytesValue(raw)
		if err != nil {
			return nil, err
		}
		var out []uint64
		for len(packed) > 0 {
			v, n := protowire.ConsumeVarint(packed)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrInvalidExample, protowire.ParseError(n))
			}
			out = append(out, v)
			packed = packed[n:]
		}
		return out, nil
	}
	return nil, nil
}

// Marshal encodes the example. Features are written in key order and
// numeric lists are packed, so equal examples encode to equal bytes.
func (ex *Example) Marshal() []byte {
	keys := make([]string, 0, len(ex.Features))
	for k := range ex.Features {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var features []byte
	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, fieldValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, ex.Features[k].marshal())

		features = protowire.AppendTag(features, fieldFeatures, protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}

	var out []byte
	out = protowire.AppendTag(out, fieldFeatures, protowire.BytesType)
	return protowire.AppendBytes(out, features)
}

func (f Feature) marshal() []byte {
	var list []byte
	switch f.Kind {
	case KindBytesList:
		for _, v := range f.Bytes {
			list = protowire.AppendTag(list, fieldList, protowire.BytesType)
			list = protowire.AppendBytes(list, v)
		}
	case KindFloatList:
		var packed []byte
		for _, v := range f.Floats {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		if len(packed) > 0 {
			list = protowire.AppendTag(list, fieldList, protowire.BytesType)
			list = protowire.AppendBytes(list, packed)
		}
	case KindInt64List:
		var packed []byte
		for _, v := range f.Int64s {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		if len(packed) > 0 {
			list = protowire.AppendTag(list, fieldList, protowire.BytesType)
			list = protowire.AppendBytes(list, packed)
		}
	default:
		return nil
	}

	var out []byte
	out = protowire.AppendTag(out, protowire.Number(f.Kind), protowire.BytesType)
	return protowire.AppendBytes(out, list)
}
