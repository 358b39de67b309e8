package features

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Snapshot is the JSON-safe form of a Vector: feature name to value, with nil
// standing in for an absent value.
type Snapshot map[string]*float64

// MarshalJSON writes the known features in schema order, followed by any
// unknown keys in the order encoding/json would use.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(k string, v *float64) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		key, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if v == nil {
			buf.WriteString("null")
			return nil
		}
		val, err := json.Marshal(*v)
		if err != nil {
			return fmt.Errorf("feature %s: %w", k, err)
		}
		buf.Write(val)
		return nil
	}

	for _, k := range names {
		v, ok := s[k]
		if !ok {
			continue
		}
		if err := write(k, v); err != nil {
			return nil, err
		}
	}

	extra := make(map[string]*float64)
	for k, v := range s {
		if indexOf(k) < 0 {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		// Marshal once to get sorted keys, then splice without the braces.
		raw, err := json.Marshal(extra)
		if err != nil {
			return nil, err
		}
		if !first {
			buf.WriteByte(',')
		}
		buf.Write(raw[1 : len(raw)-1])
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Vector rebuilds a feature vector from the snapshot; absent entries become NaN.
func (s Snapshot) Vector() Vector {
	var v Vector
	for i, k := range names {
		p := s[k]
		if p == nil {
			v[i] = math.NaN()
			continue
		}
		v[i] = *p
	}
	return v
}

func indexOf(name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
