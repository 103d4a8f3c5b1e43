package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Row is a JSON object whose key order survives decoding, so that
// columns absent from a canonical column list keep their wire order.
type Row struct {
	fields map[string]any
	order  []string
}

// NewRow returns an empty row.
func NewRow() *Row {
	return &Row{fields: map[string]any{}}
}

// Get returns the value for key, or nil.
func (r *Row) Get(key string) any {
	if r == nil {
		return nil
	}
	return r.fields[key]
}

// Has reports whether key is present.
func (r *Row) Has(key string) bool {
	if r == nil {
		return false
	}
	_, ok := r.fields[key]
	return ok
}

// Str returns the value for key rendered as a string; nil values
// render as "".
func (r *Row) Str(key string) string {
	v := r.Get(key)
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format("2006-01-02 15:04:05")
	case bool:
		if t {
			return "True"
		}
		return "False"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}

// Set stores a value, appending the key to the order when new.
func (r *Row) Set(key string, v any) {
	if _, ok := r.fields[key]; !ok {
		r.order = append(r.order, key)
	}
	r.fields[key] = v
}

// Delete removes a key.
func (r *Row) Delete(key string) {
	if _, ok := r.fields[key]; !ok {
		return
	}
	delete(r.fields, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in wire order.
func (r *Row) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Clone returns a shallow copy.
func (r *Row) Clone() *Row {
	c := NewRow()
	for _, k := range r.order {
		c.Set(k, r.fields[k])
	}
	return c
}

// UnmarshalJSON decodes an object while recording key order.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return &ShapeError{Detail: "expected a JSON object"}
	}
	r.fields = map[string]any{}
	r.order = nil
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		v, err := decodeValue(raw)
		if err != nil {
			return err
		}
		r.Set(key, v)
	}
	_, err = dec.Token() // closing brace
	return err
}

// MarshalJSON encodes the row preserving key order. Timestamps render
// in ISO-8601 form.
func (r *Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		v := r.fields[k]
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format(time.RFC3339)
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func decodeValue(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	switch raw[0] {
	case '{':
		row := NewRow()
		if err := row.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		return row, nil
	case '[':
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			return nil, err
		}
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			v, err := decodeValue(p)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		var v any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		if n, ok := v.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				return f, nil
			}
		}
		return v, nil
	}
}
