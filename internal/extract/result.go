package extract

import (
	"bytes"
	"encoding/json"
)

// Record is one extracted result row: a key/value mapping that keeps keys in
// the order they were first assigned, so the serialized output mirrors the
// spec's declaration order.
type Record struct {
	keys   []string
	values map[string]any
}

// Result is the ordered sequence of records produced by one engine run.
type Result []*Record

func newRecord() *Record {
	return &Record{values: make(map[string]any)}
}

// Get returns the value stored under key.
func (r *Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Keys returns the record's keys in insertion order.
func (r *Record) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Len reports the number of keys set on the record.
func (r *Record) Len() int {
	return len(r.keys)
}

// Set stores v under key, overwriting any previous value.
func (r *Record) Set(key string, v any) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Add stores v under key. When the key already holds a value from a previous
// resolution pass the value is coerced to an array and v is appended, keeping
// contributions in resolution order.
func (r *Record) Add(key string, v any) {
	old, ok := r.values[key]
	if !ok {
		r.Set(key, v)
		return
	}
	if arr, isArr := old.([]any); isArr {
		r.values[key] = append(arr, v)
		return
	}
	r.values[key] = []any{old, v}
}

// MarshalJSON emits the record as an object with keys in insertion order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// recordList is a nested result slot: the records built under one key of a
// structural node. A single record serializes as an object, several as an
// array.
type recordList struct {
	records []*Record
}

func (l *recordList) MarshalJSON() ([]byte, error) {
	if len(l.records) == 1 {
		return json.Marshal(l.records[0])
	}
	return json.Marshal(l.records)
}
