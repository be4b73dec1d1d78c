package models

import (
	"reflect"
	"sort"
)

// Document is a schema-less configuration document: string keys mapped
// to JSON-shaped values (string, float64, bool, nil, or nested
// map[string]any), exactly as encoding/json produces them.
type Document map[string]any

// Merge applies patch to d with shallow merge-patch semantics: keys in
// the patch are added or overwritten, keys absent from the patch are
// preserved. There is no deletion primitive. Returns d for chaining.
func (d Document) Merge(patch Document) Document {
	for k, v := range patch {
		d[k] = v
	}
	return d
}

// Clone returns a shallow copy of the document. Nested maps are shared;
// callers treat documents as immutable after a read.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Shadow pairs the two independently evolvable configuration documents
// kept per device. Divergence between them is expected, not an error.
type Shadow struct {
	DeviceID string   `json:"device_id"`
	Desired  Document `json:"desired"`
	Reported Document `json:"reported"`
}

// DiffEntry describes one key in the shadow diff view.
type DiffEntry struct {
	Key      string `json:"key"`
	Desired  any    `json:"desired,omitempty"`
	Reported any    `json:"reported,omitempty"`
	InSync   bool   `json:"in_sync"`
}

// Diff computes, over the union of keys in desired and reported, whether
// the two sides agree. Derived read-only data, never persisted. Entries
// are sorted by key for stable output.
func (s *Shadow) Diff() []DiffEntry {
	keys := make(map[string]struct{}, len(s.Desired)+len(s.Reported))
	for k := range s.Desired {
		keys[k] = struct{}{}
	}
	for k := range s.Reported {
		keys[k] = struct{}{}
	}

	entries := make([]DiffEntry, 0, len(keys))
	for k := range keys {
		dv, dok := s.Desired[k]
		rv, rok := s.Reported[k]
		entries = append(entries, DiffEntry{
			Key:      k,
			Desired:  dv,
			Reported: rv,
			InSync:   dok && rok && reflect.DeepEqual(dv, rv),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// InSync reports whether desired and reported agree on every key.
func (s *Shadow) InSync() bool {
	for _, e := range s.Diff() {
		if !e.InSync {
			return false
		}
	}
	return true
}
