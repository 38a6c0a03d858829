package datauri

import "strings"

// Metadata is an insertion-ordered set of lower-cased key/value attributes.
type Metadata struct {
	keys   []string
	values map[string]string
}

// Set stores value under the lower-cased key. Re-setting a key keeps its position.
func (m *Metadata) Set(key, value string) {
	key = strings.ToLower(key)
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key.
func (m *Metadata) Get(key string) (string, bool) {
	v, ok := m.values[strings.ToLower(key)]
	return v, ok
}

// Delete removes key.
func (m *Metadata) Delete(key string) {
	key = strings.ToLower(key)
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (m *Metadata) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of attributes.
func (m *Metadata) Len() int {
	return len(m.keys)
}

// Clone returns an independent copy.
func (m *Metadata) Clone() Metadata {
	var c Metadata
	for _, k := range m.keys {
		c.Set(k, m.values[k])
	}
	return c
}
