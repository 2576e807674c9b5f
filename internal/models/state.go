package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Well-known session state keys written by the router after a successful run.
const (
	StateCurrentTestCases = "current_testcases"
	StateRequirements     = "requirements"
	StateTestCaseHistory  = "all_testcases_history"
	StateLastFlow         = "last_flow"
	StateAttempts         = "attempts"
)

// State is an insertion-ordered mapping of key to raw JSON value. The zero
// value is an empty state ready to use.
type State struct {
	keys   []string
	values map[string]json.RawMessage
}

// Len returns the number of keys.
func (s *State) Len() int {
	return len(s.keys)
}

// Keys returns the keys in insertion order.
func (s *State) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Has reports whether key is present.
func (s *State) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Raw returns the stored JSON for key.
func (s *State) Raw(key string) (json.RawMessage, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Get decodes the value stored under key into dst. It reports false when the
// key is absent.
func (s *State) Get(key string, dst any) (bool, error) {
	raw, ok := s.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decode state %q: %w", key, err)
	}
	return true, nil
}

// Set encodes v and stores it under key. Existing keys keep their position.
func (s *State) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode state %q: %w", key, err)
	}
	s.SetRaw(key, raw)
	return nil
}

// SetRaw stores an already encoded value under key.
func (s *State) SetRaw(key string, raw json.RawMessage) {
	if s.values == nil {
		s.values = make(map[string]json.RawMessage)
	}
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = append(json.RawMessage(nil), raw...)
}

// Delete removes key if present.
func (s *State) Delete(key string) {
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
}

// Clear removes every key.
func (s *State) Clear() {
	s.keys = nil
	s.values = nil
}

// Clone returns a deep copy.
func (s *State) Clone() State {
	out := State{}
	for _, k := range s.keys {
		out.SetRaw(k, s.values[k])
	}
	return out
}

// MarshalJSON encodes the state as a JSON object with keys in insertion order.
func (s State) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(s.values[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving key order.
func (s *State) UnmarshalJSON(data []byte) error {
	s.Clear()
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("state must be a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("state key must be a string")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decode state %q: %w", key, err)
		}
		s.SetRaw(key, raw)
	}
	_, err = dec.Token()
	return err
}
