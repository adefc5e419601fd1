package analysis

import (
	"bytes"
	"encoding/json"
)

// CategoryCounts is a tally keyed by pest type that remembers the order in
// which keys were first seen, so ties resolve the same way on every call.
type CategoryCounts struct {
	keys   []string
	counts map[string]int
}

func (c *CategoryCounts) Add(key string) {
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	if _, ok := c.counts[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.counts[key]++
}

func (c CategoryCounts) Get(key string) int { return c.counts[key] }

func (c CategoryCounts) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

func (c CategoryCounts) Len() int { return len(c.keys) }

// Top returns the key with the highest tally. The earliest key wins a tie.
func (c CategoryCounts) Top() (string, bool) {
	best, bestN := "", 0
	for _, k := range c.keys {
		if n := c.counts[k]; n > bestN {
			best, bestN = k, n
		}
	}
	return best, bestN > 0
}

// MarshalJSON writes an object whose keys keep insertion order.
func (c CategoryCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		nb, _ := json.Marshal(c.counts[k])
		buf.Write(nb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the object back preserving the key order of the input.
func (c *CategoryCounts) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*c = CategoryCounts{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return &json.UnmarshalTypeError{Value: "non-object", Type: nil}
	}
	out := CategoryCounts{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := kt.(string)
		var n int
		if err := dec.Decode(&n); err != nil {
			return err
		}
		if out.counts == nil {
			out.counts = make(map[string]int)
		}
		if _, seen := out.counts[key]; !seen {
			out.keys = append(out.keys, key)
		}
		out.counts[key] = n
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*c = out
	return nil
}
