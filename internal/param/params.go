package param

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Params is an ordered key → value container. Setting an existing key
// overwrites its value in place; lookup ignores order, encoding follows it.
// The zero value is ready to use.
type Params struct {
	keys   []Key
	values map[Key]string
}

// New returns an empty container.
func New() *Params {
	return &Params{}
}

// Set stores value under k, overwriting any previous value.
func (p *Params) Set(k Key, value string) *Params {
	if p.values == nil {
		p.values = make(map[Key]string)
	}
	if _, ok := p.values[k]; !ok {
		p.keys = append(p.keys, k)
	}
	p.values[k] = value
	return p
}

// SetName is shorthand for Set(Named(n), value).
func (p *Params) SetName(n Name, value string) *Params {
	return p.Set(Named(n), value)
}

// SetSlot is shorthand for Set(Slot(c, slot), value).
func (p *Params) SetSlot(c Category, slot int, value string) *Params {
	return p.Set(Slot(c, slot), value)
}

// Get returns the value stored under k.
func (p *Params) Get(k Key) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p.values[k]
	return v, ok
}

// Contains reports whether k has a value.
func (p *Params) Contains(k Key) bool {
	_, ok := p.Get(k)
	return ok
}

// Len returns the number of keys.
func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Keys returns the keys in insertion order.
func (p *Params) Keys() []Key {
	if p == nil {
		return nil
	}
	out := make([]Key, len(p.keys))
	copy(out, p.keys)
	return out
}

// Merge copies every entry of other into p; on conflict other wins.
func (p *Params) Merge(other *Params) *Params {
	if other == nil {
		return p
	}
	for _, k := range other.keys {
		p.Set(k, other.values[k])
	}
	return p
}

// Clone returns an independent copy.
func (p *Params) Clone() *Params {
	out := New()
	out.Merge(p)
	return out
}

// ApplyMapping replaces every value that appears as a key of subs with the
// corresponding substitution. Configuration declares placeholders such as
// {cp2: "appVersion"}; the mapping injects the runtime value.
func (p *Params) ApplyMapping(subs map[string]string) {
	if p == nil || len(subs) == 0 {
		return
	}
	for _, k := range p.keys {
		if v, ok := subs[p.values[k]]; ok {
			p.values[k] = v
		}
	}
}

// Encode renders the params as a URL query fragment in container order,
// omitting keys for which skip returns true.
func (p *Params) Encode(skip func(Key) bool) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	for _, k := range p.keys {
		if skip != nil && skip(k) {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k.Wire()))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.values[k]))
	}
	return b.String()
}

// Map returns a wire-name keyed copy, mostly for logging.
func (p *Params) Map() map[string]string {
	out := make(map[string]string, p.Len())
	if p == nil {
		return out
	}
	for _, k := range p.keys {
		out[k.Wire()] = p.values[k]
	}
	return out
}

// FromMap builds a container from wire names. Keys are inserted in sorted
// order so the result is deterministic.
func FromMap(m map[string]string) (*Params, error) {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	p := New()
	for _, name := range names {
		k, err := ParseKey(name)
		if err != nil {
			return nil, err
		}
		p.Set(k, m[name])
	}
	return p, nil
}

// UnmarshalYAML decodes a mapping of wire names to values, keeping the
// document order.
func (p *Params) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: params must be a mapping", value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		kn, vn := value.Content[i], value.Content[i+1]
		k, err := ParseKey(kn.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", kn.Line, err)
		}
		var v string
		if err := vn.Decode(&v); err != nil {
			return fmt.Errorf("line %d: value for %q: %w", vn.Line, kn.Value, err)
		}
		p.Set(k, v)
	}
	return nil
}

// MarshalYAML encodes the params as an ordered mapping.
func (p Params) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range p.keys {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k.Wire()},
			&yaml.Node{Kind: yaml.ScalarNode, Value: p.values[k], Style: yaml.DoubleQuotedStyle},
		)
	}
	return node, nil
}
