package javascript

import (
	"encoding/json"

	"github.com/dop251/goja"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/sakif/codetrace/internal/model"
)

// Sandbox is the single binding container for one execution. The instrumented program
// runs inside `with (sandbox)`, so identifiers the sandbox claims are read from and
// written to this store rather than to any JavaScript scope.
//
// It implements goja.DynamicObject. A Sandbox is used by exactly one goja.Runtime and
// is only touched from that runtime's goroutine.
type Sandbox struct {
	claimed map[string]bool
	values  *orderedmap.OrderedMap[string, goja.Value]
}

var _ goja.DynamicObject = (*Sandbox)(nil)

// NewSandbox creates an empty store that claims the given names.
func NewSandbox(names []string) *Sandbox {
	claimed := make(map[string]bool, len(names))
	for _, n := range names {
		claimed[n] = true
	}
	return &Sandbox{
		claimed: claimed,
		values:  orderedmap.New[string, goja.Value](),
	}
}

// Get returns the bound value, or undefined for a claimed name not yet assigned.
func (s *Sandbox) Get(key string) goja.Value {
	if v, ok := s.values.Get(key); ok {
		return v
	}
	if s.claimed[key] {
		return goja.Undefined()
	}
	return nil
}

func (s *Sandbox) Set(key string, val goja.Value) bool {
	s.values.Set(key, val)
	return true
}

// Has decides which identifiers resolve against the sandbox. Names that are neither
// claimed nor bound fall through to the runtime's globals (console, Math, ...).
func (s *Sandbox) Has(key string) bool {
	if s.claimed[key] {
		return true
	}
	_, ok := s.values.Get(key)
	return ok
}

func (s *Sandbox) Delete(key string) bool {
	s.values.Delete(key)
	delete(s.claimed, key)
	return true
}

func (s *Sandbox) Keys() []string {
	keys := make([]string, 0, s.values.Len())
	for pair := s.values.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Snapshot copies every current binding into JSON, in binding order.
//
// Functions and undefined values are skipped, the way JSON.stringify skips them in an
// object. Values are serialized now, so later mutation of an object does not rewrite
// an earlier step.
func (s *Sandbox) Snapshot() *model.Locals {
	locals := model.NewLocals()
	for pair := s.values.Oldest(); pair != nil; pair = pair.Next() {
		v := pair.Value
		if v == nil || goja.IsUndefined(v) {
			continue
		}
		if _, isFunc := goja.AssertFunction(v); isFunc {
			continue
		}
		locals.Set(pair.Key, encodeValue(v))
	}
	return locals
}

// encodeValue renders a value as JSON. Objects go through JSON.stringify semantics;
// anything that cannot be encoded (cycles, NaN, symbols) becomes its string form.
func encodeValue(v goja.Value) json.RawMessage {
	if obj, ok := v.(*goja.Object); ok {
		if data, err := obj.MarshalJSON(); err == nil && json.Valid(data) {
			return data
		}
		return quote(v.String())
	}
	if data, err := json.Marshal(v.Export()); err == nil {
		return data
	}
	return quote(v.String())
}

// formatLogArg stringifies one console.log argument: objects as JSON, everything
// else (including functions and null) through String().
func formatLogArg(v goja.Value) string {
	if obj, ok := v.(*goja.Object); ok {
		if _, isFunc := goja.AssertFunction(v); !isFunc {
			if data, err := obj.MarshalJSON(); err == nil {
				return string(data)
			}
		}
	}
	if v == nil {
		return "undefined"
	}
	return v.String()
}

func quote(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
