package cache

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Scope distinguishes the query shape a key addresses.
type Scope string

const (
	ScopeList     Scope = "list"
	ScopeDetail   Scope = "detail"
	ScopeInfinite Scope = "infinite"
)

// ParamKind enumerates the closed set of scalar parameter types.
type ParamKind int

const (
	KindString ParamKind = iota
	KindInt
	KindFloat
	KindBool
)

// ParamValue is a typed scalar parameter. Keeping the value set closed
// keeps key serialization deterministic.
type ParamValue struct {
	kind ParamKind
	s    string
	i    int64
	f    float64
	b    bool
}

// StringParam wraps a string parameter value.
func StringParam(v string) ParamValue { return ParamValue{kind: KindString, s: v} }

// IntParam wraps an integer parameter value.
func IntParam(v int64) ParamValue { return ParamValue{kind: KindInt, i: v} }

// FloatParam wraps a float parameter value.
func FloatParam(v float64) ParamValue { return ParamValue{kind: KindFloat, f: v} }

// BoolParam wraps a boolean parameter value.
func BoolParam(v bool) ParamValue { return ParamValue{kind: KindBool, b: v} }

// Encode renders the value with a kind prefix so distinct kinds never
// collide (IntParam(1) != StringParam("1")).
func (v ParamValue) Encode() string {
	switch v.kind {
	case KindInt:
		return "i:" + strconv.FormatInt(v.i, 10)
	case KindFloat:
		return "f:" + strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return "b:" + strconv.FormatBool(v.b)
	default:
		return "s:" + v.s
	}
}

// String returns the bare value without the kind prefix, for surfaces
// like query strings where the kind is not part of the wire format.
func (v ParamValue) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return v.s
	}
}

// Params is a mapping of parameter names to typed scalar values.
type Params map[string]ParamValue

// encode serializes params with names sorted lexicographically, so
// set-equal parameter maps always produce the same string.
func (p Params) encode() string {
	if len(p) == 0 {
		return ""
	}
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+p[name].Encode())
	}
	return strings.Join(parts, "&")
}

// Key identifies one cache entry. Two keys are equal iff their serialized
// forms are equal.
type Key struct {
	Namespace string
	Scope     Scope
	Entity    string
	Params    Params
	Version   string
}

// String returns the canonical serialized form. Components must not
// contain the '|' separator; parameter names must not contain '=' or '&'.
func (k Key) String() string {
	return strings.Join([]string{
		k.Namespace,
		string(k.Scope),
		k.Entity,
		k.Params.encode(),
		k.Version,
	}, "|")
}

// ParseKey reconstructs a Key from its serialized form.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 5 {
		return Key{}, fmt.Errorf("cache: malformed key %q", s)
	}

	k := Key{
		Namespace: parts[0],
		Scope:     Scope(parts[1]),
		Entity:    parts[2],
		Version:   parts[4],
	}

	if parts[3] == "" {
		return k, nil
	}

	k.Params = make(Params)
	for _, pair := range strings.Split(parts[3], "&") {
		name, encoded, ok := strings.Cut(pair, "=")
		if !ok {
			return Key{}, fmt.Errorf("cache: malformed key params %q", s)
		}
		v, err := decodeParam(encoded)
		if err != nil {
			return Key{}, fmt.Errorf("cache: malformed key %q: %w", s, err)
		}
		k.Params[name] = v
	}
	return k, nil
}

func decodeParam(encoded string) (ParamValue, error) {
	kind, raw, ok := strings.Cut(encoded, ":")
	if !ok {
		return ParamValue{}, fmt.Errorf("missing kind prefix in %q", encoded)
	}
	switch kind {
	case "s":
		return StringParam(raw), nil
	case "i":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return ParamValue{}, err
		}
		return IntParam(n), nil
	case "f":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return ParamValue{}, err
		}
		return FloatParam(f), nil
	case "b":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return ParamValue{}, err
		}
		return BoolParam(b), nil
	default:
		return ParamValue{}, fmt.Errorf("unknown param kind %q", kind)
	}
}

// Factory builds keys with a fixed namespace and schema version.
type Factory struct {
	Namespace string
	Version   string
}

// NewFactory creates a key factory for the given namespace and version.
func NewFactory(namespace, version string) *Factory {
	return &Factory{Namespace: namespace, Version: version}
}

// New builds a key for an arbitrary scope.
func (f *Factory) New(entity string, scope Scope, params Params) Key {
	return Key{
		Namespace: f.Namespace,
		Scope:     scope,
		Entity:    entity,
		Params:    params,
		Version:   f.Version,
	}
}

// List builds a list-scoped key.
func (f *Factory) List(entity string, params Params) Key {
	return f.New(entity, ScopeList, params)
}

// Detail builds a detail-scoped key for a single record.
func (f *Factory) Detail(entity, id string) Key {
	return f.New(entity, ScopeDetail, Params{"id": StringParam(id)})
}

// Infinite builds a key for an infinite/paged query.
func (f *Factory) Infinite(entity string, params Params) Key {
	return f.New(entity, ScopeInfinite, params)
}

// entityGraph maps each entity to the entities commonly loaded alongside
// it. Drives prefetch and invalidation fan-out.
var entityGraph = map[string][]string{
	"orders":             {"clients", "products", "invoices"},
	"clients":            {"orders", "maintenance-visits"},
	"products":           {"suppliers"},
	"invoices":           {"orders", "clients"},
	"maintenance-visits": {"clients", "technicians"},
	"technicians":        {"maintenance-visits"},
	"suppliers":          {"products"},
}

// Related returns entities reachable from entity within depth hops,
// excluding the entity itself, de-duplicated, cycle-safe.
func Related(entity string, depth int) []string {
	if depth <= 0 {
		return nil
	}

	visited := map[string]bool{entity: true}
	var out []string

	frontier := []string{entity}
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, e := range frontier {
			for _, rel := range entityGraph[e] {
				if visited[rel] {
					continue
				}
				visited[rel] = true
				out = append(out, rel)
				next = append(next, rel)
			}
		}
		frontier = next
	}
	return out
}
