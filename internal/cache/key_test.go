package cache

import (
	"testing"
)

// TestKeyString_ParamOrderIndependent verifies set-equal params produce one key
func TestKeyString_ParamOrderIndependent(t *testing.T) {
	a := Key{
		Namespace: "app",
		Scope:     ScopeList,
		Entity:    "orders",
		Params: Params{
			"status": StringParam("open"),
			"page":   IntParam(2),
			"urgent": BoolParam(true),
		},
		Version: "v1",
	}
	b := Key{
		Namespace: "app",
		Scope:     ScopeList,
		Entity:    "orders",
		Params: Params{
			"urgent": BoolParam(true),
			"page":   IntParam(2),
			"status": StringParam("open"),
		},
		Version: "v1",
	}

	if a.String() != b.String() {
		t.Errorf("Expected identical keys, got %q vs %q", a.String(), b.String())
	}

	t.Log("✓ Key serialization is independent of param insertion order")
}

// TestKeyString_KindPrefixes verifies same-text values of different kinds don't collide
func TestKeyString_KindPrefixes(t *testing.T) {
	intKey := Key{Namespace: "app", Scope: ScopeList, Entity: "orders",
		Params: Params{"id": IntParam(1)}, Version: "v1"}
	strKey := Key{Namespace: "app", Scope: ScopeList, Entity: "orders",
		Params: Params{"id": StringParam("1")}, Version: "v1"}

	if intKey.String() == strKey.String() {
		t.Errorf("IntParam(1) and StringParam(\"1\") must serialize differently, both got %q", intKey.String())
	}

	t.Log("✓ Typed params of different kinds never collide")
}

// TestParseKey_RoundTrip verifies serialized keys parse back to equal keys
func TestParseKey_RoundTrip(t *testing.T) {
	original := Key{
		Namespace: "app",
		Scope:     ScopeDetail,
		Entity:    "clients",
		Params: Params{
			"id":     StringParam("c-42"),
			"depth":  IntParam(3),
			"ratio":  FloatParam(0.25),
			"active": BoolParam(false),
		},
		Version: "v2",
	}

	parsed, err := ParseKey(original.String())
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}

	if parsed.String() != original.String() {
		t.Errorf("Round trip mismatch: %q vs %q", parsed.String(), original.String())
	}
	if parsed.Namespace != "app" || parsed.Entity != "clients" || parsed.Scope != ScopeDetail {
		t.Errorf("Parsed components wrong: %+v", parsed)
	}

	t.Log("✓ ParseKey round-trips serialized keys")
}

// TestParseKey_Malformed verifies malformed strings are rejected
func TestParseKey_Malformed(t *testing.T) {
	cases := []string{
		"",
		"app|list|orders",
		"app|list|orders||v1|extra",
		"app|list|orders|noequals|v1",
		"app|list|orders|id=x:1|v1",
	}

	for _, raw := range cases {
		if _, err := ParseKey(raw); err == nil {
			t.Errorf("Expected error for %q, got none", raw)
		}
	}

	t.Log("✓ Malformed keys are rejected")
}

// TestFactory_Scopes verifies the factory stamps namespace and version
func TestFactory_Scopes(t *testing.T) {
	f := NewFactory("field", "v3")

	detail := f.Detail("orders", "o-9")
	if detail.Namespace != "field" || detail.Version != "v3" {
		t.Errorf("Detail key missing factory fields: %+v", detail)
	}
	if detail.Scope != ScopeDetail {
		t.Errorf("Expected detail scope, got %s", detail.Scope)
	}
	if detail.Params["id"].Encode() != "s:o-9" {
		t.Errorf("Detail id param wrong: %s", detail.Params["id"].Encode())
	}

	list := f.List("orders", nil)
	if list.Scope != ScopeList {
		t.Errorf("Expected list scope, got %s", list.Scope)
	}

	inf := f.Infinite("orders", Params{"cursor": StringParam("abc")})
	if inf.Scope != ScopeInfinite {
		t.Errorf("Expected infinite scope, got %s", inf.Scope)
	}

	t.Log("✓ Factory builds keys for all scopes")
}

// TestRelated_DepthAndCycles verifies graph traversal depth and cycle safety
func TestRelated_DepthAndCycles(t *testing.T) {
	one := Related("orders", 1)
	expectOne := map[string]bool{"clients": true, "products": true, "invoices": true}
	if len(one) != len(expectOne) {
		t.Fatalf("Expected %d direct relations, got %v", len(expectOne), one)
	}
	for _, e := range one {
		if !expectOne[e] {
			t.Errorf("Unexpected relation at depth 1: %s", e)
		}
	}

	two := Related("orders", 2)
	seen := make(map[string]bool)
	for _, e := range two {
		if seen[e] {
			t.Errorf("Duplicate relation: %s", e)
		}
		if e == "orders" {
			t.Error("Entity must not relate to itself")
		}
		seen[e] = true
	}
	// products -> suppliers and clients -> maintenance-visits are two hops out.
	if !seen["suppliers"] || !seen["maintenance-visits"] {
		t.Errorf("Depth 2 missing transitive relations: %v", two)
	}

	if got := Related("orders", 0); got != nil {
		t.Errorf("Depth 0 should return nil, got %v", got)
	}

	t.Log("✓ Related traverses the entity graph with cycle and depth guards")
}
