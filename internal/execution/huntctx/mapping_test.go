package huntctx

import "testing"

func TestParseMapping(t *testing.T) {
	cases := []struct {
		expr       string
		wantSource mappingSource
		wantStep   string
		wantPath   []string
	}{
		{"initial.domain", sourceInitial, "", []string{"domain"}},
		{"initial.a.b.c", sourceInitial, "", []string{"a", "b", "c"}},
		{"whois.registrar", sourceStepOutput, "whois", []string{"registrar"}},
		{"resolve", sourceStepOutput, "resolve", nil},
		{"resolve.results.0", sourceStepOutput, "resolve", []string{"results", "0"}},
	}
	for _, tc := range cases {
		m := ParseMapping(tc.expr)
		if m.source != tc.wantSource || m.stepID != tc.wantStep {
			t.Fatalf("%q parsed as %+v", tc.expr, m)
		}
		if len(m.path) != len(tc.wantPath) {
			t.Fatalf("%q path = %v, want %v", tc.expr, m.path, tc.wantPath)
		}
		for i := range m.path {
			if m.path[i] != tc.wantPath[i] {
				t.Fatalf("%q path = %v, want %v", tc.expr, m.path, tc.wantPath)
			}
		}
	}
}

func TestTraversePath(t *testing.T) {
	root := map[string]any{
		"list": []any{
			map[string]any{"k": "v0"},
			map[string]any{"k": "v1"},
		},
		"scalar": 7,
	}

	if v, ok := traversePath(root, []string{"list", "1", "k"}); !ok || v != "v1" {
		t.Fatalf("list.1.k = %v, %v", v, ok)
	}
	if v, ok := traversePath(root, nil); !ok || v == nil {
		t.Fatalf("empty path = %v, %v", v, ok)
	}
	if _, ok := traversePath(root, []string{"list", "5"}); ok {
		t.Fatal("out-of-range index resolved")
	}
	if _, ok := traversePath(root, []string{"list", "x"}); ok {
		t.Fatal("non-numeric index resolved")
	}
	if _, ok := traversePath(root, []string{"scalar", "k"}); ok {
		t.Fatal("path through scalar resolved")
	}
	if _, ok := traversePath(root, []string{"missing"}); ok {
		t.Fatal("missing key resolved")
	}
}
