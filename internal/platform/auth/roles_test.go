package auth

import (
	"net/http/httptest"
	"testing"
)

func TestHasAtLeast(t *testing.T) {
	cases := []struct {
		roles []string
		min   string
		want  bool
	}{
		{[]string{"viewer"}, RoleViewer, true},
		{[]string{"viewer"}, RoleAnalyst, false},
		{[]string{"analyst"}, RoleViewer, true},
		{[]string{"admin"}, RoleAnalyst, true},
		{[]string{"unknown"}, RoleViewer, false},
		{nil, RoleViewer, false},
	}
	for _, tc := range cases {
		if got := HasAtLeast(tc.roles, tc.min); got != tc.want {
			t.Fatalf("HasAtLeast(%v, %s) = %v, want %v", tc.roles, tc.min, got, tc.want)
		}
	}
}

func TestRequiredRoleForRequest(t *testing.T) {
	get := httptest.NewRequest("GET", "/v1/executions", nil)
	if role := RequiredRoleForRequest(get); role != RoleViewer {
		t.Fatalf("GET role = %s", role)
	}
	post := httptest.NewRequest("POST", "/v1/hunts/x/executions", nil)
	if role := RequiredRoleForRequest(post); role != RoleAnalyst {
		t.Fatalf("POST role = %s", role)
	}
}
