package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckerPermitted(t *testing.T) {
	c := NewChecker(nil)

	cases := []struct {
		roles []string
		perm  string
		want  bool
	}{
		{[]string{"Instructor"}, PermRosterSync, true},
		{[]string{"Learner"}, PermRosterSync, false},
		{[]string{"Learner", "Instructor"}, PermLineItemsSync, true},
		{[]string{"Administrator"}, "anything:at:all", true},
		{[]string{"Mentor"}, PermSessionView, true},
		{[]string{}, PermSessionView, false},
		{[]string{"NoSuchRole"}, PermSessionView, false},
	}
	for _, tc := range cases {
		if got := c.Permitted(tc.roles, tc.perm); got != tc.want {
			t.Errorf("Permitted(%v, %q) = %v, want %v", tc.roles, tc.perm, got, tc.want)
		}
	}
}

func TestCheckerWildcardPrefix(t *testing.T) {
	c := NewChecker(map[string][]string{"ops": {"sync:*"}})
	if !c.Has("ops", "sync:roster") {
		t.Error("prefix wildcard did not match")
	}
	if c.Has("ops", "session:view") {
		t.Error("prefix wildcard matched outside its prefix")
	}
}

func TestRequireMiddleware(t *testing.T) {
	roles := func(r *http.Request) []string {
		if r.Header.Get("X-Test-Role") == "" {
			return nil
		}
		return []string{r.Header.Get("X-Test-Role")}
	}
	h := Require(PermRosterSync, roles)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	req.Header.Set("X-Test-Role", "Instructor")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("instructor status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/sync", nil)
	req.Header.Set("X-Test-Role", "Learner")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("learner status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("anonymous status = %d", rec.Code)
	}
}
