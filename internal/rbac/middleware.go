package rbac

import (
	"net/http"
)

var defaultChecker = NewChecker(nil)

// RolesFunc extracts the caller's role names from the request. The HTTP layer
// supplies one that reads the roles off the attached launch session.
type RolesFunc func(r *http.Request) []string

// Require rejects requests whose roles do not grant the permission.
func Require(perm string, roles RolesFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !defaultChecker.Permitted(roles(r), perm) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
