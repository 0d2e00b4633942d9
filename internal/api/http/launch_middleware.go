// internal/api/http/launch_middleware.go
package http

import (
	"context"
	"net/http"

	"github.com/mind-engage/lti-tool/internal/lti/launch"
)

type ctxKey int

const launchKey ctxKey = iota

// LaunchSession reattaches the cached launch for requests carrying a session
// id, by cookie or by the lti_launch_id query/form parameter. Requests
// without one pass through untouched; use RequireLaunch to make the session
// mandatory.
func LaunchSession(v *launch.Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			id := launchID(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			l, err := v.LoadLaunch(r.Context(), id)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithLaunch(r.Context(), l)))
		}
		return http.HandlerFunc(fn)
	}
}

func launchID(r *http.Request) string {
	if c, err := r.Cookie(LaunchCookie); err == nil && c.Value != "" {
		return c.Value
	}
	_ = r.ParseForm()
	return r.Form.Get(LaunchCookie)
}

// WithLaunch stores the launch on the context.
func WithLaunch(ctx context.Context, l *launch.Launch) context.Context {
	return context.WithValue(ctx, launchKey, l)
}

// LaunchFromContext returns the launch attached by LaunchSession.
func LaunchFromContext(ctx context.Context) (*launch.Launch, bool) {
	l, ok := ctx.Value(launchKey).(*launch.Launch)
	return l, ok
}

// RequireLaunch rejects requests that did not arrive through a live LTI
// session. Deactivating the deployment mid-session takes effect here too,
// since LoadLaunch re-reads the deployment row.
func RequireLaunch(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		l, ok := LaunchFromContext(r.Context())
		if !ok {
			http.Error(w, "forbidden: no LTI launch session", http.StatusForbidden)
			return
		}
		if !l.Deployment.IsActive {
			http.Error(w, "forbidden: deployment is not active", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(fn)
}
