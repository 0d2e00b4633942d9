// internal/lti/services/connector.go
package services

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mind-engage/lti-tool/internal/lti/store"
)

// Connector obtains scoped access tokens from the platform token endpoint and
// hands back an http.Client that injects them. One connector per
// (registration, scope set).
type Connector struct {
	TokenURL string
	ClientID string
	Scopes   []string
	Timeout  time.Duration
}

// ForRegistration builds a connector against the registration's token
// endpoint with the requested scopes.
func ForRegistration(reg store.Registration, scopes ...string) Connector {
	return Connector{
		TokenURL: reg.TokenURL,
		ClientID: reg.ClientID,
		Scopes:   scopes,
		Timeout:  15 * time.Second,
	}
}

// HTTPClient returns a token-injecting client. Token refresh reuses ctx.
func (c Connector) HTTPClient(ctx context.Context) *http.Client {
	cc := clientcredentials.Config{
		ClientID: c.ClientID,
		TokenURL: c.TokenURL,
		Scopes:   c.Scopes,
	}
	h := cc.Client(ctx)
	if c.Timeout > 0 {
		h.Timeout = c.Timeout
	}
	return h
}

// Retry runs op with exponential backoff until it succeeds or maxTries is
// exhausted. Platform service endpoints throttle aggressively during bulk
// sync, so every fetch in this package goes through here.
func Retry[T any](ctx context.Context, op func() (T, error), maxTries uint) (T, error) {
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxTries),
	)
}
