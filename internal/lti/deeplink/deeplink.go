// internal/lti/deeplink/deeplink.go
package deeplink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mind-engage/lti-tool/internal/lti/claims"
	"github.com/mind-engage/lti-tool/internal/lti/keyring"
	"github.com/mind-engage/lti-tool/internal/lti/launch"
)

/*
Deep linking response builder (tool side).

A LtiDeepLinkingRequest launch carries deep_linking_settings with the
platform's return URL and an opaque data token. The tool answers by form
POSTing a JWT it signed itself back to that URL. The platform verifies the
JWT against our published JWKS, so the response is signed with the same key
the keyset endpoint serves.
*/

var (
	ErrNotDeepLinking = errors.New("deeplink: launch is not a deep linking request")
	ErrNoReturnURL    = errors.New("deeplink: platform sent no deep_link_return_url")
	ErrNoItems        = errors.New("deeplink: at least one content item is required")
)

// ContentItem is one entry of the content_items claim. Only ltiResourceLink
// items carry the launch URL; the zero Type defaults to ltiResourceLink.
type ContentItem struct {
	Type   string            `json:"type"`
	Title  string            `json:"title,omitempty"`
	Text   string            `json:"text,omitempty"`
	URL    string            `json:"url,omitempty"`
	Custom map[string]string `json:"custom,omitempty"`
	Line   *LineItemHint     `json:"lineItem,omitempty"`
}

// LineItemHint asks the platform to create a grade column for the item.
type LineItemHint struct {
	Label        string  `json:"label,omitempty"`
	ScoreMaximum float64 `json:"scoreMaximum"`
	ResourceID   string  `json:"resourceId,omitempty"`
	Tag          string  `json:"tag,omitempty"`
}

// Response is the signed message plus the platform URL to POST it to.
type Response struct {
	JWT       string
	ReturnURL string
}

// Responder signs deep linking responses with the tool's active key.
type Responder struct {
	Keyring *keyring.Keyring
	TTL     time.Duration    // response exp window, default 5m
	Now     func() time.Time // test clock
}

func (r *Responder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Responder) ttl() time.Duration {
	if r.TTL > 0 {
		return r.TTL
	}
	return 5 * time.Minute
}

// BuildResponse signs the content items into a LtiDeepLinkingResponse JWT for
// the launch's platform. The settings claim's data token is echoed back when
// present, as the platform requires.
func (r *Responder) BuildResponse(ctx context.Context, l *launch.Launch, items []ContentItem) (Response, error) {
	if !l.IsDeepLinkingLaunch() {
		return Response{}, ErrNotDeepLinking
	}
	settings, ok := l.Claims.DeepLinkingData()
	if !ok || settings.ReturnURL == "" {
		return Response{}, ErrNoReturnURL
	}
	if len(items) == 0 {
		return Response{}, ErrNoItems
	}
	if len(items) > 1 && !settings.AcceptMultiple {
		return Response{}, fmt.Errorf("deeplink: platform accepts a single item, got %d", len(items))
	}
	for i := range items {
		if items[i].Type == "" {
			items[i].Type = "ltiResourceLink"
		}
		if items[i].Type == "ltiResourceLink" && items[i].URL == "" {
			return Response{}, fmt.Errorf("deeplink: item %d: ltiResourceLink requires a url", i)
		}
	}

	now := r.now()
	mc := jwt.MapClaims{
		"iss":   l.Registration.ClientID,
		"aud":   l.Registration.Issuer,
		"iat":   now.Unix(),
		"exp":   now.Add(r.ttl()).Unix(),
		"nonce": uuid.NewString(),

		claims.MessageType:  "LtiDeepLinkingResponse",
		claims.Version:      "1.3.0",
		claims.DeploymentID: l.Deployment.DeploymentID,

		"https://purl.imsglobal.org/spec/lti-dl/claim/content_items": items,
	}
	if settings.Data != "" {
		mc["https://purl.imsglobal.org/spec/lti-dl/claim/data"] = settings.Data
	}

	sk, err := r.Keyring.SigningKeyFor(ctx, l.Registration)
	if err != nil {
		return Response{}, fmt.Errorf("deeplink: signing key: %w", err)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, mc)
	tok.Header["kid"] = sk.KID
	signed, err := tok.SignedString(sk.Key)
	if err != nil {
		return Response{}, fmt.Errorf("deeplink: sign response: %w", err)
	}
	return Response{JWT: signed, ReturnURL: settings.ReturnURL}, nil
}
