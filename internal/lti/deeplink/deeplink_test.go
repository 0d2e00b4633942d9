package deeplink

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mind-engage/lti-tool/internal/lti/claims"
	"github.com/mind-engage/lti-tool/internal/lti/keyring"
	"github.com/mind-engage/lti-tool/internal/lti/launch"
	"github.com/mind-engage/lti-tool/internal/lti/store"
)

func fixture(t *testing.T) (*Responder, *launch.Launch, *keyring.Keyring) {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemoryStore()
	kr := &keyring.Keyring{Store: m}
	if err := kr.Ensure(ctx); err != nil {
		t.Fatalf("ensure key: %v", err)
	}
	reg, err := m.SaveRegistration(ctx, store.Registration{
		UUID: "reg-uuid", Issuer: "https://platform.example.edu", ClientID: "client-1",
		AuthURL: "https://p/auth", TokenURL: "https://p/token", KeysetURL: "https://p/jwks",
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("seed registration: %v", err)
	}
	dep, err := m.CreateDeployment(ctx, store.Deployment{RegistrationID: reg.ID, DeploymentID: "dep-1", IsActive: true})
	if err != nil {
		t.Fatalf("seed deployment: %v", err)
	}
	l := &launch.Launch{
		ID:           "launch-1",
		Registration: reg,
		Deployment:   dep,
		Claims: claims.Data{
			"iss": reg.Issuer, "sub": "sub-1",
			claims.MessageType:  claims.MsgDeepLinking,
			claims.DeploymentID: dep.DeploymentID,
			claims.DeepLinkingSettings: map[string]any{
				"deep_link_return_url": "https://platform.example.edu/dl/return",
				"data":                 "opaque-dl-data",
				"accept_types":         []any{"ltiResourceLink"},
				"accept_multiple":      true,
			},
		},
	}
	return &Responder{Keyring: kr}, l, kr
}

func TestBuildResponseSignsVerifiableJWT(t *testing.T) {
	ctx := context.Background()
	r, l, kr := fixture(t)

	res, err := r.BuildResponse(ctx, l, []ContentItem{
		{Title: "Quiz 3", URL: "https://tool.example.edu/?resource=quiz-3"},
		{Title: "Quiz 4", URL: "https://tool.example.edu/?resource=quiz-4", Line: &LineItemHint{Label: "Quiz 4", ScoreMaximum: 10}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if res.ReturnURL != "https://platform.example.edu/dl/return" {
		t.Errorf("return url = %q", res.ReturnURL)
	}

	sk, err := kr.SigningKeyFor(ctx, l.Registration)
	if err != nil {
		t.Fatalf("signing key: %v", err)
	}
	parsed, err := jwt.Parse(res.JWT, func(tok *jwt.Token) (any, error) {
		if kid, _ := tok.Header["kid"].(string); kid != sk.KID {
			t.Errorf("kid = %v, want %s", tok.Header["kid"], sk.KID)
		}
		return &sk.Key.PublicKey, nil
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(l.Registration.ClientID),
		jwt.WithAudience(l.Registration.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		t.Fatalf("response jwt does not verify: %v", err)
	}
	mc := parsed.Claims.(jwt.MapClaims)
	if mc[claims.MessageType] != "LtiDeepLinkingResponse" {
		t.Errorf("message type = %v", mc[claims.MessageType])
	}
	if mc[claims.DeploymentID] != "dep-1" {
		t.Errorf("deployment id = %v", mc[claims.DeploymentID])
	}
	if mc["https://purl.imsglobal.org/spec/lti-dl/claim/data"] != "opaque-dl-data" {
		t.Error("platform data token not echoed back")
	}
	items, _ := mc["https://purl.imsglobal.org/spec/lti-dl/claim/content_items"].([]any)
	if len(items) != 2 {
		t.Fatalf("content items = %v", items)
	}
	first, _ := items[0].(map[string]any)
	if first["type"] != "ltiResourceLink" || first["url"] != "https://tool.example.edu/?resource=quiz-3" {
		t.Errorf("first item = %+v", first)
	}
}

func TestBuildResponseRejections(t *testing.T) {
	ctx := context.Background()
	r, l, _ := fixture(t)

	if _, err := r.BuildResponse(ctx, l, nil); err != ErrNoItems {
		t.Errorf("no items: err = %v", err)
	}
	if _, err := r.BuildResponse(ctx, l, []ContentItem{{Title: "no url"}}); err == nil {
		t.Error("resource link without url accepted")
	}

	single := *l
	single.Claims = claims.Data{}
	for k, v := range l.Claims {
		single.Claims[k] = v
	}
	single.Claims[claims.DeepLinkingSettings] = map[string]any{
		"deep_link_return_url": "https://platform.example.edu/dl/return",
		"accept_multiple":      false,
	}
	two := []ContentItem{
		{URL: "https://tool.example.edu/a"},
		{URL: "https://tool.example.edu/b"},
	}
	if _, err := r.BuildResponse(ctx, &single, two); err == nil {
		t.Error("multiple items accepted by single-item platform")
	}

	notDL := *l
	notDL.Claims = claims.Data{claims.MessageType: claims.MsgResourceLink}
	if _, err := r.BuildResponse(ctx, &notDL, two); err != ErrNotDeepLinking {
		t.Errorf("resource link launch: err = %v", err)
	}

	noReturn := *l
	noReturn.Claims = claims.Data{claims.MessageType: claims.MsgDeepLinking}
	if _, err := r.BuildResponse(ctx, &noReturn, two); err != ErrNoReturnURL {
		t.Errorf("missing settings: err = %v", err)
	}
}

func TestBuildResponseExpiryWindow(t *testing.T) {
	ctx := context.Background()
	r, l, _ := fixture(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.Now = func() time.Time { return base }

	res, err := r.BuildResponse(ctx, l, []ContentItem{{URL: "https://tool.example.edu/a"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(res.JWT, jwt.MapClaims{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	mc := parsed.Claims.(jwt.MapClaims)
	exp, _ := mc["exp"].(float64)
	if int64(exp) != base.Add(5*time.Minute).Unix() {
		t.Errorf("exp = %v, want iat+5m", exp)
	}
}

func TestAutoSubmitPageEscapes(t *testing.T) {
	page, err := AutoSubmitPage(Response{
		JWT:       `abc"><script>alert(1)</script>`,
		ReturnURL: "https://platform.example.edu/dl/return",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	html := string(page)
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Error("jwt value not escaped")
	}
	if !strings.Contains(html, `action="https://platform.example.edu/dl/return"`) {
		t.Errorf("return url missing: %s", html)
	}
}
