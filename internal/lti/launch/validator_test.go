package launch

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mind-engage/lti-tool/internal/lti/claims"
	"github.com/mind-engage/lti-tool/internal/lti/keyring"
	"github.com/mind-engage/lti-tool/internal/lti/migration"
	"github.com/mind-engage/lti-tool/internal/lti/resolver"
	"github.com/mind-engage/lti-tool/internal/lti/store"
)

type platformFixture struct {
	store     *store.MemoryStore
	validator *Validator
	reg       store.Registration
	dep       store.Deployment
	priv      *rsa.PrivateKey
	kid       string
	jwks      *httptest.Server
}

func newPlatform(t *testing.T) *platformFixture {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	kid := keyring.KeyID(&priv.PublicKey)

	jwksSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		set := map[string]any{"keys": []map[string]any{keyring.RSAPublicJWK(&priv.PublicKey, kid, "RS256")}}
		w.Header().Set("Content-Type", "application/jwk-set+json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(jwksSrv.Close)

	m := store.NewMemoryStore()
	reg, err := m.SaveRegistration(context.Background(), store.Registration{
		UUID:         "reg-uuid",
		Issuer:       "https://platform.example.edu",
		ClientID:     "client-1",
		AuthURL:      "https://platform.example.edu/auth",
		TokenURL:     "https://platform.example.edu/token",
		KeysetURL:    jwksSrv.URL,
		IsActive:     true,
		LTI1p1Secret: "consumer-secret",
	})
	if err != nil {
		t.Fatalf("seed registration: %v", err)
	}
	dep, err := m.CreateDeployment(context.Background(), store.Deployment{
		RegistrationID: reg.ID, DeploymentID: "dep-1", IsActive: true,
	})
	if err != nil {
		t.Fatalf("seed deployment: %v", err)
	}

	v := &Validator{
		Store:     m,
		Resolver:  &resolver.Resolver{Store: m},
		Cache:     NewInMemoryCache(0),
		LaunchURL: "https://tool.example.com/lti/launch",
	}
	return &platformFixture{store: m, validator: v, reg: reg, dep: dep, priv: priv, kid: kid, jwks: jwksSrv}
}

// login runs initiation and returns the state and nonce the tool minted.
func (f *platformFixture) login(t *testing.T) (state, nonce string) {
	t.Helper()
	params := url.Values{
		"iss":             {f.reg.Issuer},
		"login_hint":      {"user-1"},
		"target_link_uri": {"https://tool.example.com/"},
	}
	redirect, err := f.validator.LoginInitiation(context.Background(), params, f.reg.UUID)
	if err != nil {
		t.Fatalf("login initiation: %v", err)
	}
	u, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	q := u.Query()
	return q.Get("state"), q.Get("nonce")
}

func (f *platformFixture) baseClaims(nonce string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   f.reg.Issuer,
		"aud":   f.reg.ClientID,
		"sub":   "sub-1",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"nonce": nonce,
		claims.MessageType:   claims.MsgResourceLink,
		claims.Version:       "1.3.0",
		claims.DeploymentID:  "dep-1",
		claims.TargetLinkURI: "https://tool.example.com/",
		claims.ResourceLink:  map[string]any{"id": "rl1", "title": "Quiz 3"},
		claims.Roles:         []string{"http://purl.imsglobal.org/vocab/lis/v2/membership#Learner"},
	}
}

func (f *platformFixture) sign(t *testing.T, mc jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, mc)
	tok.Header["kid"] = f.kid
	signed, err := tok.SignedString(f.priv)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func launchForm(state, idToken string) url.Values {
	return url.Values{"state": {state}, "id_token": {idToken}}
}

func TestLoginInitiationRedirect(t *testing.T) {
	f := newPlatform(t)
	params := url.Values{
		"iss":              {f.reg.Issuer},
		"login_hint":       {"user-1"},
		"target_link_uri":  {"https://tool.example.com/"},
		"lti_message_hint": {"hint-1"},
	}
	redirect, err := f.validator.LoginInitiation(context.Background(), params, f.reg.UUID)
	if err != nil {
		t.Fatalf("login initiation: %v", err)
	}
	u, _ := url.Parse(redirect)
	if got := u.Scheme + "://" + u.Host + u.Path; got != f.reg.AuthURL {
		t.Errorf("redirect base = %q, want %q", got, f.reg.AuthURL)
	}
	q := u.Query()
	for k, want := range map[string]string{
		"response_type":    "id_token",
		"response_mode":    "form_post",
		"scope":            "openid",
		"prompt":           "none",
		"client_id":        f.reg.ClientID,
		"redirect_uri":     f.validator.LaunchURL,
		"login_hint":       "user-1",
		"lti_message_hint": "hint-1",
	} {
		if q.Get(k) != want {
			t.Errorf("%s = %q, want %q", k, q.Get(k), want)
		}
	}
	if q.Get("state") == "" || q.Get("nonce") == "" {
		t.Error("state/nonce not minted")
	}
}

func TestLoginInitiationMissingParams(t *testing.T) {
	f := newPlatform(t)
	_, err := f.validator.LoginInitiation(context.Background(), url.Values{"iss": {f.reg.Issuer}}, f.reg.UUID)
	if !errors.Is(err, ErrMissingParameter) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoginInitiationUnknownRegistration(t *testing.T) {
	f := newPlatform(t)
	params := url.Values{
		"iss":             {"https://imposter.example.edu"},
		"login_hint":      {"user-1"},
		"target_link_uri": {"https://tool.example.com/"},
	}
	_, err := f.validator.LoginInitiation(context.Background(), params, f.reg.UUID)
	if !errors.Is(err, resolver.ErrUnknownRegistration) {
		t.Fatalf("err = %v", err)
	}
}

func TestFullLaunchFlow(t *testing.T) {
	f := newPlatform(t)
	state, nonce := f.login(t)
	token := f.sign(t, f.baseClaims(nonce))

	l, err := f.validator.HandleLaunch(context.Background(), launchForm(state, token))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if !l.IsResourceLinkLaunch() {
		t.Errorf("message type = %q", l.MessageType())
	}
	if l.Registration.ID != f.reg.ID || l.Deployment.DeploymentID != "dep-1" {
		t.Errorf("binding = reg %d dep %q", l.Registration.ID, l.Deployment.DeploymentID)
	}
	if l.TargetLinkURI() != "https://tool.example.com/" {
		t.Errorf("target = %q", l.TargetLinkURI())
	}

	// Session reattach round-trips through the cache and re-reads rows.
	got, err := f.validator.LoadLaunch(context.Background(), l.ID)
	if err != nil {
		t.Fatalf("load launch: %v", err)
	}
	if got.Claims.Subject() != "sub-1" || got.Deployment.ID != l.Deployment.ID {
		t.Errorf("loaded launch = %+v", got)
	}
}

func TestLaunchRejectsUnknownState(t *testing.T) {
	f := newPlatform(t)
	_, nonce := f.login(t)
	token := f.sign(t, f.baseClaims(nonce))
	_, err := f.validator.HandleLaunch(context.Background(), launchForm("bogus-state", token))
	if !errors.Is(err, ErrUnknownState) {
		t.Fatalf("err = %v", err)
	}
}

func TestLaunchStateSingleUse(t *testing.T) {
	f := newPlatform(t)
	state, nonce := f.login(t)
	token := f.sign(t, f.baseClaims(nonce))
	if _, err := f.validator.HandleLaunch(context.Background(), launchForm(state, token)); err != nil {
		t.Fatalf("first launch: %v", err)
	}
	_, err := f.validator.HandleLaunch(context.Background(), launchForm(state, token))
	if !errors.Is(err, ErrUnknownState) {
		t.Fatalf("replayed state err = %v", err)
	}
}

func TestLaunchRejectsNonceMismatch(t *testing.T) {
	f := newPlatform(t)
	state, _ := f.login(t)
	token := f.sign(t, f.baseClaims("some-other-nonce"))
	_, err := f.validator.HandleLaunch(context.Background(), launchForm(state, token))
	if !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("err = %v", err)
	}
}

func TestLaunchRejectsNonceReplay(t *testing.T) {
	f := newPlatform(t)
	state, nonce := f.login(t)
	token := f.sign(t, f.baseClaims(nonce))
	if _, err := f.validator.HandleLaunch(context.Background(), launchForm(state, token)); err != nil {
		t.Fatalf("first launch: %v", err)
	}
	// An attacker re-binds the captured token under a fresh state. The nonce
	// single-use check must still kill it.
	rec, _ := json.Marshal(stateRecord{Nonce: nonce, RegistrationUUID: f.reg.UUID})
	_ = f.validator.Cache.Put("state", "attacker-state", rec, time.Minute)
	_, err := f.validator.HandleLaunch(context.Background(), launchForm("attacker-state", token))
	if !errors.Is(err, ErrNonceReplayed) {
		t.Fatalf("err = %v", err)
	}
}

func TestLaunchRejectsBadSignature(t *testing.T) {
	f := newPlatform(t)
	state, nonce := f.login(t)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, f.baseClaims(nonce))
	tok.Header["kid"] = f.kid
	forged, err := tok.SignedString(other)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = f.validator.HandleLaunch(context.Background(), launchForm(state, forged))
	if !errors.Is(err, ErrBadToken) {
		t.Fatalf("err = %v", err)
	}
}

func TestLaunchRejectsExpiredToken(t *testing.T) {
	f := newPlatform(t)
	state, nonce := f.login(t)
	mc := f.baseClaims(nonce)
	mc["exp"] = time.Now().Add(-time.Hour).Unix()
	_, err := f.validator.HandleLaunch(context.Background(), launchForm(state, f.sign(t, mc)))
	if !errors.Is(err, ErrBadToken) {
		t.Fatalf("err = %v", err)
	}
}

func TestLaunchRejectsWrongVersion(t *testing.T) {
	f := newPlatform(t)
	state, nonce := f.login(t)
	mc := f.baseClaims(nonce)
	mc[claims.Version] = "1.1"
	_, err := f.validator.HandleLaunch(context.Background(), launchForm(state, f.sign(t, mc)))
	if !errors.Is(err, ErrBadVersion) {
		t.Fatalf("err = %v", err)
	}
}

func TestLaunchRejectsUnsupportedMessageType(t *testing.T) {
	f := newPlatform(t)
	state, nonce := f.login(t)
	mc := f.baseClaims(nonce)
	mc[claims.MessageType] = "LtiStartProctoring"
	_, err := f.validator.HandleLaunch(context.Background(), launchForm(state, f.sign(t, mc)))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("err = %v", err)
	}
}

func TestLaunchUnknownDeploymentStrict(t *testing.T) {
	f := newPlatform(t)
	state, nonce := f.login(t)
	mc := f.baseClaims(nonce)
	mc[claims.DeploymentID] = "never-seen"
	_, err := f.validator.HandleLaunch(context.Background(), launchForm(state, f.sign(t, mc)))
	if !errors.Is(err, resolver.ErrUnknownDeployment) {
		t.Fatalf("err = %v", err)
	}
}

func TestLaunchLenientCreatesInactiveDeployment(t *testing.T) {
	f := newPlatform(t)
	f.validator.Resolver.AutoCreateDeployments = true
	state, nonce := f.login(t)
	mc := f.baseClaims(nonce)
	mc[claims.DeploymentID] = "fresh-dep"
	l, err := f.validator.HandleLaunch(context.Background(), launchForm(state, f.sign(t, mc)))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if l.Deployment.IsActive {
		t.Error("auto-created deployment came back active")
	}
}

func TestLaunchVerifiesMigrationClaim(t *testing.T) {
	f := newPlatform(t)
	state, nonce := f.login(t)
	mc := f.baseClaims(nonce)
	exp := mc["exp"].(int64)
	sig := migration.ComputeOAuthConsumerKeySign(
		"old-key", "dep-1", f.reg.Issuer, f.reg.ClientID, exp, nonce, "consumer-secret")
	mc[claims.LTI1p1] = map[string]any{
		"user_id":                 "legacy-7",
		"oauth_consumer_key":      "old-key",
		"oauth_consumer_key_sign": sig,
	}
	l, err := f.validator.HandleLaunch(context.Background(), launchForm(state, f.sign(t, mc)))
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if !l.MigrationVerified {
		t.Error("valid migration signature not verified")
	}

	// A broken signature downgrades, never fails, the launch.
	state2, nonce2 := f.login(t)
	mc2 := f.baseClaims(nonce2)
	mc2[claims.LTI1p1] = map[string]any{
		"user_id":                 "legacy-7",
		"oauth_consumer_key":      "old-key",
		"oauth_consumer_key_sign": "garbage",
	}
	l2, err := f.validator.HandleLaunch(context.Background(), launchForm(state2, f.sign(t, mc2)))
	if err != nil {
		t.Fatalf("launch with bad migration sig: %v", err)
	}
	if l2.MigrationVerified {
		t.Error("garbage migration signature verified")
	}
}
