// internal/lti/launch/validator.go
package launch

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mind-engage/lti-tool/internal/lti/claims"
	"github.com/mind-engage/lti-tool/internal/lti/migration"
	"github.com/mind-engage/lti-tool/internal/lti/resolver"
	"github.com/mind-engage/lti-tool/internal/lti/store"
)

/*
OIDC third-party-initiated login and launch validation.

The platform opens the flow by POSTing (or GETting) the login initiation
endpoint with iss/login_hint/target_link_uri. The tool answers with a redirect
to the platform's authorization endpoint carrying a fresh state and nonce. The
platform then form-POSTs a signed id_token back to the launch endpoint, where
the state is consumed, the signature checked against the platform JWKS, and
the nonce enforced single-use.
*/

var (
	ErrMissingParameter = errors.New("launch: missing required parameter")
	ErrUnknownState     = errors.New("launch: unknown or expired state")
	ErrNonceReplayed    = errors.New("launch: nonce already used")
	ErrNonceMismatch    = errors.New("launch: nonce does not match login")
	ErrBadToken         = errors.New("launch: id_token validation failed")
	ErrBadVersion       = errors.New("launch: unsupported LTI version")
	ErrUnsupportedType  = errors.New("launch: unsupported message type")
	ErrNotFound         = errors.New("launch: no launch session")
)

const ltiVersion = "1.3.0"

// Validator drives the OIDC login flow and validates incoming launches.
type Validator struct {
	Store    store.Store
	Resolver *resolver.Resolver
	Cache    Cache

	// LaunchURL is this tool's redirect_uri, where platforms POST id_tokens.
	LaunchURL string

	// HTTPClient fetches platform JWKS documents. Defaults to a 10s-timeout
	// client.
	HTTPClient *http.Client

	// TTLs; zero values pick the defaults below.
	StateTTL  time.Duration // default 1h
	NonceTTL  time.Duration // default 1h
	LaunchTTL time.Duration // default 24h
	JWKSTTL   time.Duration // default 1h

	// Clock (for tests)
	Now func() time.Time
}

func (v *Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v *Validator) httpClient() *http.Client {
	if v.HTTPClient != nil {
		return v.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (v *Validator) stateTTL() time.Duration  { return orTTL(v.StateTTL, time.Hour) }
func (v *Validator) nonceTTL() time.Duration  { return orTTL(v.NonceTTL, time.Hour) }
func (v *Validator) launchTTL() time.Duration { return orTTL(v.LaunchTTL, 24*time.Hour) }
func (v *Validator) jwksTTL() time.Duration   { return orTTL(v.JWKSTTL, time.Hour) }

func orTTL(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// stateRecord binds the minted state to its nonce and, when the login URL
// carried one, the registration it was minted for.
type stateRecord struct {
	Nonce            string `json:"nonce"`
	RegistrationUUID string `json:"registration_uuid,omitempty"`
}

// LoginInitiation handles the OIDC third-party login. Params is the merged
// query/form parameter set; registrationUUID is the path component, "" when
// the tool is mounted on the UUID-less login route. It returns the platform
// authorization URL to redirect the browser to.
func (v *Validator) LoginInitiation(ctx context.Context, params url.Values, registrationUUID string) (string, error) {
	iss := params.Get("iss")
	loginHint := params.Get("login_hint")
	target := params.Get("target_link_uri")
	if iss == "" || loginHint == "" || target == "" {
		return "", fmt.Errorf("%w: iss, login_hint and target_link_uri", ErrMissingParameter)
	}

	var reg store.Registration
	var err error
	switch {
	case registrationUUID != "":
		reg, err = v.Resolver.RegistrationByUUID(ctx, registrationUUID, iss)
	case params.Get("client_id") != "":
		reg, err = v.Store.FindRegistrationByClientID(ctx, iss, params.Get("client_id"), "")
		if errors.Is(err, store.ErrRegistrationNotFound) {
			err = resolver.ErrUnknownRegistration
		}
	default:
		return "", fmt.Errorf("%w: client_id (login route without registration uuid)", ErrMissingParameter)
	}
	if err != nil {
		return "", err
	}

	state := uuid.NewString()
	nonce := uuid.NewString()
	rec, _ := json.Marshal(stateRecord{Nonce: nonce, RegistrationUUID: registrationUUID})
	if err := v.Cache.Put("state", state, rec, v.stateTTL()); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("response_type", "id_token")
	q.Set("response_mode", "form_post")
	q.Set("client_id", reg.ClientID)
	q.Set("redirect_uri", v.LaunchURL)
	q.Set("scope", "openid")
	q.Set("prompt", "none")
	q.Set("state", state)
	q.Set("nonce", nonce)
	q.Set("login_hint", loginHint)
	if hint := params.Get("lti_message_hint"); hint != "" {
		q.Set("lti_message_hint", hint)
	}
	return reg.AuthURL + "?" + q.Encode(), nil
}

// HandleLaunch validates the form-POSTed id_token and returns the launch.
// Deployment activity is NOT enforced here; callers decide how to present an
// inactive deployment to the user.
func (v *Validator) HandleLaunch(ctx context.Context, form url.Values) (*Launch, error) {
	state := form.Get("state")
	idToken := form.Get("id_token")
	if state == "" || idToken == "" {
		return nil, fmt.Errorf("%w: state and id_token", ErrMissingParameter)
	}

	raw, ok, err := v.Cache.Take("state", state)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownState
	}
	var st stateRecord
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, ErrUnknownState
	}

	// A first unverified decode identifies the registration; only its keyset
	// can verify the signature.
	unverified := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, unverified); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	reg, err := v.Resolver.RegistrationForToken(ctx, claims.Data(unverified), st.RegistrationUUID)
	if err != nil {
		return nil, err
	}

	data, err := v.verifyToken(ctx, reg, idToken)
	if err != nil {
		return nil, err
	}

	nonce := data.Nonce()
	if nonce == "" || nonce != st.Nonce {
		return nil, ErrNonceMismatch
	}
	fresh, err := v.Cache.Use("nonce", nonce, v.nonceTTL())
	if err != nil {
		return nil, err
	}
	if !fresh {
		return nil, ErrNonceReplayed
	}

	if data.String(claims.Version) != ltiVersion {
		return nil, ErrBadVersion
	}
	if data.Subject() == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingParameter)
	}
	switch data.MessageType() {
	case claims.MsgResourceLink:
		rl, has := data.ResourceLinkData()
		if !has || rl.ID == "" {
			return nil, fmt.Errorf("%w: resource_link", ErrMissingParameter)
		}
	case claims.MsgDeepLinking, claims.MsgSubmissionReview, claims.MsgDataPrivacy:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, data.MessageType())
	}
	if data.DeploymentID() == "" {
		return nil, fmt.Errorf("%w: deployment_id", ErrMissingParameter)
	}

	dep, err := v.Resolver.Deployment(ctx, reg, data.DeploymentID())
	if err != nil {
		return nil, err
	}

	l := &Launch{
		ID:           uuid.NewString(),
		Registration: reg,
		Deployment:   dep,
		Claims:       data,
	}
	// A broken migration signature never fails the launch; it only means the
	// legacy identifiers cannot be linked.
	if _, has := data.MigrationData(); has && reg.LTI1p1Secret != "" {
		l.MigrationVerified = migration.ValidateMigrationClaim(data, reg.LTI1p1Secret)
	}
	if err := v.SaveLaunch(l); err != nil {
		return nil, err
	}
	return l, nil
}

// SaveLaunch (re)writes the launch session under its ID, e.g. after claim
// sync fills in the local user.
func (v *Validator) SaveLaunch(l *Launch) error {
	env := envelope{
		LaunchID:          l.ID,
		RegistrationUUID:  l.Registration.UUID,
		Issuer:            l.Registration.Issuer,
		DeploymentID:      l.Deployment.DeploymentID,
		User:              l.User,
		MigrationVerified: l.MigrationVerified,
		Claims:            l.Claims,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return v.Cache.Put("launch", l.ID, raw, v.launchTTL())
}

// LoadLaunch reattaches to a cached launch session. Registration and
// deployment are re-read so deactivation mid-session takes effect.
func (v *Validator) LoadLaunch(ctx context.Context, id string) (*Launch, error) {
	raw, ok, err := v.Cache.Get("launch", id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrNotFound
	}
	reg, err := v.Store.FindRegistrationByUUID(ctx, env.RegistrationUUID, env.Issuer)
	if err != nil {
		return nil, err
	}
	dep, err := v.Store.FindDeployment(ctx, reg.ID, env.DeploymentID)
	if err != nil {
		return nil, err
	}
	return &Launch{
		ID:                env.LaunchID,
		Registration:      reg,
		Deployment:        dep,
		Claims:            env.Claims,
		User:              env.User,
		MigrationVerified: env.MigrationVerified,
	}, nil
}

/* ----------------------------- Token checking ------------------------------ */

func (v *Validator) verifyToken(ctx context.Context, reg store.Registration, idToken string) (claims.Data, error) {
	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.platformKey(ctx, reg, kid)
	}
	parsed, err := jwt.Parse(idToken, keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(reg.Issuer),
		jwt.WithAudience(reg.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrBadToken
	}
	return claims.Data(mc), nil
}

// platformKey resolves the verification key by kid from the platform JWKS,
// refetching once on a kid miss since platforms rotate keys.
func (v *Validator) platformKey(ctx context.Context, reg store.Registration, kid string) (*rsa.PublicKey, error) {
	keys, err := v.fetchJWKS(ctx, reg.KeysetURL, false)
	if err != nil {
		return nil, err
	}
	if pub, ok := pickKey(keys, kid); ok {
		return pub, nil
	}
	keys, err = v.fetchJWKS(ctx, reg.KeysetURL, true)
	if err != nil {
		return nil, err
	}
	if pub, ok := pickKey(keys, kid); ok {
		return pub, nil
	}
	return nil, fmt.Errorf("launch: no key %q in platform keyset", kid)
}

type jwksDoc struct {
	Keys []jwkEntry `json:"keys"`
}

type jwkEntry struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (v *Validator) fetchJWKS(ctx context.Context, keysetURL string, skipCache bool) (jwksDoc, error) {
	if !skipCache {
		if raw, ok, err := v.Cache.Get("jwks", keysetURL); err == nil && ok {
			var doc jwksDoc
			if json.Unmarshal(raw, &doc) == nil {
				return doc, nil
			}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, keysetURL, nil)
	if err != nil {
		return jwksDoc{}, err
	}
	resp, err := v.httpClient().Do(req)
	if err != nil {
		return jwksDoc{}, fmt.Errorf("launch: fetch platform keyset: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return jwksDoc{}, fmt.Errorf("launch: platform keyset returned %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return jwksDoc{}, err
	}
	var doc jwksDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return jwksDoc{}, fmt.Errorf("launch: parse platform keyset: %w", err)
	}
	_ = v.Cache.Put("jwks", keysetURL, raw, v.jwksTTL())
	return doc, nil
}

// pickKey selects the key matching kid; with no kid in the token header a
// single-key set is accepted as-is.
func pickKey(doc jwksDoc, kid string) (*rsa.PublicKey, bool) {
	var candidates []jwkEntry
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		if kid == "" || k.Kid == kid {
			candidates = append(candidates, k)
		}
	}
	if kid == "" && len(candidates) != 1 {
		return nil, false
	}
	if len(candidates) == 0 {
		return nil, false
	}
	pub, err := jwkToRSA(candidates[0])
	if err != nil {
		return nil, false
	}
	return pub, true
}

func jwkToRSA(k jwkEntry) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e == 0 {
		return nil, errors.New("launch: jwk has zero exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}
