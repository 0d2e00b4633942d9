// internal/lti/claims/claims.go
package claims

/*
Typed accessors over a validated LTI launch claim set.

The launch payload stays a flat string-keyed map at the boundary (that is what
the JWT library hands back), but nothing outside this package should dig
through nested maps by URI. Each named claim gets a typed accessor here so the
reconciliation engine and the launch dispatcher work against structs.
*/

// Claim URIs from the LTI 1.3 core, AGS, NRPS and deep-linking specs.
const (
	MessageType        = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	Version            = "https://purl.imsglobal.org/spec/lti/claim/version"
	DeploymentID       = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	TargetLinkURI      = "https://purl.imsglobal.org/spec/lti/claim/target_link_uri"
	Context            = "https://purl.imsglobal.org/spec/lti/claim/context"
	ResourceLink       = "https://purl.imsglobal.org/spec/lti/claim/resource_link"
	Roles              = "https://purl.imsglobal.org/spec/lti/claim/roles"
	ToolPlatform       = "https://purl.imsglobal.org/spec/lti/claim/tool_platform"
	LaunchPresentation = "https://purl.imsglobal.org/spec/lti/claim/launch_presentation"
	Custom             = "https://purl.imsglobal.org/spec/lti/claim/custom"
	LTI1p1             = "https://purl.imsglobal.org/spec/lti/claim/lti1p1"

	AGSEndpoint = "https://purl.imsglobal.org/spec/lti-ags/claim/endpoint"
	NRPS        = "https://purl.imsglobal.org/spec/lti-nrps/claim/namesroleservice"

	DeepLinkingSettings = "https://purl.imsglobal.org/spec/lti-dl/claim/deep_linking_settings"
	ForUser             = "https://purl.imsglobal.org/spec/lti/claim/for_user"
)

// LTI message types dispatched by the launch handler.
const (
	MsgResourceLink     = "LtiResourceLinkRequest"
	MsgDeepLinking      = "LtiDeepLinkingRequest"
	MsgSubmissionReview = "LtiSubmissionReviewRequest"
	MsgDataPrivacy      = "DataPrivacyLaunchRequest"
)

// Data is a validated launch claim set.
type Data map[string]any

// String returns a top-level string claim, or "" when absent or not a string.
func (d Data) String(claim string) string {
	s, _ := d[claim].(string)
	return s
}

// Has reports whether the claim is present at all.
func (d Data) Has(claim string) bool {
	_, ok := d[claim]
	return ok
}

func (d Data) nested(claim string) (map[string]any, bool) {
	m, ok := d[claim].(map[string]any)
	return m, ok
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// Issuer returns the iss claim.
func (d Data) Issuer() string { return d.String("iss") }

// Subject returns the sub claim.
func (d Data) Subject() string { return d.String("sub") }

// Audience returns the aud claim values. A single-string aud becomes a
// one-element slice.
func (d Data) Audience() []string {
	switch v := d["aud"].(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	}
	return nil
}

// Expiry returns exp as integer seconds since the epoch, or 0.
func (d Data) Expiry() int64 {
	switch v := d["exp"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// Nonce returns the nonce claim.
func (d Data) Nonce() string { return d.String("nonce") }

// MessageType returns the LTI message type claim.
func (d Data) MessageType() string { return d.String(MessageType) }

// DeploymentID returns the deployment id claim.
func (d Data) DeploymentID() string { return d.String(DeploymentID) }

// RoleList returns the roles claim as a string slice (nil when absent).
func (d Data) RoleList() []string {
	raw, ok := d[Roles].([]any)
	if !ok {
		if ss, ok := d[Roles].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ContextClaim is the course/group context block.
type ContextClaim struct {
	ID    string
	Label string
	Title string
	Types []string
}

// ContextData returns the context claim, or ok=false when absent.
func (d Data) ContextData() (ContextClaim, bool) {
	m, ok := d.nested(Context)
	if !ok {
		return ContextClaim{}, false
	}
	cc := ContextClaim{ID: str(m, "id"), Label: str(m, "label"), Title: str(m, "title")}
	if raw, ok := m["type"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				cc.Types = append(cc.Types, s)
			}
		}
	} else if ss, ok := m["type"].([]string); ok {
		cc.Types = append(cc.Types, ss...)
	}
	return cc, true
}

// ResourceLinkClaim identifies the platform placement being launched.
type ResourceLinkClaim struct {
	ID          string
	Title       string
	Description string
}

// ResourceLinkData returns the resource link claim, or ok=false when absent.
func (d Data) ResourceLinkData() (ResourceLinkClaim, bool) {
	m, ok := d.nested(ResourceLink)
	if !ok {
		return ResourceLinkClaim{}, false
	}
	return ResourceLinkClaim{
		ID:          str(m, "id"),
		Title:       str(m, "title"),
		Description: str(m, "description"),
	}, true
}

// AGSClaim is the grading service endpoint block.
type AGSClaim struct {
	LineItemsURL string
	LineItemURL  string
	Scopes       []string
}

// AGSData returns the AGS endpoint claim, or ok=false when absent.
func (d Data) AGSData() (AGSClaim, bool) {
	m, ok := d.nested(AGSEndpoint)
	if !ok {
		return AGSClaim{}, false
	}
	ac := AGSClaim{LineItemsURL: str(m, "lineitems"), LineItemURL: str(m, "lineitem")}
	if raw, ok := m["scope"].([]any); ok {
		for _, s := range raw {
			if v, ok := s.(string); ok {
				ac.Scopes = append(ac.Scopes, v)
			}
		}
	} else if ss, ok := m["scope"].([]string); ok {
		ac.Scopes = append(ac.Scopes, ss...)
	}
	return ac, true
}

// HasScope reports whether the AGS claim grants the given scope URI.
func (a AGSClaim) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// NRPSClaim is the membership service block.
type NRPSClaim struct {
	ContextMembershipsURL string
	ServiceVersions       []string
}

// NRPSData returns the NRPS claim, or ok=false when absent.
func (d Data) NRPSData() (NRPSClaim, bool) {
	m, ok := d.nested(NRPS)
	if !ok {
		return NRPSClaim{}, false
	}
	nc := NRPSClaim{ContextMembershipsURL: str(m, "context_memberships_url")}
	if raw, ok := m["service_versions"].([]any); ok {
		for _, s := range raw {
			if v, ok := s.(string); ok {
				nc.ServiceVersions = append(nc.ServiceVersions, v)
			}
		}
	}
	return nc, true
}

// PlatformInstanceClaim is the tool_platform block.
type PlatformInstanceClaim struct {
	GUID              string
	ContactEmail      string
	Description       string
	Name              string
	URL               string
	ProductFamilyCode string
	Version           string
}

// PlatformInstanceData returns the tool_platform claim, or ok=false when absent.
func (d Data) PlatformInstanceData() (PlatformInstanceClaim, bool) {
	m, ok := d.nested(ToolPlatform)
	if !ok {
		return PlatformInstanceClaim{}, false
	}
	return PlatformInstanceClaim{
		GUID:              str(m, "guid"),
		ContactEmail:      str(m, "contact_email"),
		Description:       str(m, "description"),
		Name:              str(m, "name"),
		URL:               str(m, "url"),
		ProductFamilyCode: str(m, "product_family_code"),
		Version:           str(m, "version"),
	}, true
}

// PresentationClaim is the launch_presentation block.
type PresentationClaim struct {
	DocumentTarget string
	ReturnURL      string
	Width          int
	Height         int
}

// PresentationData returns the launch_presentation claim, or ok=false when absent.
func (d Data) PresentationData() (PresentationClaim, bool) {
	m, ok := d.nested(LaunchPresentation)
	if !ok {
		return PresentationClaim{}, false
	}
	pc := PresentationClaim{
		DocumentTarget: str(m, "document_target"),
		ReturnURL:      str(m, "return_url"),
	}
	if w, ok := m["width"].(float64); ok {
		pc.Width = int(w)
	}
	if h, ok := m["height"].(float64); ok {
		pc.Height = int(h)
	}
	return pc, true
}

// DeepLinkingClaim is the deep_linking_settings block of a
// LtiDeepLinkingRequest launch.
type DeepLinkingClaim struct {
	ReturnURL      string
	Data           string
	AcceptTypes    []string
	AcceptMultiple bool
}

// DeepLinkingData returns the deep linking settings, or ok=false when absent.
func (d Data) DeepLinkingData() (DeepLinkingClaim, bool) {
	m, ok := d.nested(DeepLinkingSettings)
	if !ok {
		return DeepLinkingClaim{}, false
	}
	dc := DeepLinkingClaim{
		ReturnURL: str(m, "deep_link_return_url"),
		Data:      str(m, "data"),
	}
	if raw, ok := m["accept_types"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				dc.AcceptTypes = append(dc.AcceptTypes, s)
			}
		}
	} else if ss, ok := m["accept_types"].([]string); ok {
		dc.AcceptTypes = append(dc.AcceptTypes, ss...)
	}
	if b, ok := m["accept_multiple"].(bool); ok {
		dc.AcceptMultiple = b
	}
	return dc, true
}

// CustomClaim returns the named entry of the custom claim map, or "" when the
// map or the entry is absent.
func (d Data) CustomClaim(name string) string {
	m, ok := d.nested(Custom)
	if !ok {
		return ""
	}
	return str(m, name)
}

// MigrationClaim is the optional LTI 1.1 compatibility block.
type MigrationClaim struct {
	UserID              string
	OAuthConsumerKey    string
	OAuthConsumerKeySig string
	ResourceLinkID      string
	ContextID           string
}

// MigrationData returns the lti1p1 claim, or ok=false when absent.
func (d Data) MigrationData() (MigrationClaim, bool) {
	m, ok := d.nested(LTI1p1)
	if !ok {
		return MigrationClaim{}, false
	}
	return MigrationClaim{
		UserID:              str(m, "user_id"),
		OAuthConsumerKey:    str(m, "oauth_consumer_key"),
		OAuthConsumerKeySig: str(m, "oauth_consumer_key_sign"),
		ResourceLinkID:      str(m, "resource_link_id"),
		ContextID:           str(m, "context_id"),
	}, true
}
