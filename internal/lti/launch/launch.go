// internal/lti/launch/launch.go
package launch

import (
	"net/url"

	"github.com/mind-engage/lti-tool/internal/lti/claims"
	"github.com/mind-engage/lti-tool/internal/lti/store"
)

// Launch is a validated LTI message bound to its resolved registration and
// deployment. It is minted by the Validator and cached under its ID so
// follow-up requests in the same browser session can reattach to it.
type Launch struct {
	ID           string
	Registration store.Registration
	Deployment   store.Deployment
	Claims       claims.Data

	// User is the reconciled local user row, set after claim sync.
	User store.User

	// MigrationVerified is true when the lti1p1 claim carried a signature
	// that checked out against the registration's stored consumer secret.
	MigrationVerified bool
}

func (l *Launch) MessageType() string { return l.Claims.MessageType() }

func (l *Launch) IsResourceLinkLaunch() bool {
	return l.MessageType() == claims.MsgResourceLink
}

func (l *Launch) IsDeepLinkingLaunch() bool {
	return l.MessageType() == claims.MsgDeepLinking
}

func (l *Launch) IsSubmissionReviewLaunch() bool {
	return l.MessageType() == claims.MsgSubmissionReview
}

func (l *Launch) IsDataPrivacyLaunch() bool {
	return l.MessageType() == claims.MsgDataPrivacy
}

// Custom returns the named variable from the custom claim, "" when absent.
func (l *Launch) Custom(name string) string { return l.Claims.CustomClaim(name) }

// TargetLinkURI returns the launch target the platform asked for.
func (l *Launch) TargetLinkURI() string { return l.Claims.String(claims.TargetLinkURI) }

// ReturnURL builds the platform's launch_presentation return_url with the
// given query parameters appended (lti_msg, lti_log, lti_errormsg,
// lti_errorlog per the presentation rules). ok=false when the launch carried
// no usable return URL.
func (l *Launch) ReturnURL(params url.Values) (string, bool) {
	pres, has := l.Claims.PresentationData()
	if !has || pres.ReturnURL == "" {
		return "", false
	}
	u, err := url.Parse(pres.ReturnURL)
	if err != nil {
		return "", false
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), true
}

// ErrorReturnURL is ReturnURL with just an lti_errormsg, the common case for
// bouncing a user back to the platform with an error banner.
func (l *Launch) ErrorReturnURL(msg string) (string, bool) {
	return l.ReturnURL(url.Values{"lti_errormsg": {msg}})
}

// envelope is the cached form of a launch session. Registration and
// deployment are stored by identity and re-resolved on load so a row
// deactivated mid-session is honored.
type envelope struct {
	LaunchID          string      `json:"launch_id"`
	RegistrationUUID  string      `json:"registration_uuid"`
	Issuer            string      `json:"issuer"`
	DeploymentID      string      `json:"deployment_id"`
	User              store.User  `json:"user,omitempty"`
	MigrationVerified bool        `json:"migration_verified,omitempty"`
	Claims            claims.Data `json:"claims"`
}
