// internal/lti/store/models.go
package store

import "time"

// Registration is the trust relationship between this tool and one platform
// issuer. (issuer, client_id) is unique among active registrations; the UUID
// is the correlation key used when OIDC initiation omits client_id.
type Registration struct {
	ID       int64
	UUID     string
	Name     string
	Issuer   string
	ClientID string
	// Audience overrides the audience used at the platform token endpoint,
	// for platforms that want something other than the token URL.
	Audience  string
	AuthURL   string
	TokenURL  string
	KeysetURL string
	IsActive  bool
	// Static keypair for platforms that cannot fetch the tool JWKS URL.
	PublicKey  string // PEM
	PrivateKey string // PEM
	// Shared secret from a migrated LTI 1.1 consumer, when one exists.
	LTI1p1Secret string
	CreatedAt    time.Time
	ModifiedAt   time.Time
}

// HasKey reports whether the registration carries its own keypair.
func (r Registration) HasKey() bool { return r.PublicKey != "" && r.PrivateKey != "" }

// Deployment is one installation of the tool within a platform tenant.
// (registration, deployment_id) is unique. Auto-created deployments start
// inactive and require administrative activation.
type Deployment struct {
	ID                 int64
	RegistrationID     int64
	DeploymentID       string
	IsActive           bool
	PlatformInstanceID *int64
	CreatedAt          time.Time
	ModifiedAt         time.Time
}

// PlatformInstance mirrors the tool_platform claim. (issuer, guid) is unique.
type PlatformInstance struct {
	ID                int64
	Issuer            string
	GUID              string
	ContactEmail      string
	Description       string
	Name              string
	URL               string
	ProductFamilyCode string
	Version           string
	// Consumer key of the LTI 1.1 instance this platform migrated from.
	LTI1p1ConsumerKey string
}

// User is a platform user scoped to one registration. (registration, sub) is
// unique.
type User struct {
	ID             int64
	RegistrationID int64
	Sub            string
	GivenName      string
	FamilyName     string
	Name           string
	Email          string
	PictureURL     string
	// user_id from the lti1p1 migration claim, when verified.
	LTI1p1UserID string
	// Reference to an externally authenticated account, when linked.
	AuthUserRef string
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// UserUpdate carries user identity claims for a sparse-merge upsert. Nil
// fields were absent from the claim set and leave stored values untouched.
type UserUpdate struct {
	GivenName    *string
	FamilyName   *string
	Name         *string
	Email        *string
	PictureURL   *string
	LTI1p1UserID *string
}

// Context is a course/group context under a deployment.
// (deployment, id_on_platform) is unique; id_on_platform is "" for launches
// carrying no context claim.
type Context struct {
	ID           int64
	DeploymentID int64
	IDOnPlatform string
	Label        string
	Title        string

	IsCourseTemplate bool
	IsCourseOffering bool
	IsCourseSection  bool
	IsGroup          bool

	MembershipsURL string

	LineItemsURL       string
	CanQueryLineItems  bool
	CanManageLineItems bool
	CanPublishScores   bool
	CanAccessResults   bool

	CreatedAt  time.Time
	ModifiedAt time.Time
}

// ContextTypeFlags are recomputed wholesale from the type claim on each sync.
type ContextTypeFlags struct {
	IsCourseTemplate bool
	IsCourseOffering bool
	IsCourseSection  bool
	IsGroup          bool
}

// AGSCapabilities are derived from the grading service claim.
type AGSCapabilities struct {
	LineItemsURL       string
	CanQueryLineItems  bool
	CanManageLineItems bool
	CanPublishScores   bool
	CanAccessResults   bool
}

// ContextUpdate carries context claims for an upsert. Label/Title/TypeFlags
// are nil when the launch had no context claim (the empty-id context case).
// MembershipsURL and AGS are written only when their claims were present.
type ContextUpdate struct {
	DeploymentID   int64
	IDOnPlatform   string
	Label          *string
	Title          *string
	TypeFlags      *ContextTypeFlags
	MembershipsURL *string
	AGS            *AGSCapabilities
}

// Membership is a user's role set within a context. (user, context) is
// unique; the five flags are overwritten wholesale on each sync.
type Membership struct {
	ID        int64
	UserID    int64
	ContextID int64

	IsAdministrator    bool
	IsContentDeveloper bool
	IsInstructor       bool
	IsLearner          bool
	IsMentor           bool
	IsActive           bool

	CreatedAt  time.Time
	ModifiedAt time.Time
}

// MembershipFlags is the wholesale flag set applied on each sync.
type MembershipFlags struct {
	IsAdministrator    bool
	IsContentDeveloper bool
	IsInstructor       bool
	IsLearner          bool
	IsMentor           bool
	IsActive           bool
}

// ResourceLink is a placement of the tool inside a context.
// (context, id_on_platform) is unique. Sync is a full overwrite.
type ResourceLink struct {
	ID           int64
	ContextID    int64
	IDOnPlatform string
	Title        string
	Description  string
	// resource_link_id from the lti1p1 migration claim, when verified.
	LTI1p1ID   string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// LineItem mirrors an AGS line item, upserted by platform URL.
type LineItem struct {
	ID             int64
	ContextID      int64
	URL            string
	MaximumScore   float64
	Label          string
	Tag            string
	ResourceID     string
	ResourceLinkID *int64
	StartTime      *time.Time
	EndTime        *time.Time
}

// Key is a PEM keypair in the shared signing pool. The newest active key is
// the fallback signing identity for registrations without their own keypair.
// Deactivated keys are excluded from the published JWKS but never deleted.
type Key struct {
	ID         int64
	PublicKey  string // PEM
	PrivateKey string // PEM
	IsActive   bool
	CreatedAt  time.Time
}
