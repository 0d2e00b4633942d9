// internal/lti/store/store.go
package store

import (
	"context"
	"errors"
	"time"
)

// Not-found sentinels. SQL and memory implementations both return these so
// callers can branch without knowing the backend.
var (
	ErrRegistrationNotFound = errors.New("store: registration not found")
	ErrDeploymentNotFound   = errors.New("store: deployment not found")
	ErrKeyNotFound          = errors.New("store: key not found")
	ErrNotFound             = errors.New("store: not found")
)

// Store persists the tool's mirror of platform state. Implementations must
// enforce the uniqueness constraints documented on the model types and make
// each upsert safe under concurrent launches racing to create the same row.
type Store interface {
	// Registrations. Lookups return only active registrations.
	FindRegistrationByUUID(ctx context.Context, uuid, issuer string) (Registration, error)
	// FindRegistrationByClientID constrains by uuid additionally when uuid != "".
	FindRegistrationByClientID(ctx context.Context, issuer, clientID, uuid string) (Registration, error)
	SaveRegistration(ctx context.Context, reg Registration) (Registration, error)
	// ActiveRegistrationKeys returns the static public PEMs of active
	// registrations, for JWKS publication.
	ActiveRegistrationKeys(ctx context.Context) ([]string, error)

	// Deployments.
	FindDeployment(ctx context.Context, registrationID int64, deploymentID string) (Deployment, error)
	CreateDeployment(ctx context.Context, d Deployment) (Deployment, error)
	SetDeploymentActive(ctx context.Context, registrationUUID, deploymentID string, active bool) error
	AttachPlatformInstance(ctx context.Context, deploymentID, platformInstanceID int64) error

	// Reconciliation upserts.
	UpsertUser(ctx context.Context, registrationID int64, sub string, upd UserUpdate) (User, error)
	UpsertContext(ctx context.Context, upd ContextUpdate) (Context, error)
	FindContext(ctx context.Context, deploymentID int64, idOnPlatform string) (Context, error)
	UpsertMembership(ctx context.Context, userID, contextID int64, flags MembershipFlags) (Membership, error)
	FindMembership(ctx context.Context, userID, contextID int64) (Membership, error)
	UpsertResourceLink(ctx context.Context, contextID int64, idOnPlatform, title, description, lti1p1ID string) (ResourceLink, error)
	FindResourceLink(ctx context.Context, contextID int64, idOnPlatform string) (ResourceLink, error)
	UpsertPlatformInstance(ctx context.Context, pi PlatformInstance) (PlatformInstance, error)

	// Line items (AGS sync).
	UpsertLineItem(ctx context.Context, li LineItem) (LineItem, error)
	LineItemURLs(ctx context.Context, contextID int64) ([]string, error)

	// Shared signing key pool.
	CreateKey(ctx context.Context, k Key) (Key, error)
	LatestActiveKey(ctx context.Context) (Key, error)
	ActiveKeys(ctx context.Context) ([]Key, error)
	DeactivateKeysCreatedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
