// internal/lti/resolver/resolver.go
package resolver

import (
	"context"
	"errors"

	"github.com/mind-engage/lti-tool/internal/lti/claims"
	"github.com/mind-engage/lti-tool/internal/lti/store"
)

/*
Registration and deployment resolution.

OIDC initiation identifies the registration either by the UUID embedded in the
login URL or by (issuer, client_id) from the id_token. Deployments resolve
under one of two policies: strict rejects deployment_ids the tool has never
seen, lenient auto-creates them as inactive placeholders so an administrator
can activate them later. Either way an inactive deployment never serves a
launch.
*/

var (
	ErrUnknownRegistration = errors.New("resolver: unknown registration")
	ErrUnknownDeployment   = errors.New("resolver: unknown deployment")
)

// Resolver looks up registrations and deployments for incoming launches.
type Resolver struct {
	Store store.Store

	// AutoCreateDeployments switches to the lenient policy: unknown
	// deployment_ids are created inactive instead of rejected.
	AutoCreateDeployments bool
}

// RegistrationByUUID finds the active registration for a login-initiation URL
// carrying a registration UUID. The issuer from the request must match.
func (r *Resolver) RegistrationByUUID(ctx context.Context, uuid, issuer string) (store.Registration, error) {
	reg, err := r.Store.FindRegistrationByUUID(ctx, uuid, issuer)
	if errors.Is(err, store.ErrRegistrationNotFound) {
		return store.Registration{}, ErrUnknownRegistration
	}
	return reg, err
}

// RegistrationForToken finds the active registration matching a validated
// id_token: the issuer plus any audience entry must identify exactly one
// registration. When the login flow pinned a UUID, the match is constrained
// to it.
func (r *Resolver) RegistrationForToken(ctx context.Context, d claims.Data, uuid string) (store.Registration, error) {
	iss := d.Issuer()
	for _, aud := range d.Audience() {
		reg, err := r.Store.FindRegistrationByClientID(ctx, iss, aud, uuid)
		if err == nil {
			return reg, nil
		}
		if !errors.Is(err, store.ErrRegistrationNotFound) {
			return store.Registration{}, err
		}
	}
	return store.Registration{}, ErrUnknownRegistration
}

// Deployment resolves the launch's deployment_id under the configured policy.
// Unknown ids either fail (strict) or come back as a fresh inactive row
// (lenient). Callers still must check IsActive before serving the launch.
func (r *Resolver) Deployment(ctx context.Context, reg store.Registration, deploymentID string) (store.Deployment, error) {
	dep, err := r.Store.FindDeployment(ctx, reg.ID, deploymentID)
	if err == nil {
		return dep, nil
	}
	if !errors.Is(err, store.ErrDeploymentNotFound) {
		return store.Deployment{}, err
	}
	if !r.AutoCreateDeployments {
		return store.Deployment{}, ErrUnknownDeployment
	}
	return r.Store.CreateDeployment(ctx, store.Deployment{
		RegistrationID: reg.ID,
		DeploymentID:   deploymentID,
		IsActive:       false,
	})
}
