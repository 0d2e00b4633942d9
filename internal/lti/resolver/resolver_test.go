package resolver

import (
	"context"
	"testing"

	"github.com/mind-engage/lti-tool/internal/lti/claims"
	"github.com/mind-engage/lti-tool/internal/lti/store"
)

func seed(t *testing.T) (*store.MemoryStore, store.Registration) {
	t.Helper()
	m := store.NewMemoryStore()
	reg, err := m.SaveRegistration(context.Background(), store.Registration{
		UUID:      "reg-uuid",
		Issuer:    "https://platform.example.edu",
		ClientID:  "client-1",
		AuthURL:   "https://platform.example.edu/auth",
		TokenURL:  "https://platform.example.edu/token",
		KeysetURL: "https://platform.example.edu/jwks",
		IsActive:  true,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return m, reg
}

func TestRegistrationByUUID(t *testing.T) {
	m, reg := seed(t)
	r := &Resolver{Store: m}
	ctx := context.Background()

	got, err := r.RegistrationByUUID(ctx, "reg-uuid", reg.Issuer)
	if err != nil || got.ID != reg.ID {
		t.Fatalf("lookup = %+v, %v", got, err)
	}
	if _, err := r.RegistrationByUUID(ctx, "reg-uuid", "https://other.example.edu"); err != ErrUnknownRegistration {
		t.Fatalf("issuer mismatch error = %v", err)
	}
	if _, err := r.RegistrationByUUID(ctx, "nope", reg.Issuer); err != ErrUnknownRegistration {
		t.Fatalf("unknown uuid error = %v", err)
	}
}

func TestRegistrationForToken(t *testing.T) {
	m, reg := seed(t)
	r := &Resolver{Store: m}
	ctx := context.Background()

	d := claims.Data{"iss": reg.Issuer, "aud": []any{"someone-else", "client-1"}}
	got, err := r.RegistrationForToken(ctx, d, "")
	if err != nil || got.ID != reg.ID {
		t.Fatalf("token lookup = %+v, %v", got, err)
	}

	// Pinned to a different uuid: no match.
	if _, err := r.RegistrationForToken(ctx, d, "other-uuid"); err != ErrUnknownRegistration {
		t.Fatalf("pinned uuid error = %v", err)
	}

	d = claims.Data{"iss": reg.Issuer, "aud": "unknown-client"}
	if _, err := r.RegistrationForToken(ctx, d, ""); err != ErrUnknownRegistration {
		t.Fatalf("unknown audience error = %v", err)
	}
}

func TestDeploymentStrictPolicy(t *testing.T) {
	m, reg := seed(t)
	r := &Resolver{Store: m}
	ctx := context.Background()

	if _, err := r.Deployment(ctx, reg, "dep-1"); err != ErrUnknownDeployment {
		t.Fatalf("strict policy error = %v", err)
	}

	want, _ := m.CreateDeployment(ctx, store.Deployment{RegistrationID: reg.ID, DeploymentID: "dep-1", IsActive: true})
	got, err := r.Deployment(ctx, reg, "dep-1")
	if err != nil || got.ID != want.ID {
		t.Fatalf("known deployment = %+v, %v", got, err)
	}
}

func TestDeploymentLenientPolicy(t *testing.T) {
	m, reg := seed(t)
	r := &Resolver{Store: m, AutoCreateDeployments: true}
	ctx := context.Background()

	dep, err := r.Deployment(ctx, reg, "fresh-dep")
	if err != nil {
		t.Fatalf("lenient resolve: %v", err)
	}
	if dep.IsActive {
		t.Error("auto-created deployment must start inactive")
	}
	if dep.DeploymentID != "fresh-dep" || dep.RegistrationID != reg.ID {
		t.Errorf("auto-created deployment = %+v", dep)
	}

	again, err := r.Deployment(ctx, reg, "fresh-dep")
	if err != nil || again.ID != dep.ID {
		t.Fatalf("second resolve = %+v, %v", again, err)
	}
}
