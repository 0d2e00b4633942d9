package reconcile

import (
	"context"
	"testing"

	"github.com/mind-engage/lti-tool/internal/lti/claims"
	"github.com/mind-engage/lti-tool/internal/lti/launch"
	"github.com/mind-engage/lti-tool/internal/lti/store"
)

func fixture(t *testing.T) (*store.MemoryStore, *Syncer, store.Registration, store.Deployment) {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemoryStore()
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
	return m, &Syncer{Store: m}, reg, dep
}

func resourceLinkLaunch(reg store.Registration, dep store.Deployment, extra claims.Data) *launch.Launch {
	d := claims.Data{
		"iss":              reg.Issuer,
		"aud":              reg.ClientID,
		"sub":              "sub-1",
		"given_name":       "Ada",
		"family_name":      "Lovelace",
		"name":             "Ada Lovelace",
		"email":            "ada@example.edu",
		claims.MessageType: claims.MsgResourceLink,
		claims.Version:     "1.3.0",
		claims.DeploymentID: dep.DeploymentID,
		claims.Roles: []any{
			"http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor",
			"http://purl.imsglobal.org/vocab/lis/v2/institution/person#Faculty",
		},
		claims.Context: map[string]any{
			"id": "c1", "label": "BIO 101", "title": "Biology",
			"type": []any{"http://purl.imsglobal.org/vocab/lis/v2/course#CourseOffering"},
		},
		claims.ResourceLink: map[string]any{"id": "rl1", "title": "Quiz 3", "description": "weekly quiz"},
	}
	for k, v := range extra {
		d[k] = v
	}
	return &launch.Launch{ID: "launch-1", Registration: reg, Deployment: dep, Claims: d}
}

func TestSyncFromLaunchFullPass(t *testing.T) {
	ctx := context.Background()
	m, s, reg, dep := fixture(t)
	l := resourceLinkLaunch(reg, dep, claims.Data{
		claims.NRPS: map[string]any{"context_memberships_url": "https://p/members"},
		claims.AGSEndpoint: map[string]any{
			"lineitems": "https://p/lineitems",
			"scope": []any{
				"https://purl.imsglobal.org/spec/lti-ags/scope/lineitem",
				"https://purl.imsglobal.org/spec/lti-ags/scope/score",
			},
		},
		claims.ToolPlatform: map[string]any{"guid": "moodle-1", "name": "Campus Moodle", "product_family_code": "moodle"},
	})

	if err := s.SyncFromLaunch(ctx, l); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if l.User.ID == 0 || l.User.Name != "Ada Lovelace" {
		t.Fatalf("launch user = %+v", l.User)
	}

	c, err := m.FindContext(ctx, dep.ID, "c1")
	if err != nil {
		t.Fatalf("context row: %v", err)
	}
	if c.Label != "BIO 101" || !c.IsCourseOffering {
		t.Errorf("context = %+v", c)
	}
	if c.MembershipsURL != "https://p/members" {
		t.Errorf("memberships url = %q", c.MembershipsURL)
	}
	if c.LineItemsURL != "https://p/lineitems" {
		t.Errorf("lineitems url = %q", c.LineItemsURL)
	}
	// lineitem scope implies query capability too.
	if !c.CanManageLineItems || !c.CanQueryLineItems || !c.CanPublishScores || c.CanAccessResults {
		t.Errorf("ags caps = %+v", c)
	}

	dep2, _ := m.FindDeployment(ctx, reg.ID, dep.DeploymentID)
	if dep2.PlatformInstanceID == nil {
		t.Fatal("platform instance not attached to deployment")
	}

	// Idempotent: a second identical sync changes nothing material.
	if err := s.SyncFromLaunch(ctx, l); err != nil {
		t.Fatalf("resync: %v", err)
	}
	c2, _ := m.FindContext(ctx, dep.ID, "c1")
	if c2.ID != c.ID || c2.Label != c.Label {
		t.Errorf("resync changed context: %+v vs %+v", c2, c)
	}
}

func TestMembershipFlagsResetEachLaunch(t *testing.T) {
	ctx := context.Background()
	m, s, reg, dep := fixture(t)

	l := resourceLinkLaunch(reg, dep, nil)
	if err := s.SyncFromLaunch(ctx, l); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	// Same user relaunches as Learner only.
	l2 := resourceLinkLaunch(reg, dep, claims.Data{
		claims.Roles: []any{"Learner"},
	})
	if err := s.SyncFromLaunch(ctx, l2); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	c, _ := m.FindContext(ctx, dep.ID, "c1")
	mb, err := m.FindMembership(ctx, l2.User.ID, c.ID)
	if err != nil {
		t.Fatalf("read membership: %v", err)
	}
	if mb.IsInstructor {
		t.Error("instructor flag survived demotion")
	}
	if !mb.IsLearner {
		t.Error("learner flag missing after demotion")
	}
}

func TestSparseUserMergeAcrossLaunches(t *testing.T) {
	ctx := context.Background()
	_, s, reg, dep := fixture(t)

	l := resourceLinkLaunch(reg, dep, nil)
	if err := s.SyncFromLaunch(ctx, l); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	// Relaunch with no email claim at all: stored email must survive.
	l2 := resourceLinkLaunch(reg, dep, nil)
	delete(l2.Claims, "email")
	if err := s.SyncFromLaunch(ctx, l2); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if l2.User.Email != "ada@example.edu" {
		t.Errorf("absent email claim clobbered stored value: %q", l2.User.Email)
	}
}

func TestResourceLinkFullOverwrite(t *testing.T) {
	ctx := context.Background()
	m, s, reg, dep := fixture(t)

	if err := s.SyncFromLaunch(ctx, resourceLinkLaunch(reg, dep, nil)); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	// Platform dropped title/description.
	l2 := resourceLinkLaunch(reg, dep, claims.Data{
		claims.ResourceLink: map[string]any{"id": "rl1"},
	})
	if err := s.SyncFromLaunch(ctx, l2); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	c, _ := m.FindContext(ctx, dep.ID, "c1")
	rl, err := m.FindResourceLink(ctx, c.ID, "rl1")
	if err != nil {
		t.Fatalf("read resource link: %v", err)
	}
	if rl.Title != "" || rl.Description != "" {
		t.Errorf("resource link not overwritten: %+v", rl)
	}
}

func TestDataPrivacyLaunchSkipsContextSync(t *testing.T) {
	ctx := context.Background()
	m, s, reg, dep := fixture(t)

	l := resourceLinkLaunch(reg, dep, claims.Data{
		claims.MessageType: claims.MsgDataPrivacy,
	})
	if err := s.SyncFromLaunch(ctx, l); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if l.User.ID == 0 {
		t.Fatal("user must still sync on data-privacy launches")
	}
	if _, err := m.FindContext(ctx, dep.ID, "c1"); err != store.ErrNotFound {
		t.Fatalf("context synced on data-privacy launch: %v", err)
	}
}

func TestDeepLinkingLaunchSkipsResourceLink(t *testing.T) {
	ctx := context.Background()
	m, s, reg, dep := fixture(t)

	l := resourceLinkLaunch(reg, dep, claims.Data{
		claims.MessageType: claims.MsgDeepLinking,
	})
	if err := s.SyncFromLaunch(ctx, l); err != nil {
		t.Fatalf("sync: %v", err)
	}
	c, err := m.FindContext(ctx, dep.ID, "c1")
	if err != nil {
		t.Fatalf("context must sync on deep-linking launches: %v", err)
	}
	if _, err := m.FindResourceLink(ctx, c.ID, "rl1"); err != store.ErrNotFound {
		t.Fatalf("resource link synced on deep-linking launch: %v", err)
	}
}

func TestLaunchWithoutContextClaimGetsEmptyContext(t *testing.T) {
	ctx := context.Background()
	m, s, reg, dep := fixture(t)

	l := resourceLinkLaunch(reg, dep, nil)
	delete(l.Claims, claims.Context)
	if err := s.SyncFromLaunch(ctx, l); err != nil {
		t.Fatalf("sync: %v", err)
	}
	c, err := m.FindContext(ctx, dep.ID, "")
	if err != nil {
		t.Fatalf("empty-id context row missing: %v", err)
	}
	if c.Label != "" || c.Title != "" || c.IsCourseOffering {
		t.Errorf("empty context carries claim data: %+v", c)
	}
}

func TestMigrationClaimLinksLegacyIDs(t *testing.T) {
	ctx := context.Background()
	m, s, reg, dep := fixture(t)

	l := resourceLinkLaunch(reg, dep, claims.Data{
		claims.LTI1p1: map[string]any{
			"user_id":          "legacy-user-7",
			"resource_link_id": "legacy-rl-9",
		},
	})
	l.MigrationVerified = true
	if err := s.SyncFromLaunch(ctx, l); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if l.User.LTI1p1UserID != "legacy-user-7" {
		t.Errorf("legacy user id = %q", l.User.LTI1p1UserID)
	}
	c, _ := m.FindContext(ctx, dep.ID, "c1")
	rl, _ := m.FindResourceLink(ctx, c.ID, "rl1")
	if rl.LTI1p1ID != "legacy-rl-9" {
		t.Errorf("legacy resource link id = %q", rl.LTI1p1ID)
	}

	// Unverified claim must not link anything.
	l2 := resourceLinkLaunch(reg, dep, claims.Data{
		"sub": "sub-2",
		claims.LTI1p1: map[string]any{"user_id": "legacy-user-8"},
	})
	if err := s.SyncFromLaunch(ctx, l2); err != nil {
		t.Fatalf("unverified sync: %v", err)
	}
	if l2.User.LTI1p1UserID != "" {
		t.Errorf("unverified claim linked legacy id: %q", l2.User.LTI1p1UserID)
	}
}

func TestRoleFlags(t *testing.T) {
	f := RoleFlags([]string{
		"Instructor", // bare token
		"http://purl.imsglobal.org/vocab/lis/v2/membership#Mentor",
		"http://purl.imsglobal.org/vocab/lis/v2/institution/person#Student", // not a context role
	})
	if !f.IsInstructor || !f.IsMentor {
		t.Errorf("flags = %+v", f)
	}
	if f.IsLearner || f.IsAdministrator || f.IsContentDeveloper {
		t.Errorf("unexpected flags set: %+v", f)
	}
}
