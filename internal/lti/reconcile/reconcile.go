// internal/lti/reconcile/reconcile.go
package reconcile

import (
	"context"
	"fmt"

	"github.com/mind-engage/lti-tool/internal/lti/launch"
	"github.com/mind-engage/lti-tool/internal/lti/store"
	"github.com/mind-engage/lti-tool/internal/lti/vocab"
)

/*
Claim reconciliation.

Every validated launch mirrors its claims into local rows so the tool can
operate between launches. The merge rules differ per entity and they matter:

  - user:           sparse merge; an absent claim leaves the stored field alone
  - context:        label/title/type flags only when the context claim exists;
                    service URLs and capabilities only when their claims exist
  - membership:     the five role flags are recomputed wholesale every launch,
                    so roles dropped on the platform drop here too
  - resource link:  full overwrite; absent title/description become ""
  - platform inst.: full overwrite by (issuer, guid), attached to the
                    deployment last

Data-privacy launches act on behalf of another user and skip context,
membership and resource link sync. Deep-linking launches have no placement yet
and skip resource link sync.
*/

// Syncer applies launch claims to the store.
type Syncer struct {
	Store store.Store
}

// SyncFromLaunch reconciles all entities for the launch and fills in l.User.
// Each upsert is idempotent; re-running the same launch changes nothing.
func (s *Syncer) SyncFromLaunch(ctx context.Context, l *launch.Launch) error {
	user, err := s.syncUser(ctx, l)
	if err != nil {
		return fmt.Errorf("reconcile: user: %w", err)
	}
	l.User = user

	if !l.IsDataPrivacyLaunch() {
		lctx, err := s.syncContext(ctx, l)
		if err != nil {
			return fmt.Errorf("reconcile: context: %w", err)
		}
		if _, err := s.syncMembership(ctx, l, user, lctx); err != nil {
			return fmt.Errorf("reconcile: membership: %w", err)
		}
		if !l.IsDeepLinkingLaunch() {
			if err := s.syncResourceLink(ctx, l, lctx); err != nil {
				return fmt.Errorf("reconcile: resource link: %w", err)
			}
		}
	}

	if err := s.syncPlatformInstance(ctx, l); err != nil {
		return fmt.Errorf("reconcile: platform instance: %w", err)
	}
	return nil
}

func (s *Syncer) syncUser(ctx context.Context, l *launch.Launch) (store.User, error) {
	d := l.Claims
	var upd store.UserUpdate
	if d.Has("given_name") {
		upd.GivenName = ptr(d.String("given_name"))
	}
	if d.Has("family_name") {
		upd.FamilyName = ptr(d.String("family_name"))
	}
	if d.Has("name") {
		upd.Name = ptr(d.String("name"))
	}
	if d.Has("email") {
		upd.Email = ptr(d.String("email"))
	}
	if d.Has("picture") {
		upd.PictureURL = ptr(d.String("picture"))
	}
	if l.MigrationVerified {
		if mc, ok := d.MigrationData(); ok && mc.UserID != "" {
			upd.LTI1p1UserID = ptr(mc.UserID)
		}
	}
	return s.Store.UpsertUser(ctx, l.Registration.ID, d.Subject(), upd)
}

func (s *Syncer) syncContext(ctx context.Context, l *launch.Launch) (store.Context, error) {
	d := l.Claims
	upd := store.ContextUpdate{DeploymentID: l.Deployment.ID}

	if cc, ok := d.ContextData(); ok {
		upd.IDOnPlatform = cc.ID
		upd.Label = ptr(cc.Label)
		upd.Title = ptr(cc.Title)
		flags := typeFlags(cc.Types)
		upd.TypeFlags = &flags
	}
	// Launches without a context claim still get a context row: the empty
	// id_on_platform groups them under the deployment.

	if nc, ok := d.NRPSData(); ok {
		upd.MembershipsURL = ptr(nc.ContextMembershipsURL)
	}
	if ac, ok := d.AGSData(); ok {
		upd.AGS = &store.AGSCapabilities{
			LineItemsURL:       ac.LineItemsURL,
			CanQueryLineItems:  ac.HasScope(vocab.ScopeQueryLineItems) || ac.HasScope(vocab.ScopeManageLineItems),
			CanManageLineItems: ac.HasScope(vocab.ScopeManageLineItems),
			CanPublishScores:   ac.HasScope(vocab.ScopePublishScores),
			CanAccessResults:   ac.HasScope(vocab.ScopeAccessResults),
		}
	}
	return s.Store.UpsertContext(ctx, upd)
}

func (s *Syncer) syncMembership(ctx context.Context, l *launch.Launch, user store.User, lctx store.Context) (store.Membership, error) {
	flags := RoleFlags(l.Claims.RoleList())
	flags.IsActive = true
	return s.Store.UpsertMembership(ctx, user.ID, lctx.ID, flags)
}

func (s *Syncer) syncResourceLink(ctx context.Context, l *launch.Launch, lctx store.Context) error {
	rl, ok := l.Claims.ResourceLinkData()
	if !ok || rl.ID == "" {
		return nil
	}
	lti1p1ID := ""
	if l.MigrationVerified {
		if mc, ok := l.Claims.MigrationData(); ok {
			lti1p1ID = mc.ResourceLinkID
		}
	}
	_, err := s.Store.UpsertResourceLink(ctx, lctx.ID, rl.ID, rl.Title, rl.Description, lti1p1ID)
	return err
}

func (s *Syncer) syncPlatformInstance(ctx context.Context, l *launch.Launch) error {
	pc, ok := l.Claims.PlatformInstanceData()
	if !ok || pc.GUID == "" {
		return nil
	}
	pi := store.PlatformInstance{
		Issuer:            l.Registration.Issuer,
		GUID:              pc.GUID,
		ContactEmail:      pc.ContactEmail,
		Description:       pc.Description,
		Name:              pc.Name,
		URL:               pc.URL,
		ProductFamilyCode: pc.ProductFamilyCode,
		Version:           pc.Version,
	}
	if l.MigrationVerified {
		if mc, ok := l.Claims.MigrationData(); ok {
			pi.LTI1p1ConsumerKey = mc.OAuthConsumerKey
		}
	}
	saved, err := s.Store.UpsertPlatformInstance(ctx, pi)
	if err != nil {
		return err
	}
	return s.Store.AttachPlatformInstance(ctx, l.Deployment.ID, saved.ID)
}

// RoleFlags folds the roles claim into the five stored flags. Bare tokens are
// normalized to full context-role URIs first; only context roles set flags.
func RoleFlags(roles []string) store.MembershipFlags {
	var f store.MembershipFlags
	for _, r := range roles {
		switch vocab.ContextRole(vocab.NormalizeRole(r)) {
		case vocab.RoleAdministrator:
			f.IsAdministrator = true
		case vocab.RoleContentDeveloper:
			f.IsContentDeveloper = true
		case vocab.RoleInstructor:
			f.IsInstructor = true
		case vocab.RoleLearner:
			f.IsLearner = true
		case vocab.RoleMentor:
			f.IsMentor = true
		}
	}
	return f
}

func typeFlags(types []string) store.ContextTypeFlags {
	var f store.ContextTypeFlags
	for _, t := range types {
		switch vocab.ContextType(t).ShortName() {
		case "CourseTemplate":
			f.IsCourseTemplate = true
		case "CourseOffering":
			f.IsCourseOffering = true
		case "CourseSection":
			f.IsCourseSection = true
		case "Group":
			f.IsGroup = true
		}
	}
	return f
}

func ptr(s string) *string { return &s }
