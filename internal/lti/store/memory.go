// internal/lti/store/memory.go
package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store (dev/tests). Safe for concurrent use.
type MemoryStore struct {
	mu sync.Mutex

	nextID int64

	registrations     map[int64]*Registration
	deployments       map[int64]*Deployment
	platformInstances map[int64]*PlatformInstance
	users             map[int64]*User
	contexts          map[int64]*Context
	memberships       map[int64]*Membership
	resourceLinks     map[int64]*ResourceLink
	lineItems         map[int64]*LineItem
	keys              map[int64]*Key

	// Clock (for tests)
	Now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		registrations:     make(map[int64]*Registration),
		deployments:       make(map[int64]*Deployment),
		platformInstances: make(map[int64]*PlatformInstance),
		users:             make(map[int64]*User),
		contexts:          make(map[int64]*Context),
		memberships:       make(map[int64]*Membership),
		resourceLinks:     make(map[int64]*ResourceLink),
		lineItems:         make(map[int64]*LineItem),
		keys:              make(map[int64]*Key),
	}
}

func (m *MemoryStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

/* ------------------------------ Registrations ------------------------------ */

func (m *MemoryStore) FindRegistrationByUUID(_ context.Context, uuid, issuer string) (Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.registrations {
		if r.IsActive && r.UUID == uuid && r.Issuer == issuer {
			return *r, nil
		}
	}
	return Registration{}, ErrRegistrationNotFound
}

func (m *MemoryStore) FindRegistrationByClientID(_ context.Context, issuer, clientID, uuid string) (Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.registrations {
		if !r.IsActive || r.Issuer != issuer || r.ClientID != clientID {
			continue
		}
		if uuid != "" && r.UUID != uuid {
			continue
		}
		return *r, nil
	}
	return Registration{}, ErrRegistrationNotFound
}

func (m *MemoryStore) SaveRegistration(_ context.Context, reg Registration) (Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, r := range m.registrations {
		if r.Issuer == reg.Issuer && r.ClientID == reg.ClientID {
			id, uuid, created := r.ID, r.UUID, r.CreatedAt
			*r = reg
			r.ID, r.CreatedAt, r.ModifiedAt = id, created, now
			if reg.UUID == "" {
				r.UUID = uuid
			}
			return *r, nil
		}
	}
	reg.ID = m.id()
	reg.CreatedAt, reg.ModifiedAt = now, now
	m.registrations[reg.ID] = &reg
	return reg, nil
}

func (m *MemoryStore) ActiveRegistrationKeys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pems []string
	for _, r := range m.registrations {
		if r.IsActive && r.PublicKey != "" {
			pems = append(pems, r.PublicKey)
		}
	}
	return pems, nil
}

/* ------------------------------- Deployments ------------------------------- */

func (m *MemoryStore) FindDeployment(_ context.Context, registrationID int64, deploymentID string) (Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deployments {
		if d.RegistrationID == registrationID && d.DeploymentID == deploymentID {
			return *d, nil
		}
	}
	return Deployment{}, ErrDeploymentNotFound
}

func (m *MemoryStore) CreateDeployment(_ context.Context, d Deployment) (Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Tolerate a concurrent create of the same (registration, deployment_id).
	for _, ex := range m.deployments {
		if ex.RegistrationID == d.RegistrationID && ex.DeploymentID == d.DeploymentID {
			return *ex, nil
		}
	}
	now := m.now()
	d.ID = m.id()
	d.CreatedAt, d.ModifiedAt = now, now
	m.deployments[d.ID] = &d
	return d, nil
}

func (m *MemoryStore) SetDeploymentActive(_ context.Context, registrationUUID, deploymentID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deployments {
		reg, ok := m.registrations[d.RegistrationID]
		if !ok || reg.UUID != registrationUUID || d.DeploymentID != deploymentID {
			continue
		}
		d.IsActive = active
		d.ModifiedAt = m.now()
		return nil
	}
	return ErrDeploymentNotFound
}

func (m *MemoryStore) AttachPlatformInstance(_ context.Context, deploymentID, platformInstanceID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deployments[deploymentID]
	if !ok {
		return ErrDeploymentNotFound
	}
	pid := platformInstanceID
	d.PlatformInstanceID = &pid
	d.ModifiedAt = m.now()
	return nil
}

/* --------------------------------- Upserts --------------------------------- */

func (m *MemoryStore) UpsertUser(_ context.Context, registrationID int64, sub string, upd UserUpdate) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var u *User
	for _, ex := range m.users {
		if ex.RegistrationID == registrationID && ex.Sub == sub {
			u = ex
			break
		}
	}
	if u == nil {
		u = &User{ID: m.id(), RegistrationID: registrationID, Sub: sub, CreatedAt: now}
		m.users[u.ID] = u
	}
	// Sparse merge: nil fields leave stored values untouched.
	if upd.GivenName != nil {
		u.GivenName = *upd.GivenName
	}
	if upd.FamilyName != nil {
		u.FamilyName = *upd.FamilyName
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.PictureURL != nil {
		u.PictureURL = *upd.PictureURL
	}
	if upd.LTI1p1UserID != nil {
		u.LTI1p1UserID = *upd.LTI1p1UserID
	}
	u.ModifiedAt = now
	return *u, nil
}

func (m *MemoryStore) UpsertContext(_ context.Context, upd ContextUpdate) (Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var c *Context
	for _, ex := range m.contexts {
		if ex.DeploymentID == upd.DeploymentID && ex.IDOnPlatform == upd.IDOnPlatform {
			c = ex
			break
		}
	}
	if c == nil {
		c = &Context{ID: m.id(), DeploymentID: upd.DeploymentID, IDOnPlatform: upd.IDOnPlatform, CreatedAt: now}
		m.contexts[c.ID] = c
	}
	if upd.Label != nil {
		c.Label = *upd.Label
	}
	if upd.Title != nil {
		c.Title = *upd.Title
	}
	if upd.TypeFlags != nil {
		c.IsCourseTemplate = upd.TypeFlags.IsCourseTemplate
		c.IsCourseOffering = upd.TypeFlags.IsCourseOffering
		c.IsCourseSection = upd.TypeFlags.IsCourseSection
		c.IsGroup = upd.TypeFlags.IsGroup
	}
	if upd.MembershipsURL != nil {
		c.MembershipsURL = *upd.MembershipsURL
	}
	if upd.AGS != nil {
		c.LineItemsURL = upd.AGS.LineItemsURL
		c.CanQueryLineItems = upd.AGS.CanQueryLineItems
		c.CanManageLineItems = upd.AGS.CanManageLineItems
		c.CanPublishScores = upd.AGS.CanPublishScores
		c.CanAccessResults = upd.AGS.CanAccessResults
	}
	c.ModifiedAt = now
	return *c, nil
}

func (m *MemoryStore) FindContext(_ context.Context, deploymentID int64, idOnPlatform string) (Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contexts {
		if c.DeploymentID == deploymentID && c.IDOnPlatform == idOnPlatform {
			return *c, nil
		}
	}
	return Context{}, ErrNotFound
}

func (m *MemoryStore) UpsertMembership(_ context.Context, userID, contextID int64, flags MembershipFlags) (Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var mb *Membership
	for _, ex := range m.memberships {
		if ex.UserID == userID && ex.ContextID == contextID {
			mb = ex
			break
		}
	}
	if mb == nil {
		mb = &Membership{ID: m.id(), UserID: userID, ContextID: contextID, CreatedAt: now}
		m.memberships[mb.ID] = mb
	}
	mb.IsAdministrator = flags.IsAdministrator
	mb.IsContentDeveloper = flags.IsContentDeveloper
	mb.IsInstructor = flags.IsInstructor
	mb.IsLearner = flags.IsLearner
	mb.IsMentor = flags.IsMentor
	mb.IsActive = flags.IsActive
	mb.ModifiedAt = now
	return *mb, nil
}

func (m *MemoryStore) FindMembership(_ context.Context, userID, contextID int64) (Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mb := range m.memberships {
		if mb.UserID == userID && mb.ContextID == contextID {
			return *mb, nil
		}
	}
	return Membership{}, ErrNotFound
}

func (m *MemoryStore) UpsertResourceLink(_ context.Context, contextID int64, idOnPlatform, title, description, lti1p1ID string) (ResourceLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var rl *ResourceLink
	for _, ex := range m.resourceLinks {
		if ex.ContextID == contextID && ex.IDOnPlatform == idOnPlatform {
			rl = ex
			break
		}
	}
	if rl == nil {
		rl = &ResourceLink{ID: m.id(), ContextID: contextID, IDOnPlatform: idOnPlatform, CreatedAt: now}
		m.resourceLinks[rl.ID] = rl
	}
	rl.Title = title
	rl.Description = description
	if lti1p1ID != "" {
		rl.LTI1p1ID = lti1p1ID
	}
	rl.ModifiedAt = now
	return *rl, nil
}

func (m *MemoryStore) FindResourceLink(_ context.Context, contextID int64, idOnPlatform string) (ResourceLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rl := range m.resourceLinks {
		if rl.ContextID == contextID && rl.IDOnPlatform == idOnPlatform {
			return *rl, nil
		}
	}
	return ResourceLink{}, ErrNotFound
}

func (m *MemoryStore) UpsertPlatformInstance(_ context.Context, pi PlatformInstance) (PlatformInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.platformInstances {
		if ex.Issuer == pi.Issuer && ex.GUID == pi.GUID {
			id := ex.ID
			*ex = pi
			ex.ID = id
			return *ex, nil
		}
	}
	pi.ID = m.id()
	m.platformInstances[pi.ID] = &pi
	return pi, nil
}

/* -------------------------------- Line items ------------------------------- */

func (m *MemoryStore) UpsertLineItem(_ context.Context, li LineItem) (LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.lineItems {
		if ex.URL == li.URL {
			id := ex.ID
			*ex = li
			ex.ID = id
			return *ex, nil
		}
	}
	li.ID = m.id()
	m.lineItems[li.ID] = &li
	return li, nil
}

func (m *MemoryStore) LineItemURLs(_ context.Context, contextID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var urls []string
	for _, li := range m.lineItems {
		if li.ContextID == contextID {
			urls = append(urls, li.URL)
		}
	}
	return urls, nil
}

/* ---------------------------------- Keys ----------------------------------- */

func (m *MemoryStore) CreateKey(_ context.Context, k Key) (Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k.ID = m.id()
	if k.CreatedAt.IsZero() {
		k.CreatedAt = m.now()
	}
	m.keys[k.ID] = &k
	return k, nil
}

func (m *MemoryStore) LatestActiveKey(_ context.Context) (Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Key
	for _, k := range m.keys {
		if !k.IsActive {
			continue
		}
		if latest == nil || k.CreatedAt.After(latest.CreatedAt) {
			latest = k
		}
	}
	if latest == nil {
		return Key{}, ErrKeyNotFound
	}
	return *latest, nil
}

func (m *MemoryStore) ActiveKeys(_ context.Context) ([]Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Key
	for _, k := range m.keys {
		if k.IsActive {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (m *MemoryStore) DeactivateKeysCreatedBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range m.keys {
		if k.IsActive && k.CreatedAt.Before(cutoff) {
			k.IsActive = false
			n++
		}
	}
	return n, nil
}
