// internal/lti/store/sqlstore.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLStore persists tool state in sqlite or postgres. Placeholders use the
// $N form, which both the pgx stdlib driver and modernc sqlite accept.
// Upserts are single ON CONFLICT statements so concurrent launches racing to
// create the same row resolve inside the database.
type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

/* ------------------------------ Registrations ------------------------------ */

const regColumns = `id, uuid, name, issuer, client_id, audience, auth_url, token_url, keyset_url,
	is_active, public_key, private_key, lti1p1_secret, created_at, modified_at`

func scanRegistration(row *sql.Row) (Registration, error) {
	var r Registration
	err := row.Scan(&r.ID, &r.UUID, &r.Name, &r.Issuer, &r.ClientID, &r.Audience,
		&r.AuthURL, &r.TokenURL, &r.KeysetURL, &r.IsActive,
		&r.PublicKey, &r.PrivateKey, &r.LTI1p1Secret, &r.CreatedAt, &r.ModifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Registration{}, ErrRegistrationNotFound
	}
	return r, err
}

func (s *SQLStore) FindRegistrationByUUID(ctx context.Context, uuid, issuer string) (Registration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+regColumns+` FROM lti_registrations
		WHERE uuid=$1 AND issuer=$2 AND is_active`, uuid, issuer)
	return scanRegistration(row)
}

func (s *SQLStore) FindRegistrationByClientID(ctx context.Context, issuer, clientID, uuid string) (Registration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+regColumns+` FROM lti_registrations
		WHERE issuer=$1 AND client_id=$2 AND is_active AND ($3 = '' OR uuid=$3)`,
		issuer, clientID, uuid)
	return scanRegistration(row)
}

func (s *SQLStore) SaveRegistration(ctx context.Context, reg Registration) (Registration, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO lti_registrations
			(uuid, name, issuer, client_id, audience, auth_url, token_url, keyset_url,
			 is_active, public_key, private_key, lti1p1_secret, created_at, modified_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
		ON CONFLICT (issuer, client_id) DO UPDATE SET
			name=EXCLUDED.name,
			audience=EXCLUDED.audience,
			auth_url=EXCLUDED.auth_url,
			token_url=EXCLUDED.token_url,
			keyset_url=EXCLUDED.keyset_url,
			is_active=EXCLUDED.is_active,
			public_key=EXCLUDED.public_key,
			private_key=EXCLUDED.private_key,
			lti1p1_secret=EXCLUDED.lti1p1_secret,
			modified_at=EXCLUDED.modified_at
		RETURNING id, uuid, created_at`,
		reg.UUID, reg.Name, reg.Issuer, reg.ClientID, reg.Audience,
		reg.AuthURL, reg.TokenURL, reg.KeysetURL, reg.IsActive,
		reg.PublicKey, reg.PrivateKey, reg.LTI1p1Secret, now)
	if err := row.Scan(&reg.ID, &reg.UUID, &reg.CreatedAt); err != nil {
		return Registration{}, err
	}
	reg.ModifiedAt = now
	return reg, nil
}

func (s *SQLStore) ActiveRegistrationKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT public_key FROM lti_registrations
		WHERE is_active AND public_key <> ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pems []string
	for rows.Next() {
		var pem string
		if err := rows.Scan(&pem); err != nil {
			return nil, err
		}
		pems = append(pems, pem)
	}
	return pems, rows.Err()
}

/* ------------------------------- Deployments ------------------------------- */

func (s *SQLStore) FindDeployment(ctx context.Context, registrationID int64, deploymentID string) (Deployment, error) {
	var d Deployment
	var pi sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, registration_id, deployment_id, is_active, platform_instance_id, created_at, modified_at
		FROM lti_deployments WHERE registration_id=$1 AND deployment_id=$2`,
		registrationID, deploymentID).
		Scan(&d.ID, &d.RegistrationID, &d.DeploymentID, &d.IsActive, &pi, &d.CreatedAt, &d.ModifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Deployment{}, ErrDeploymentNotFound
	}
	if err != nil {
		return Deployment{}, err
	}
	if pi.Valid {
		d.PlatformInstanceID = &pi.Int64
	}
	return d, nil
}

func (s *SQLStore) CreateDeployment(ctx context.Context, d Deployment) (Deployment, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lti_deployments (registration_id, deployment_id, is_active, created_at, modified_at)
		VALUES ($1,$2,$3,$4,$4)
		ON CONFLICT (registration_id, deployment_id) DO NOTHING`,
		d.RegistrationID, d.DeploymentID, d.IsActive, now)
	if err != nil {
		return Deployment{}, err
	}
	// Read back whichever row won the race.
	return s.FindDeployment(ctx, d.RegistrationID, d.DeploymentID)
}

func (s *SQLStore) SetDeploymentActive(ctx context.Context, registrationUUID, deploymentID string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE lti_deployments SET is_active=$1, modified_at=$2
		WHERE deployment_id=$3
		  AND registration_id IN (SELECT id FROM lti_registrations WHERE uuid=$4)`,
		active, time.Now().UTC(), deploymentID, registrationUUID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrDeploymentNotFound
	}
	return err
}

func (s *SQLStore) AttachPlatformInstance(ctx context.Context, deploymentID, platformInstanceID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE lti_deployments SET platform_instance_id=$1, modified_at=$2 WHERE id=$3`,
		platformInstanceID, time.Now().UTC(), deploymentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrDeploymentNotFound
	}
	return err
}

/* --------------------------------- Upserts --------------------------------- */

func (s *SQLStore) UpsertUser(ctx context.Context, registrationID int64, sub string, upd UserUpdate) (User, error) {
	now := time.Now().UTC()
	u := User{RegistrationID: registrationID, Sub: sub}
	// NULL parameters mean "claim absent": keep the stored value.
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO lti_users
			(registration_id, sub, given_name, family_name, name, email, picture_url, lti1p1_user_id, created_at, modified_at)
		VALUES ($1,$2,COALESCE($3,''),COALESCE($4,''),COALESCE($5,''),COALESCE($6,''),COALESCE($7,''),COALESCE($8,''),$9,$9)
		ON CONFLICT (registration_id, sub) DO UPDATE SET
			given_name=COALESCE($3, lti_users.given_name),
			family_name=COALESCE($4, lti_users.family_name),
			name=COALESCE($5, lti_users.name),
			email=COALESCE($6, lti_users.email),
			picture_url=COALESCE($7, lti_users.picture_url),
			lti1p1_user_id=COALESCE($8, lti_users.lti1p1_user_id),
			modified_at=$9
		RETURNING id, given_name, family_name, name, email, picture_url, lti1p1_user_id, auth_user_ref, created_at, modified_at`,
		registrationID, sub,
		upd.GivenName, upd.FamilyName, upd.Name, upd.Email, upd.PictureURL, upd.LTI1p1UserID, now)
	err := row.Scan(&u.ID, &u.GivenName, &u.FamilyName, &u.Name, &u.Email,
		&u.PictureURL, &u.LTI1p1UserID, &u.AuthUserRef, &u.CreatedAt, &u.ModifiedAt)
	return u, err
}

func (s *SQLStore) UpsertContext(ctx context.Context, upd ContextUpdate) (Context, error) {
	now := time.Now().UTC()
	var tmpl, offering, section, group *bool
	if upd.TypeFlags != nil {
		tmpl, offering = &upd.TypeFlags.IsCourseTemplate, &upd.TypeFlags.IsCourseOffering
		section, group = &upd.TypeFlags.IsCourseSection, &upd.TypeFlags.IsGroup
	}
	var liURL *string
	var canQuery, canManage, canPublish, canResults *bool
	if upd.AGS != nil {
		liURL = &upd.AGS.LineItemsURL
		canQuery, canManage = &upd.AGS.CanQueryLineItems, &upd.AGS.CanManageLineItems
		canPublish, canResults = &upd.AGS.CanPublishScores, &upd.AGS.CanAccessResults
	}
	c := Context{DeploymentID: upd.DeploymentID, IDOnPlatform: upd.IDOnPlatform}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO lti_contexts
			(deployment_id, id_on_platform, label, title,
			 is_course_template, is_course_offering, is_course_section, is_group,
			 memberships_url, lineitems_url,
			 can_query_lineitems, can_manage_lineitems, can_publish_scores, can_access_results,
			 created_at, modified_at)
		VALUES ($1,$2,COALESCE($3,''),COALESCE($4,''),
			COALESCE($5,FALSE),COALESCE($6,FALSE),COALESCE($7,FALSE),COALESCE($8,FALSE),
			COALESCE($9,''),COALESCE($10,''),
			COALESCE($11,FALSE),COALESCE($12,FALSE),COALESCE($13,FALSE),COALESCE($14,FALSE),
			$15,$15)
		ON CONFLICT (deployment_id, id_on_platform) DO UPDATE SET
			label=COALESCE($3, lti_contexts.label),
			title=COALESCE($4, lti_contexts.title),
			is_course_template=COALESCE($5, lti_contexts.is_course_template),
			is_course_offering=COALESCE($6, lti_contexts.is_course_offering),
			is_course_section=COALESCE($7, lti_contexts.is_course_section),
			is_group=COALESCE($8, lti_contexts.is_group),
			memberships_url=COALESCE($9, lti_contexts.memberships_url),
			lineitems_url=COALESCE($10, lti_contexts.lineitems_url),
			can_query_lineitems=COALESCE($11, lti_contexts.can_query_lineitems),
			can_manage_lineitems=COALESCE($12, lti_contexts.can_manage_lineitems),
			can_publish_scores=COALESCE($13, lti_contexts.can_publish_scores),
			can_access_results=COALESCE($14, lti_contexts.can_access_results),
			modified_at=$15
		RETURNING id, label, title,
			is_course_template, is_course_offering, is_course_section, is_group,
			memberships_url, lineitems_url,
			can_query_lineitems, can_manage_lineitems, can_publish_scores, can_access_results,
			created_at, modified_at`,
		upd.DeploymentID, upd.IDOnPlatform, upd.Label, upd.Title,
		tmpl, offering, section, group,
		upd.MembershipsURL, liURL,
		canQuery, canManage, canPublish, canResults, now)
	err := row.Scan(&c.ID, &c.Label, &c.Title,
		&c.IsCourseTemplate, &c.IsCourseOffering, &c.IsCourseSection, &c.IsGroup,
		&c.MembershipsURL, &c.LineItemsURL,
		&c.CanQueryLineItems, &c.CanManageLineItems, &c.CanPublishScores, &c.CanAccessResults,
		&c.CreatedAt, &c.ModifiedAt)
	return c, err
}

func (s *SQLStore) FindContext(ctx context.Context, deploymentID int64, idOnPlatform string) (Context, error) {
	var c Context
	err := s.db.QueryRowContext(ctx, `
		SELECT id, deployment_id, id_on_platform, label, title,
			is_course_template, is_course_offering, is_course_section, is_group,
			memberships_url, lineitems_url,
			can_query_lineitems, can_manage_lineitems, can_publish_scores, can_access_results,
			created_at, modified_at
		FROM lti_contexts WHERE deployment_id=$1 AND id_on_platform=$2`,
		deploymentID, idOnPlatform).
		Scan(&c.ID, &c.DeploymentID, &c.IDOnPlatform, &c.Label, &c.Title,
			&c.IsCourseTemplate, &c.IsCourseOffering, &c.IsCourseSection, &c.IsGroup,
			&c.MembershipsURL, &c.LineItemsURL,
			&c.CanQueryLineItems, &c.CanManageLineItems, &c.CanPublishScores, &c.CanAccessResults,
			&c.CreatedAt, &c.ModifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Context{}, ErrNotFound
	}
	return c, err
}

func (s *SQLStore) UpsertMembership(ctx context.Context, userID, contextID int64, flags MembershipFlags) (Membership, error) {
	now := time.Now().UTC()
	mb := Membership{
		UserID: userID, ContextID: contextID,
		IsAdministrator:    flags.IsAdministrator,
		IsContentDeveloper: flags.IsContentDeveloper,
		IsInstructor:       flags.IsInstructor,
		IsLearner:          flags.IsLearner,
		IsMentor:           flags.IsMentor,
		IsActive:           flags.IsActive,
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO lti_memberships
			(user_id, context_id, is_administrator, is_content_developer, is_instructor,
			 is_learner, is_mentor, is_active, created_at, modified_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
		ON CONFLICT (user_id, context_id) DO UPDATE SET
			is_administrator=EXCLUDED.is_administrator,
			is_content_developer=EXCLUDED.is_content_developer,
			is_instructor=EXCLUDED.is_instructor,
			is_learner=EXCLUDED.is_learner,
			is_mentor=EXCLUDED.is_mentor,
			is_active=EXCLUDED.is_active,
			modified_at=EXCLUDED.modified_at
		RETURNING id, created_at`,
		userID, contextID, flags.IsAdministrator, flags.IsContentDeveloper,
		flags.IsInstructor, flags.IsLearner, flags.IsMentor, flags.IsActive, now)
	if err := row.Scan(&mb.ID, &mb.CreatedAt); err != nil {
		return Membership{}, err
	}
	mb.ModifiedAt = now
	return mb, nil
}

func (s *SQLStore) FindMembership(ctx context.Context, userID, contextID int64) (Membership, error) {
	var mb Membership
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, context_id, is_administrator, is_content_developer,
			is_instructor, is_learner, is_mentor, is_active, created_at, modified_at
		FROM lti_memberships WHERE user_id=$1 AND context_id=$2`,
		userID, contextID).
		Scan(&mb.ID, &mb.UserID, &mb.ContextID, &mb.IsAdministrator, &mb.IsContentDeveloper,
			&mb.IsInstructor, &mb.IsLearner, &mb.IsMentor, &mb.IsActive, &mb.CreatedAt, &mb.ModifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Membership{}, ErrNotFound
	}
	return mb, err
}

func (s *SQLStore) UpsertResourceLink(ctx context.Context, contextID int64, idOnPlatform, title, description, lti1p1ID string) (ResourceLink, error) {
	now := time.Now().UTC()
	rl := ResourceLink{ContextID: contextID, IDOnPlatform: idOnPlatform, Title: title, Description: description}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO lti_resource_links
			(context_id, id_on_platform, title, description, lti1p1_id, created_at, modified_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (context_id, id_on_platform) DO UPDATE SET
			title=EXCLUDED.title,
			description=EXCLUDED.description,
			lti1p1_id=CASE WHEN $5 = '' THEN lti_resource_links.lti1p1_id ELSE $5 END,
			modified_at=EXCLUDED.modified_at
		RETURNING id, lti1p1_id, created_at`,
		contextID, idOnPlatform, title, description, lti1p1ID, now)
	if err := row.Scan(&rl.ID, &rl.LTI1p1ID, &rl.CreatedAt); err != nil {
		return ResourceLink{}, err
	}
	rl.ModifiedAt = now
	return rl, nil
}

func (s *SQLStore) FindResourceLink(ctx context.Context, contextID int64, idOnPlatform string) (ResourceLink, error) {
	var rl ResourceLink
	err := s.db.QueryRowContext(ctx, `
		SELECT id, context_id, id_on_platform, title, description, lti1p1_id, created_at, modified_at
		FROM lti_resource_links WHERE context_id=$1 AND id_on_platform=$2`,
		contextID, idOnPlatform).
		Scan(&rl.ID, &rl.ContextID, &rl.IDOnPlatform, &rl.Title, &rl.Description,
			&rl.LTI1p1ID, &rl.CreatedAt, &rl.ModifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ResourceLink{}, ErrNotFound
	}
	return rl, err
}

func (s *SQLStore) UpsertPlatformInstance(ctx context.Context, pi PlatformInstance) (PlatformInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO lti_platform_instances
			(issuer, guid, contact_email, description, name, url, product_family_code, version, lti1p1_consumer_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (issuer, guid) DO UPDATE SET
			contact_email=EXCLUDED.contact_email,
			description=EXCLUDED.description,
			name=EXCLUDED.name,
			url=EXCLUDED.url,
			product_family_code=EXCLUDED.product_family_code,
			version=EXCLUDED.version,
			lti1p1_consumer_key=EXCLUDED.lti1p1_consumer_key
		RETURNING id`,
		pi.Issuer, pi.GUID, pi.ContactEmail, pi.Description, pi.Name, pi.URL,
		pi.ProductFamilyCode, pi.Version, pi.LTI1p1ConsumerKey)
	if err := row.Scan(&pi.ID); err != nil {
		return PlatformInstance{}, err
	}
	return pi, nil
}

/* -------------------------------- Line items ------------------------------- */

func (s *SQLStore) UpsertLineItem(ctx context.Context, li LineItem) (LineItem, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO lti_line_items
			(context_id, url, maximum_score, label, tag, resource_id, resource_link_id, start_time, end_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (url) DO UPDATE SET
			context_id=EXCLUDED.context_id,
			maximum_score=EXCLUDED.maximum_score,
			label=EXCLUDED.label,
			tag=EXCLUDED.tag,
			resource_id=EXCLUDED.resource_id,
			resource_link_id=EXCLUDED.resource_link_id,
			start_time=EXCLUDED.start_time,
			end_time=EXCLUDED.end_time
		RETURNING id`,
		li.ContextID, li.URL, li.MaximumScore, li.Label, li.Tag, li.ResourceID,
		li.ResourceLinkID, li.StartTime, li.EndTime)
	if err := row.Scan(&li.ID); err != nil {
		return LineItem{}, err
	}
	return li, nil
}

func (s *SQLStore) LineItemURLs(ctx context.Context, contextID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url FROM lti_line_items WHERE context_id=$1`, contextID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

/* ---------------------------------- Keys ----------------------------------- */

func (s *SQLStore) CreateKey(ctx context.Context, k Key) (Key, error) {
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO lti_keys (public_key, private_key, is_active, created_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id`,
		k.PublicKey, k.PrivateKey, k.IsActive, k.CreatedAt)
	if err := row.Scan(&k.ID); err != nil {
		return Key{}, err
	}
	return k, nil
}

func (s *SQLStore) LatestActiveKey(ctx context.Context) (Key, error) {
	var k Key
	err := s.db.QueryRowContext(ctx, `
		SELECT id, public_key, private_key, is_active, created_at FROM lti_keys
		WHERE is_active ORDER BY created_at DESC, id DESC LIMIT 1`).
		Scan(&k.ID, &k.PublicKey, &k.PrivateKey, &k.IsActive, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Key{}, ErrKeyNotFound
	}
	return k, err
}

func (s *SQLStore) ActiveKeys(ctx context.Context) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, public_key, private_key, is_active, created_at FROM lti_keys
		WHERE is_active ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.ID, &k.PublicKey, &k.PrivateKey, &k.IsActive, &k.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeactivateKeysCreatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE lti_keys SET is_active=FALSE WHERE is_active AND created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
