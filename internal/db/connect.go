package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:ltitool.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/ltitool?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS lti_registrations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  uuid TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  issuer TEXT NOT NULL,
  client_id TEXT NOT NULL,
  audience TEXT NOT NULL DEFAULT '',
  auth_url TEXT NOT NULL,
  token_url TEXT NOT NULL,
  keyset_url TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1,
  public_key TEXT NOT NULL DEFAULT '',
  private_key TEXT NOT NULL DEFAULT '',
  lti1p1_secret TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP NOT NULL,
  modified_at TIMESTAMP NOT NULL,
  UNIQUE (issuer, client_id)
);

CREATE TABLE IF NOT EXISTS lti_platform_instances (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  issuer TEXT NOT NULL,
  guid TEXT NOT NULL,
  contact_email TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL DEFAULT '',
  url TEXT NOT NULL DEFAULT '',
  product_family_code TEXT NOT NULL DEFAULT '',
  version TEXT NOT NULL DEFAULT '',
  lti1p1_consumer_key TEXT NOT NULL DEFAULT '',
  UNIQUE (issuer, guid)
);

CREATE TABLE IF NOT EXISTS lti_deployments (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  registration_id INTEGER NOT NULL REFERENCES lti_registrations(id) ON DELETE CASCADE,
  deployment_id TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 0,
  platform_instance_id INTEGER REFERENCES lti_platform_instances(id),
  created_at TIMESTAMP NOT NULL,
  modified_at TIMESTAMP NOT NULL,
  UNIQUE (registration_id, deployment_id)
);

CREATE TABLE IF NOT EXISTS lti_users (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  registration_id INTEGER NOT NULL REFERENCES lti_registrations(id) ON DELETE CASCADE,
  sub TEXT NOT NULL,
  given_name TEXT NOT NULL DEFAULT '',
  family_name TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL DEFAULT '',
  email TEXT NOT NULL DEFAULT '',
  picture_url TEXT NOT NULL DEFAULT '',
  lti1p1_user_id TEXT NOT NULL DEFAULT '',
  auth_user_ref TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP NOT NULL,
  modified_at TIMESTAMP NOT NULL,
  UNIQUE (registration_id, sub)
);

CREATE TABLE IF NOT EXISTS lti_contexts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  deployment_id INTEGER NOT NULL REFERENCES lti_deployments(id) ON DELETE CASCADE,
  id_on_platform TEXT NOT NULL DEFAULT '',
  label TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL DEFAULT '',
  is_course_template INTEGER NOT NULL DEFAULT 0,
  is_course_offering INTEGER NOT NULL DEFAULT 0,
  is_course_section INTEGER NOT NULL DEFAULT 0,
  is_group INTEGER NOT NULL DEFAULT 0,
  memberships_url TEXT NOT NULL DEFAULT '',
  lineitems_url TEXT NOT NULL DEFAULT '',
  can_query_lineitems INTEGER NOT NULL DEFAULT 0,
  can_manage_lineitems INTEGER NOT NULL DEFAULT 0,
  can_publish_scores INTEGER NOT NULL DEFAULT 0,
  can_access_results INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMP NOT NULL,
  modified_at TIMESTAMP NOT NULL,
  UNIQUE (deployment_id, id_on_platform)
);

CREATE TABLE IF NOT EXISTS lti_memberships (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER NOT NULL REFERENCES lti_users(id) ON DELETE CASCADE,
  context_id INTEGER NOT NULL REFERENCES lti_contexts(id) ON DELETE CASCADE,
  is_administrator INTEGER NOT NULL DEFAULT 0,
  is_content_developer INTEGER NOT NULL DEFAULT 0,
  is_instructor INTEGER NOT NULL DEFAULT 0,
  is_learner INTEGER NOT NULL DEFAULT 0,
  is_mentor INTEGER NOT NULL DEFAULT 0,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at TIMESTAMP NOT NULL,
  modified_at TIMESTAMP NOT NULL,
  UNIQUE (user_id, context_id)
);

CREATE TABLE IF NOT EXISTS lti_resource_links (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  context_id INTEGER NOT NULL REFERENCES lti_contexts(id) ON DELETE CASCADE,
  id_on_platform TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  lti1p1_id TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP NOT NULL,
  modified_at TIMESTAMP NOT NULL,
  UNIQUE (context_id, id_on_platform)
);

CREATE TABLE IF NOT EXISTS lti_line_items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  context_id INTEGER NOT NULL REFERENCES lti_contexts(id) ON DELETE CASCADE,
  url TEXT NOT NULL UNIQUE,
  maximum_score REAL NOT NULL DEFAULT 0,
  label TEXT NOT NULL DEFAULT '',
  tag TEXT NOT NULL DEFAULT '',
  resource_id TEXT NOT NULL DEFAULT '',
  resource_link_id INTEGER REFERENCES lti_resource_links(id),
  start_time TIMESTAMP,
  end_time TIMESTAMP
);

CREATE TABLE IF NOT EXISTS lti_keys (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  public_key TEXT NOT NULL,
  private_key TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS replay_state (
  kind TEXT NOT NULL,
  value TEXT NOT NULL,
  expires_at TIMESTAMP NOT NULL,
  PRIMARY KEY (kind, value)
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS lti_registrations (
  id BIGSERIAL PRIMARY KEY,
  uuid TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  issuer TEXT NOT NULL,
  client_id TEXT NOT NULL,
  audience TEXT NOT NULL DEFAULT '',
  auth_url TEXT NOT NULL,
  token_url TEXT NOT NULL,
  keyset_url TEXT NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  public_key TEXT NOT NULL DEFAULT '',
  private_key TEXT NOT NULL DEFAULT '',
  lti1p1_secret TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  modified_at TIMESTAMPTZ NOT NULL,
  UNIQUE (issuer, client_id)
);

CREATE TABLE IF NOT EXISTS lti_platform_instances (
  id BIGSERIAL PRIMARY KEY,
  issuer TEXT NOT NULL,
  guid TEXT NOT NULL,
  contact_email TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL DEFAULT '',
  url TEXT NOT NULL DEFAULT '',
  product_family_code TEXT NOT NULL DEFAULT '',
  version TEXT NOT NULL DEFAULT '',
  lti1p1_consumer_key TEXT NOT NULL DEFAULT '',
  UNIQUE (issuer, guid)
);

CREATE TABLE IF NOT EXISTS lti_deployments (
  id BIGSERIAL PRIMARY KEY,
  registration_id BIGINT NOT NULL REFERENCES lti_registrations(id) ON DELETE CASCADE,
  deployment_id TEXT NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT FALSE,
  platform_instance_id BIGINT REFERENCES lti_platform_instances(id),
  created_at TIMESTAMPTZ NOT NULL,
  modified_at TIMESTAMPTZ NOT NULL,
  UNIQUE (registration_id, deployment_id)
);

CREATE TABLE IF NOT EXISTS lti_users (
  id BIGSERIAL PRIMARY KEY,
  registration_id BIGINT NOT NULL REFERENCES lti_registrations(id) ON DELETE CASCADE,
  sub TEXT NOT NULL,
  given_name TEXT NOT NULL DEFAULT '',
  family_name TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL DEFAULT '',
  email TEXT NOT NULL DEFAULT '',
  picture_url TEXT NOT NULL DEFAULT '',
  lti1p1_user_id TEXT NOT NULL DEFAULT '',
  auth_user_ref TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  modified_at TIMESTAMPTZ NOT NULL,
  UNIQUE (registration_id, sub)
);

CREATE TABLE IF NOT EXISTS lti_contexts (
  id BIGSERIAL PRIMARY KEY,
  deployment_id BIGINT NOT NULL REFERENCES lti_deployments(id) ON DELETE CASCADE,
  id_on_platform TEXT NOT NULL DEFAULT '',
  label TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL DEFAULT '',
  is_course_template BOOLEAN NOT NULL DEFAULT FALSE,
  is_course_offering BOOLEAN NOT NULL DEFAULT FALSE,
  is_course_section BOOLEAN NOT NULL DEFAULT FALSE,
  is_group BOOLEAN NOT NULL DEFAULT FALSE,
  memberships_url TEXT NOT NULL DEFAULT '',
  lineitems_url TEXT NOT NULL DEFAULT '',
  can_query_lineitems BOOLEAN NOT NULL DEFAULT FALSE,
  can_manage_lineitems BOOLEAN NOT NULL DEFAULT FALSE,
  can_publish_scores BOOLEAN NOT NULL DEFAULT FALSE,
  can_access_results BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL,
  modified_at TIMESTAMPTZ NOT NULL,
  UNIQUE (deployment_id, id_on_platform)
);

CREATE TABLE IF NOT EXISTS lti_memberships (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES lti_users(id) ON DELETE CASCADE,
  context_id BIGINT NOT NULL REFERENCES lti_contexts(id) ON DELETE CASCADE,
  is_administrator BOOLEAN NOT NULL DEFAULT FALSE,
  is_content_developer BOOLEAN NOT NULL DEFAULT FALSE,
  is_instructor BOOLEAN NOT NULL DEFAULT FALSE,
  is_learner BOOLEAN NOT NULL DEFAULT FALSE,
  is_mentor BOOLEAN NOT NULL DEFAULT FALSE,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  created_at TIMESTAMPTZ NOT NULL,
  modified_at TIMESTAMPTZ NOT NULL,
  UNIQUE (user_id, context_id)
);

CREATE TABLE IF NOT EXISTS lti_resource_links (
  id BIGSERIAL PRIMARY KEY,
  context_id BIGINT NOT NULL REFERENCES lti_contexts(id) ON DELETE CASCADE,
  id_on_platform TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  lti1p1_id TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  modified_at TIMESTAMPTZ NOT NULL,
  UNIQUE (context_id, id_on_platform)
);

CREATE TABLE IF NOT EXISTS lti_line_items (
  id BIGSERIAL PRIMARY KEY,
  context_id BIGINT NOT NULL REFERENCES lti_contexts(id) ON DELETE CASCADE,
  url TEXT NOT NULL UNIQUE,
  maximum_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  label TEXT NOT NULL DEFAULT '',
  tag TEXT NOT NULL DEFAULT '',
  resource_id TEXT NOT NULL DEFAULT '',
  resource_link_id BIGINT REFERENCES lti_resource_links(id),
  start_time TIMESTAMPTZ,
  end_time TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS lti_keys (
  id BIGSERIAL PRIMARY KEY,
  public_key TEXT NOT NULL,
  private_key TEXT NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS replay_state (
  kind TEXT NOT NULL,
  value TEXT NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (kind, value)
);
`
