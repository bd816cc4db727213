package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/toolmesh/toolmesh/pkg/errors"
	"github.com/toolmesh/toolmesh/pkg/metrics"
	"github.com/toolmesh/toolmesh/pkg/tracing"
)

// TagList stores a set of service tags as a JSON array in a TEXT column.
type TagList []string

// Value implements driver.Valuer
func (t TagList) Value() (driver.Value, error) {
	if len(t) == 0 {
		return "[]", nil
	}

	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (t *TagList) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	default:
		return fmt.Errorf("cannot scan %T into TagList", value)
	}
}

// ServiceRecord is a persisted service registration
type ServiceRecord struct {
	Name         string    `db:"name" json:"name"`
	BaseURL      string    `db:"base_url" json:"base_url"`
	Tags         TagList   `db:"tags" json:"tags"`
	RegisteredAt time.Time `db:"registered_at" json:"registered_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

const upsertPostgres = `
	INSERT INTO services (name, base_url, tags, registered_at, updated_at)
	VALUES (:name, :base_url, :tags, :registered_at, :updated_at)
	ON CONFLICT (name) DO UPDATE SET
		base_url = EXCLUDED.base_url,
		tags = EXCLUDED.tags,
		updated_at = EXCLUDED.updated_at`

const upsertMySQL = `
	INSERT INTO services (name, base_url, tags, registered_at, updated_at)
	VALUES (:name, :base_url, :tags, :registered_at, :updated_at)
	ON DUPLICATE KEY UPDATE
		base_url = VALUES(base_url),
		tags = VALUES(tags),
		updated_at = VALUES(updated_at)`

// Store persists service registrations so the registry survives restarts
type Store struct {
	db      *DB
	upsert  string
	metrics *metrics.Metrics
}

// NewStore creates a registration store over an established connection
func NewStore(db *DB, m *metrics.Metrics) (*Store, error) {
	if db == nil {
		return nil, errors.NewValidationError("database connection is required")
	}

	var upsert string
	switch db.config.Driver {
	case "postgres":
		upsert = upsertPostgres
	case "mysql":
		upsert = upsertMySQL
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unsupported database driver: %s", db.config.Driver))
	}

	return &Store{
		db:      db,
		upsert:  upsert,
		metrics: m,
	}, nil
}

// SaveService inserts or updates a service registration
func (s *Store) SaveService(ctx context.Context, name, baseURL string, tags []string) (err error) {
	if name == "" {
		return errors.NewValidationError("service name is required")
	}
	if baseURL == "" {
		return errors.NewValidationError("service base URL is required")
	}

	ctx, span := tracing.StartDatabaseSpan(ctx, "upsert", "services")
	defer func() { tracing.EndSpan(span, err) }()

	now := time.Now().UTC()
	record := &ServiceRecord{
		Name:         name,
		BaseURL:      baseURL,
		Tags:         TagList(tags),
		RegisteredAt: now,
		UpdatedAt:    now,
	}

	start := time.Now()
	_, err = s.db.NamedExecContext(ctx, s.upsert, record)
	s.metrics.RecordDatabaseQuery("upsert", "services", time.Since(start))
	if err != nil {
		return errors.NewInternalError("failed to save service registration").WithCause(err)
	}

	return nil
}

// DeleteService removes a persisted registration. Deleting an unknown
// service is not an error.
func (s *Store) DeleteService(ctx context.Context, name string) (err error) {
	if name == "" {
		return errors.NewValidationError("service name is required")
	}

	ctx, span := tracing.StartDatabaseSpan(ctx, "delete", "services")
	defer func() { tracing.EndSpan(span, err) }()

	query := s.db.Rebind(`DELETE FROM services WHERE name = ?`)

	start := time.Now()
	_, err = s.db.ExecContext(ctx, query, name)
	s.metrics.RecordDatabaseQuery("delete", "services", time.Since(start))
	if err != nil {
		return errors.NewInternalError("failed to delete service registration").WithCause(err)
	}

	return nil
}

// GetService fetches a single persisted registration by name
func (s *Store) GetService(ctx context.Context, name string) (record *ServiceRecord, err error) {
	if name == "" {
		return nil, errors.NewValidationError("service name is required")
	}

	ctx, span := tracing.StartDatabaseSpan(ctx, "select", "services")
	defer func() { tracing.EndSpan(span, err) }()

	query := s.db.Rebind(`
		SELECT name, base_url, tags, registered_at, updated_at
		FROM services
		WHERE name = ?`)

	record = &ServiceRecord{}
	start := time.Now()
	err = s.db.GetContext(ctx, record, query, name)
	s.metrics.RecordDatabaseQuery("select", "services", time.Since(start))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("service registration")
		}
		return nil, errors.NewInternalError("failed to get service registration").WithCause(err)
	}

	return record, nil
}

// ListServices returns all persisted registrations ordered by name
func (s *Store) ListServices(ctx context.Context) (records []*ServiceRecord, err error) {
	ctx, span := tracing.StartDatabaseSpan(ctx, "select", "services")
	defer func() { tracing.EndSpan(span, err) }()

	query := `
		SELECT name, base_url, tags, registered_at, updated_at
		FROM services
		ORDER BY name`

	records = []*ServiceRecord{}
	start := time.Now()
	err = s.db.SelectContext(ctx, &records, query)
	s.metrics.RecordDatabaseQuery("select", "services", time.Since(start))
	if err != nil {
		return nil, errors.NewInternalError("failed to list service registrations").WithCause(err)
	}

	return records, nil
}

// CollectPoolMetrics publishes current connection pool gauges
func (s *Store) CollectPoolMetrics() {
	stats := s.db.Stats()
	s.metrics.UpdateDatabaseConnections(stats.OpenConnections, stats.Idle, stats.MaxOpenConnections)
}
