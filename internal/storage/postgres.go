package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/clipguard/pkg/models"
)

// PostgresBackend is a StorageBackend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string, maxConns int32) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// --- Sessions ---

func (p *PostgresBackend) GetSession(ctx context.Context, tokenHash string) (*models.Session, error) {
	var s models.Session
	var role string
	err := p.pool.QueryRow(ctx,
		`SELECT s.token_hash, s.user_id, u.role, s.created_at, s.expires_at, s.revoked_at
		 FROM sessions s JOIN users u ON u.id = s.user_id
		 WHERE s.token_hash = $1`,
		tokenHash,
	).Scan(&s.TokenHash, &s.PrincipalID, &role, &s.CreatedAt, &s.ExpiresAt, &s.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying session: %w", err)
	}
	s.Role = models.Role(role)
	return &s, nil
}

// --- Ownership ---

func (p *PostgresBackend) Owns(ctx context.Context, rt models.ResourceType, principalID, resourceID string) (bool, error) {
	table, ok := OwnerTable(rt)
	if !ok {
		return false, fmt.Errorf("no owner table for resource type %q", rt)
	}
	var owned bool
	// table comes from a fixed whitelist, never from input.
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1 AND user_id = $2)`,
		resourceID, principalID,
	).Scan(&owned)
	if err != nil {
		return false, fmt.Errorf("checking %s ownership: %w", rt, err)
	}
	return owned, nil
}

func (p *PostgresBackend) SettingsVideoID(ctx context.Context, settingsID string) (string, error) {
	var videoID string
	err := p.pool.QueryRow(ctx,
		`SELECT video_id FROM clip_settings WHERE id = $1`, settingsID,
	).Scan(&videoID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("resolving settings parent: %w", err)
	}
	return videoID, nil
}

// --- Audit ---

func (p *PostgresBackend) WriteAuditBatch(ctx context.Context, events []*models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		metaJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			metaJSON = []byte("{}")
		}
		batch.Queue(
			`INSERT INTO audit_events (id, timestamp, principal_id, operation, resource_type, resource_id, success, violation, request_id, metadata, seal)
			 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (id) DO NOTHING`,
			e.ID, e.Timestamp, e.PrincipalID, string(e.Operation), string(e.ResourceType), e.ResourceID,
			e.Success, string(e.Violation), e.RequestID, metaJSON, e.Seal,
		)
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("writing audit batch: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *PostgresBackend) QueryAuditEvents(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, timestamp, principal_id, operation, resource_type, resource_id, success, violation, request_id, metadata, seal FROM audit_events WHERE 1=1`)
	args := []any{}
	n := 1
	add := func(clause string, v any) {
		fmt.Fprintf(&query, clause, n)
		args = append(args, v)
		n++
	}
	if filter.PrincipalID != "" {
		add(` AND principal_id = $%d`, filter.PrincipalID)
	}
	if filter.ResourceType != "" {
		add(` AND resource_type = $%d`, string(filter.ResourceType))
	}
	if filter.Operation != "" {
		add(` AND operation = $%d`, string(filter.Operation))
	}
	if filter.Success != nil {
		add(` AND success = $%d`, *filter.Success)
	}
	if filter.Violation != "" {
		add(` AND violation = $%d`, string(filter.Violation))
	}
	if filter.Since != nil {
		add(` AND timestamp >= $%d`, *filter.Since)
	}
	if filter.Until != nil {
		add(` AND timestamp <= $%d`, *filter.Until)
	}
	query.WriteString(` ORDER BY timestamp DESC, id`)
	if filter.Limit > 0 {
		add(` LIMIT $%d`, filter.Limit)
	}
	if filter.Offset > 0 {
		add(` OFFSET $%d`, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var op, rt, violation string
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.PrincipalID, &op, &rt, &e.ResourceID,
			&e.Success, &violation, &e.RequestID, &metaJSON, &e.Seal); err != nil {
			return nil, err
		}
		e.Operation = models.Operation(op)
		e.ResourceType = models.ResourceType(rt)
		e.Violation = models.ViolationKind(violation)
		e.Timestamp = e.Timestamp.UTC()
		json.Unmarshal(metaJSON, &e.Metadata) //nolint:errcheck
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (p *PostgresBackend) DeleteAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM audit_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("trimming audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}
