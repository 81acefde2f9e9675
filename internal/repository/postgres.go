// Package repository provides PostgreSQL-backed persistence for the benefit
// catalog, users and their memberships, API keys, admin accounts and catalog
// change events. Catalog events are announced with LISTEN/NOTIFY so every
// replica can refresh its in-memory catalog without polling.
package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultNotifyChannel  = "catalog_events"
	defaultEventBatchSize = 1000
)

const (
	EntityBrand   = "brand"
	EntityBenefit = "benefit"
)

// CatalogEvent is a change to a brand or benefit, stored in catalog_events
// and replayed to SSE and gRPC watchers.
type CatalogEvent struct {
	EventID    int64           `json:"event_id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

type PostgresRepository struct {
	pool           *pgxpool.Pool
	notifyChannel  string
	eventBatchSize int
}

type Option func(*PostgresRepository)

// WithNotifyChannel overrides the LISTEN/NOTIFY channel name.
func WithNotifyChannel(channel string) Option {
	return func(r *PostgresRepository) {
		r.notifyChannel = normalizeNotifyChannel(channel)
	}
}

// WithEventBatchSize caps how many events ListEventsSince returns per call.
func WithEventBatchSize(size int) Option {
	return func(r *PostgresRepository) {
		if size > 0 {
			r.eventBatchSize = size
		}
	}
}

func NewPostgresRepository(pool *pgxpool.Pool, opts ...Option) *PostgresRepository {
	r := &PostgresRepository{
		pool:           pool,
		notifyChannel:  defaultNotifyChannel,
		eventBatchSize: defaultEventBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PublishCatalogEvent inserts a catalog event and sends a NOTIFY on the
// configured channel within a single transaction.
func (r *PostgresRepository) PublishCatalogEvent(ctx context.Context, event CatalogEvent) (CatalogEvent, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return CatalogEvent{}, fmt.Errorf("begin publish event tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var created CatalogEvent
	if err := tx.QueryRow(ctx, `
		INSERT INTO catalog_events (entity_type, entity_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING event_id, entity_type, entity_id, event_type, payload, created_at
	`,
		event.EntityType,
		event.EntityID,
		event.EventType,
		ensureJSON(event.Payload, "{}"),
	).Scan(
		&created.EventID,
		&created.EntityType,
		&created.EntityID,
		&created.EventType,
		&created.Payload,
		&created.CreatedAt,
	); err != nil {
		return CatalogEvent{}, fmt.Errorf("insert catalog event: %w", err)
	}

	notifyPayload, err := marshalNotifyPayload(created)
	if err != nil {
		return CatalogEvent{}, fmt.Errorf("marshal notify payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, r.notifyChannel, notifyPayload); err != nil {
		return CatalogEvent{}, fmt.Errorf("notify catalog event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return CatalogEvent{}, fmt.Errorf("commit publish event tx: %w", err)
	}

	return created, nil
}

// ListEventsSince returns catalog events with IDs greater than eventID, oldest
// first, at most one batch at a time.
func (r *PostgresRepository) ListEventsSince(ctx context.Context, eventID int64) ([]CatalogEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, entity_type, entity_id, event_type, payload, created_at
		FROM catalog_events
		WHERE event_id > $1
		ORDER BY event_id
		LIMIT $2
	`, eventID, r.eventBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list events since: %w", err)
	}
	defer rows.Close()

	events := make([]CatalogEvent, 0)
	for rows.Next() {
		var event CatalogEvent
		if err := rows.Scan(
			&event.EventID,
			&event.EntityType,
			&event.EntityID,
			&event.EventType,
			&event.Payload,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events rows: %w", err)
	}

	return events, nil
}

// SubscribeCatalogInvalidation returns a channel that receives a signal
// whenever a catalog event notification arrives. The channel is closed when
// ctx ends.
func (r *PostgresRepository) SubscribeCatalogInvalidation(ctx context.Context) (<-chan struct{}, error) {
	invalidations := make(chan struct{}, 1)

	go r.runInvalidationListener(ctx, invalidations)

	return invalidations, nil
}

func (r *PostgresRepository) runInvalidationListener(ctx context.Context, invalidations chan<- struct{}) {
	defer close(invalidations)

	for {
		err := r.listenForInvalidation(ctx, invalidations)
		if err == nil || ctx.Err() != nil {
			return
		}

		retryTimer := time.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			retryTimer.Stop()
			return
		case <-retryTimer.C:
		}
	}
}

func (r *PostgresRepository) listenForInvalidation(ctx context.Context, invalidations chan<- struct{}) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, listenStatement(r.notifyChannel)); err != nil {
		return fmt.Errorf("listen on %q: %w", r.notifyChannel, err)
	}

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for catalog notification: %w", err)
		}

		select {
		case invalidations <- struct{}{}:
		default:
		}
	}
}

func requireAffected(commandTag pgconn.CommandTag, op string) error {
	if commandTag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, pgx.ErrNoRows)
	}
	return nil
}

func normalizeNotifyChannel(channel string) string {
	if trimmed := strings.TrimSpace(channel); trimmed != "" {
		return trimmed
	}
	return defaultNotifyChannel
}

func ensureJSON(input json.RawMessage, fallback string) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage(fallback)
	}
	return input
}

func listenStatement(channel string) string {
	return fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())
}

func generateRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func marshalNotifyPayload(event CatalogEvent) (string, error) {
	serialized, err := json.Marshal(struct {
		EntityType string `json:"entity_type"`
		EntityID   string `json:"entity_id"`
		EventType  string `json:"event_type"`
	}{
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		EventType:  event.EventType,
	})
	if err != nil {
		return "", err
	}
	return string(serialized), nil
}
