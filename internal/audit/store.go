package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	txcontext "custodia/pkg/platform/tx"
)

// Store is the audit outbox. Append joins the caller's unit of work so an
// event and the state change it describes commit atomically; the worker
// drains unpublished events in ID order.
type Store interface {
	Append(ctx context.Context, event *Event) error
	// Unpublished returns up to limit undelivered events, oldest first.
	Unpublished(ctx context.Context, limit int) ([]*Event, error)
	MarkPublished(ctx context.Context, ids []int64, at time.Time) error
	// ListByWallet returns the wallet's full trail in append order.
	ListByWallet(ctx context.Context, walletID domain.WalletID) ([]*Event, error)
}

// --- In-memory outbox ---

// MemoryStore is the outbox used in tests and Kafka-less deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	events []*Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

func (s *MemoryStore) Append(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *event
	stored.ID = s.nextID
	s.nextID++
	s.events = append(s.events, &stored)
	event.ID = stored.ID
	return nil
}

func (s *MemoryStore) Unpublished(ctx context.Context, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	for _, event := range s.events {
		if event.PublishedAt != nil {
			continue
		}
		clone := *event
		out = append(out, &clone)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	for _, event := range s.events {
		if _, ok := wanted[event.ID]; ok && event.PublishedAt == nil {
			published := at
			event.PublishedAt = &published
		}
	}
	return nil
}

func (s *MemoryStore) ListByWallet(ctx context.Context, walletID domain.WalletID) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	for _, event := range s.events {
		if event.WalletID == walletID {
			clone := *event
			out = append(out, &clone)
		}
	}
	return out, nil
}

// --- Postgres outbox ---

// PostgresStore persists the outbox in the audit_outbox table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, event *Event) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	var txIndex sql.NullInt64
	if event.TxIndex != nil {
		txIndex = sql.NullInt64{Int64: int64(*event.TxIndex), Valid: true}
	}
	row := s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO audit_outbox (event_name, wallet_id, actor, tx_index, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, string(event.Name), event.WalletID.String(), event.Actor.String(),
		txIndex, detail, event.OccurredAt)
	if err := row.Scan(&event.ID); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Unpublished(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, event_name, wallet_id, actor, tx_index, detail, occurred_at, published_at
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("load unpublished audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) MarkPublished(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE audit_outbox
		SET published_at = $2
		WHERE id = ANY($1) AND published_at IS NULL
	`, pq.Array(ids), at)
	if err != nil {
		return fmt.Errorf("mark audit events published: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByWallet(ctx context.Context, walletID domain.WalletID) ([]*Event, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, event_name, wallet_id, actor, tx_index, detail, occurred_at, published_at
		FROM audit_outbox
		WHERE wallet_id = $1
		ORDER BY id
	`, walletID.String())
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var out []*Event
	for rows.Next() {
		var (
			event       Event
			name        string
			walletIDStr string
			actorStr    string
			txIndex     sql.NullInt64
			detail      []byte
			publishedAt sql.NullTime
		)
		err := rows.Scan(&event.ID, &name, &walletIDStr, &actorStr,
			&txIndex, &detail, &event.OccurredAt, &publishedAt)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.Name = EventName(name)
		walletID, err := domain.ParseWalletID(walletIDStr)
		if err != nil {
			return nil, fmt.Errorf("%w: stored audit wallet id is invalid", sentinel.ErrInvalidState)
		}
		event.WalletID = walletID
		actor, err := domain.ParseAddress(actorStr)
		if err != nil {
			return nil, fmt.Errorf("%w: stored audit actor is invalid", sentinel.ErrInvalidState)
		}
		event.Actor = actor
		if txIndex.Valid {
			index := uint64(txIndex.Int64)
			event.TxIndex = &index
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &event.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal audit detail: %w", err)
			}
		}
		if publishedAt.Valid {
			at := publishedAt.Time
			event.PublishedAt = &at
		}
		out = append(out, &event)
	}
	return out, rows.Err()
}
