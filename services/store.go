package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"delivery-escrow-system/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ctxKey int

const (
	txKey ctxKey = iota
	sequencedKey
)

// Store is the shared persistence handle for every component. It owns the
// global sequencer: no two mutations run concurrently, and a mutation that
// spans components (settlement) commits as one transaction.
type Store struct {
	db    *gorm.DB
	clock clockwork.Clock
	mu    sync.Mutex
}

func NewStore(db *gorm.DB, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{db: db, clock: clock}
}

// Now is the store's notion of time, truncated to what every driver persists.
func (s *Store) Now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

func (s *Store) Clock() clockwork.Clock {
	return s.clock
}

// Serialize runs fn holding the sequencer. Nested calls reuse the held lock.
func (s *Store) Serialize(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(sequencedKey) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(context.WithValue(ctx, sequencedKey, true))
}

// Atomically runs fn in a transaction under the sequencer. Inside an existing
// transaction it opens a savepoint, so the nested unit rolls back alone.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.Serialize(ctx, func(ctx context.Context) error {
		if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
			return tx.Transaction(func(sp *gorm.DB) error {
				return fn(context.WithValue(ctx, txKey, sp))
			})
		}
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(context.WithValue(ctx, txKey, tx))
		})
	})
}

// conn returns the transaction carried by ctx, or the root handle.
func (s *Store) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return tx
	}
	return s.db.WithContext(ctx)
}

// forUpdate locks selected rows until commit (ignored by sqlite).
func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// upsert inserts value or overwrites the existing row with the same key.
func upsert(db *gorm.DB, value interface{}) error {
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(value).Error
}

// emit appends a domain event to the outbox in the caller's transaction.
func (s *Store) emit(ctx context.Context, eventType EventType, requestID *uint64, account string, payload interface{}) error {
	return s.emitBetween(ctx, eventType, requestID, account, "", payload)
}

// emitBetween tags the event with both parties of a request so either one's stream sees it.
func (s *Store) emitBetween(ctx context.Context, eventType EventType, requestID *uint64, account, counterparty string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}
	ev := models.OutboxEvent{
		UID:          uuid.NewString(),
		Type:         string(eventType),
		RequestID:    requestID,
		Account:      account,
		Counterparty: counterparty,
		Payload:      string(body),
		CreatedAt:    s.Now(),
	}
	return s.conn(ctx).Create(&ev).Error
}
