package services

import (
	"context"
	"sync"
	"time"

	"delivery-escrow-system/models"
	"delivery-escrow-system/utils"
)

type EventType string

const (
	EventRequestCreated     EventType = "RequestCreated"
	EventRequestUpdated     EventType = "RequestUpdated"
	EventRequestCancelled   EventType = "RequestCancelled"
	EventRequestAccepted    EventType = "RequestAccepted"
	EventDeliveryConfirmed  EventType = "DeliveryConfirmed"
	EventDeliveryCompleted  EventType = "DeliveryCompleted"
	EventDriverRegistered   EventType = "DriverRegistered"
	EventDriverStatusChange EventType = "DriverStatusChanged"
	EventDriverStatsUpdated EventType = "DriverStatsUpdated"
	EventFaucetClaimed      EventType = "FaucetClaimed"
	EventBadgeMinted        EventType = "BadgeMinted"
)

// --- Event payloads (JSON in OutboxEvent.Payload) ---

type RequestCreatedEvent struct {
	RequestID uint64        `json:"request_id"`
	Requester string        `json:"requester"`
	Amount    models.Amount `json:"amount"`
}

type RequestUpdatedEvent struct {
	RequestID      uint64        `json:"request_id"`
	Amount         models.Amount `json:"amount"`
	PreviousAmount models.Amount `json:"previous_amount"`
}

type RequestCancelledEvent struct {
	RequestID uint64        `json:"request_id"`
	Requester string        `json:"requester"`
	Refunded  models.Amount `json:"refunded"`
}

type RequestAcceptedEvent struct {
	RequestID uint64 `json:"request_id"`
	Driver    string `json:"driver"`
}

type DeliveryConfirmedEvent struct {
	RequestID     uint64 `json:"request_id"`
	Confirmer     string `json:"confirmer"`
	BothConfirmed bool   `json:"both_confirmed"`
}

type DeliveryCompletedEvent struct {
	RequestID uint64        `json:"request_id"`
	Driver    string        `json:"driver"`
	Amount    models.Amount `json:"amount"`
}

type DriverRegisteredEvent struct {
	Driver string `json:"driver"`
}

type DriverStatusChangedEvent struct {
	Driver    string `json:"driver"`
	Available bool   `json:"available"`
}

type DriverStatsUpdatedEvent struct {
	Driver     string `json:"driver"`
	Deliveries uint64 `json:"deliveries"`
	Rating     uint8  `json:"rating"`
}

type FaucetClaimedEvent struct {
	Account string        `json:"account"`
	Amount  models.Amount `json:"amount"`
}

type BadgeMintedEvent struct {
	Driver   string `json:"driver"`
	NewCount uint64 `json:"new_count"`
	TokenID  uint64 `json:"token_id"`
}

// EventLog is the durable read side of the outbox.
type EventLog struct {
	store *Store
}

func NewEventLog(store *Store) *EventLog {
	return &EventLog{store: store}
}

// MaxEventPage caps one ListSince/PendingDispatch page.
const MaxEventPage = 500

// ListSince returns events with ID > afterID in emission order.
func (l *EventLog) ListSince(ctx context.Context, afterID uint64, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 || limit > MaxEventPage {
		limit = MaxEventPage
	}
	var events []models.OutboxEvent
	err := l.store.conn(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// ListForRequest returns every event tagged with the request id.
func (l *EventLog) ListForRequest(ctx context.Context, requestID uint64) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	err := l.store.conn(ctx).
		Where("request_id = ?", requestID).
		Order("id ASC").
		Find(&events).Error
	return events, err
}

// PendingDispatch returns the oldest events not yet handed to the bus.
func (l *EventLog) PendingDispatch(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 || limit > MaxEventPage {
		limit = MaxEventPage
	}
	var events []models.OutboxEvent
	err := l.store.conn(ctx).
		Where("dispatched_at IS NULL").
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (l *EventLog) MarkDispatched(ctx context.Context, ids []uint64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return l.store.conn(ctx).
		Model(&models.OutboxEvent{}).
		Where("id IN ?", ids).
		Update("dispatched_at", at).Error
}

// EventBus fans dispatched events out to in-process subscribers (SSE streams).
type EventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan models.OutboxEvent
	closed bool
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan models.OutboxEvent)}
}

// Subscribe returns a buffered channel and a cancel func that closes it.
func (b *EventBus) Subscribe(buffer int) (<-chan models.OutboxEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan models.OutboxEvent, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close ends every subscription; streams reading from the bus return.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish never blocks: a subscriber with a full buffer misses the event
// and can catch up through EventLog.ListSince.
func (b *EventBus) Publish(ev models.OutboxEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			utils.Log.Warnf("⚠️ subscriber %d lagging, dropped event %d (%s)", id, ev.ID, ev.Type)
		}
	}
}

func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
