package workers

import (
	"context"
	"time"

	"delivery-escrow-system/models"
	"delivery-escrow-system/services"
	"delivery-escrow-system/utils"

	"github.com/jonboulle/clockwork"
)

// Sink receives dispatched events outside the process (webhook, queue...).
type Sink interface {
	Deliver(ctx context.Context, events []models.OutboxEvent) error
}

// OutboxRelay moves committed outbox events to the in-process bus and an optional sink.
type OutboxRelay struct {
	Events    *services.EventLog
	Bus       *services.EventBus
	Sink      Sink // optional
	Clock     clockwork.Clock
	BatchSize int
}

func NewOutboxRelay(events *services.EventLog, bus *services.EventBus, sink Sink, clock clockwork.Clock) *OutboxRelay {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &OutboxRelay{
		Events:    events,
		Bus:       bus,
		Sink:      sink,
		Clock:     clock,
		BatchSize: 100,
	}
}

// DispatchOnce publishes one batch of pending events and marks them dispatched.
// When the sink fails nothing is marked, so the batch is retried next tick.
func (r *OutboxRelay) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := r.Events.PendingDispatch(ctx, r.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	if r.Sink != nil {
		if err := r.Sink.Deliver(ctx, pending); err != nil {
			return 0, err
		}
	}

	ids := make([]uint64, 0, len(pending))
	for _, ev := range pending {
		r.Bus.Publish(ev)
		ids = append(ids, ev.ID)
	}
	if err := r.Events.MarkDispatched(ctx, ids, r.Clock.Now().UTC()); err != nil {
		return 0, err
	}
	return len(pending), nil
}

// RelayOutbox polls the outbox every pollInterval until ctx is done.
func RelayOutbox(ctx context.Context, relay *OutboxRelay, pollInterval time.Duration) {
	utils.Log.Info("Starting outbox relay...")

	ticker := relay.Clock.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			utils.Log.Info("Outbox relay stopped.")
			return
		case <-ticker.Chan():
			for {
				n, err := relay.DispatchOnce(ctx)
				if err != nil {
					utils.Log.Errorf("❌ Error relaying outbox: %v", err)
					break
				}
				if n > 0 {
					utils.Log.Debugf("📤 Relayed %d event(s)", n)
				}
				// drain backlog before waiting for the next tick
				if n < relay.BatchSize {
					break
				}
			}
		}
	}
}
