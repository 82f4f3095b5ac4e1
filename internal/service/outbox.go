package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/runclub-portal/internal/model"
)

// OutboxStore is the relay's view of the outbox table.
type OutboxStore interface {
	Pending(ctx context.Context, limit, maxAttempts int) ([]model.OutboxMessage, error)
	MarkPublished(ctx context.Context, id uint64) error
	MarkFailed(ctx context.Context, id uint64, cause string) error
}

// Publisher sends a message body to a topic.  *queue.Publisher implements
// it.
type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte) error
}

// OutboxRelay moves outbox rows to the broker.
type OutboxRelay struct {
	store       OutboxStore
	pub         Publisher
	log         *zerolog.Logger
	interval    time.Duration
	batch       int
	maxAttempts int
}

func NewOutboxRelay(store OutboxStore, pub Publisher, interval time.Duration, log *zerolog.Logger) *OutboxRelay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &OutboxRelay{store: store, pub: pub, log: log, interval: interval, batch: 50, maxAttempts: 10}
}

// RelayOnce publishes one batch and returns how many messages went out.
// It stops at the first publish failure so ordering is kept.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	msgs, err := r.store.Pending(ctx, r.batch, r.maxAttempts)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, m := range msgs {
		if err := r.pub.Publish(ctx, m.Topic, m.Payload); err != nil {
			if merr := r.store.MarkFailed(ctx, m.ID, err.Error()); merr != nil {
				r.log.Error().Err(merr).Uint64("outbox_id", m.ID).Msg("mark outbox failure")
			}
			return sent, err
		}
		if err := r.store.MarkPublished(ctx, m.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Run relays until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		n, err := r.RelayOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.log.Warn().Err(err).Int("sent", n).Msg("outbox relay")
		} else if n > 0 {
			r.log.Debug().Int("sent", n).Msg("outbox relayed")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// HoldExpirer releases pending bookings whose hold ended.
type HoldExpirer interface {
	ExpireHolds(ctx context.Context, now time.Time) (int, error)
}

// HoldSweeper periodically expires stale holds.
type HoldSweeper struct {
	store    HoldExpirer
	interval time.Duration
	log      *zerolog.Logger
	now      func() time.Time
}

func NewHoldSweeper(store HoldExpirer, interval time.Duration, log *zerolog.Logger) *HoldSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &HoldSweeper{store: store, interval: interval, log: log, now: time.Now}
}

// SweepOnce expires the holds that ended before now.
func (s *HoldSweeper) SweepOnce(ctx context.Context) (int, error) {
	n, err := s.store.ExpireHolds(ctx, s.now().UTC())
	if n > 0 {
		s.log.Info().Int("released", n).Msg("expired checkout holds")
	}
	return n, err
}

// Run sweeps until ctx is cancelled.
func (s *HoldSweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn().Err(err).Msg("hold sweep")
			}
		}
	}
}
