package ledger

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/vatadvisor/usage/internal/nats"
)

// ConsumerName is the durable JetStream consumer that feeds the ledger.
const ConsumerName = "usage-ledger"

// Inserter persists ledger entries.
type Inserter interface {
	Insert(ctx context.Context, e *Entry) error
}

// Consumer listens on the usage subjects and persists every event.
type Consumer struct {
	repo        Inserter
	consumerMgr *inats.ConsumerManager
}

// NewConsumer creates a new ledger Consumer.
func NewConsumer(repo Inserter, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamUsage, ConsumerName, inats.SubjectUsageAll)
	if err != nil {
		return err
	}

	slog.Info("ledger consumer started", "consumer", ConsumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("ledger consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleMessage(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// ackable is the subset of jetstream.Msg the handler uses.
type ackable interface {
	Data() []byte
	Ack() error
	Nak() error
	Term() error
}

func (c *Consumer) handleMessage(ctx context.Context, msg ackable) {
	var event inats.UsageEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		slog.Error("ledger consumer: unmarshaling event", "error", err)
		_ = msg.Term()
		return
	}

	entry := convertEventToEntry(event)
	if err := c.repo.Insert(ctx, entry); err != nil {
		slog.Error("ledger consumer: persisting event", "error", err, "event_type", event.EventType)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()

	slog.Debug("ledger consumer: persisted event",
		"event_type", event.EventType,
		"user_id", event.UserID,
		"period_key", event.PeriodKey,
	)
}

func convertEventToEntry(event inats.UsageEvent) *Entry {
	entry := &Entry{
		ID:        event.ID,
		UserID:    event.UserID,
		EventType: event.EventType,
		PeriodKey: event.PeriodKey,
		PlanKey:   event.PlanKey,
		Amount:    event.Amount,
		Used:      event.Used,
		Limit:     event.Limit,
		CreatedAt: event.Timestamp,
	}
	// Events from older publishers carry no id.
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if len(event.Meta) > 0 {
		if data, err := json.Marshal(event.Meta); err == nil {
			entry.Meta = data
		}
	}
	return entry
}
