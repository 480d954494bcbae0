package services

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/ledgerx/backend/internal/models"
)

const (
	EventTypeCreated  = "transaction.created"
	EventTypeReversed = "transaction.reversed"
)

// EventPublisher hands committed transactions to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, tx *models.Transaction) error
}

type LedgerEvent struct {
	Type        string              `json:"type"`
	Transaction *models.Transaction `json:"transaction"`
}

// NewLedgerEvent wraps tx in its queue envelope.
func NewLedgerEvent(tx *models.Transaction) LedgerEvent {
	eventType := EventTypeCreated
	if tx.IsReversal() {
		eventType = EventTypeReversed
	}
	return LedgerEvent{Type: eventType, Transaction: tx}
}

// RedisEventPublisher appends events to a Redis list.
type RedisEventPublisher struct {
	redis *redis.Client
	queue string
}

func NewRedisEventPublisher(client *redis.Client, queue string) *RedisEventPublisher {
	return &RedisEventPublisher{redis: client, queue: queue}
}

func (p *RedisEventPublisher) Publish(ctx context.Context, tx *models.Transaction) error {
	data, err := json.Marshal(NewLedgerEvent(tx))
	if err != nil {
		return err
	}
	return p.redis.RPush(ctx, p.queue, data).Err()
}

type noopEventPublisher struct{}

func (noopEventPublisher) Publish(context.Context, *models.Transaction) error { return nil }
