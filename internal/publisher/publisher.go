package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"partsdesk/checkout/internal/domain"
)

const (
	DefaultSalesTopic  = "pos.sales"
	EventSaleCompleted = "sale.completed"
)

// SalePublisher announces completed sales to downstream consumers.
type SalePublisher interface {
	PublishSale(ctx context.Context, sale domain.CompletedSale) error
	Close() error
}

type NoopSalePublisher struct{}

func (NoopSalePublisher) PublishSale(_ context.Context, _ domain.CompletedSale) error {
	return nil
}

func (NoopSalePublisher) Close() error {
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaSalePublisher struct {
	writer messageWriter
}

func NewKafkaSalePublisher(topic string, brokers ...string) *KafkaSalePublisher {
	if topic == "" {
		topic = DefaultSalesTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSalePublisher{writer: w}
}

type saleEvent struct {
	EventType string               `json:"event_type"`
	Sale      domain.CompletedSale `json:"sale"`
}

// PublishSale writes one message keyed by sale number so every event for a
// sale lands on the same partition.
func (p *KafkaSalePublisher) PublishSale(ctx context.Context, sale domain.CompletedSale) error {
	payload, err := json.Marshal(saleEvent{EventType: EventSaleCompleted, Sale: sale})
	if err != nil {
		return fmt.Errorf("encode sale event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(sale.SaleNumber),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventSaleCompleted)},
			{Key: "branch_id", Value: []byte(sale.BranchID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish sale %s: %w", sale.SaleNumber, err)
	}
	return nil
}

func (p *KafkaSalePublisher) Close() error {
	return p.writer.Close()
}
