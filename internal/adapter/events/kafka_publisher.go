package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/tvh0522/mintbay/internal/core/domain"
	"github.com/tvh0522/mintbay/internal/port"
)

// KafkaPublisher fans settled transactions out to the activity topic.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

var _ port.EventPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 100 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &KafkaPublisher{producer: producer, topic: topic}, nil
}

type transactionEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	TransactionID string    `json:"transaction_id"`
	ItemID        string    `json:"item_id"`
	EditionNumber int       `json:"edition_number"`
	BuyerID       string    `json:"buyer_id"`
	SellerID      string    `json:"seller_id"`
	Kind          string    `json:"kind"`
	Price         int64     `json:"price"`
	ProofRef      string    `json:"proof_ref,omitempty"`
}

func (p *KafkaPublisher) PublishTransaction(_ context.Context, tx domain.Transaction) error {
	event := transactionEvent{
		EventID:       uuid.NewString(),
		EventType:     "transaction.settled",
		Timestamp:     time.Now().UTC(),
		TransactionID: tx.ID,
		ItemID:        tx.ItemID,
		EditionNumber: tx.EditionNumber,
		BuyerID:       tx.BuyerID,
		SellerID:      tx.SellerID,
		Kind:          string(tx.Kind),
		Price:         tx.Price,
		ProofRef:      tx.ProofRef,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transaction event: %w", err)
	}

	// Keyed by item so per-item activity stays ordered.
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(tx.ItemID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("publish transaction event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
