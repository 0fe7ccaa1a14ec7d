package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"accountsvc/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes notifications for a downstream mailer. Messages are
// keyed by email so one account's events stay ordered on a partition.
type KafkaNotifier struct {
	Writer messageWriter
	Links  Links
	Now    func() time.Time
}

type notificationEvent struct {
	Type      string `json:"type"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	Link      string `json:"link"`
	Token     string `json:"token"`
	OTP       int    `json:"otp,omitempty"`
	ExpiresAt int64  `json:"expiresAt"`
}

// NewKafkaWriter builds a synchronous writer. SASL/PLAIN over TLS is used
// when a username is set.
func NewKafkaWriter(brokers []string, topic, username, password string) *kafka.Writer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
	}
	if username != "" {
		w.Transport = &kafka.Transport{
			SASL: plain.Mechanism{Username: username, Password: password},
			TLS:  &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}
	return w
}

func (n *KafkaNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	value, err := json.Marshal(notificationEvent{
		Type:      string(msg.Kind),
		Email:     msg.Email,
		FirstName: msg.FirstName,
		Link:      n.Links.For(msg),
		Token:     msg.Token,
		OTP:       msg.OTP,
		ExpiresAt: domain.EpochMillis(msg.ExpiresAt),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	if err := n.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Email),
		Value: value,
		Time:  now(),
	}); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.Writer.Close()
}
