package mailer

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// EventVerifyEmail is the message key of verification requests on the topic.
const EventVerifyEmail = "user.verify_email"

// VerificationEvent is the JSON payload published for each registration.
type VerificationEvent struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Token      string    `json:"token"`
	OccurredAt time.Time `json:"occurred_at"`
}

// KafkaAuth holds SASL/PLAIN credentials. An empty username means a plain,
// unauthenticated connection (local brokers).
type KafkaAuth struct {
	Username string
	Password string
}

func (a KafkaAuth) transport() *kafka.Transport {
	if a.Username == "" {
		return nil
	}
	return &kafka.Transport{
		SASL: plain.Mechanism{Username: a.Username, Password: a.Password},
		TLS:  &tls.Config{},
	}
}

func (a KafkaAuth) dialer() *kafka.Dialer {
	d := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	if a.Username != "" {
		d.SASLMechanism = plain.Mechanism{Username: a.Username, Password: a.Password}
		d.TLS = &tls.Config{}
	}
	return d
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher is a Notifier that enqueues verification requests.
type KafkaPublisher struct {
	writer messageWriter
	now    func() time.Time
}

func NewKafkaPublisher(broker, topic string, auth KafkaAuth) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
	}
	if t := auth.transport(); t != nil {
		w.Transport = t
	}
	return &KafkaPublisher{writer: w, now: time.Now}
}

func (p *KafkaPublisher) SendVerification(ctx context.Context, to, token string) error {
	ev := VerificationEvent{
		ID:         uuid.NewString(),
		Email:      to,
		Token:      token,
		OccurredAt: p.now().UTC(),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(EventVerifyEmail),
		Value: b,
		Time:  ev.OccurredAt,
	})
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads verification events and delivers them through a Notifier.
// Each event gets one delivery attempt; failures are logged and committed.
const (
	fetchBackoffBase = 100 * time.Millisecond
	fetchBackoffMax  = 10 * time.Second
)

type Consumer struct {
	reader   messageReader
	notifier Notifier
	timeout  time.Duration
	log      logrus.FieldLogger
	// backoff returns a fresh policy for spacing out failed fetches.
	backoff func() retry.Backoff
}

func fetchBackoff() retry.Backoff {
	return retry.WithCappedDuration(fetchBackoffMax, retry.NewExponential(fetchBackoffBase))
}

func NewConsumer(broker, topic, groupID string, auth KafkaAuth, n Notifier, timeout time.Duration, log logrus.FieldLogger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{broker},
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		Dialer:   auth.dialer(),
	})
	return &Consumer{reader: r, notifier: n, timeout: timeout, log: log, backoff: fetchBackoff}
}

// Run consumes until ctx is cancelled. Consecutive fetch failures are
// spaced out exponentially; a successful fetch resets the delay.
func (c *Consumer) Run(ctx context.Context) error {
	newBackoff := c.backoff
	if newBackoff == nil {
		newBackoff = fetchBackoff
	}
	b := newBackoff()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait, _ := b.Next()
			c.log.WithFields(logrus.Fields{"error": err, "retry_in": wait}).Warn("kafka fetch failed")
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			continue
		}
		b = newBackoff()

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.WithError(err).Warn("kafka commit failed")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	ev, err := decodeEvent(msg)
	if err != nil {
		c.log.WithFields(logrus.Fields{"offset": msg.Offset, "error": err}).Error("dropping malformed event")
		return
	}

	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	log := c.log.WithFields(logrus.Fields{"event_id": ev.ID, "email": ev.Email})
	if err := c.notifier.SendVerification(sctx, ev.Email, ev.Token); err != nil {
		log.WithError(err).Error("verification email failed")
		return
	}
	log.Info("verification email sent")
}

func decodeEvent(msg kafka.Message) (VerificationEvent, error) {
	var ev VerificationEvent
	if string(msg.Key) != EventVerifyEmail {
		return ev, fmt.Errorf("unexpected key %q", msg.Key)
	}
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return ev, err
	}
	if ev.Email == "" || ev.Token == "" {
		return ev, errors.New("event missing email or token")
	}
	return ev, nil
}

func (c *Consumer) Close() error { return c.reader.Close() }
