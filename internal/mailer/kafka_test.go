package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string]string
	err  error
}

func (n *recordingNotifier) SendVerification(_ context.Context, to, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = map[string]string{}
	}
	n.sent[to] = token
	return n.err
}

func eventMessage(t *testing.T, email, token string) kafka.Message {
	t.Helper()
	b, err := json.Marshal(VerificationEvent{ID: "ev-1", Email: email, Token: token})
	require.NoError(t, err)
	return kafka.Message{Key: []byte(EventVerifyEmail), Value: b}
}

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := &KafkaPublisher{writer: w, now: func() time.Time { return now }}

	require.NoError(t, p.SendVerification(context.Background(), "a@x.com", "tok"))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, EventVerifyEmail, string(w.msgs[0].Key))

	var ev VerificationEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, "a@x.com", ev.Email)
	assert.Equal(t, "tok", ev.Token)
	assert.Equal(t, now, ev.OccurredAt)
	assert.Len(t, ev.ID, 36)
}

func TestKafkaPublisherError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}, now: time.Now}
	assert.Error(t, p.SendVerification(context.Background(), "a@x.com", "tok"))
}

func TestDecodeEvent(t *testing.T) {
	_, err := decodeEvent(kafka.Message{Key: []byte("other"), Value: []byte(`{}`)})
	assert.Error(t, err)

	_, err = decodeEvent(kafka.Message{Key: []byte(EventVerifyEmail), Value: []byte(`not json`)})
	assert.Error(t, err)

	_, err = decodeEvent(kafka.Message{Key: []byte(EventVerifyEmail), Value: []byte(`{"email":"a@x.com"}`)})
	assert.Error(t, err)

	ev, err := decodeEvent(eventMessage(t, "a@x.com", "tok"))
	require.NoError(t, err)
	assert.Equal(t, "tok", ev.Token)
}

func TestConsumerRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := &fakeReader{queue: []kafka.Message{
		eventMessage(t, "a@x.com", "tok-a"),
		{Key: []byte(EventVerifyEmail), Value: []byte("garbage")},
		eventMessage(t, "b@x.com", "tok-b"),
	}}
	n := &recordingNotifier{}
	log, _ := test.NewNullLogger()
	c := &Consumer{reader: r, notifier: n, timeout: time.Second, log: log}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return r.committedCount() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, map[string]string{"a@x.com": "tok-a", "b@x.com": "tok-b"}, n.sent)
}

func TestConsumerLogsDeliveryFailure(t *testing.T) {
	log, hook := test.NewNullLogger()
	c := &Consumer{notifier: &recordingNotifier{err: errors.New("relay down")}, timeout: time.Second, log: log}

	c.handle(context.Background(), eventMessage(t, "a@x.com", "tok"))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "verification email failed", hook.LastEntry().Message)
}

// scriptedReader replays fetch results in order, then blocks until cancelled.
type scriptedReader struct {
	mu      sync.Mutex
	script  []error // nil entries yield a valid event
	msg     kafka.Message
	fetches int
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	r.fetches++
	if len(r.script) > 0 {
		err := r.script[0]
		r.script = r.script[1:]
		r.mu.Unlock()
		return r.msg, err
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *scriptedReader) CommitMessages(context.Context, ...kafka.Message) error { return nil }
func (r *scriptedReader) Close() error                                           { return nil }

func (r *scriptedReader) fetchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches
}

func TestConsumerBacksOffOnFetchErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	broken := errors.New("broker unreachable")
	script := make([]error, 100)
	for i := range script {
		script[i] = broken
	}
	r := &scriptedReader{script: script}
	log, hook := test.NewNullLogger()
	c := &Consumer{
		reader:   r,
		notifier: &recordingNotifier{},
		timeout:  time.Second,
		log:      log,
		backoff:  func() retry.Backoff { return retry.NewConstant(time.Hour) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return r.fetchCount() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, r.fetchCount())
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, time.Hour, hook.LastEntry().Data["retry_in"])

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return while backing off")
	}
}

func TestConsumerResetsBackoffAfterFetch(t *testing.T) {
	broken := errors.New("broker unreachable")
	r := &scriptedReader{
		script: []error{broken, broken, nil, broken},
		msg:    eventMessage(t, "a@x.com", "tok"),
	}

	var mu sync.Mutex
	var policies, waits int
	log, _ := test.NewNullLogger()
	n := &recordingNotifier{}
	c := &Consumer{
		reader:   r,
		notifier: n,
		timeout:  time.Second,
		log:      log,
		backoff: func() retry.Backoff {
			mu.Lock()
			policies++
			mu.Unlock()
			return retry.BackoffFunc(func() (time.Duration, bool) {
				mu.Lock()
				waits++
				mu.Unlock()
				return time.Millisecond, false
			})
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return r.fetchCount() == 5 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, policies)
	assert.Equal(t, 3, waits)
	n.mu.Lock()
	defer n.mu.Unlock()
	assert.Equal(t, map[string]string{"a@x.com": "tok"}, n.sent)
}
