package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	limit  int
	batch  []Event
	sent   []int64
	failed map[int64]string
}

func (f *fakeStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error) {
	f.limit = batchSize
	out := f.batch
	f.batch = nil
	return out, nil
}

func (f *fakeStore) MarkSent(ctx context.Context, ids []int64) error {
	f.sent = append(f.sent, ids...)
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	if f.failed == nil {
		f.failed = make(map[int64]string)
	}
	f.failed[id] = errMsg
	return nil
}

type fakeProducer struct {
	msgs   []kafka.Message
	failOn string
}

func (f *fakeProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		if string(m.Key) == f.failOn {
			return errors.New("broker unavailable")
		}
		f.msgs = append(f.msgs, m)
	}
	return nil
}

type fakeCounter map[string]int

func (f fakeCounter) Relayed(result string, n int) { f[result] += n }

func TestRelay_Flush(t *testing.T) {
	store := &fakeStore{batch: []Event{
		{ID: 1, AggregateType: AggregateReservation, AggregateID: "r-1", Type: "reservation.created", Payload: []byte(`{}`), Traceparent: "00-abc-def-01"},
		{ID: 2, AggregateType: AggregateReservation, AggregateID: "r-2", Type: "reservation.created", Payload: []byte(`{}`)},
		{ID: 3, AggregateType: AggregateReservation, AggregateID: "r-3", Type: "reservation.cancelled", Payload: []byte(`{}`)},
	}}
	producer := &fakeProducer{failOn: "r-2"}
	counter := fakeCounter{}
	relay := NewRelay(zap.NewNop(), store, NewDispatcher(zap.NewNop(), producer), "relay-test", WithCounter(counter))

	sent, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []int64{1, 3}, store.sent)
	assert.Contains(t, store.failed[2], "broker unavailable")
	assert.Equal(t, 2, counter["sent"])
	assert.Equal(t, 1, counter["failed"])

	require.Len(t, producer.msgs, 2)
	first := producer.msgs[0]
	assert.Equal(t, "r-1", string(first.Key))
	headers := map[string]string{}
	for _, h := range first.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "reservation.created", headers["event_type"])
	assert.Equal(t, "00-abc-def-01", headers["traceparent"])

	sent, err = relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestRelay_BatchSize(t *testing.T) {
	dispatch := NewDispatcher(zap.NewNop(), &fakeProducer{})

	store := &fakeStore{}
	_, err := NewRelay(zap.NewNop(), store, dispatch, "relay-test").Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, store.limit)

	store = &fakeStore{}
	_, err = NewRelay(zap.NewNop(), store, dispatch, "relay-test", WithBatchSize(25), WithBatchSize(0)).Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, store.limit)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	relay := NewRelay(zap.NewNop(), store, NewDispatcher(zap.NewNop(), &fakeProducer{}), "relay-test", WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
