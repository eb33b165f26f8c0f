package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	got    chan struct{}
	block  chan struct{}
	err    error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan struct{}, 16)}
}

func (s *recordingSink) Publish(_ context.Context, ev Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.got <- struct{}{}
	if s.block != nil {
		<-s.block
	}
	return s.err
}

func (s *recordingSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestDispatcher_DeliversAndFillsDefaults(t *testing.T) {
	sink := newRecordingSink()
	d := NewDispatcher(sink, 4, time.Second, zerolog.Nop())

	require.NoError(t, d.Publish(context.Background(), Event{Type: TypeQueueUpdated, Tenant: "acme", DoctorID: "doc-1"}))
	require.NoError(t, d.Close(context.Background()))

	got := sink.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, TypeQueueUpdated, got[0].Type)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].OccurredAt.IsZero())
}

func TestDispatcher_DropsWhenBufferFull(t *testing.T) {
	sink := newRecordingSink()
	sink.block = make(chan struct{})
	d := NewDispatcher(sink, 1, time.Second, zerolog.Nop())

	require.NoError(t, d.Publish(context.Background(), Event{Type: TypeQueueUpdated, Tenant: "acme"}))
	<-sink.got // the worker is now blocked inside the sink

	require.NoError(t, d.Publish(context.Background(), Event{Type: TypeQueueUpdated, Tenant: "acme"}))
	err := d.Publish(context.Background(), Event{Type: TypeQueueUpdated, Tenant: "acme"})
	assert.ErrorIs(t, err, ErrBufferFull)

	close(sink.block)
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, sink.snapshot(), 2)
}

func TestDispatcher_SinkErrorsAreSwallowed(t *testing.T) {
	sink := newRecordingSink()
	sink.err = errors.New("broker down")
	d := NewDispatcher(sink, 4, time.Second, zerolog.Nop())

	require.NoError(t, d.Publish(context.Background(), Event{Type: TypeQueueReordered, Tenant: "acme"}))
	require.NoError(t, d.Publish(context.Background(), Event{Type: TypeQueueReordered, Tenant: "acme"}))
	require.NoError(t, d.Close(context.Background()))

	assert.Len(t, sink.snapshot(), 2)
}

func TestDispatcher_RejectsAfterClose(t *testing.T) {
	d := NewDispatcher(Nop{}, 4, time.Second, zerolog.Nop())
	require.NoError(t, d.Close(context.Background()))

	err := d.Publish(context.Background(), Event{Type: TypeQueueUpdated})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, d.Close(context.Background()))
}

func TestRedisPublisher_Publish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	p := NewRedisPublisher(db)

	ev := Event{
		ID:            "ev-1",
		Type:          TypePositionUpdated,
		Tenant:        "acme",
		DoctorID:      "doc-1",
		AppointmentID: "appt-1",
		Positions:     []Position{{AppointmentID: "appt-1", Position: 2, EstimatedWaitTime: 30}},
		OccurredAt:    time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	mock.ExpectPublish("events:acme:queue", data).SetVal(1)

	require.NoError(t, p.Publish(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_KeysByTenantAndDoctor(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}

	err := p.Publish(context.Background(), Event{Type: TypeQueueReordered, Tenant: "acme", DoctorID: "doc-7"})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "acme:doc-7", string(w.msgs[0].Key))

	var decoded Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, TypeQueueReordered, decoded.Type)
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
}

func TestKafkaPublisher_WrapsWriteError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("leader not available")}}

	err := p.Publish(context.Background(), Event{Type: TypeQueueUpdated, Tenant: "acme"})
	assert.ErrorContains(t, err, "kafka write queue.updated")
}
