package mqtt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/presence-sensor/internal/event"
)

// fakeMessage satisfies paho.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

var _ paho.Message = fakeMessage{}

// newHandlerPublisher returns a publisher without a client, enough to drive
// the paho callbacks that only touch the sink.
func newHandlerPublisher(sink event.Sink) *RealPublisher {
	return &RealPublisher{
		topics: DefaultTopics(),
		sink:   sink,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// fullQueue returns a one-slot queue already holding a presence edge.
func fullQueue(t *testing.T) *event.Queue {
	t.Helper()
	q := event.NewQueue(1, nil)
	if !q.TrySend(event.PresenceEdge{Level: true}) {
		t.Fatal("could not fill queue")
	}
	return q
}

func receive(t *testing.T, q *event.Queue) event.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	return ev
}

func TestConnectionLostWaitsForQueueSpace(t *testing.T) {
	q := fullQueue(t)
	p := newHandlerPublisher(q)

	done := make(chan struct{})
	go func() {
		p.onConnectionLost(nil, errors.New("EOF"))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("handler returned while the queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	if _, ok := receive(t, q).(event.PresenceEdge); !ok {
		t.Fatal("first event should be the queued edge")
	}
	ev, ok := receive(t, q).(event.TransportDisconnected)
	if !ok {
		t.Fatalf("second event: got %T, want TransportDisconnected", ev)
	}
	if ev.Reason != "EOF" {
		t.Errorf("reason: got %q, want EOF", ev.Reason)
	}
	<-done
}

func TestDownlinkWaitsForQueueSpace(t *testing.T) {
	q := fullQueue(t)
	p := newHandlerPublisher(q)

	go p.onMessage(nil, fakeMessage{topic: p.topics.DelayTopic(), payload: []byte("12")})

	time.Sleep(20 * time.Millisecond)
	receive(t, q)
	ev, ok := receive(t, q).(event.GracePeriodChanged)
	if !ok {
		t.Fatalf("got %T, want GracePeriodChanged", ev)
	}
	if ev.Seconds != 12 {
		t.Errorf("seconds: got %d, want 12", ev.Seconds)
	}
}

func TestNotifyGivesUpAfterTimeout(t *testing.T) {
	old := notifyTimeout
	notifyTimeout = 10 * time.Millisecond
	defer func() { notifyTimeout = old }()

	q := fullQueue(t)
	p := newHandlerPublisher(q)
	p.notify(event.TransportConnected{})

	if q.Len() != 1 {
		t.Errorf("queue length: got %d, want 1", q.Len())
	}
}

func TestNotifyWithoutSink(t *testing.T) {
	p := newHandlerPublisher(nil)
	p.notify(event.TransportConnected{})
}
