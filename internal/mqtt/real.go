package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/presence-sensor/internal/event"
	"github.com/sweeney/presence-sensor/internal/logic"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	// DefaultBufferSize is the number of occupancy changes kept while offline.
	DefaultBufferSize = 100
)

// notifyTimeout bounds how long a paho handler waits for queue space.
var notifyTimeout = 5 * time.Second

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topics   Topics
	// BufferSize bounds the offline replay buffer.
	BufferSize int
	// Sink receives downlink config events and transport state events.
	Sink   event.Sink
	Logger *slog.Logger
}

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client
	topics Topics
	sink   event.Sink
	logger *slog.Logger

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher creates a publisher and starts connecting to the broker.
// If the broker does not answer within the connect timeout the client keeps
// retrying in the background and the publisher is still returned.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	if opts.ClientID == "" {
		opts.ClientID = "presence-sensor"
	}
	if opts.Topics == (Topics{}) {
		opts.Topics = DefaultTopics()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &RealPublisher{
		topics: opts.Topics,
		sink:   opts.Sink,
		logger: logger,
		buf:    newRingBuffer(opts.BufferSize, logger),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "SHUTDOWN", Reason: "MQTT_DISCONNECT"})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(opts.Topics.System, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		logger.Warn("mqtt broker not reachable yet, retrying in background", "broker", opts.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// onConnect subscribes to the downlink, replays buffered changes and
// reports the transport as up.
func (p *RealPublisher) onConnect(c paho.Client) {
	p.logger.Info("mqtt connected")

	token := c.Subscribe(p.topics.Subscription(), 0, p.onMessage)
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Warn("mqtt subscribe timeout", "topic", p.topics.Subscription())
	} else if err := token.Error(); err != nil {
		p.logger.Warn("mqtt subscribe failed", "topic", p.topics.Subscription(), "error", err)
	}

	p.replay(c)
	p.notify(event.TransportConnected{})
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.logger.Warn("mqtt connection lost", "error", err)
	p.notify(event.TransportDisconnected{Reason: err.Error()})
}

func (p *RealPublisher) onMessage(_ paho.Client, msg paho.Message) {
	ev, err := ParseDownlink(p.topics, msg.Topic(), msg.Payload())
	if err != nil {
		p.logger.Error("config downlink rejected", "topic", msg.Topic(), "payload", string(msg.Payload()), "error", err)
		return
	}
	p.logger.Info("config downlink received", "topic", msg.Topic(), "kind", ev.Kind())
	p.notify(ev)
}

// notify runs on paho's handler goroutines, so it may wait for the
// dispatcher to make room.
func (p *RealPublisher) notify(ev event.Event) {
	if p.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := p.sink.Send(ctx, ev); err != nil {
		p.logger.Error("mqtt event not queued", "kind", ev.Kind(), "error", err)
	}
}

func (p *RealPublisher) replay(c paho.Client) {
	p.mu.Lock()
	msgs := p.buf.drainAll()
	p.mu.Unlock()
	if len(msgs) == 0 {
		return
	}

	p.logger.Info("replaying buffered mqtt messages", "count", len(msgs))
	for i, m := range msgs {
		token := c.Publish(m.topic, m.qos, m.retained, m.payload)
		if token.WaitTimeout(publishTimeout) && token.Error() == nil {
			continue
		}
		// Put the rest back for the next connection.
		p.mu.Lock()
		for _, rest := range msgs[i:] {
			p.buf.push(rest)
		}
		p.mu.Unlock()
		p.logger.Warn("mqtt replay interrupted", "remaining", len(msgs)-i)
		return
	}
}

// PublishStatus sends the occupancy flag on the status topic.
func (p *RealPublisher) PublishStatus(occupied bool) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return p.publish(p.topics.Status, 1, false, FormatStatusPayload(occupied))
}

// PublishOccupancy sends an occupancy change, buffering it while offline.
func (p *RealPublisher) PublishOccupancy(change logic.OccupancyChange) error {
	payload, err := FormatPayload(change)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	msg := bufferedMsg{topic: p.topics.Events, payload: payload, qos: 1}

	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.buf.push(msg)
		n := p.buf.len()
		p.mu.Unlock()
		p.logger.Debug("mqtt offline, occupancy change buffered", "buffered", n)
		return nil
	}

	if err := p.publish(msg.topic, msg.qos, msg.retained, msg.payload); err != nil {
		p.mu.Lock()
		p.buf.push(msg)
		p.mu.Unlock()
		return err
	}
	return nil
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(p.topics.System, 1, event.Retained, payload)
}

// IsConnected reports whether the broker connection is open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
