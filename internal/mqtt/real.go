package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/lamp-panel/internal/lamp"
	"github.com/sweeney/lamp-panel/internal/logger"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	bufferCapacity = 64
)

var errPublishTimeout = errors.New("publish timeout")

// bufferedMsg is a serialized message waiting for the broker.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are kept in a bounded backlog and replayed on reconnect.
type RealPublisher struct {
	client   paho.Client
	onChange func(connected bool)

	mu      sync.Mutex
	pending *backlog[bufferedMsg]
}

// NewRealPublisher creates a publisher for the given broker. onChange, if not
// nil, is told about every connect and connection loss. A broker that is not
// reachable yet is not an error: paho keeps retrying and messages are buffered.
func NewRealPublisher(broker, clientID string, onChange func(connected bool)) (*RealPublisher, error) {
	p := newPublisher(nil, onChange)

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventOffline, Reason: "LWT"})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.handleConnect).
		SetConnectionLostHandler(p.handleConnectionLost)

	p.client = paho.NewClient(opts)

	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		logger.Warnf(context.Background(), "mqtt: broker %s not reachable after %s, buffering until connected", broker, connectTimeout)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

func newPublisher(client paho.Client, onChange func(bool)) *RealPublisher {
	return &RealPublisher{
		client:   client,
		onChange: onChange,
		pending:  newBacklog[bufferedMsg](bufferCapacity),
	}
}

// Publish sends a toggle event to the MQTT broker.
func (p *RealPublisher) Publish(event lamp.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.publish(bufferedMsg{topic: Topic, payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) so shutdown events are delivered
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the broker connection is open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker. Buffered messages are dropped.
func (p *RealPublisher) Close() error {
	p.mu.Lock()
	if n := p.pending.size(); n > 0 {
		logger.Warnf(context.Background(), "mqtt: dropping %d buffered messages on close", n)
	}
	p.pending.take()
	p.mu.Unlock()

	p.client.Disconnect(1000) // 1 second quiesce
	return nil
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.enqueue(msg)
		return nil
	}

	if err := p.send(msg); err != nil {
		p.enqueue(msg)
		return fmt.Errorf("publish to %s, queued for retry: %w", msg.topic, err)
	}

	return nil
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return errPublishTimeout
	}
	return token.Error()
}

func (p *RealPublisher) enqueue(msg bufferedMsg) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending.add(msg) && p.pending.dropped == 1 {
		logger.Warnf(context.Background(), "mqtt: buffer full (%d messages), dropping oldest", bufferCapacity)
	}
}

// flush replays buffered messages in order. On the first failure the
// failed message and everything after it go back ahead of anything
// buffered meanwhile.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	msgs, dropped := p.pending.take()
	p.mu.Unlock()

	if dropped > 0 {
		logger.Warnf(context.Background(), "mqtt: %d messages were dropped while disconnected", dropped)
	}

	if len(msgs) == 0 {
		return
	}

	for i, msg := range msgs {
		if err := p.send(msg); err != nil {
			logger.Warnf(context.Background(), "mqtt: replay interrupted after %d of %d messages: %v", i, len(msgs), err)
			p.mu.Lock()
			p.pending.requeue(msgs[i:])
			p.mu.Unlock()
			return
		}
	}

	logger.Infof(context.Background(), "mqtt: replayed %d buffered messages", len(msgs))
}

func (p *RealPublisher) handleConnect(paho.Client) {
	logger.Infof(context.Background(), "mqtt: connected")
	if p.onChange != nil {
		p.onChange(true)
	}
	// The handler runs on paho's connection goroutine; publishing from it
	// with a blocking wait would stall the client.
	go p.flush()
}

func (p *RealPublisher) handleConnectionLost(_ paho.Client, err error) {
	logger.Warnf(context.Background(), "mqtt: connection lost: %v", err)
	if p.onChange != nil {
		p.onChange(false)
	}
}
