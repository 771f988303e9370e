package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/lamp-panel/internal/lamp"
)

// doneToken is a paho.Token that has already completed.
type doneToken struct {
	err error
}

func (t doneToken) Wait() bool { return true }

func (t doneToken) WaitTimeout(time.Duration) bool { return true }

func (t doneToken) Error() error { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient implements the parts of paho.Client the publisher uses.
type fakeClient struct {
	paho.Client

	mu         sync.Mutex
	open       bool
	failNext   error
	published  []published
	disconnect bool
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.failNext; err != nil {
		c.failNext = nil
		return doneToken{err: err}
	}

	c.published = append(c.published, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnect = true
	c.mu.Unlock()
}

func (c *fakeClient) setOpen(open bool) {
	c.mu.Lock()
	c.open = open
	c.mu.Unlock()
}

func (c *fakeClient) all() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

func TestRealPublisherPublishesWhenConnected(t *testing.T) {
	t.Parallel()

	client := &fakeClient{open: true}
	p := newPublisher(client, nil)

	require.NoError(t, p.Publish(toggleEvent(lamp.Green, true, false)))
	require.NoError(t, p.PublishSystem(SystemEvent{Timestamp: ts, Event: EventStartup, Retained: true}))

	got := client.all()
	require.Len(t, got, 2)
	require.Equal(t, Topic, got[0].topic)
	require.Zero(t, got[0].qos)
	require.False(t, got[0].retained)
	require.Contains(t, string(got[0].payload), "GREEN_ON")

	require.Equal(t, TopicSystem, got[1].topic)
	require.EqualValues(t, 1, got[1].qos)
	require.True(t, got[1].retained)

	require.True(t, p.IsConnected())
}

func TestRealPublisherBuffersWhileDisconnected(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	p := newPublisher(client, nil)

	require.NoError(t, p.Publish(toggleEvent(lamp.Green, true, false)))
	require.NoError(t, p.Publish(toggleEvent(lamp.Red, true, true)))
	require.Empty(t, client.all())
	require.Equal(t, 2, p.pending.size())

	client.setOpen(true)
	p.flush()

	got := client.all()
	require.Len(t, got, 2)
	require.Contains(t, string(got[0].payload), "GREEN_ON")
	require.Contains(t, string(got[1].payload), "RED_ON")
	require.Zero(t, p.pending.size())
}

func TestRealPublisherRequeuesFailedPublish(t *testing.T) {
	t.Parallel()

	hiccup := errors.New("broker hiccup")
	client := &fakeClient{open: true, failNext: hiccup}
	p := newPublisher(client, nil)

	err := p.Publish(toggleEvent(lamp.Green, true, false))
	require.ErrorIs(t, err, hiccup)
	require.Equal(t, 1, p.pending.size())

	p.flush()
	require.Len(t, client.all(), 1)
	require.Zero(t, p.pending.size())
}

func TestRealPublisherFlushStopsOnFailure(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	p := newPublisher(client, nil)

	for _, c := range []lamp.Channel{lamp.Green, lamp.Red, lamp.Green} {
		require.NoError(t, p.Publish(toggleEvent(c, true, true)))
	}

	client.setOpen(true)
	client.failNext = errors.New("broker hiccup")
	p.flush()

	require.Empty(t, client.all())
	require.Equal(t, 3, p.pending.size(), "failed replay keeps every message")

	p.flush()
	require.Len(t, client.all(), 3)
}

func TestRealPublisherConnectionCallbacks(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var changes []bool
	onChange := func(connected bool) {
		mu.Lock()
		changes = append(changes, connected)
		mu.Unlock()
	}

	client := &fakeClient{}
	p := newPublisher(client, onChange)
	require.NoError(t, p.PublishSystem(SystemEvent{Timestamp: ts, Event: EventStartup}))

	client.setOpen(true)
	p.handleConnect(client)

	require.Eventually(t, func() bool { return len(client.all()) == 1 }, time.Second, 5*time.Millisecond)

	p.handleConnectionLost(client, errors.New("EOF"))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{true, false}, changes)
}

func TestRealPublisherClose(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	p := newPublisher(client, nil)
	require.NoError(t, p.Publish(toggleEvent(lamp.Green, true, false)))

	require.NoError(t, p.Close())
	require.True(t, client.disconnect)
	require.Zero(t, p.pending.size())
}
