package emitter

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func completedToken(err error) *fakeToken {
	t := pendingToken()
	t.complete(err)
	return t
}

func (t *fakeToken) complete(err error) {
	t.err = err
	close(t.done)
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type publishCall struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

// fakeClient implements mqtt.Client in memory.
type fakeClient struct {
	mu           sync.Mutex
	opts         *mqtt.ClientOptions
	open         bool
	connectCalls int
	// connect decides the outcome of Connect; nil means "accept immediately"
	connect      func(c *fakeClient) mqtt.Token
	publishErr   error
	published    []publishCall
	handlers     map[string]mqtt.MessageHandler
	disconnected bool
}

func newFakeClient(opts *mqtt.ClientOptions) *fakeClient {
	return &fakeClient{opts: opts, handlers: make(map[string]mqtt.MessageHandler)}
}

// accept marks the connection open and runs the OnConnect callback.
func (c *fakeClient) accept() {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) IsConnectionOpen() bool { return c.IsConnected() }

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	c.connectCalls++
	connect := c.connect
	c.mu.Unlock()

	if connect != nil {
		return connect(c)
	}
	c.accept()
	return completedToken(nil)
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.disconnected = true
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return completedToken(c.publishErr)
	}
	c.published = append(c.published, publishCall{topic: topic, qos: qos, retain: retained, payload: payload.([]byte)})
	// qos 0 tokens are left pending, like an in-flight write
	return pendingToken()
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
	return completedToken(nil)
}

func (c *fakeClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		c.Subscribe(topic, qos, callback)
	}
	return completedToken(nil)
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.handlers, topic)
	}
	return completedToken(nil)
}

func (c *fakeClient) AddRoute(topic string, callback mqtt.MessageHandler) {}

func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.NewOptionsReader(c.opts)
}

func (c *fakeClient) handler(topic string) mqtt.MessageHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers[topic]
}

func (c *fakeClient) publishes() []publishCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]publishCall, len(c.published))
	copy(out, c.published)
	return out
}

func (c *fakeClient) connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectCalls
}

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
