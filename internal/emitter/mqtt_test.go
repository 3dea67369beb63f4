package emitter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// newTestSession wires a session to a fake client; configure runs before
// the client is handed to the session.
func newTestSession(configure func(*fakeClient)) (*MQTTSession, func() *fakeClient) {
	s := NewMQTTSession(SessionConfig{Broker: "broker.test:1883", ClientID: "test"})
	var fc *fakeClient
	s.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		fc = newFakeClient(opts)
		if configure != nil {
			configure(fc)
		}
		return fc
	}
	return s, func() *fakeClient { return fc }
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 1s")
}

func TestPublishWithoutConnectReturnsErrNotConnected(t *testing.T) {
	s, _ := newTestSession(nil)

	err := s.Publish("raspberry/meta", []byte("x"), 0, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected, got %v", err)
	}
	if s.Stats().Errors != 1 {
		t.Errorf("Expected 1 error counted, got %d", s.Stats().Errors)
	}
}

func TestConnectDoesNotWaitForAck(t *testing.T) {
	var token *fakeToken
	s, client := newTestSession(func(c *fakeClient) {
		c.connect = func(*fakeClient) mqtt.Token {
			token = pendingToken()
			return token
		}
	})

	done := make(chan error, 1)
	go func() { done <- s.Connect(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Connect blocked waiting for CONNACK")
	}

	// before the ack the hand-off is rejected, not silently dropped
	if err := s.Publish("raspberry/meta", []byte("early"), 0, false); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Expected ErrNotConnected before ack, got %v", err)
	}

	client().accept()
	token.complete(nil)

	if err := s.Publish("raspberry/meta", []byte("late"), 0, false); err != nil {
		t.Fatalf("Publish after ack failed: %v", err)
	}
	pubs := client().publishes()
	if len(pubs) != 1 || string(pubs[0].payload) != "late" {
		t.Errorf("Expected only the post-ack publish, got %+v", pubs)
	}
}

func TestConnectReusesOpenSession(t *testing.T) {
	s, client := newTestSession(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Connect(ctx); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
	}
	if n := client().connects(); n != 1 {
		t.Errorf("Expected 1 transport connect, got %d", n)
	}
	if !s.IsConnected() {
		t.Error("Expected session to be connected")
	}
}

func TestConnectRefusalIsReportedAndRetried(t *testing.T) {
	refused := errors.New("connection refused")
	s, client := newTestSession(func(c *fakeClient) {
		c.connect = func(*fakeClient) mqtt.Token {
			return completedToken(refused)
		}
	})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("fire-and-forget Connect should not fail, got %v", err)
	}
	waitFor(t, func() bool { return s.Stats().Refusals == 1 })

	// the next tick issues a fresh connect
	s.Connect(context.Background())
	waitFor(t, func() bool { return client().connects() == 2 })
}

func TestConnectWaitSurfacesRefusal(t *testing.T) {
	s, _ := newTestSession(func(c *fakeClient) {
		c.connect = func(*fakeClient) mqtt.Token {
			return completedToken(errors.New("not authorized"))
		}
	})
	s.cfg.ConnectWait = time.Second

	err := s.Connect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "not authorized") {
		t.Fatalf("Expected refusal error, got %v", err)
	}
}

func TestPublishHandsOffQoSAndRetain(t *testing.T) {
	s, client := newTestSession(nil)
	s.Connect(context.Background())

	if err := s.Publish("raspberry/meta", []byte(`{"class_label":"person"}`), 0, false); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	pubs := client().publishes()
	if len(pubs) != 1 {
		t.Fatalf("Expected 1 publish, got %d", len(pubs))
	}
	if pubs[0].topic != "raspberry/meta" || pubs[0].qos != 0 || pubs[0].retain {
		t.Errorf("Unexpected publish %+v", pubs[0])
	}
	if s.Stats().Published["raspberry/meta"] != 1 {
		t.Errorf("Expected published count 1, got %v", s.Stats().Published)
	}
}

func TestPublishImmediateRejection(t *testing.T) {
	s, client := newTestSession(nil)
	s.Connect(context.Background())
	client().publishErr = errors.New("outbound queue closed")

	if err := s.Publish("raspberry/meta", []byte("x"), 0, false); err == nil {
		t.Fatal("Expected immediate rejection to be reported")
	}
}

func TestSetWillConfiguresConnection(t *testing.T) {
	s, client := newTestSession(nil)
	s.SetWill("raspberry/status", []byte(`{"status": "Off"}`))
	s.Connect(context.Background())

	opts := client().opts
	if !opts.WillEnabled {
		t.Fatal("Expected will to be enabled")
	}
	if opts.WillTopic != "raspberry/status" {
		t.Errorf("Expected will topic raspberry/status, got %q", opts.WillTopic)
	}
	if string(opts.WillPayload) != `{"status": "Off"}` {
		t.Errorf("Unexpected will payload %q", opts.WillPayload)
	}
	if opts.WillQos != 0 || opts.WillRetained {
		t.Errorf("Expected will qos 0 / not retained, got %d / %v", opts.WillQos, opts.WillRetained)
	}
}

func TestSubscribeIssuedOnConnectAndDelivers(t *testing.T) {
	s, client := newTestSession(nil)

	received := make(chan Message, 1)
	s.Subscribe("raspberry/meta", 0, func(m Message) { received <- m })
	s.Connect(context.Background())

	h := client().handler("raspberry/meta")
	if h == nil {
		t.Fatal("Expected subscription on connect")
	}
	h(client(), fakeMessage{topic: "raspberry/meta", payload: []byte("hello")})

	select {
	case m := <-received:
		if m.Topic != "raspberry/meta" || string(m.Payload) != "hello" {
			t.Errorf("Unexpected message %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestListenBlocksUntilCancelled(t *testing.T) {
	s, client := newTestSession(nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Listen(ctx) }()

	waitFor(t, func() bool { return s.IsConnected() })

	select {
	case <-done:
		t.Fatal("Listen returned while context still active")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Listen returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Listen did not return after cancel")
	}
	if !client().disconnected {
		t.Error("Expected Disconnect on exit")
	}
}

func TestClientIDIsUnique(t *testing.T) {
	a, b := ClientID("detectd"), ClientID("detectd")
	if a == b {
		t.Errorf("Expected distinct client ids, got %q twice", a)
	}
	if !strings.HasPrefix(a, "detectd-") {
		t.Errorf("Expected prefix detectd-, got %q", a)
	}
}
