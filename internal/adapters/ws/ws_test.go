package ws_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	router "github.com/colabhq/syncrelay/internal/adapters/http"
	"github.com/colabhq/syncrelay/internal/app"
	"github.com/colabhq/syncrelay/internal/config"
	"github.com/colabhq/syncrelay/internal/doc"
	"github.com/colabhq/syncrelay/internal/protocol"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:        "release",
		ReadLimit:   1 << 20,
		PingPeriod:  50 * time.Millisecond,
		IdleTimeout: 5 * time.Second,
		SendBuffer:  64,
		GracePeriod: 0,
		RateLimit:   0, // unlimited in tests
		Secret:      "test",
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *app.Registry) {
	t.Helper()
	reg := app.NewRegistry(cfg.GracePeriod)
	hub := &app.Hub{Sessions: reg, Policy: app.KickSlowPolicy{}}
	srv := httptest.NewServer(router.SetupRouter(context.Background(), cfg, hub))
	t.Cleanup(srv.Close)
	return srv, reg
}

type client struct {
	conn   *websocket.Conn
	frames chan []byte
}

func dial(t *testing.T, srv *httptest.Server, session string) *client {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + session
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", session, err)
	}
	t.Cleanup(func() { conn.Close() })

	c := &client{conn: conn, frames: make(chan []byte, 64)}
	go func() {
		defer close(c.frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			c.frames <- data
		}
	}()
	return c
}

func (c *client) send(t *testing.T, frame []byte) {
	t.Helper()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (c *client) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case data, ok := <-c.frames:
		if !ok {
			t.Fatal("connection closed while waiting for a frame")
		}
		m, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decode received frame: %v", err)
		}
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a frame")
	}
	return protocol.Message{}
}

func (c *client) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case data, ok := <-c.frames:
		if ok {
			t.Fatalf("unexpected frame: %x", data)
		}
	case <-time.After(d):
	}
}

// handshake drives the client half of SYNCING: read the server's
// step1, answer with our own step1, absorb the step2 diff.
func (c *client) handshake(t *testing.T, d *doc.Doc) {
	t.Helper()
	m := c.next(t)
	if m.Type != protocol.MessageSync || m.Sync != protocol.SyncStep1 {
		t.Fatalf("first frame = %d/%d, want sync step1", m.Type, m.Sync)
	}
	c.send(t, protocol.EncodeSync(protocol.SyncStep1, d.VersionVector()))
	m = c.next(t)
	if m.Type != protocol.MessageSync || m.Sync != protocol.SyncStep2 {
		t.Fatalf("handshake reply = %d/%d, want sync step2", m.Type, m.Sync)
	}
	if _, err := d.ApplyUpdate(m.Payload); err != nil {
		t.Fatalf("apply step2: %v", err)
	}
}

func (c *client) applySync(t *testing.T, d *doc.Doc, m protocol.Message) {
	t.Helper()
	if m.Type != protocol.MessageSync {
		t.Fatalf("frame type = %d, want sync", m.Type)
	}
	if _, err := d.ApplyUpdate(m.Payload); err != nil {
		t.Fatalf("apply relayed update: %v", err)
	}
}

func TestRelayConvergesTwoClients(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	aDoc, bDoc := doc.New(), doc.New()
	a := dial(t, srv, "room1-chat")
	a.handshake(t, aDoc)
	b := dial(t, srv, "room1-chat")
	b.handshake(t, bDoc)

	a.send(t, protocol.EncodeSync(protocol.SyncUpdate, aDoc.Append("actor-a", []byte("u1"))))
	b.applySync(t, bDoc, b.next(t))
	if !bytes.Equal(aDoc.Snapshot(), bDoc.Snapshot()) {
		t.Fatal("documents diverged after u1")
	}

	b.send(t, protocol.EncodeSync(protocol.SyncUpdate, bDoc.Append("actor-b", []byte("u2"))))
	a.applySync(t, aDoc, a.next(t))
	if !bytes.Equal(aDoc.Snapshot(), bDoc.Snapshot()) {
		t.Fatal("documents diverged after u2")
	}

	// Origin never hears its own update back.
	a.expectSilence(t, 200*time.Millisecond)
}

func TestConcurrentSessionsStayIsolated(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	chatDoc, boardDoc := doc.New(), doc.New()
	chatA := dial(t, srv, "room1-chat")
	chatA.handshake(t, chatDoc)
	boardA := dial(t, srv, "room1-whiteboard")
	boardA.handshake(t, boardDoc)

	chatB := dial(t, srv, "room1-chat")
	chatB.handshake(t, doc.New())

	boardA.send(t, protocol.EncodeSync(protocol.SyncUpdate, boardDoc.Append("wb", []byte("stroke"))))
	chatA.send(t, protocol.EncodeSync(protocol.SyncUpdate, chatDoc.Append("ch", []byte("hi"))))

	m := chatB.next(t)
	got := doc.New()
	chatB.applySync(t, got, m)
	if !bytes.Equal(got.Snapshot(), chatDoc.Snapshot()) {
		t.Fatal("chat session delivered foreign or missing ops")
	}
	chatB.expectSilence(t, 200*time.Millisecond)
}

func TestLateJoinerReceivesFullHistory(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	aDoc := doc.New()
	a := dial(t, srv, "room1-whiteboard")
	a.handshake(t, aDoc)
	bDoc := doc.New()
	b := dial(t, srv, "room1-whiteboard")
	b.handshake(t, bDoc)

	for i := 0; i < 10; i++ {
		a.send(t, protocol.EncodeSync(protocol.SyncUpdate, aDoc.Append("actor-a", []byte{byte(i)})))
	}
	for i := 0; i < 10; i++ {
		b.applySync(t, bDoc, b.next(t))
	}

	cDoc := doc.New()
	c := dial(t, srv, "room1-whiteboard")
	c.handshake(t, cDoc)
	if cDoc.Len() != 10 {
		t.Fatalf("late joiner got %d ops in step2, want 10", cDoc.Len())
	}
	if !bytes.Equal(cDoc.Snapshot(), aDoc.Snapshot()) {
		t.Fatal("late joiner snapshot does not match the session")
	}
}

func TestAwarenessRelayAndDisconnectRemoval(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	a := dial(t, srv, "room1-code")
	a.handshake(t, doc.New())
	b := dial(t, srv, "room1-code")
	b.handshake(t, doc.New())

	a.send(t, protocol.EncodeAwareness(protocol.AwarenessUpdate, "", []byte(`{"cursor":7}`)))
	m := b.next(t)
	if m.Type != protocol.MessageAwareness || m.Flag != protocol.AwarenessUpdate {
		t.Fatalf("frame = %+v, want awareness update", m)
	}
	if m.PeerID == "" {
		t.Fatal("server did not stamp the authoritative peer id")
	}
	if !bytes.Equal(m.Payload, []byte(`{"cursor":7}`)) {
		t.Fatalf("awareness payload = %q", m.Payload)
	}
	owner := m.PeerID

	a.conn.Close()
	m = b.next(t)
	if m.Type != protocol.MessageAwareness || m.Flag != protocol.AwarenessLeave {
		t.Fatalf("frame = %+v, want awareness leave", m)
	}
	if m.PeerID != owner {
		t.Fatalf("leave for %q, want %q", m.PeerID, owner)
	}
}

func TestMalformedFrameClosesOnlyThatConnection(t *testing.T) {
	srv, reg := newTestServer(t, testConfig())

	a := dial(t, srv, "room1-chat")
	a.handshake(t, doc.New())
	bDoc := doc.New()
	b := dial(t, srv, "room1-chat")
	b.handshake(t, bDoc)

	b.send(t, []byte{0x07, 0x07, 0x07})
	select {
	case _, ok := <-b.frames:
		if ok {
			t.Fatal("expected close, got a frame")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("offending connection was not closed")
	}

	// The survivor keeps relaying.
	deadline := time.Now().Add(2 * time.Second)
	for reg.List()[0].MemberCount != 1 {
		if time.Now().After(deadline) {
			t.Fatal("session did not drop the closed connection")
		}
		time.Sleep(10 * time.Millisecond)
	}
	aDoc := doc.New()
	a.send(t, protocol.EncodeSync(protocol.SyncUpdate, aDoc.Append("actor-a", []byte("still here"))))
	a.expectSilence(t, 200*time.Millisecond)
}

func TestHandshakeOverflowClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.SendBuffer = 4
	srv, reg := newTestServer(t, cfg)

	// Fill the session with four peers that each published awareness,
	// consuming every replay and fanout frame along the way.
	var clients []*client
	for i := 0; i < 4; i++ {
		c := dial(t, srv, "room1-chat")
		if m := c.next(t); m.Type != protocol.MessageSync || m.Sync != protocol.SyncStep1 {
			t.Fatalf("first frame = %+v, want sync step1", m)
		}
		for j := 0; j < i; j++ {
			if m := c.next(t); m.Type != protocol.MessageAwareness {
				t.Fatalf("replay frame = %+v, want awareness", m)
			}
		}
		c.send(t, protocol.EncodeSync(protocol.SyncStep1, doc.New().VersionVector()))
		if m := c.next(t); m.Type != protocol.MessageSync || m.Sync != protocol.SyncStep2 {
			t.Fatalf("handshake reply = %+v, want sync step2", m)
		}
		c.send(t, protocol.EncodeAwareness(protocol.AwarenessUpdate, "", []byte{byte('0' + i)}))
		for _, prev := range clients {
			if m := prev.next(t); m.Type != protocol.MessageAwareness {
				t.Fatalf("fanout frame = %+v, want awareness", m)
			}
		}
		clients = append(clients, c)
	}

	// The fifth joiner's handshake (step1 plus four awareness entries)
	// exceeds the queue; the connection must be closed outright, not
	// left attached with a truncated replay.
	c5 := dial(t, srv, "room1-chat")
drain:
	for {
		select {
		case _, ok := <-c5.frames:
			if !ok {
				break drain
			}
		case <-time.After(3 * time.Second):
			t.Fatal("overflowing joiner was not closed")
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for reg.List()[0].MemberCount != 4 {
		if time.Now().After(deadline) {
			t.Fatalf("rejected joiner still attached: %+v", reg.List())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRejectsInvalidSessionName(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/%20%20"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("resp = %+v, want 400", resp)
	}
}

func TestIdlePeerIsClosedAndSessionEvicted(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 300 * time.Millisecond
	cfg.PingPeriod = 250 * time.Millisecond
	srv, reg := newTestServer(t, cfg)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/room9-chat"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	// Never reading means never answering pings: the liveness
	// deadline must fire and evict the now-empty session.

	deadline := time.Now().Add(3 * time.Second)
	for len(reg.List()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("idle connection not reaped, sessions = %v", reg.List())
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestHealthAndSessionListEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %v %v", err, resp)
	}
	resp.Body.Close()

	a := dial(t, srv, "room1-chat")
	a.handshake(t, doc.New())

	resp, err = http.Get(srv.URL + "/api/sessions")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("sessions: %v %v", err, resp)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %v %v", err, resp)
	}
	resp.Body.Close()
}
