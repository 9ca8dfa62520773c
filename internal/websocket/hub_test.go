// Threatwatch - Security Threat Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/threatwatch

package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// startHub runs a hub until the test ends.
func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.RunWithContext(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub, cancel
}

// serveHub upgrades each request and binds the client to the owner query parameter.
func serveHub(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		client := NewClient(hub, conn, r.URL.Query().Get("owner"))
		if err := client.Register(r.Context()); err != nil {
			_ = conn.Close()
			return
		}
		client.Start()
	}))
	t.Cleanup(server.Close)
	return server
}

// testClient builds a connectionless client with a send buffer of size buf.
func testClient(hub *Hub, id uint64, owner string, buf int) *Client {
	return &Client{
		id:         id,
		owner:      owner,
		hub:        hub,
		send:       make(chan Message, buf),
		registered: make(chan struct{}),
		closed:     make(chan struct{}),
	}
}

func dial(t *testing.T, server *httptest.Server, owner string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/?owner=" + owner
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, owner string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.OwnerClientCount(owner) != n {
		if time.Now().After(deadline) {
			t.Fatalf("owner %s has %d clients, want %d", owner, hub.OwnerClientCount(owner), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg received
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func TestBroadcastToOwnerRoutesByOwner(t *testing.T) {
	t.Parallel()
	hub, _ := startHub(t)
	server := serveHub(t, hub)

	alice1 := dial(t, server, "alice")
	alice2 := dial(t, server, "alice")
	bob := dial(t, server, "bob")
	waitForClients(t, hub, "alice", 2)
	waitForClients(t, hub, "bob", 1)

	hub.BroadcastToOwner("alice", MessageTypeNotification, map[string]int{"id": 7})
	hub.BroadcastToOwner("bob", MessageTypeNotification, map[string]int{"id": 8})

	for _, conn := range []*websocket.Conn{alice1, alice2} {
		msg := read(t, conn)
		if msg.Type != MessageTypeNotification || string(msg.Data) != `{"id":7}` {
			t.Errorf("alice got %s %s", msg.Type, msg.Data)
		}
	}
	if msg := read(t, bob); string(msg.Data) != `{"id":8}` {
		t.Errorf("bob got %s", msg.Data)
	}
}

func TestMessagesArriveInOrder(t *testing.T) {
	t.Parallel()
	hub, _ := startHub(t)
	server := serveHub(t, hub)

	conn := dial(t, server, "alice")
	waitForClients(t, hub, "alice", 1)

	const n = 100
	go func() {
		for i := 0; i < n; i++ {
			hub.BroadcastToOwner("alice", MessageTypeDelta, i)
		}
	}()

	for i := 0; i < n; i++ {
		msg := read(t, conn)
		if string(msg.Data) != strconv.Itoa(i) {
			t.Fatalf("message %d carried %s", i, msg.Data)
		}
	}
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	t.Parallel()
	hub, _ := startHub(t)
	server := serveHub(t, hub)

	conn := dial(t, server, "alice")
	waitForClients(t, hub, "alice", 1)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}
	if msg := read(t, conn); msg.Type != MessageTypePong {
		t.Errorf("got %s, want pong", msg.Type)
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	t.Parallel()
	hub, _ := startHub(t)
	server := serveHub(t, hub)

	conn := dial(t, server, "alice")
	waitForClients(t, hub, "alice", 1)
	_ = conn.Close()
	waitForClients(t, hub, "alice", 0)

	// Messages for an owner without clients are discarded.
	hub.BroadcastToOwner("alice", MessageTypeDelta, 1)
	if hub.GetClientCount() != 0 {
		t.Errorf("clients = %d", hub.GetClientCount())
	}
}

func TestSendTargetsOneClient(t *testing.T) {
	t.Parallel()
	hub, _ := startHub(t)

	a := testClient(hub, 1, "alice", 4)
	b := testClient(hub, 2, "alice", 4)
	if err := a.Register(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := b.Register(context.Background()); err != nil {
		t.Fatal(err)
	}

	hub.Send(a, MessageTypeSnapshot, "only-a")
	select {
	case msg := <-a.send:
		if msg.Data != "only-a" {
			t.Errorf("a got %v", msg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("a received nothing")
	}
	select {
	case msg := <-b.send:
		t.Errorf("b received %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowClientIsRemoved(t *testing.T) {
	t.Parallel()
	hub, _ := startHub(t)

	slow := testClient(hub, 1, "alice", 1)
	if err := slow.Register(context.Background()); err != nil {
		t.Fatal(err)
	}

	hub.BroadcastToOwner("alice", MessageTypeDelta, 1)
	hub.BroadcastToOwner("alice", MessageTypeDelta, 2)

	select {
	case <-slow.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow client was not removed")
	}
	if hub.OwnerClientCount("alice") != 0 {
		t.Error("slow client still registered")
	}
	// Close after removal must not block.
	slow.Close()
}

func TestBusyOwnerDoesNotDisconnectOtherOwners(t *testing.T) {
	t.Parallel()
	hub, _ := startHub(t)

	alice := testClient(hub, 1, "alice", 4)
	bob := testClient(hub, 2, "bob", 4)
	for _, c := range []*Client{alice, bob} {
		if err := c.Register(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	// A burst far larger than any buffer, for an owner with a slow client and
	// for an owner with no clients at all.
	for i := 0; i < 512; i++ {
		hub.BroadcastToOwner("alice", MessageTypeDelta, i)
		hub.BroadcastToOwner("carol", MessageTypeDelta, i)
	}

	if !hub.Send(bob, MessageTypeDelta, "bob-delta") {
		t.Fatal("Send() to bob = false after another owner's burst")
	}
	select {
	case <-bob.Done():
		t.Fatal("bob was disconnected by alice's burst")
	default:
	}
	if msg := <-bob.send; msg.Data != "bob-delta" {
		t.Errorf("bob got %v", msg.Data)
	}
	if hub.OwnerClientCount("bob") != 1 {
		t.Errorf("bob clients = %d, want 1", hub.OwnerClientCount("bob"))
	}

	select {
	case <-alice.Done():
	default:
		t.Error("alice's slow client should have been removed")
	}
	if hub.Send(alice, MessageTypeDelta, "late") {
		t.Error("Send() to a removed client = true")
	}
}

func TestRunWithContextClosesClients(t *testing.T) {
	t.Parallel()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.RunWithContext(ctx) }()

	c := testClient(hub, 1, "alice", 1)
	if err := c.Register(context.Background()); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	if _, ok := <-c.send; ok {
		t.Error("send buffer should be closed")
	}
	if hub.GetClientCount() != 0 {
		t.Error("clients left after shutdown")
	}

	// Registration without a running hub gives up with the context.
	short, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	late := NewClient(hub, nil, "bob")
	if err := late.Register(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Register() = %v", err)
	}
}

func TestShutdownReason(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if got := getShutdownReason(canceled); got != ShutdownReasonContextCanceled {
		t.Errorf("canceled = %s", got)
	}

	expired, stop := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer stop()
	if got := getShutdownReason(expired); got != ShutdownReasonContextDeadline {
		t.Errorf("deadline = %s", got)
	}
}
