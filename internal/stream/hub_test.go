package stream

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func receive(t *testing.T, c *Client) string {
	t.Helper()
	select {
	case msg := <-c.Send:
		return string(msg)
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for message")
		return ""
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("session-1")
	defer hub.Unregister(client)
	other := hub.Register("session-2")
	defer hub.Unregister(other)

	hub.Broadcast("session-1", []byte("hello"))
	if got := receive(t, client); got != "hello" {
		t.Fatalf("unexpected message %q", got)
	}
	select {
	case <-other.Send:
		t.Fatalf("broadcast leaked to another session")
	default:
	}
}

func TestHubHelpers(t *testing.T) {
	ch := redisChannel("abc")
	if ch != "tracking:abc:broadcast" {
		t.Fatalf("unexpected channel %q", ch)
	}
	if sessionIDFromChannel(ch) != "abc" {
		t.Fatalf("unexpected session id")
	}
	if sessionIDFromChannel("bad") != "" {
		t.Fatalf("expected empty session id")
	}
}

func TestUnregisterClosesOnce(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("session-2")
	hub.Unregister(client)
	hub.Unregister(client)
	if _, ok := <-client.Send; ok {
		t.Fatalf("expected channel closed")
	}
}

func TestHubSlowViewerDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("session-slow")
	defer hub.Unregister(client)
	for i := 0; i < cap(client.Send)+10; i++ {
		hub.Broadcast("session-slow", []byte("x"))
	}
	if len(client.Send) != cap(client.Send) {
		t.Fatalf("expected a full buffer")
	}
}

func TestHubRedisFanOut(t *testing.T) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	a := NewHub(rdb)
	defer a.Close()
	b := NewHub(rdb)
	defer b.Close()
	<-a.Ready()
	<-b.Ready()

	onA := a.Register("ref-1")
	defer a.Unregister(onA)
	onB := b.Register("ref-1")
	defer b.Unregister(onB)

	a.Broadcast("ref-1", []byte("ping"))
	if got := receive(t, onA); got != "ping" {
		t.Fatalf("local viewer got %q", got)
	}
	if got := receive(t, onB); got != "ping" {
		t.Fatalf("remote viewer got %q", got)
	}
	select {
	case <-onA.Send:
		t.Fatalf("duplicate delivery")
	case <-time.After(50 * time.Millisecond):
	}

	if err := rdb.Publish(context.Background(), "tracking:ref-1:broadcast", "pong").Err(); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	if got := receive(t, onB); got != "pong" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestHubRedisPublishErrorFallsBack(t *testing.T) {
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	hub := NewHub(rdb)
	<-hub.Ready()
	client := hub.Register("session-err")
	defer hub.Unregister(client)

	_ = rdb.Close()
	hub.Broadcast("session-err", []byte("local"))
	if got := receive(t, client); got != "local" {
		t.Fatalf("expected local fallback, got %q", got)
	}
	hub.Close()
}

// silentServer accepts connections and never answers.
func silentServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return ln.Addr().String()
}

func TestHubStalledRedisDoesNotBlockBroadcast(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:                  silentServer(t),
		ContextTimeoutEnabled: true,
		MaxRetries:            -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	hub := NewHub(rdb)
	hub.publishTimeout = 50 * time.Millisecond
	client := hub.Register("session-stall")

	start := time.Now()
	hub.Broadcast("session-stall", []byte("local"))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("broadcast blocked for %v", elapsed)
	}
	if got := receive(t, client); got != "local" {
		t.Fatalf("expected local fallback, got %q", got)
	}
}
