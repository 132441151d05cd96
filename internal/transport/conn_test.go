package transport

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/engsudal909/sapience-1-sub012/internal/domain"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// deadURL points at a port nothing listens on.
const deadURL = "ws://127.0.0.1:1/ws"

// newWSServer runs handler for every accepted websocket connection and
// returns the ws:// URL.
func newWSServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// recvServer forwards every text frame it reads to out.
func recvServer(t *testing.T, out chan<- string) string {
	return newWSServer(t, func(ws *websocket.Conn) {
		for {
			_, frame, err := ws.ReadMessage()
			if err != nil {
				return
			}
			out <- string(frame)
		}
	})
}

func fastConfig(url string) Config {
	return Config{
		URL:            url,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestQueuedFramesFlushInOrder(t *testing.T) {
	received := make(chan string, 16)
	url := recvServer(t, received)

	// Dial a dead endpoint first so frames queue.
	c := Dial(fastConfig(deadURL))
	defer c.Close()

	for _, frame := range []string{"one", "two", "three"} {
		if err := c.Send([]byte(frame)); err != nil {
			t.Fatalf("Send(%s): %v", frame, err)
		}
	}

	// Retarget to the live server; the queue must flush oldest first.
	c.SetURL(url)

	for _, want := range []string{"one", "two", "three"} {
		select {
		case got := <-received:
			if got != want {
				t.Fatalf("received %q, want %q", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestSendWhileOpen(t *testing.T) {
	received := make(chan string, 16)
	url := recvServer(t, received)

	c := Dial(fastConfig(url))
	defer c.Close()

	opened := make(chan struct{}, 1)
	c.OnOpen(func() {
		select {
		case opened <- struct{}{}:
		default:
		}
	})
	waitFor(t, opened, "open")

	if err := c.Send([]byte("live")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case got := <-received:
		if got != "live" {
			t.Errorf("received %q, want %q", got, "live")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("frame never arrived")
	}
	if got := c.State(); got != StateOpen {
		t.Errorf("State = %s, want open", got)
	}
}

func TestQueueLimit(t *testing.T) {
	cfg := fastConfig(deadURL)
	cfg.QueueLimit = 2
	c := Dial(cfg)
	defer c.Close()

	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := c.Send([]byte("b")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := c.Send([]byte("c")); !errors.Is(err, domain.ErrQueueFull) {
		t.Errorf("Send over limit err = %v, want ErrQueueFull", err)
	}
}

func TestCloseDisposes(t *testing.T) {
	c := Dial(fastConfig(deadURL))

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Idempotent.
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := c.Send([]byte("x")); !errors.Is(err, domain.ErrConnClosed) {
		t.Errorf("Send after Close err = %v, want ErrConnClosed", err)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("State after Close = %s, want disconnected", got)
	}
}

func TestListenerDisposal(t *testing.T) {
	serverSend := make(chan string, 1)
	t.Cleanup(func() { close(serverSend) })
	url := newWSServer(t, func(ws *websocket.Conn) {
		for frame := range serverSend {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
	})

	c := Dial(fastConfig(url))
	defer c.Close()

	var disposedGot []string
	dispose := c.OnMessage(func(frame []byte) {
		disposedGot = append(disposedGot, string(frame))
	})
	kept := make(chan string, 1)
	c.OnMessage(func(frame []byte) {
		kept <- string(frame)
	})

	opened := make(chan struct{}, 1)
	c.OnOpen(func() {
		select {
		case opened <- struct{}{}:
		default:
		}
	})
	waitFor(t, opened, "open")

	dispose()
	serverSend <- "after-dispose"

	select {
	case got := <-kept:
		if got != "after-dispose" {
			t.Fatalf("kept listener got %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("kept listener never fired")
	}
	if len(disposedGot) != 0 {
		t.Errorf("disposed listener fired: %v", disposedGot)
	}
}

func TestInterruptedFlushKeepsRemainderAheadOfRequeues(t *testing.T) {
	c := Dial(fastConfig(deadURL))
	defer c.Close()

	// A send that raced the dying socket has already requeued its frame.
	c.requeueFront([]byte("racer"))

	// The flush sent frame one and died; two and three were never written.
	c.restorePending([][]byte{[]byte("two"), []byte("three")})

	c.mu.Lock()
	got := make([]string, 0, len(c.queue))
	for _, frame := range c.queue {
		got = append(got, string(frame))
	}
	c.mu.Unlock()

	want := []string{"two", "three", "racer"}
	if len(got) != len(want) {
		t.Fatalf("queue = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("queue[%d] = %q, want %q (full queue %v)", i, got[i], want[i], got)
		}
	}
}

func TestRestorePendingAfterClose(t *testing.T) {
	c := Dial(fastConfig(deadURL))
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c.restorePending([][]byte{[]byte("late")})

	c.mu.Lock()
	n := len(c.queue)
	c.mu.Unlock()
	if n != 0 {
		t.Errorf("queue holds %d frames after Close, want 0", n)
	}
}

func TestStaleConnectionReconnects(t *testing.T) {
	// A server that upgrades but never reads: pings go unanswered, so the
	// connection must be declared stale and replaced.
	url := newWSServer(t, func(ws *websocket.Conn) {
		time.Sleep(10 * time.Second)
	})

	cfg := fastConfig(url)
	cfg.HeartbeatInterval = 30 * time.Millisecond
	cfg.StaleAfter = 50 * time.Millisecond
	c := Dial(cfg)
	defer c.Close()

	opens := make(chan struct{}, 8)
	c.OnOpen(func() {
		select {
		case opens <- struct{}{}:
		default:
		}
	})
	closes := make(chan struct{}, 8)
	c.OnClose(func(error) {
		select {
		case closes <- struct{}{}:
		default:
		}
	})

	waitFor(t, opens, "first open")
	waitFor(t, closes, "stale close")
	waitFor(t, opens, "reconnect")
}
