package commandbus

import (
	"io"
	"log"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startEmbeddedServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(2 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestSendSuccess(t *testing.T) {
	srv := startEmbeddedServer(t)
	url := srv.ClientURL()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("nats.Connect: %v", err)
	}
	defer nc.Close()
	sub, err := nc.Subscribe("light.on", func(m *nats.Msg) {
		m.Respond([]byte("已打开"))
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	bus, err := Connect(url, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer bus.Close()

	reply, status := bus.Send("light.on", "{}", 500*time.Millisecond, 1)
	if status != StatusOK {
		t.Fatalf("status = %d, want StatusOK", status)
	}
	if reply != "已打开" {
		t.Fatalf("reply = %q, want 已打开", reply)
	}
}

func TestSendNoResponderTimesOutAsFailed(t *testing.T) {
	srv := startEmbeddedServer(t)
	url := srv.ClientURL()

	bus, err := Connect(url, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer bus.Close()

	reply, status := bus.Send("no.such.method", "{}", 100*time.Millisecond, 1)
	if status != StatusFailed {
		t.Fatalf("status = %d, want StatusFailed", status)
	}
	if reply != "" {
		t.Fatalf("reply = %q, want empty", reply)
	}
}
