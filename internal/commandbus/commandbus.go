// Package commandbus implements the narrow command-bus interface the dialog
// engine uses to dispatch local intents, on top of NATS request-reply.
package commandbus

import (
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// StatusOK is the status value meaning the RPC succeeded.
const StatusOK = 0

// StatusFailed is returned for any transport error, timeout, or exhausted
// retry budget.
const StatusFailed = 1

// Bus sends method/body RPCs over a NATS connection and waits for a single
// reply, matching the command-bus contract:
// send(method, body, timeout_ms, retries) -> (reply, status).
type Bus struct {
	nc     *nats.Conn
	logger *log.Logger
}

// Connect dials the NATS server at url. logger receives a line for each
// failed attempt inside Send; pass a discard logger to silence it.
func Connect(url string, logger *log.Logger) (*Bus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Bus{nc: nc, logger: logger}, nil
}

// Close closes the underlying connection without draining pending messages.
func (b *Bus) Close() {
	b.nc.Close()
}

// Send issues a request on subject method, retrying up to retries additional
// times (so retries=1 means at most 2 attempts total) on any transport
// error or timeout. Each attempt gets its own timeout budget. Returns
// (reply, StatusOK) on success, ("", StatusFailed) otherwise.
func (b *Bus) Send(method, body string, timeout time.Duration, retries int) (string, int) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		msg, err := b.nc.Request(method, []byte(body), timeout)
		if err == nil {
			return string(msg.Data), StatusOK
		}
		lastErr = err
		if b.logger != nil {
			b.logger.Printf("[commandbus] %s attempt %d/%d failed: %v", method, attempt+1, retries+1, err)
		}
	}
	if b.logger != nil {
		b.logger.Printf("[commandbus] %s exhausted retries: %v", method, lastErr)
	}
	return "", StatusFailed
}
