package stream

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SSEClient streams Server-Sent Events over an HTTP response writer.
type SSEClient struct {
	mu       sync.Mutex
	writer   io.Writer
	flusher  http.Flusher
	deadline func(time.Time) error
	log      zerolog.Logger
	closed   bool
	done     chan struct{}
	last     time.Time
}

// NewSSEClient wraps writer. When writer is an http.ResponseWriter every write is bounded by writeWait.
func NewSSEClient(writer io.Writer, flusher http.Flusher, log zerolog.Logger) *SSEClient {
	c := &SSEClient{writer: writer, flusher: flusher, log: log, done: make(chan struct{}), last: time.Now().UTC()}
	if rw, ok := writer.(http.ResponseWriter); ok {
		c.deadline = http.NewResponseController(rw).SetWriteDeadline
	}
	return c
}

func (c *SSEClient) setDeadline() {
	if c.deadline != nil {
		// unsupported writers return an error and keep writing without a deadline
		_ = c.deadline(time.Now().Add(writeWait))
	}
}

// Send emits a data event to the SSE stream.
func (c *SSEClient) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	c.setDeadline()
	if _, err := fmt.Fprintf(c.writer, "data: %s\n\n", payload); err != nil {
		c.closeLocked()
		c.log.Warn().Err(err).Msg("sse send failed")
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Heartbeat emits a comment frame to keep the connection alive.
func (c *SSEClient) Heartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.EOF
	}
	c.setDeadline()
	if _, err := fmt.Fprint(c.writer, ": ping\n\n"); err != nil {
		c.closeLocked()
		c.log.Warn().Err(err).Msg("sse heartbeat failed")
		return err
	}
	c.flusher.Flush()
	c.last = time.Now().UTC()
	return nil
}

// Close stops the stream. It waits for a write in progress, so nothing is written after it returns.
func (c *SSEClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *SSEClient) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// Done is closed once the client stops accepting messages.
func (c *SSEClient) Done() <-chan struct{} {
	return c.done
}

func (c *SSEClient) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
