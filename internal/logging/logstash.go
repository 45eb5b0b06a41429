package logging

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

var errCoolingDown = errors.New("logstash: waiting before reconnect")

// LogstashWriter forwards log lines to a Logstash TCP input over one kept-alive
// connection. Writes never fail or block for long: while Logstash is
// unreachable lines are dropped and a reconnect is attempted after a
// cool-down.
type LogstashWriter struct {
	addr         string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	cooldown     time.Duration
	dial         func(network, addr string, timeout time.Duration) (net.Conn, error)

	mu      sync.Mutex
	conn    net.Conn
	retryAt time.Time
	closed  bool
	dropped int64
}

// LogstashOption configures a LogstashWriter.
type LogstashOption func(*LogstashWriter)

// WithTimeouts overrides the dial and write timeouts (defaults 2s and 1s).
func WithTimeouts(dial, write time.Duration) LogstashOption {
	return func(w *LogstashWriter) {
		w.dialTimeout = dial
		w.writeTimeout = write
	}
}

// WithCooldown overrides the wait after a failed connect or write (default 5s).
func WithCooldown(d time.Duration) LogstashOption {
	return func(w *LogstashWriter) {
		w.cooldown = d
	}
}

// NewLogstashWriter returns a writer for the Logstash TCP input at addr.
// It is safe for concurrent use.
func NewLogstashWriter(addr string, opts ...LogstashOption) (*LogstashWriter, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("logstash: empty address")
	}

	w := &LogstashWriter{
		addr:         addr,
		dialTimeout:  2 * time.Second,
		writeTimeout: time.Second,
		cooldown:     5 * time.Second,
		dial:         net.DialTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Write implements io.Writer. It always reports the full length as written
// unless the writer is closed.
func (w *LogstashWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	line := make([]byte, len(p), len(p)+1)
	copy(line, p)
	if line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, io.ErrClosedPipe
	}
	if err := w.connectLocked(); err != nil {
		w.dropped++
		return len(p), nil
	}

	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	if _, err := w.conn.Write(line); err != nil {
		w.dropped++
		_ = w.conn.Close()
		w.conn = nil
		w.retryAt = time.Now().Add(w.cooldown)
	}
	return len(p), nil
}

// Dropped returns how many lines were discarded while Logstash was unreachable.
func (w *LogstashWriter) Dropped() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Close tears down the connection. Later writes return io.ErrClosedPipe.
func (w *LogstashWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

func (w *LogstashWriter) connectLocked() error {
	if w.conn != nil {
		return nil
	}
	if !w.retryAt.IsZero() && time.Now().Before(w.retryAt) {
		return errCoolingDown
	}

	conn, err := w.dial("tcp", w.addr, w.dialTimeout)
	if err != nil {
		w.retryAt = time.Now().Add(w.cooldown)
		return err
	}
	w.conn = conn
	w.retryAt = time.Time{}
	return nil
}
