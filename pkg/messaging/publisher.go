// Package messaging publishes grouped objects to NATS.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	internalnats "github.com/wehubfusion/Daedalus/internal/nats"
	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// Conn is the subset of *nats.Conn the publisher depends on, so tests can
// provide a fake without a running server.
type Conn interface {
	Publish(subj string, data []byte) error
	Buffered() (int, error)
	Flush() error
}

var _ Conn = (*nats.Conn)(nil)

// Config configures a Publisher
type Config struct {
	// Subject every object is published to
	Subject string `json:"subject"`

	// Session is the id written into every envelope. Empty generates one
	Session string `json:"session,omitempty"`

	// MaxBuffered is the outbound byte count above which the publisher
	// refuses objects until the client has written them out
	MaxBuffered int `json:"max_buffered,omitempty"`

	// FailureThreshold is the number of consecutive publish failures after
	// which the publisher stops trying for BreakerReset
	FailureThreshold int `json:"failure_threshold,omitempty"`

	BreakerReset time.Duration `json:"breaker_reset,omitempty"`
}

// DefaultConfig returns a configuration publishing to subject
func DefaultConfig(subject string) Config {
	return Config{
		Subject:          subject,
		MaxBuffered:      4 * 1024 * 1024,
		FailureThreshold: 5,
		BreakerReset:     time.Second,
	}
}

// ApplyDefaults sets default values for unset fields
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig("")
	if c.MaxBuffered == 0 {
		c.MaxBuffered = defaults.MaxBuffered
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.BreakerReset == 0 {
		c.BreakerReset = defaults.BreakerReset
	}
	if c.Session == "" {
		c.Session = uuid.New().String()
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Subject == "" {
		return fmt.Errorf("subject cannot be empty")
	}
	if strings.ContainsAny(c.Subject, "*> \t") {
		return fmt.Errorf("subject %q must not contain wildcards or whitespace", c.Subject)
	}
	if c.MaxBuffered < 0 {
		return fmt.Errorf("max_buffered cannot be negative")
	}
	if c.FailureThreshold < 0 {
		return fmt.Errorf("failure_threshold cannot be negative")
	}
	if c.BreakerReset < 0 {
		return fmt.Errorf("breaker_reset cannot be negative")
	}
	return nil
}

// Publisher is a stream consumer that publishes each object as a JSON
// envelope {"session", "seq", "object"}. It refuses objects while the
// connection's outbound buffer is above MaxBuffered or a publish fails, so
// the stream adapter retries them later in order. After FailureThreshold
// consecutive publish failures it refuses without trying until BreakerReset
// has passed.
type Publisher struct {
	conn    Conn
	cfg     Config
	logger  *zap.Logger
	breaker *breaker

	mu        sync.Mutex
	seq       int64
	dropped   int64
	lastErr   error
	published int64
}

// NewPublisher creates a publisher over conn
func NewPublisher(conn Conn, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if conn == nil {
		return nil, derrors.ErrNotConnected
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		conn:    conn,
		cfg:     cfg,
		logger:  logger.With(zap.String("subject", cfg.Subject), zap.String("session", cfg.Session)),
		breaker: newBreaker(cfg.FailureThreshold, cfg.BreakerReset),
	}, nil
}

// Offer implements stream.Consumer.
func (p *Publisher) Offer(obj any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.breaker.allow() {
		return false
	}
	buffered, err := p.conn.Buffered()
	if err != nil {
		p.lastErr = fmt.Errorf("%w: %v", derrors.ErrNotConnected, err)
		return false
	}
	if p.cfg.MaxBuffered > 0 && buffered >= p.cfg.MaxBuffered {
		return false
	}

	data, err := p.envelope(p.seq+1, obj)
	if err != nil {
		// An object that cannot be encoded never will be; keep the
		// stream moving and report it on Complete.
		p.seq++
		p.dropped++
		p.logger.Error("object not encodable", zap.Int64("seq", p.seq), zap.Error(err))
		return true
	}

	if err := p.conn.Publish(p.cfg.Subject, data); err != nil {
		p.lastErr = err
		p.logger.Warn("publish failed, will retry", zap.Int64("seq", p.seq+1), zap.Error(err))
		if p.breaker.failure() {
			p.logger.Warn("publishing paused", zap.Duration("for", p.cfg.BreakerReset))
		}
		return false
	}
	p.breaker.success()
	p.seq++
	p.published++
	p.lastErr = nil
	p.logger.Debug("object published", zap.Int64("seq", p.seq), zap.Int("bytes", len(data)))
	return true
}

// Complete implements stream.Completer. It flushes the connection and
// reports objects that could not be encoded.
func (p *Publisher) Complete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.conn.Flush(); err != nil {
		return derrors.NewError(derrors.CodePublishFailed, "flush failed", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.logger.Info("publishing finished",
		zap.Int64("published", p.published),
		zap.Int64("dropped", p.dropped))
	if p.dropped > 0 {
		return derrors.NewError(derrors.CodePublishFailed,
			fmt.Sprintf("%d objects could not be encoded", p.dropped), derrors.ErrPublishFailed)
	}
	return nil
}

// Err returns the error of the last refused publish, nil once a publish succeeds again.
func (p *Publisher) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Published returns how many objects were published.
func (p *Publisher) Published() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published
}

// BreakerState reports whether publishing is currently paused after failures.
func (p *Publisher) BreakerState() BreakerState { return p.breaker.current() }

// Session returns the id written into envelopes.
func (p *Publisher) Session() string { return p.cfg.Session }

func (p *Publisher) envelope(seq int64, obj any) ([]byte, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	data, err := sjson.SetBytes([]byte(`{}`), "session", p.cfg.Session)
	if err != nil {
		return nil, err
	}
	if data, err = sjson.SetBytes(data, "seq", seq); err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(data, "object", raw)
}

// ConnectionConfig configures Dial.
type ConnectionConfig = internalnats.ConnectionConfig

// DefaultConnectionConfig returns connection defaults for url.
func DefaultConnectionConfig(url string) *ConnectionConfig {
	return internalnats.DefaultConnectionConfig(url)
}

// Dial connects to NATS with cfg. Close the connection with Close.
func Dial(ctx context.Context, cfg *ConnectionConfig, logger *zap.Logger) (*nats.Conn, error) {
	return internalnats.Connect(ctx, cfg, logger)
}

// Close drains and closes a connection returned by Dial.
func Close(conn *nats.Conn) error {
	return internalnats.Close(conn)
}
