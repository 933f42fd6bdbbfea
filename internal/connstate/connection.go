// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: bassosimone/nop's connect.go Dialer abstraction and
// two-level structured logging convention, generalized here from a
// single dial+TLS pipeline into the full Connect→Authenticate→Idle
// sequence a TDS connection drives through [handshake.Do].

package connstate

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hugr-lab/mssql-extension/internal/handshake"
	"github.com/hugr-lab/mssql-extension/internal/wire"
)

// Logger is the subset of mssql.SLogger this package depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}

// Connection wraps one TDS wire connection with its lifecycle state, the
// transaction descriptor it carries while pinned to a BEGIN TRANSACTION
// (spec §4.5/§4.7), and the timestamps the pool's idle sweep consults.
type Connection struct {
	mu    sync.Mutex
	state State

	Stream *wire.Stream

	// TransactionDescriptor is non-nil while an ENVCHANGE BEGIN_TRANS has
	// been observed and no matching COMMIT/ROLLBACK has cleared it.
	TransactionDescriptor *uint64

	// Pinned reports whether this connection is held by a transaction
	// manager and must bypass the pool for all further operations.
	Pinned bool

	CreatedAt  time.Time
	LastUsedAt time.Time

	logger Logger
}

// Params bundles the dial target and handshake configuration for
// [Connect].
type Params struct {
	Network    string
	Address    string
	PacketSize int
	TLSConfig  *tls.Config
	Encrypt    bool
	FedAuth    bool
	Hostname   string
	AppName    string
	ServerName string
	Database   string
	Language   string
	Logger     Logger
}

// Dialer is the narrow net.Conn-opening capability this package needs; it
// mirrors the root package's Dialer interface structurally so a
// mssql.Config.Dialer value satisfies it without internal/connstate
// importing the root package (which would create an import cycle, since
// the root package imports internal/connstate).
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Connect dials address, runs the PRELOGIN/TLS/LOGIN7 handshake via
// strategy, and returns an [Idle]-state [Connection] on success. On any
// failure after the socket is open, the socket is closed before
// returning.
func Connect(ctx context.Context, dialer Dialer, strategy handshake.Strategy, p Params) (*Connection, error) {
	logger := p.Logger
	if logger == nil {
		logger = discardLogger{}
	}

	c := &Connection{state: Disconnected, logger: logger, CreatedAt: time.Now(), LastUsedAt: time.Now()}
	if err := c.transition(Connecting); err != nil {
		return nil, err
	}

	network := p.Network
	if network == "" {
		network = "tcp"
	}
	conn, err := dialer.DialContext(ctx, network, p.Address)
	if err != nil {
		c.forceDirty()
		return nil, fmt.Errorf("connstate: dialing %s: %w", p.Address, err)
	}

	packetSize := p.PacketSize
	if packetSize <= wire.HeaderSize {
		packetSize = wire.DefaultPacketSize
	}
	c.Stream = wire.NewStream(conn, packetSize, toWireLogger(logger))

	if err := c.transition(Authenticating); err != nil {
		conn.Close()
		return nil, err
	}

	result, err := handshake.Do(ctx, c.Stream, strategy, handshake.Params{
		Hostname:          p.Hostname,
		AppName:           p.AppName,
		ServerName:        p.ServerName,
		Database:          p.Database,
		Language:          p.Language,
		PacketSize:        uint32(packetSize),
		TLSConfig:         p.TLSConfig,
		RequireEncryption: p.Encrypt,
		RequireFedAuth:    p.FedAuth,
		Logger:            logger,
	})
	if err != nil {
		c.forceDirty()
		conn.Close()
		return nil, err
	}

	c.TransactionDescriptor = result.TransactionDescriptor
	if err := c.transition(Idle); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Info("connected", "address", p.Address)
	return c, nil
}

// State returns the connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transition attempts to move the connection to 'to', returning an error
// if the edge is not permitted by the state machine.
func (c *Connection) Transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(to)
}

func (c *Connection) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(to)
}

func (c *Connection) transitionLocked(to State) error {
	if err := Validate(c.state, to); err != nil {
		return err
	}
	c.logger.Debug("stateTransition", "from", c.state.String(), "to", to.String())
	c.state = to
	return nil
}

// MarkDirty forces the connection into the terminal [Dirty] state,
// regardless of its current state, per spec §4.5's "Any → Dirty on
// protocol/framing/timeout/TLS error".
func (c *Connection) MarkDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Dirty
}

func (c *Connection) forceDirty() {
	c.mu.Lock()
	c.state = Dirty
	c.mu.Unlock()
}

// Close closes the underlying socket. It does not change the
// connection's state; callers transition to Disconnected or Dirty first.
func (c *Connection) Close() error {
	if c.Stream == nil {
		return nil
	}
	return c.Stream.Conn().Close()
}

// Touch updates LastUsedAt, called whenever the pool hands the connection
// out or receives it back.
func (c *Connection) Touch(now time.Time) {
	c.mu.Lock()
	c.LastUsedAt = now
	c.mu.Unlock()
}

type wireLoggerAdapter struct{ l Logger }

func (a wireLoggerAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a wireLoggerAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }

func toWireLogger(l Logger) wire.Logger { return wireLoggerAdapter{l} }
