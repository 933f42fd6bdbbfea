// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: other_examples JeelKantaria/db-bouncer's
// internal/pool/pool.go `TenantPool` (sync.Mutex + sync.Cond idle/active
// bookkeeping, acquire-timeout-via-AfterFunc-broadcast, reaper goroutine,
// Signal-not-Broadcast on release), generalized here from a per-tenant,
// multi-db-type proxy pool to a single-catalog TDS connection pool whose
// release path runs sp_reset_connection instead of a protocol-specific
// auth replay.
package pool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugr-lab/mssql-extension/internal/connstate"
	"github.com/hugr-lab/mssql-extension/internal/handshake"
	"github.com/hugr-lab/mssql-extension/internal/token"
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

// Dialer mirrors the root package's Dialer interface structurally, to
// avoid an import cycle (see internal/connstate.Dialer for the same
// note).
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config configures one catalog's pool.
type Config struct {
	Dialer     Dialer
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
	Strategy   handshake.Strategy

	ConnectionLimit int
	MinConnections  int
	ConnectionCache bool
	ConnectTimeout  time.Duration
	IdleTimeout     time.Duration
	AcquireTimeout  time.Duration

	Logger Logger
	Now    func() time.Time
}

// Stats are the observable per-pool counters spec §4.6 requires.
type Stats struct {
	Total               int
	Idle                int
	Active              int
	Created             int64
	Closed              int64
	AcquireCount        int64
	AcquireTimeoutCount int64
	AcquireWaitTotalMs  int64
	PinnedCount         int
}

// Pool manages TDS connections for one attached catalog.
type Pool struct {
	cfg Config
	now func() time.Time

	mu     sync.Mutex
	cond   *sync.Cond
	idle   []*connstate.Connection
	active map[*connstate.Connection]struct{}
	pinned map[*connstate.Connection]struct{}
	total  int
	closed bool
	stopCh chan struct{}

	created             atomic.Int64
	closedCount         atomic.Int64
	acquireCount        atomic.Int64
	acquireTimeoutCount atomic.Int64
	acquireWaitTotalMs  atomic.Int64
}

// New constructs a [Pool] and starts its background idle-sweep goroutine.
// If cfg.MinConnections > 0 it also warms the pool in the background.
func New(cfg Config) *Pool {
	if cfg.ConnectionLimit < 1 {
		cfg.ConnectionLimit = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	p := &Pool{
		cfg:    cfg,
		now:    now,
		active: make(map[*connstate.Connection]struct{}),
		pinned: make(map[*connstate.Connection]struct{}),
		stopCh: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.reapLoop()
	if cfg.MinConnections > 0 {
		go p.warmUp()
	}
	return p
}

func (p *Pool) warmUp() {
	for i := 0; i < p.cfg.MinConnections; i++ {
		p.mu.Lock()
		if p.closed || p.total >= p.cfg.MinConnections {
			p.mu.Unlock()
			return
		}
		p.total++
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout)
		conn, err := p.dial(ctx)
		cancel()
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			p.cfg.Logger.Info("poolWarmupFailed", "err", err)
			return
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.idle = append(p.idle, conn)
		p.mu.Unlock()
	}
}

func (p *Pool) dial(ctx context.Context) (*connstate.Connection, error) {
	conn, err := connstate.Connect(ctx, p.cfg.Dialer, p.cfg.Strategy, connstate.Params{
		Address:    p.cfg.Address,
		PacketSize: p.cfg.PacketSize,
		TLSConfig:  p.cfg.TLSConfig,
		Encrypt:    p.cfg.Encrypt,
		FedAuth:    p.cfg.FedAuth,
		Hostname:   p.cfg.Hostname,
		AppName:    p.cfg.AppName,
		ServerName: p.cfg.ServerName,
		Database:   p.cfg.Database,
		Language:   p.cfg.Language,
		Logger:     p.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	p.created.Add(1)
	return conn, nil
}

// Acquire returns an Idle connection, preferring an idle cached one, then
// dialing a new one under the connection limit, then waiting for a
// release until timeout.
func (p *Pool) Acquire(ctx context.Context) (*connstate.Connection, error) {
	p.acquireCount.Add(1)
	start := p.now()
	deadline := start.Add(p.cfg.AcquireTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	p.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}
		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: closed")
		}

		for len(p.idle) > 0 {
			c := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			p.active[c] = struct{}{}
			p.mu.Unlock()
			c.Touch(p.now())
			p.acquireWaitTotalMs.Add(p.now().Sub(start).Milliseconds())
			return c, nil
		}

		if p.total < p.cfg.ConnectionLimit {
			p.total++
			p.mu.Unlock()
			c, err := p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, fmt.Errorf("pool: dialing: %w", err)
			}
			p.mu.Lock()
			p.active[c] = struct{}{}
			p.mu.Unlock()
			p.acquireWaitTotalMs.Add(p.now().Sub(start).Milliseconds())
			return c, nil
		}

		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			p.acquireTimeoutCount.Add(1)
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: acquire timeout after %s", p.cfg.AcquireTimeout)
		}
		timer := time.AfterFunc(remaining, func() { p.cond.Broadcast() })
		p.cond.Wait()
		timer.Stop()
		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: closing")
		}
	}
}

// Release returns conn to the idle set, or closes it if it is Dirty,
// caching is disabled, or resetting its session state fails.
func (p *Pool) Release(ctx context.Context, conn *connstate.Connection) {
	p.mu.Lock()
	delete(p.active, conn)
	delete(p.pinned, conn)
	p.mu.Unlock()

	if conn.State() == connstate.Dirty || !p.cfg.ConnectionCache {
		p.closeAndAccount(conn)
		return
	}
	if err := resetConnection(ctx, conn); err != nil {
		p.cfg.Logger.Info("poolResetFailed", "err", err)
		conn.MarkDirty()
		p.closeAndAccount(conn)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.closeAndAccount(conn)
		return
	}
	p.idle = append(p.idle, conn)
	p.cond.Signal()
	p.mu.Unlock()
}

func (p *Pool) closeAndAccount(conn *connstate.Connection) {
	conn.Close()
	p.closedCount.Add(1)
	p.mu.Lock()
	p.total--
	p.cond.Signal()
	p.mu.Unlock()
}

// Pin marks conn as bypassing the pool's idle/active bookkeeping while a
// transaction holds it exclusively (spec §4.7); Unpin is the release path
// equivalent for a pinned connection, identical to Release.
func (p *Pool) Pin(conn *connstate.Connection) {
	p.mu.Lock()
	delete(p.active, conn)
	p.pinned[conn] = struct{}{}
	p.mu.Unlock()
}

func (p *Pool) Unpin(ctx context.Context, conn *connstate.Connection) {
	p.Release(ctx, conn)
}

// Stats returns a snapshot of the pool's observable counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	idle, active, pinned, total := len(p.idle), len(p.active), len(p.pinned), p.total
	p.mu.Unlock()
	return Stats{
		Total:               total,
		Idle:                idle,
		Active:              active,
		Created:             p.created.Load(),
		Closed:              p.closedCount.Load(),
		AcquireCount:        p.acquireCount.Load(),
		AcquireTimeoutCount: p.acquireTimeoutCount.Load(),
		AcquireWaitTotalMs:  p.acquireWaitTotalMs.Load(),
		PinnedCount:         pinned,
	}
}

// Close stops the background sweeper and closes every idle connection;
// active connections are closed as they are returned via Release.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	close(p.stopCh)
	p.cond.Broadcast()
	for _, c := range idle {
		c.Close()
		p.closedCount.Add(1)
	}
}

func (p *Pool) reapLoop() {
	interval := p.cfg.IdleTimeout / 4
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweepIdle()
		}
	}
}

func (p *Pool) sweepIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.IdleTimeout <= 0 {
		return
	}
	keep := p.idle[:0]
	var expired []*connstate.Connection
	now := p.now()
	for _, c := range p.idle {
		if p.total-len(expired) <= p.cfg.MinConnections {
			keep = append(keep, c)
			continue
		}
		if now.Sub(c.LastUsedAt) > p.cfg.IdleTimeout {
			expired = append(expired, c)
		} else {
			keep = append(keep, c)
		}
	}
	p.idle = keep
	p.total -= len(expired)
	go func() {
		for _, c := range expired {
			c.Close()
			p.closedCount.Add(1)
		}
	}()
}

// resetConnection executes sp_reset_connection on conn to clear session
// state (temp tables, SET options, @@TRANCOUNT) before it re-enters the
// idle set, per spec §4.6.
func resetConnection(ctx context.Context, conn *connstate.Connection) error {
	const sql = "sp_reset_connection"
	utf16, err := encodeBatchText(sql)
	if err != nil {
		return err
	}
	if err := conn.Stream.WriteMessage(ctx, wire.PacketSQLBatch, utf16); err != nil {
		return fmt.Errorf("pool: sending reset batch: %w", err)
	}
	mr := wire.NewMessageReader(conn.Stream)
	parser := token.NewParser(mr)
	for {
		tok, err := parser.Next()
		if err != nil {
			return fmt.Errorf("pool: draining reset response: %w", err)
		}
		switch tok.Tag {
		case token.TagError:
			if tok.Error.IsFailure() {
				return fmt.Errorf("pool: sp_reset_connection failed: %s", tok.Error.Message)
			}
		case token.TagDone, token.TagDoneProc, token.TagDoneInProc:
			if tok.Done.IsFinal() {
				return nil
			}
		}
	}
}
