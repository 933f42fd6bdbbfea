// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: other_examples joaobrasildev/poc-connection-pooling-for-
// some-rds's tds-pinning.go `InspectPacket`/`InspectResponse` pin-state
// bookkeeping (a proxy watching someone else's wire traffic for BEGIN/
// COMMIT/ROLLBACK to decide whether a connection must stay pinned),
// reworked here into a manager that drives its own parsed ENVCHANGE
// tokens directly rather than sniffing a passthrough stream, per spec
// §4.7.
package txn

import (
	"context"
	"fmt"
	"sync"

	"github.com/hugr-lab/mssql-extension/internal/connstate"
	"github.com/hugr-lab/mssql-extension/internal/encoding"
	"github.com/hugr-lab/mssql-extension/internal/pool"
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

// State is a Transaction's lifecycle stage.
type State int

const (
	Pending State = iota
	Active
	Committed
	RolledBack
	Abandoned
)

// Manager owns the transactions for one attached database.
type Manager struct {
	pool   *pool.Pool
	logger Logger

	mu               sync.Mutex
	savepointCounter int
}

// NewManager returns a [Manager] drawing connections from p.
func NewManager(p *pool.Pool, logger Logger) *Manager {
	if logger == nil {
		logger = discardLogger{}
	}
	return &Manager{pool: p, logger: logger}
}

// Begin creates a Transaction in Pending state. No pool connection is
// acquired and no server-side transaction starts until the first
// operation calls [Transaction.Connection].
func (m *Manager) Begin() *Transaction {
	return &Transaction{mgr: m, state: Pending}
}

// Transaction is a host-engine-visible unit of work that lazily acquires
// and pins a pool connection on first use.
type Transaction struct {
	mgr  *Manager
	mu   sync.Mutex
	state State
	conn *connstate.Connection
	descriptor *uint64
}

// State returns the transaction's current lifecycle stage.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connection returns the pinned connection for this transaction,
// acquiring one from the pool and sending BEGIN TRANSACTION on first
// call. All DML and scan operations performed inside a transaction must
// use this instead of the pool's Acquire/Release.
func (t *Transaction) Connection(ctx context.Context) (*connstate.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case Active:
		return t.conn, nil
	case Pending:
		// fall through to acquire below
	default:
		return nil, fmt.Errorf("txn: transaction is %v, not usable", t.state)
	}

	conn, err := t.mgr.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("txn: acquiring connection: %w", err)
	}
	t.mgr.pool.Pin(conn)

	desc, err := runBeginTransaction(ctx, conn)
	if err != nil {
		t.mgr.pool.Unpin(ctx, conn)
		return nil, fmt.Errorf("txn: BEGIN TRANSACTION: %w", err)
	}
	conn.TransactionDescriptor = desc
	t.conn = conn
	t.descriptor = desc
	t.state = Active
	return conn, nil
}

// Commit sends COMMIT TRANSACTION, verifies @@TRANCOUNT is back to zero,
// resets and releases the connection, and moves the transaction to
// Committed. A Pending transaction (no operation ever ran) commits
// trivially.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Pending {
		t.state = Committed
		return nil
	}
	if t.state != Active {
		return fmt.Errorf("txn: cannot commit transaction in state %v", t.state)
	}

	if err := runControlStatement(ctx, t.conn, "COMMIT TRANSACTION"); err != nil {
		t.mgr.pool.Unpin(ctx, t.conn)
		t.state = Abandoned
		return fmt.Errorf("txn: COMMIT TRANSACTION: %w", err)
	}
	count, err := runScalarIntQuery(ctx, t.conn, "SELECT @@TRANCOUNT")
	if err != nil || count != 0 {
		t.mgr.logger.Info("txnCommitTrancountNonzero", "count", count, "err", err)
	}
	t.conn.TransactionDescriptor = nil
	t.mgr.pool.Unpin(ctx, t.conn)
	t.state = Committed
	t.conn = nil
	return nil
}

// Rollback sends ROLLBACK TRANSACTION. If @@TRANCOUNT is not zero
// afterward, the connection is closed rather than returned to the pool
// (spec §4.7/§9): a nested-transaction ambiguity the driver cannot safely
// resolve, so the safest action is to discard the connection.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Pending {
		t.state = RolledBack
		return nil
	}
	if t.state != Active {
		return fmt.Errorf("txn: cannot roll back transaction in state %v", t.state)
	}

	rollbackErr := runControlStatement(ctx, t.conn, "ROLLBACK TRANSACTION")
	if rollbackErr != nil {
		t.conn.MarkDirty()
		t.mgr.pool.Unpin(ctx, t.conn)
		t.state = RolledBack
		t.conn = nil
		return fmt.Errorf("txn: ROLLBACK TRANSACTION: %w", rollbackErr)
	}
	count, err := runScalarIntQuery(ctx, t.conn, "SELECT @@TRANCOUNT")
	if err != nil || count != 0 {
		t.mgr.logger.Info("txnRollbackTrancountNonzero", "count", count, "err", err)
		t.conn.MarkDirty()
		t.mgr.pool.Unpin(ctx, t.conn)
	} else {
		t.conn.TransactionDescriptor = nil
		t.mgr.pool.Unpin(ctx, t.conn)
	}
	t.state = RolledBack
	t.conn = nil
	return nil
}

// Abandon is called when a Transaction is destroyed without an explicit
// Commit/Rollback. It best-effort rolls back; if that fails the
// connection is closed rather than returned.
func (t *Transaction) Abandon(ctx context.Context) {
	t.mu.Lock()
	if t.state != Active {
		t.mu.Unlock()
		return
	}
	conn := t.conn
	t.mu.Unlock()

	if err := runControlStatement(ctx, conn, "ROLLBACK TRANSACTION"); err != nil {
		conn.MarkDirty()
		t.mgr.pool.Unpin(ctx, conn)
	} else {
		conn.TransactionDescriptor = nil
		t.mgr.pool.Unpin(ctx, conn)
	}
	t.mu.Lock()
	t.state = Abandoned
	t.conn = nil
	t.mu.Unlock()
}

// Savepoint issues SAVE TRANSACTION with a deterministically generated
// name and returns it for a later partial rollback.
func (t *Transaction) Savepoint(ctx context.Context) (string, error) {
	conn, err := t.Connection(ctx)
	if err != nil {
		return "", err
	}
	t.mgr.mu.Lock()
	t.mgr.savepointCounter++
	name := fmt.Sprintf("sp_%d", t.mgr.savepointCounter)
	t.mgr.mu.Unlock()

	if err := runControlStatement(ctx, conn, "SAVE TRANSACTION "+name); err != nil {
		return "", fmt.Errorf("txn: SAVE TRANSACTION: %w", err)
	}
	return name, nil
}

func runBeginTransaction(ctx context.Context, conn *connstate.Connection) (*uint64, error) {
	utf16, err := encoding.EncodeUTF16LE("BEGIN TRANSACTION")
	if err != nil {
		return nil, err
	}
	if err := conn.Stream.WriteMessage(ctx, wire.PacketSQLBatch, utf16); err != nil {
		return nil, fmt.Errorf("txn: sending batch: %w", err)
	}
	mr := wire.NewMessageReader(conn.Stream)
	p := token.NewParser(mr)
	var descriptor *uint64
	for {
		tok, err := p.Next()
		if err != nil {
			return nil, fmt.Errorf("txn: reading response: %w", err)
		}
		switch tok.Tag {
		case token.TagEnvChange:
			if tok.EnvChange.Type == token.EnvTypBeginTran {
				if d, err := tok.EnvChange.TransactionDescriptor(); err == nil {
					descriptor = &d
				}
			}
		case token.TagError:
			if tok.Error.IsFailure() {
				return nil, fmt.Errorf("%s", tok.Error.Message)
			}
		case token.TagDone, token.TagDoneProc, token.TagDoneInProc:
			if tok.Done.IsFinal() {
				return descriptor, nil
			}
		}
	}
}

func runControlStatement(ctx context.Context, conn *connstate.Connection, sql string) error {
	utf16, err := encoding.EncodeUTF16LE(sql)
	if err != nil {
		return err
	}
	if err := conn.Stream.WriteMessage(ctx, wire.PacketSQLBatch, utf16); err != nil {
		return fmt.Errorf("txn: sending batch: %w", err)
	}
	mr := wire.NewMessageReader(conn.Stream)
	p := token.NewParser(mr)
	for {
		tok, err := p.Next()
		if err != nil {
			return fmt.Errorf("txn: reading response: %w", err)
		}
		switch tok.Tag {
		case token.TagError:
			if tok.Error.IsFailure() {
				return fmt.Errorf("%s", tok.Error.Message)
			}
		case token.TagDone, token.TagDoneProc, token.TagDoneInProc:
			if tok.Done.IsFinal() {
				return nil
			}
		}
	}
}

func runScalarIntQuery(ctx context.Context, conn *connstate.Connection, sql string) (int64, error) {
	utf16, err := encoding.EncodeUTF16LE(sql)
	if err != nil {
		return 0, err
	}
	if err := conn.Stream.WriteMessage(ctx, wire.PacketSQLBatch, utf16); err != nil {
		return 0, fmt.Errorf("txn: sending batch: %w", err)
	}
	mr := wire.NewMessageReader(conn.Stream)
	p := token.NewParser(mr)
	var result int64
	for {
		tok, err := p.Next()
		if err != nil {
			return 0, fmt.Errorf("txn: reading response: %w", err)
		}
		switch tok.Tag {
		case token.TagRow:
			if len(tok.Row) > 0 && !tok.Row[0].Null {
				switch v := tok.Row[0].Data.(type) {
				case int64:
					result = v
				case int32:
					result = int64(v)
				case int16:
					result = int64(v)
				case []byte:
					// raw little-endian integer, as the parser delivers it
					var u uint64
					for i := len(v) - 1; i >= 0; i-- {
						u = u<<8 | uint64(v[i])
					}
					result = int64(u)
				}
			}
		case token.TagError:
			if tok.Error.IsFailure() {
				return 0, fmt.Errorf("%s", tok.Error.Message)
			}
		case token.TagDone, token.TagDoneProc, token.TagDoneInProc:
			if tok.Done.IsFinal() {
				return result, nil
			}
		}
	}
}
