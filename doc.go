// SPDX-License-Identifier: GPL-3.0-or-later

// Package mssql connects a local analytical query engine to a remote SQL
// Server-compatible database over the native TDS (Tabular Data Stream) wire
// protocol.
//
// # Core Abstraction
//
// This package exposes a small composition primitive:
//
//	type Func[A, B any] interface {
//		Call(ctx context.Context, input A) (B, error)
//	}
//
// [Compose2] through [Compose8] chain Funcs so a pipeline fails fast on the
// first error, closing any resource it owns before returning. The catalog's
// dialer uses it to run dial → [CancelWatchFunc] for every socket it opens.
// The handshake itself (Connect → Prelogin → (TLS) → Login7 → Idle) is a
// plain sequence of calls in internal/connstate.
//
// # Available Subsystems
//
//   - internal/wire: packet framing and the TLS tunnel negotiated inside
//     PRELOGIN/LOGIN frames
//   - internal/encoding: UTF-16LE, decimal, money, date/time, and GUID wire
//     codecs
//   - internal/token: the streaming TDS token-stream decoder
//   - internal/handshake: PRELOGIN/LOGIN7 framing and the pluggable
//     authentication strategies (password, federated-auth via provider,
//     federated-auth via pre-provided token)
//   - internal/connstate: the connection state machine
//   - internal/pool: the bounded per-catalog connection pool
//   - internal/txn: the per-attached-database transaction manager
//   - internal/metadata: the three-level lazy schema/table/column cache
//   - internal/resultstream: the token-stream-to-columnar-chunk pipeline
//   - internal/pushdown: the predicate and expression pushdown translator
//   - internal/writer: the bulk INSERT/UPDATE/DELETE/CTAS batch builders
//   - internal/typemap: bidirectional host-type ⇄ SQL Server-type mapping
//
// # Connection Lifecycle
//
// [Open] creates a [Catalog] bound to one attached database. Scans and DML
// acquire a connection from the catalog's pool (or reuse a pinned one inside
// an active transaction) and release it back on completion; a connection
// observed in the Dirty state is always closed, never returned to the pool.
//
// # Observability
//
// All subsystems support structured logging via [SLogger] (compatible with
// [log/slog]). By default, logging is disabled. Set [Config.Logger] to
// enable it. Error classification is configurable via [ErrClassifier]; the
// default delegates to internal/errclass, which classifies timeouts, EOF,
// and OS-level socket errors. errclass also defines labels for
// TDS-specific classes (dirty connection, protocol violation, server
// error), but its classifier never returns them.
//
// Subsystems emit two kinds of structured log events:
//
//   - Span events (*Start/*Done pairs): operation lifecycle, timing, and
//     success/failure, used for latency analysis.
//
//   - Wire observations (packetSent/packetRecv, token decode events):
//     protocol-level detail for debugging.
//
// All events share localAddr, remoteAddr, protocol, and t (timestamp).
// Completion events additionally include t0, err, and errClass. I/O-level
// events (packet read/write, per-token decode) are emitted at
// [slog.LevelDebug]; all other events use [slog.LevelInfo].
//
// Use [NewSpanID] to generate a unique, time-ordered identifier (UUIDv7) for
// each connection lifecycle, scan, or batch, then attach it to the logger
// with [*slog.Logger.With] so related log entries share a spanID.
//
// # Timeout and Context Philosophy
//
// This package is context-transparent: operations never modify the context
// they receive. The caller controls timeouts externally via
// [context.WithTimeout] or [context.WithDeadline]. [CancelWatchFunc] binds a
// connection's lifetime to a context so that cancelling the context closes
// the connection instead of waiting for blocking I/O to time out on its
// own; the catalog's dialer applies it to every socket the pool opens.
//
// # Design Boundaries
//
// Out of scope (see spec §1): the host query engine's catalog, planner, and
// execution framework; the secret store's contents; CLI/REPL layers; the
// federated-token acquisition library's OAuth flows (only its
// handshake.Strategy-shaped interface and token lifetime rules are consumed).
// Physical row locators are not implemented; rowids are derived solely from
// declared primary keys. Deprecated wire types (XML, UDT, SQL_VARIANT,
// IMAGE, TEXT, NTEXT) are not supported. No statement-level retry-with-
// backoff: failures surface with row-range context instead.
package mssql
