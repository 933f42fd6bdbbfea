package pool

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugr-lab/mssql-extension/internal/connstate"
	"github.com/hugr-lab/mssql-extension/internal/token"
	"github.com/hugr-lab/mssql-extension/internal/wire"
)

// newFakeConnection returns an Idle-looking Connection backed by one end of
// a net.Pipe, plus the other end's wire.Stream for a test to play server.
func newFakeConnection() (*connstate.Connection, *wire.Stream, func()) {
	client, server := net.Pipe()
	cs := wire.NewStream(client, wire.DefaultPacketSize, nil)
	ss := wire.NewStream(server, wire.DefaultPacketSize, nil)
	c := &connstate.Connection{Stream: cs, LastUsedAt: time.Now(), CreatedAt: time.Now()}
	return c, ss, func() {
		client.Close()
		server.Close()
	}
}

func putUint16LE(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v))
	buf.WriteByte(byte(v >> 8))
}

func putUint64LE(buf *bytes.Buffer, v uint64) {
	for i := 0; i < 8; i++ {
		buf.WriteByte(byte(v >> (8 * i)))
	}
}

func writeFinalDone(buf *bytes.Buffer) {
	buf.WriteByte(byte(token.TagDone))
	putUint16LE(buf, token.DoneFinal)
	putUint16LE(buf, 0)
	putUint64LE(buf, 0)
}

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = time.Second
	}
	p := New(cfg)
	t.Cleanup(p.Close)
	return p
}

func TestPoolAcquireReusesIdleConnection(t *testing.T) {
	p := newTestPool(t, Config{ConnectionLimit: 1})
	conn, _, cleanup := newFakeConnection()
	defer cleanup()

	p.mu.Lock()
	p.idle = append(p.idle, conn)
	p.total = 1
	p.mu.Unlock()

	got, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, conn, got)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 0, stats.Idle)
}

func TestPoolAcquireTimesOutWhenAtLimitWithNoIdle(t *testing.T) {
	p := newTestPool(t, Config{ConnectionLimit: 1, AcquireTimeout: 30 * time.Millisecond})
	p.mu.Lock()
	p.total = 1
	p.mu.Unlock()

	_, err := p.Acquire(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int64(1), p.Stats().AcquireTimeoutCount)
}

func TestPoolAcquireRespectsContextCancellation(t *testing.T) {
	p := newTestPool(t, Config{ConnectionLimit: 1, AcquireTimeout: time.Minute})
	p.mu.Lock()
	p.total = 1
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPoolReleaseClosesDirtyConnection(t *testing.T) {
	p := newTestPool(t, Config{ConnectionLimit: 1, ConnectionCache: true})
	conn, _, cleanup := newFakeConnection()
	defer cleanup()
	conn.MarkDirty()

	p.mu.Lock()
	p.active[conn] = struct{}{}
	p.total = 1
	p.mu.Unlock()

	p.Release(context.Background(), conn)

	stats := p.Stats()
	assert.Equal(t, 0, stats.Idle)
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, int64(1), stats.Closed)
}

func TestPoolReleaseBypassesCacheWhenDisabled(t *testing.T) {
	p := newTestPool(t, Config{ConnectionLimit: 1, ConnectionCache: false})
	conn, _, cleanup := newFakeConnection()
	defer cleanup()

	p.mu.Lock()
	p.active[conn] = struct{}{}
	p.total = 1
	p.mu.Unlock()

	p.Release(context.Background(), conn)

	stats := p.Stats()
	assert.Equal(t, 0, stats.Idle)
	assert.Equal(t, int64(1), stats.Closed)
}

func TestPoolReleaseCachesHealthyConnectionAfterReset(t *testing.T) {
	p := newTestPool(t, Config{ConnectionLimit: 1, ConnectionCache: true})
	conn, server, cleanup := newFakeConnection()
	defer cleanup()

	p.mu.Lock()
	p.active[conn] = struct{}{}
	p.total = 1
	p.mu.Unlock()

	var resp bytes.Buffer
	writeFinalDone(&resp)
	serverDone := make(chan struct{})
	go func() {
		_, _, err := server.ReadMessage(context.Background()) // sp_reset_connection batch
		require.NoError(t, err)
		require.NoError(t, server.WriteMessage(context.Background(), wire.PacketTabularResult, resp.Bytes()))
		close(serverDone)
	}()

	p.Release(context.Background(), conn)
	<-serverDone

	stats := p.Stats()
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, int64(0), stats.Closed)
}

func TestPoolReleaseClosesConnectionWhenResetFails(t *testing.T) {
	p := newTestPool(t, Config{ConnectionLimit: 1, ConnectionCache: true})
	conn, _, cleanup := newFakeConnection()

	p.mu.Lock()
	p.active[conn] = struct{}{}
	p.total = 1
	p.mu.Unlock()

	cleanup() // closes both ends, so the reset batch write fails immediately

	p.Release(context.Background(), conn)

	stats := p.Stats()
	assert.Equal(t, 0, stats.Idle)
	assert.Equal(t, int64(1), stats.Closed)
	assert.Equal(t, connstate.Dirty, conn.State())
}

func TestPoolPinRemovesFromActiveAndTracksPinned(t *testing.T) {
	p := newTestPool(t, Config{ConnectionLimit: 1})
	conn, _, cleanup := newFakeConnection()
	defer cleanup()

	p.mu.Lock()
	p.active[conn] = struct{}{}
	p.total = 1
	p.mu.Unlock()

	p.Pin(conn)

	stats := p.Stats()
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 1, stats.PinnedCount)
}

func TestPoolUnpinReleasesLikeRelease(t *testing.T) {
	p := newTestPool(t, Config{ConnectionLimit: 1, ConnectionCache: false})
	conn, _, cleanup := newFakeConnection()
	defer cleanup()

	p.mu.Lock()
	p.pinned[conn] = struct{}{}
	p.total = 1
	p.mu.Unlock()

	p.Unpin(context.Background(), conn)

	stats := p.Stats()
	assert.Equal(t, 0, stats.PinnedCount)
	assert.Equal(t, int64(1), stats.Closed)
}

func TestPoolCloseClosesIdleConnectionsAndRejectsFurtherAcquire(t *testing.T) {
	p := New(Config{ConnectionLimit: 1, AcquireTimeout: time.Second})
	conn, _, cleanup := newFakeConnection()
	defer cleanup()

	p.mu.Lock()
	p.idle = append(p.idle, conn)
	p.total = 1
	p.mu.Unlock()

	p.Close()
	assert.Equal(t, int64(1), p.Stats().Closed)

	_, err := p.Acquire(context.Background())
	assert.Error(t, err)

	// Closing twice must not panic (no double-close of stopCh).
	assert.NotPanics(t, p.Close)
}

func TestPoolSweepIdleRemovesExpiredConnectionsRespectingMinConnections(t *testing.T) {
	now := time.Now()
	p := New(Config{
		ConnectionLimit: 5,
		MinConnections:  1,
		IdleTimeout:     time.Minute,
		Now:             func() time.Time { return now },
	})
	t.Cleanup(p.Close)

	stale, _, cleanupStale := newFakeConnection()
	defer cleanupStale()
	stale.LastUsedAt = now.Add(-time.Hour)

	fresh, _, cleanupFresh := newFakeConnection()
	defer cleanupFresh()
	fresh.LastUsedAt = now

	p.mu.Lock()
	p.idle = []*connstate.Connection{stale, fresh}
	p.total = 2
	p.mu.Unlock()

	p.sweepIdle()

	// Give the background close goroutine a moment to account for the
	// expired connection.
	require.Eventually(t, func() bool {
		return p.Stats().Closed == 1
	}, time.Second, 5*time.Millisecond)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 1, stats.Total)
}

func TestPoolSweepIdleNoopWhenIdleTimeoutDisabled(t *testing.T) {
	p := New(Config{ConnectionLimit: 5})
	t.Cleanup(p.Close)

	conn, _, cleanup := newFakeConnection()
	defer cleanup()
	conn.LastUsedAt = time.Now().Add(-time.Hour)

	p.mu.Lock()
	p.idle = []*connstate.Connection{conn}
	p.total = 1
	p.mu.Unlock()

	p.sweepIdle()
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestEncodeBatchTextProducesUTF16(t *testing.T) {
	b, err := encodeBatchText("sp_reset_connection")
	require.NoError(t, err)
	assert.NotEmpty(t, b)
	// ASCII text encodes to exactly 2 bytes per rune in UTF-16LE.
	assert.Equal(t, len("sp_reset_connection")*2, len(b))
}
