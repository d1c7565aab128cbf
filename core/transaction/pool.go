package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// PoolOptions configures a ConnectionPool.
type PoolOptions struct {
	// IdleTimeout is how long a connection may stay unused before the
	// sweeper discards it.
	IdleTimeout   time.Duration
	MaxIdle       int
	SweepInterval time.Duration
}

type pooledConnection struct {
	conn     *Connection
	lastUsed time.Time
}

// ConnectionPool keeps one connection per transaction id between calls, so
// callers that only know the id can continue a transaction. Connections that
// are evicted or idle too long are rolled back when still in Begin; prepared
// ones stay in the recovered registry and are resumed by the next Get.
type ConnectionPool struct {
	manager *Manager
	opts    PoolOptions
	logger  *slog.Logger

	mu      sync.Mutex
	entries *lru.Cache[uuid.UUID, *pooledConnection]

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewConnectionPool(m *Manager, opts PoolOptions) (*ConnectionPool, error) {
	if opts.MaxIdle <= 0 {
		return nil, fmt.Errorf("pool max idle must be positive, got %d", opts.MaxIdle)
	}

	p := &ConnectionPool{
		manager: m,
		opts:    opts,
		logger:  m.logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	entries, err := lru.NewWithEvict[uuid.UUID, *pooledConnection](opts.MaxIdle, p.handleEviction)
	if err != nil {
		return nil, err
	}
	p.entries = entries
	return p, nil
}

// Get returns the pooled connection of id, or begins id on a new connection.
func (p *ConnectionPool) Get(id uuid.UUID) (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.entries.Get(id); ok {
		entry.lastUsed = time.Now()
		return entry.conn, nil
	}

	conn := p.manager.NewConnection()
	if err := conn.Begin(id); err != nil {
		return nil, err
	}
	p.entries.Add(id, &pooledConnection{conn: conn, lastUsed: time.Now()})
	return conn, nil
}

// Release drops the connection of id. A transaction still in Begin is
// rolled back.
func (p *ConnectionPool) Release(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries.Remove(id)
}

func (p *ConnectionPool) Len() int {
	return p.entries.Len()
}

// Sweep discards connections unused for longer than the idle timeout and
// returns how many were dropped.
func (p *ConnectionPool) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-p.opts.IdleTimeout)
	dropped := 0
	for _, id := range p.entries.Keys() {
		entry, ok := p.entries.Peek(id)
		if !ok || entry.lastUsed.After(cutoff) {
			continue
		}
		p.entries.Remove(id)
		dropped++
	}
	return dropped
}

// Start runs the sweeper until ctx is done or the pool is closed. Only the
// first call starts a goroutine.
func (p *ConnectionPool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	interval := p.opts.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	go p.sweepLoop(ctx, interval)
}

func (p *ConnectionPool) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			if n := p.Sweep(); n > 0 {
				p.logger.Debug("swept idle connections", "count", n)
			}
		}
	}
}

// Close stops the sweeper, if running, and discards every connection.
func (p *ConnectionPool) Close() error {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	if p.started.Load() {
		<-p.done
	}

	p.mu.Lock()
	p.entries.Purge()
	p.mu.Unlock()
	return nil
}

func (p *ConnectionPool) handleEviction(id uuid.UUID, entry *pooledConnection) {
	if entry.conn.State() != StateBegin {
		return
	}
	if err := entry.conn.Rollback(); err != nil {
		p.logger.Warn("evicted connection not rolled back", "tx", id, "error", err)
		return
	}
	p.logger.Debug("rolled back evicted connection", "tx", id)
}
