// Package pool keeps one shared connection per destination key. Creation is
// single-flight per key, and dead entries are replaced rather than reused.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned by Acquire after CloseAll.
var ErrClosed = errors.New("connection pool closed")

// Conn is a long-lived connection the pool can share.
type Conn interface {
	Alive() bool
	Close() error
}

// DialFunc establishes a new connection for key.
type DialFunc[C Conn] func(ctx context.Context, key string) (C, error)

// ConnectionPool maps destination keys to shared connections.
type ConnectionPool[C Conn] struct {
	conns   sync.Map // map[string]C
	group   singleflight.Group
	dial    DialFunc[C]
	log     *zap.Logger
	closed  atomic.Bool
	created atomic.Int64
	// OnCreate, when set, runs after every successful dial.
	OnCreate func(key string)
}

// New creates a pool that dials through dial.
func New[C Conn](dial DialFunc[C], logger *zap.Logger) *ConnectionPool[C] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionPool[C]{dial: dial, log: logger}
}

// Acquire returns the live connection for key, dialing one if none exists or
// the stored one has died. Concurrent callers for the same key share a single
// dial.
func (p *ConnectionPool[C]) Acquire(ctx context.Context, key string) (C, error) {
	var zero C
	if p.closed.Load() {
		return zero, ErrClosed
	}
	if c, ok := p.live(key); ok {
		return c, nil
	}

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		// another flight may have stored a connection since the fast path
		if c, ok := p.live(key); ok {
			return c, nil
		}
		if old, ok := p.conns.Load(key); ok {
			if p.conns.CompareAndDelete(key, old) {
				p.log.Debug("replacing dead connection", zap.String("key", key))
				_ = old.(C).Close()
			}
		}

		c, err := p.dial(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", key, err)
		}
		p.created.Add(1)
		if p.OnCreate != nil {
			p.OnCreate(key)
		}
		p.conns.Store(key, c)

		if p.closed.Load() {
			p.conns.CompareAndDelete(key, c)
			_ = c.Close()
			return nil, ErrClosed
		}
		p.log.Debug("connection established", zap.String("key", key))
		return c, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(C), nil
}

func (p *ConnectionPool[C]) live(key string) (C, bool) {
	var zero C
	v, ok := p.conns.Load(key)
	if !ok {
		return zero, false
	}
	c := v.(C)
	if !c.Alive() {
		return zero, false
	}
	return c, true
}

// CloseAll closes and forgets every connection. Later calls are no-ops.
func (p *ConnectionPool[C]) CloseAll() error {
	p.closed.Store(true)

	var errs []error
	p.conns.Range(func(key, _ interface{}) bool {
		value, loaded := p.conns.LoadAndDelete(key)
		if !loaded {
			return true
		}
		if err := value.(C).Close(); err != nil {
			p.log.Debug("close connection failed", zap.Any("key", key), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %v: %w", key, err))
		}
		return true
	})
	return errors.Join(errs...)
}

// LiveCount returns the number of stored connections that are still alive.
func (p *ConnectionPool[C]) LiveCount() int {
	n := 0
	p.conns.Range(func(_, value interface{}) bool {
		if value.(C).Alive() {
			n++
		}
		return true
	})
	return n
}

// Created returns how many connections the pool has dialed successfully.
func (p *ConnectionPool[C]) Created() int64 { return p.created.Load() }

// Keys returns the stored destination keys in lexical order.
func (p *ConnectionPool[C]) Keys() []string {
	var keys []string
	p.conns.Range(func(key, _ interface{}) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}
