package resp

import (
	"context"
	"sync"
	"time"

	"github.com/pior/resp/internal/coarsetime"
)

// NewChannelPool creates a connection pool built on a buffered channel.
// It allocates less than the puddle pool and is the default.
func NewChannelPool(constructor func(ctx context.Context) (*Connection, error), maxSize int32) (ResourcePool, error) {
	return &channelPool{
		constructor: constructor,
		maxSize:     maxSize,
		resources:   make(chan *channelResource, maxSize),
		freed:       make(chan struct{}, maxSize),
	}, nil
}

type channelResource struct {
	conn         *Connection
	pool         *channelPool
	creationTime time.Time
	lastUsedTime time.Time
}

func (r *channelResource) Value() *Connection {
	return r.conn
}

func (r *channelResource) Release() {
	r.lastUsedTime = coarsetime.Now()
	r.pool.put(r)
}

// ReleaseUnused returns the resource without refreshing its idle clock.
func (r *channelResource) ReleaseUnused() {
	r.pool.put(r)
}

func (r *channelResource) Destroy() {
	_ = r.conn.Close()
	r.pool.removeResource(false)
}

func (r *channelResource) CreationTime() time.Time {
	return r.creationTime
}

func (r *channelResource) IdleDuration() time.Duration {
	return coarsetime.Since(r.lastUsedTime)
}

type channelPool struct {
	constructor func(ctx context.Context) (*Connection, error)
	maxSize     int32

	mu        sync.Mutex
	resources chan *channelResource
	freed     chan struct{}
	size      int32
	closed    bool

	stats poolStatsCollector
}

func (p *channelPool) Acquire(ctx context.Context) (Resource, error) {
	p.stats.recordAcquire()

	var waitStart time.Time
	for {
		select {
		case res, ok := <-p.resources:
			if ok {
				p.recordIdleAcquire(waitStart)
				return res, nil
			}
		default:
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.stats.recordAcquireError()
			return nil, ErrPoolClosed
		}

		if p.size < p.maxSize {
			p.size++
			p.mu.Unlock()
			return p.create(ctx)
		}
		p.mu.Unlock()

		// Pool is full, wait for a connection to be released or destroyed
		if waitStart.IsZero() {
			waitStart = time.Now()
		}
		select {
		case res, ok := <-p.resources:
			if !ok {
				p.stats.recordAcquireError()
				return nil, ErrPoolClosed
			}
			p.recordIdleAcquire(waitStart)
			return res, nil
		case <-p.freed:
		case <-ctx.Done():
			p.stats.recordAcquireError()
			return nil, ctx.Err()
		}
	}
}

func (p *channelPool) recordIdleAcquire(waitStart time.Time) {
	if !waitStart.IsZero() {
		p.stats.recordAcquireWait(time.Since(waitStart))
	}
	p.stats.recordAcquireFromIdle()
}

// create builds a connection in a slot already reserved in size.
func (p *channelPool) create(ctx context.Context) (Resource, error) {
	conn, err := p.constructor(ctx)
	if err != nil {
		p.release()
		p.stats.recordAcquireError()
		return nil, err
	}

	p.stats.recordCreate()

	now := coarsetime.Now()
	return &channelResource{
		conn:         conn,
		pool:         p,
		creationTime: now,
		lastUsedTime: now,
	}, nil
}

// release frees one slot and wakes a waiter, if any.
func (p *channelPool) release() {
	p.mu.Lock()
	p.size--
	p.mu.Unlock()

	select {
	case p.freed <- struct{}{}:
	default:
	}
}

func (p *channelPool) put(res *channelResource) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		select {
		case p.resources <- res:
			p.stats.recordRelease()
			return
		default:
		}
	}

	p.size--
	_ = res.conn.Close()
	p.stats.recordDestroy(false)

	select {
	case p.freed <- struct{}{}:
	default:
	}
}

func (p *channelPool) removeResource(idle bool) {
	p.release()
	p.stats.recordDestroy(idle)
}

func (p *channelPool) AcquireAllIdle() []Resource {
	var idle []Resource

	for {
		select {
		case res, ok := <-p.resources:
			if !ok {
				return idle
			}
			p.stats.recordAcquireFromIdle()
			idle = append(idle, res)
		default:
			return idle
		}
	}
}

func (p *channelPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.resources)
	p.mu.Unlock()

	for res := range p.resources {
		_ = res.conn.Close()
		p.removeResource(true)
	}
}

func (p *channelPool) Stats() PoolStats {
	return p.stats.snapshot()
}
