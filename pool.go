package resp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pior/resp/internal/logger"
)

var ErrPoolClosed = errors.New("resp: pool closed")

// Resource is a connection borrowed from a ResourcePool.
type Resource interface {
	Value() *Connection
	Release()
	// ReleaseUnused returns the connection without refreshing its idle time.
	ReleaseUnused()
	Destroy()
	CreationTime() time.Time
	IdleDuration() time.Duration
}

// ResourcePool is the storage behind a Pool.
// NewChannelPool and NewPuddlePool are the two implementations.
type ResourcePool interface {
	Acquire(ctx context.Context) (Resource, error)
	AcquireAllIdle() []Resource
	Stats() PoolStats
	Close()
}

// PoolConfig holds the configuration of a Pool.
type PoolConfig struct {
	// MaxSize is the maximum number of connections in the pool.
	// Required: must be > 0.
	MaxSize int32

	// MaxConnLifetime is the maximum duration a connection can be reused.
	// Zero means no limit.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is the maximum duration a connection can be idle before
	// the idle checker closes it. Zero means no limit.
	MaxConnIdleTime time.Duration

	// HealthCheckInterval is how often idle connections are checked.
	// Zero disables the idle checker.
	HealthCheckInterval time.Duration

	// TestOnBorrow pings a connection before handing it out.
	TestOnBorrow bool

	// TestWhileIdle makes the idle checker probe and ping idle connections.
	TestWhileIdle bool

	// NewPool is the resource pool factory.
	// If nil, NewChannelPool is used.
	NewPool func(constructor func(ctx context.Context) (*Connection, error), maxSize int32) (ResourcePool, error)

	// NewCircuitBreaker creates the circuit breaker of the pool.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker func(addr string) CircuitBreaker

	// SocketFactory creates the socket factory of every new connection.
	// If nil, a TCPSocketFactory for the pool endpoint is used.
	SocketFactory func() SocketFactory

	// ConnectionOptions are applied to every new connection.
	ConnectionOptions []Option
}

// DefaultPoolConfig returns a configuration that tests idle connections every
// 30 seconds and evicts those idle for more than a minute.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:             8,
		MaxConnIdleTime:     60 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		TestWhileIdle:       true,
	}
}

// Pool hands out connected Connections to one endpoint.
//
// A connection is checked when borrowed and when returned: a broken or
// disconnected connection is destroyed instead of being reused.
type Pool struct {
	endpoint Endpoint
	config   PoolConfig
	pool     ResourcePool
	breaker  CircuitBreaker // nil if not configured
	log      logrus.FieldLogger

	stopHealthCheck chan struct{}
	closeOnce       sync.Once
}

// NewPool creates a pool of connections to endpoint.
// Connections are created on demand.
func NewPool(endpoint Endpoint, config PoolConfig) (*Pool, error) {
	if config.MaxSize <= 0 {
		return nil, errors.New("resp: pool MaxSize must be > 0")
	}

	p := &Pool{
		endpoint:        endpoint,
		config:          config,
		log:             logger.Logger().WithField("pool", endpoint.Addr()),
		stopHealthCheck: make(chan struct{}),
	}

	newPool := config.NewPool
	if newPool == nil {
		newPool = NewChannelPool
	}
	pool, err := newPool(p.connect, config.MaxSize)
	if err != nil {
		return nil, err
	}
	p.pool = pool

	if config.NewCircuitBreaker != nil {
		p.breaker = config.NewCircuitBreaker(endpoint.Addr())
	}

	if config.HealthCheckInterval > 0 {
		go p.healthCheckLoop()
	}

	return p, nil
}

// connect is the constructor of the resource pool.
func (p *Pool) connect(ctx context.Context) (*Connection, error) {
	var factory SocketFactory
	if p.config.SocketFactory != nil {
		factory = p.config.SocketFactory()
	} else {
		factory = NewTCPSocketFactory(p.endpoint)
	}

	conn := NewConnection(factory, p.config.ConnectionOptions...)
	if err := conn.ConnectContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// Acquire borrows a connection. Broken or disconnected connections found in
// the pool are destroyed and replaced.
// The caller must Release or Destroy the resource.
func (p *Pool) Acquire(ctx context.Context) (Resource, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := p.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}

		conn := res.Value()
		if conn.IsBroken() || !conn.IsConnected() {
			p.log.WithField("conn", conn.ID()).Debug("resp: discarding invalid connection")
			res.Destroy()
			continue
		}
		if p.config.TestOnBorrow && conn.Ping() != nil {
			res.Destroy()
			continue
		}
		return res, nil
	}
}

// Release returns a borrowed connection, or destroys it when err says the
// connection cannot be reused.
func (p *Pool) Release(res Resource, err error) {
	conn := res.Value()
	if ShouldDiscard(err) || conn.IsBroken() || !conn.IsConnected() {
		res.Destroy()
		return
	}
	res.Release()
}

// With runs fn with a borrowed connection, through the circuit breaker if one
// is configured. fn must read every reply it asked for.
func (p *Pool) With(ctx context.Context, fn func(conn *Connection) error) error {
	if p.breaker == nil {
		return p.with(ctx, fn)
	}
	_, err := p.breaker.Execute(func() (bool, error) {
		err := p.with(ctx, fn)
		return err == nil, err
	})
	return err
}

func (p *Pool) with(ctx context.Context, fn func(conn *Connection) error) (err error) {
	res, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		p.Release(res, err)
	}()

	return fn(res.Value())
}

// healthCheckLoop periodically checks idle connections for health and lifecycle limits.
func (p *Pool) healthCheckLoop() {
	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopHealthCheck:
			return
		case <-ticker.C:
			p.checkIdle()
		}
	}
}

// checkIdle checks all idle connections and destroys those that are stale or unhealthy.
func (p *Pool) checkIdle() {
	now := time.Now()

	for _, res := range p.pool.AcquireAllIdle() {
		conn := res.Value()

		if p.config.MaxConnLifetime > 0 && now.Sub(res.CreationTime()) > p.config.MaxConnLifetime {
			res.Destroy()
			continue
		}

		if p.config.MaxConnIdleTime > 0 && res.IdleDuration() > p.config.MaxConnIdleTime {
			res.Destroy()
			continue
		}

		if !p.idleHealthy(conn) {
			p.log.WithField("conn", conn.ID()).Debug("resp: evicting unhealthy idle connection")
			res.Destroy()
			continue
		}

		res.ReleaseUnused()
	}
}

func (p *Pool) idleHealthy(conn *Connection) bool {
	if conn.IsBroken() {
		return false
	}
	if !p.config.TestWhileIdle {
		return conn.IsConnected()
	}
	return conn.ProbePeer() && conn.Ping() == nil
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	return p.pool.Stats()
}

// CircuitBreaker returns the breaker of the pool, nil if none is configured.
func (p *Pool) CircuitBreaker() CircuitBreaker {
	return p.breaker
}

// Endpoint returns the endpoint the pool connects to.
func (p *Pool) Endpoint() Endpoint {
	return p.endpoint
}

// Close stops the idle checker and closes every idle connection.
// Borrowed connections are closed when released. The puddle pool also waits
// for them to be released.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.stopHealthCheck)
		p.pool.Close()
	})
}
