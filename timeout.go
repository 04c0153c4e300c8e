package resp

import "time"

// SoTimeout returns the configured read timeout.
func (c *Connection) SoTimeout() time.Duration {
	return c.factory.SoTimeout()
}

// SetSoTimeout changes the read timeout. It applies to the live socket right
// away, unless an infinite timeout is in effect, and to every later connect.
func (c *Connection) SetSoTimeout(timeout time.Duration) {
	c.factory.SetSoTimeout(timeout)
	if c.sock != nil && !c.infiniteTimeout {
		c.sock.readTimeout = timeout
	}
}

// SetTimeoutInfinite connects if needed and lets reads block forever, for
// commands the server may hold for an unbounded time (BLPOP with no timeout).
// Restore the configured timeout with RollbackTimeout, or use
// WithInfiniteTimeout to get the rollback for free.
func (c *Connection) SetTimeoutInfinite() error {
	if !c.IsConnected() {
		if err := c.Connect(); err != nil {
			return err
		}
	}
	if err := c.sock.setReadTimeout(0); err != nil {
		ce := &ConnectionError{Op: "timeout", Err: err}
		c.markBroken(ce)
		return ce
	}
	c.infiniteTimeout = true
	return nil
}

// RollbackTimeout restores the configured read timeout after SetTimeoutInfinite.
func (c *Connection) RollbackTimeout() error {
	if c.sock == nil {
		ce := &ConnectionError{Op: "timeout", Err: ErrNotConnected}
		c.markBroken(ce)
		return ce
	}
	if err := c.sock.setReadTimeout(c.factory.SoTimeout()); err != nil {
		ce := &ConnectionError{Op: "timeout", Err: err}
		c.markBroken(ce)
		return ce
	}
	c.infiniteTimeout = false
	return nil
}

// WithInfiniteTimeout runs fn with reads allowed to block forever, and
// restores the configured read timeout when fn returns.
// The error of fn wins over a rollback failure.
func (c *Connection) WithInfiniteTimeout(fn func() error) (err error) {
	if err := c.SetTimeoutInfinite(); err != nil {
		return err
	}
	defer func() {
		if rollbackErr := c.RollbackTimeout(); err == nil {
			err = rollbackErr
		}
	}()
	return fn()
}
