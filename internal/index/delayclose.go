package index

import "sync"

// DelayCloser tracks users of a shared resource and defers closing it until
// the last user has released it.
type DelayCloser struct {
	mu             sync.Mutex
	users          int
	closeRequested bool
	closed         bool
	closeFn        func() error
}

// NewDelayCloser returns a closer with no users that runs closeFn at most
// once.
func NewDelayCloser(closeFn func() error) *DelayCloser {
	return &DelayCloser{closeFn: closeFn}
}

// Open registers a user. It fails once a close has been requested.
func (d *DelayCloser) Open() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closeRequested {
		return false
	}
	d.users++
	return true
}

// Close releases one user, closing the resource if it was the last user of
// a resource already marked for closing.
func (d *DelayCloser) Close() error {
	d.mu.Lock()
	if d.users > 0 {
		d.users--
	}
	last := d.users == 0 && d.closeRequested && !d.closed
	if last {
		d.closed = true
	}
	d.mu.Unlock()
	if last {
		return d.closeFn()
	}
	return nil
}

// CloseWhenDone marks the resource for closing and closes it now if nobody
// is using it.
func (d *DelayCloser) CloseWhenDone() error {
	d.mu.Lock()
	d.closeRequested = true
	now := d.users == 0 && !d.closed
	if now {
		d.closed = true
	}
	d.mu.Unlock()
	if now {
		return d.closeFn()
	}
	return nil
}

func (d *DelayCloser) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
