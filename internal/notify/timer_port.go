package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FireEvent is emitted by TimerPort after a notification fired.
type FireEvent struct {
	Handle  string
	Payload Payload
	At      time.Time
	Err     error
}

// TimerPort registers one-shot notifications as runtime timers and reports
// every fire through an optional callback.
type TimerPort struct {
	deliverer Deliverer
	log       zerolog.Logger
	now       func() time.Time
	onFire    func(FireEvent)

	mu     sync.Mutex
	timers map[string]*time.Timer
	perm   permissionState
	closed bool
}

type TimerOption func(*TimerPort)

// WithFireCallback sets the function called after each fire. It runs on the
// timer goroutine.
func WithFireCallback(fn func(FireEvent)) TimerOption {
	return func(p *TimerPort) { p.onFire = fn }
}

func NewTimerPort(deliverer Deliverer, log zerolog.Logger, opts ...TimerOption) *TimerPort {
	p := &TimerPort{
		deliverer: deliverer,
		log:       log,
		now:       time.Now,
		timers:    make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *TimerPort) RegisterOneShot(ctx context.Context, at time.Time, payload Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", ErrClosed
	}
	if p.perm.current() == PermissionDenied {
		return "", ErrPermissionDenied
	}
	delay := at.Sub(p.now())
	if delay <= 0 {
		return "", fmt.Errorf("%w: %s", ErrPastInstant, at.Format(time.RFC3339))
	}

	handle := uuid.NewString()
	p.timers[handle] = time.AfterFunc(delay, func() {
		p.fire(handle, payload)
	})
	return handle, nil
}

func (p *TimerPort) fire(handle string, payload Payload) {
	p.mu.Lock()
	_, ok := p.timers[handle]
	delete(p.timers, handle)
	p.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	err := p.deliverer.Deliver(ctx, payload)
	if err != nil {
		p.log.Error().Err(err).Str("task_id", payload.TaskID).Str("handle", handle).Msg("deliver notification")
	}
	if p.onFire != nil {
		p.onFire(FireEvent{Handle: handle, Payload: payload, At: p.now(), Err: err})
	}
}

func (p *TimerPort) Cancel(_ context.Context, handle string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.timers[handle]; ok {
		t.Stop()
		delete(p.timers, handle)
	}
	return nil
}

func (p *TimerPort) CancelAll(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopAllLocked()
	return nil
}

func (p *TimerPort) PermissionStatus(_ context.Context) (Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perm.current(), nil
}

func (p *TimerPort) RequestPermission(ctx context.Context) (Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perm.request(ctx, p.deliverer), nil
}

// Close stops every pending timer; later registrations fail with ErrClosed.
func (p *TimerPort) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.stopAllLocked()
}

func (p *TimerPort) stopAllLocked() {
	for handle, t := range p.timers {
		t.Stop()
		delete(p.timers, handle)
	}
}

// Pending returns the number of registered, not yet fired notifications.
func (p *TimerPort) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}
