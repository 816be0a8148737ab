package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const deliverTimeout = 30 * time.Second

// oneShot is a cron schedule that yields its instant once.
type oneShot struct {
	at time.Time
}

func (s oneShot) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}

// CronPort registers one-shot notifications as robfig/cron entries.
// Handles are random ids so that bindings persisted before a restart can
// never address an entry created after it.
type CronPort struct {
	cron      *cron.Cron
	deliverer Deliverer
	log       zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]cron.EntryID
	perm    permissionState
}

func NewCronPort(deliverer Deliverer, log zerolog.Logger, loc *time.Location) *CronPort {
	if loc == nil {
		loc = time.Local
	}
	return &CronPort{
		cron:      cron.New(cron.WithLocation(loc)),
		deliverer: deliverer,
		log:       log,
		now:       time.Now,
		entries:   make(map[string]cron.EntryID),
	}
}

func (p *CronPort) Start() {
	p.cron.Start()
}

// Stop halts the cron loop and waits for running deliveries.
func (p *CronPort) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
}

func (p *CronPort) RegisterOneShot(ctx context.Context, at time.Time, payload Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.perm.current() == PermissionDenied {
		return "", ErrPermissionDenied
	}
	if !at.After(p.now()) {
		return "", fmt.Errorf("%w: %s", ErrPastInstant, at.Format(time.RFC3339))
	}

	handle := uuid.NewString()
	id := p.cron.Schedule(oneShot{at: at}, cron.FuncJob(func() {
		p.fire(handle, payload)
	}))
	p.entries[handle] = id
	return handle, nil
}

func (p *CronPort) fire(handle string, payload Payload) {
	p.mu.Lock()
	id, ok := p.entries[handle]
	delete(p.entries, handle)
	p.mu.Unlock()
	if !ok {
		return
	}
	p.cron.Remove(id)

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := p.deliverer.Deliver(ctx, payload); err != nil {
		p.log.Error().Err(err).Str("task_id", payload.TaskID).Str("handle", handle).Msg("deliver notification")
		return
	}
	p.log.Debug().Str("task_id", payload.TaskID).Str("handle", handle).Msg("notification delivered")
}

func (p *CronPort) Cancel(_ context.Context, handle string) error {
	p.mu.Lock()
	id, ok := p.entries[handle]
	delete(p.entries, handle)
	p.mu.Unlock()
	if ok {
		p.cron.Remove(id)
	}
	return nil
}

func (p *CronPort) CancelAll(_ context.Context) error {
	p.mu.Lock()
	ids := make([]cron.EntryID, 0, len(p.entries))
	for handle, id := range p.entries {
		ids = append(ids, id)
		delete(p.entries, handle)
	}
	p.mu.Unlock()
	for _, id := range ids {
		p.cron.Remove(id)
	}
	return nil
}

func (p *CronPort) PermissionStatus(_ context.Context) (Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perm.current(), nil
}

func (p *CronPort) RequestPermission(ctx context.Context) (Permission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perm.request(ctx, p.deliverer), nil
}

// Pending returns the number of registered, not yet fired notifications.
func (p *CronPort) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
