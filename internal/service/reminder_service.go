package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"daily-tasks/internal/model"
	"daily-tasks/internal/notify"
)

const (
	defaultReminderBody = "Don't forget to complete this task!"
	testNotificationLag = 2 * time.Second
)

// BindingStore persists the task id -> notification handle map as a whole.
type BindingStore interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, bindings map[string]string) error
	Clear(ctx context.Context) error
}

// ReminderState is the outcome of a scheduling call for one task.
type ReminderState string

const (
	StateNoReminder ReminderState = "no_reminder"
	StateScheduled  ReminderState = "scheduled"
	StateCanceled   ReminderState = "canceled"
	StateFailed     ReminderState = "failed"
)

// Decision reports what a scheduling call did. Err is informational: it has
// already been logged and callers are expected to carry on.
type Decision struct {
	TaskID string        `json:"taskId"`
	State  ReminderState `json:"state"`
	FireAt time.Time     `json:"fireAt,omitempty"`
	Handle string        `json:"handle,omitempty"`
	Err    error         `json:"-"`
}

// ReminderScheduler keeps exactly one one-shot notification registered per
// open task. All failures are logged and swallowed.
type ReminderScheduler struct {
	port  notify.Port
	store BindingStore
	log   zerolog.Logger
	now   func() time.Time

	mu sync.Mutex
}

type SchedulerOption func(*ReminderScheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *ReminderScheduler) { s.now = now }
}

func NewReminderScheduler(port notify.Port, store BindingStore, log zerolog.Logger, opts ...SchedulerOption) *ReminderScheduler {
	s := &ReminderScheduler{
		port:  port,
		store: store,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configure requests notification permission unless it is already granted.
func (s *ReminderScheduler) Configure(ctx context.Context) notify.Permission {
	status, err := s.port.PermissionStatus(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("read notification permission")
		return notify.PermissionUndetermined
	}
	if status == notify.PermissionGranted {
		return status
	}
	return s.RequestPermission(ctx)
}

// Permissions returns the current permission status.
func (s *ReminderScheduler) Permissions(ctx context.Context) notify.Permission {
	status, err := s.port.PermissionStatus(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("read notification permission")
		return notify.PermissionUndetermined
	}
	return status
}

func (s *ReminderScheduler) RequestPermission(ctx context.Context) notify.Permission {
	status, err := s.port.RequestPermission(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("request notification permission")
		return notify.PermissionUndetermined
	}
	if status != notify.PermissionGranted {
		s.log.Warn().Str("status", string(status)).Msg("notification permission not granted")
	}
	return status
}

// Reschedule replaces the task's notification with one at its next occurrence.
// Completed tasks only lose their notification.
func (s *ReminderScheduler) Reschedule(ctx context.Context, task model.Task) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rescheduleLocked(ctx, task)
}

func (s *ReminderScheduler) rescheduleLocked(ctx context.Context, task model.Task) Decision {
	canceled := s.cancelLocked(ctx, task.ID)
	if task.Completed {
		return canceled
	}
	if task.ReminderTime.IsZero() {
		return Decision{TaskID: task.ID, State: StateNoReminder}
	}

	now := s.now()
	kind := model.ParseReminderType(string(task.ReminderType))
	fireAt := NextOccurrence(kind, task.ReminderTime, now)

	s.log.Info().
		Str("task_id", task.ID).
		Str("reminder_type", string(kind)).
		Time("now", now).
		Time("reminder_time", task.ReminderTime).
		Time("next", fireAt).
		Dur("until", fireAt.Sub(now)).
		Msg("schedule reminder")

	handle, err := s.port.RegisterOneShot(ctx, fireAt, payloadFor(task, kind))
	if err != nil {
		ev := s.log.Error()
		if errors.Is(err, notify.ErrPermissionDenied) {
			ev = s.log.Warn()
		}
		ev.Err(err).Str("task_id", task.ID).Msg("register notification")
		return Decision{TaskID: task.ID, State: StateFailed, FireAt: fireAt, Err: err}
	}

	bindings, err := s.store.Load(ctx)
	if err != nil {
		// Saving a partial map would drop every other binding.
		s.log.Error().Err(err).Str("task_id", task.ID).Str("handle", handle).Msg("load notification bindings, binding not saved")
		return Decision{TaskID: task.ID, State: StateScheduled, FireAt: fireAt, Handle: handle, Err: err}
	}
	if bindings == nil {
		bindings = map[string]string{}
	}
	bindings[task.ID] = handle
	if err := s.store.Save(ctx, bindings); err != nil {
		s.log.Error().Err(err).Str("task_id", task.ID).Msg("save notification binding")
		return Decision{TaskID: task.ID, State: StateScheduled, FireAt: fireAt, Handle: handle, Err: err}
	}
	return Decision{TaskID: task.ID, State: StateScheduled, FireAt: fireAt, Handle: handle}
}

// Cancel removes the task's notification, if any.
func (s *ReminderScheduler) Cancel(ctx context.Context, taskID string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(ctx, taskID)
}

func (s *ReminderScheduler) cancelLocked(ctx context.Context, taskID string) Decision {
	bindings, err := s.store.Load(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Msg("load notification bindings")
		return Decision{TaskID: taskID, State: StateFailed, Err: err}
	}
	handle, ok := bindings[taskID]
	if !ok || handle == "" {
		return Decision{TaskID: taskID, State: StateNoReminder}
	}

	if err := s.port.Cancel(ctx, handle); err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Str("handle", handle).Msg("cancel notification")
		return Decision{TaskID: taskID, State: StateFailed, Handle: handle, Err: err}
	}
	delete(bindings, taskID)
	if err := s.store.Save(ctx, bindings); err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Msg("remove notification binding")
		return Decision{TaskID: taskID, State: StateCanceled, Handle: handle, Err: err}
	}
	return Decision{TaskID: taskID, State: StateCanceled, Handle: handle}
}

// CancelAll cancels every outstanding notification and forgets all bindings.
func (s *ReminderScheduler) CancelAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.port.CancelAll(ctx); err != nil {
		s.log.Error().Err(err).Msg("cancel all notifications")
	}
	if err := s.store.Clear(ctx); err != nil {
		s.log.Error().Err(err).Msg("clear notification bindings")
	}
}

// Resync reschedules every given task and cancels bindings of tasks that no
// longer exist. In-process ports lose their registrations on restart and a
// fired one-shot needs a successor, so this runs at startup and periodically.
func (s *ReminderScheduler) Resync(ctx context.Context, tasks []model.Task) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		known[task.ID] = struct{}{}
	}
	if bindings, err := s.store.Load(ctx); err != nil {
		s.log.Error().Err(err).Msg("load notification bindings")
	} else {
		for taskID := range bindings {
			if _, ok := known[taskID]; !ok {
				s.cancelLocked(ctx, taskID)
			}
		}
	}

	scheduled := 0
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			break
		}
		if d := s.rescheduleLocked(ctx, task); d.State == StateScheduled {
			scheduled++
		}
	}
	s.log.Info().Int("tasks", len(tasks)).Int("scheduled", scheduled).Msg("reminders resynced")
	return scheduled
}

// SendTest schedules a notification a moment from now, outside of any task binding.
func (s *ReminderScheduler) SendTest(ctx context.Context, title, body string) (string, error) {
	if strings.TrimSpace(title) == "" {
		title = "Test Notification"
	}
	if strings.TrimSpace(body) == "" {
		body = "This is a test notification"
	}
	handle, err := s.port.RegisterOneShot(ctx, s.now().Add(testNotificationLag), notify.Payload{Title: title, Body: body})
	if err != nil {
		s.log.Error().Err(err).Msg("send test notification")
		return "", err
	}
	return handle, nil
}

func payloadFor(task model.Task, kind model.ReminderType) notify.Payload {
	body := strings.TrimSpace(task.Description)
	if body == "" {
		body = defaultReminderBody
	}
	return notify.Payload{
		TaskID: task.ID,
		Title:  "Task Reminder: " + task.Title,
		Body:   body,
		Data: map[string]string{
			"id":           task.ID,
			"reminderType": string(kind),
		},
	}
}
