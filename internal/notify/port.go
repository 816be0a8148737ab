// Package notify holds the platform notification port and its adapters.
//
// Two interchangeable adapters register one-shot notifications: CronPort
// (robfig/cron entries) and TimerPort (runtime timers with a fire callback).
// Either one hands due payloads to a Deliverer, which is the actual sink.
package notify

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPermissionDenied = errors.New("notification permission denied")
	ErrPastInstant      = errors.New("notification instant is not in the future")
	ErrClosed           = errors.New("notification port closed")
)

// Permission is the notification permission state of the sink.
type Permission string

const (
	PermissionUndetermined Permission = "undetermined"
	PermissionGranted      Permission = "granted"
	PermissionDenied       Permission = "denied"
)

// Payload is what a fired notification shows.
type Payload struct {
	TaskID string            `json:"taskId"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// Port schedules one-shot notifications at absolute instants.
type Port interface {
	RegisterOneShot(ctx context.Context, at time.Time, payload Payload) (string, error)
	Cancel(ctx context.Context, handle string) error
	CancelAll(ctx context.Context) error
	PermissionStatus(ctx context.Context) (Permission, error)
	RequestPermission(ctx context.Context) (Permission, error)
}

// Deliverer shows a due notification to the user.
type Deliverer interface {
	Deliver(ctx context.Context, payload Payload) error
	// Ready reports whether the sink can currently deliver; it backs permission requests.
	Ready(ctx context.Context) error
}

// permissionState is shared by the adapters.
type permissionState struct {
	status Permission
}

func (p *permissionState) request(ctx context.Context, d Deliverer) Permission {
	if err := d.Ready(ctx); err != nil {
		p.status = PermissionDenied
	} else {
		p.status = PermissionGranted
	}
	return p.status
}

func (p *permissionState) current() Permission {
	if p.status == "" {
		return PermissionUndetermined
	}
	return p.status
}
