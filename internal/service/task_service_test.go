package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daily-tasks/internal/model"
	"daily-tasks/internal/repository"
)

type taskFixture struct {
	svc   *TaskService
	port  *fakePort
	store *memoryBindings
}

func newTaskFixture(t *testing.T) taskFixture {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "tasks.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	port, store := newFakePort(), newMemoryBindings()
	reminders := newTestScheduler(port, store)
	return taskFixture{
		svc:   NewTaskService(repository.NewTaskRepository(db), reminders),
		port:  port,
		store: store,
	}
}

func nineAM() time.Time {
	return time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC)
}

func TestCreateTaskSchedulesReminder(t *testing.T) {
	f := newTaskFixture(t)

	task, d, err := f.svc.CreateTask(context.Background(), TaskInput{
		Title:        "  Water plants ",
		ReminderTime: nineAM(),
		ReminderType: "Weekly",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "Water plants", task.Title)
	assert.Equal(t, model.ReminderWeekly, task.ReminderType)
	assert.False(t, task.Completed)
	assert.Equal(t, StateScheduled, d.State)
	assert.Equal(t, time.Wednesday, d.FireAt.Weekday())
	assert.Equal(t, map[string]string{task.ID: d.Handle}, f.store.data)
}

func TestCreateTaskRequiresTitle(t *testing.T) {
	f := newTaskFixture(t)

	_, _, err := f.svc.CreateTask(context.Background(), TaskInput{Title: "   "})

	assert.ErrorIs(t, err, ErrTitleRequired)
	assert.Empty(t, f.port.registered)
}

func TestCreateTaskSucceedsWhenNotificationFails(t *testing.T) {
	f := newTaskFixture(t)
	f.port.registerErr = assert.AnError

	task, d, err := f.svc.CreateTask(context.Background(), TaskInput{Title: "a", ReminderTime: nineAM()})

	require.NoError(t, err)
	assert.Equal(t, StateFailed, d.State)
	got, err := f.svc.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Title)
}

func TestUpdateTaskReschedules(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task, first, err := f.svc.CreateTask(ctx, TaskInput{Title: "a", ReminderTime: nineAM()})
	require.NoError(t, err)

	monthly := "monthly"
	later := time.Date(2026, time.January, 20, 18, 30, 0, 0, time.UTC)
	updated, d, err := f.svc.UpdateTask(ctx, task.ID, TaskUpdate{ReminderType: &monthly, ReminderTime: &later})
	require.NoError(t, err)

	assert.Equal(t, model.ReminderMonthly, updated.ReminderType)
	assert.Equal(t, StateScheduled, d.State)
	assert.Equal(t, 20, d.FireAt.Day())
	assert.Contains(t, f.port.canceled, first.Handle)
	assert.Equal(t, map[string]string{task.ID: d.Handle}, f.store.data)
}

func TestUpdateTaskCompletedCancels(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task, _, err := f.svc.CreateTask(ctx, TaskInput{Title: "a", ReminderTime: nineAM()})
	require.NoError(t, err)

	done := true
	_, d, err := f.svc.UpdateTask(ctx, task.ID, TaskUpdate{Completed: &done})
	require.NoError(t, err)

	assert.Equal(t, StateCanceled, d.State)
	assert.Empty(t, f.store.data)
	assert.Empty(t, f.port.active)
}

func TestUpdateTaskValidation(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.UpdateTask(ctx, "missing", TaskUpdate{})
	assert.ErrorIs(t, err, ErrTaskNotFound)

	task, _, err := f.svc.CreateTask(ctx, TaskInput{Title: "a"})
	require.NoError(t, err)
	empty := ""
	_, _, err = f.svc.UpdateTask(ctx, task.ID, TaskUpdate{Title: &empty})
	assert.ErrorIs(t, err, ErrTitleRequired)
}

func TestToggleCompletion(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task, _, err := f.svc.CreateTask(ctx, TaskInput{Title: "a", ReminderTime: nineAM()})
	require.NoError(t, err)

	toggled, d, err := f.svc.ToggleCompletion(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Completed)
	assert.Equal(t, StateCanceled, d.State)
	assert.Empty(t, f.store.data)

	toggled, d, err = f.svc.ToggleCompletion(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Completed)
	assert.Equal(t, StateScheduled, d.State)
	assert.Equal(t, map[string]string{task.ID: d.Handle}, f.store.data)

	_, _, err = f.svc.ToggleCompletion(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestDeleteTaskCancelsReminder(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task, d, err := f.svc.CreateTask(ctx, TaskInput{Title: "a", ReminderTime: nineAM()})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteTask(ctx, task.ID))

	assert.Contains(t, f.port.canceled, d.Handle)
	assert.Empty(t, f.store.data)
	_, err = f.svc.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, f.svc.DeleteTask(ctx, task.ID), ErrTaskNotFound)
}

func TestListStatsAndResync(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c"} {
		_, _, err := f.svc.CreateTask(ctx, TaskInput{Title: title, ReminderTime: nineAM()})
		require.NoError(t, err)
	}
	all, err := f.svc.ListTasks(ctx, repository.FilterAll)
	require.NoError(t, err)
	_, _, err = f.svc.ToggleCompletion(ctx, all[0].ID)
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, TaskStats{Total: 3, Active: 2, Completed: 1}, stats)

	active, err := f.svc.ListTasks(ctx, repository.FilterActive)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	n, err := f.svc.ResyncReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, f.store.data, 2)
	assert.Len(t, f.port.active, 2)
}

func TestRearmReminderRegistersNextOccurrence(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task, first, err := f.svc.CreateTask(ctx, TaskInput{Title: "a", ReminderTime: nineAM(), ReminderType: "daily"})
	require.NoError(t, err)

	d, err := f.svc.RearmReminder(ctx, task.ID)
	require.NoError(t, err)

	assert.Equal(t, StateScheduled, d.State)
	assert.NotEqual(t, first.Handle, d.Handle)
	assert.Contains(t, f.port.canceled, first.Handle)
	assert.Equal(t, map[string]string{task.ID: d.Handle}, f.store.data)
}

func TestRearmReminderForDeletedTaskDropsBinding(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	f.store.data["gone"] = "h-stale"

	_, err := f.svc.RearmReminder(ctx, "gone")

	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.Empty(t, f.store.data)
	assert.Contains(t, f.port.canceled, "h-stale")
	assert.Empty(t, f.port.registered)
}

func TestRearmReminderSkipsCompletedTask(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	task, _, err := f.svc.CreateTask(ctx, TaskInput{Title: "a", ReminderTime: nineAM()})
	require.NoError(t, err)
	_, _, err = f.svc.ToggleCompletion(ctx, task.ID)
	require.NoError(t, err)

	d, err := f.svc.RearmReminder(ctx, task.ID)

	require.NoError(t, err)
	assert.Equal(t, StateNoReminder, d.State)
	assert.Len(t, f.port.registered, 1)
}
