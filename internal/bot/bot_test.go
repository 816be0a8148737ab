package bot

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daily-tasks/internal/model"
	"daily-tasks/internal/notify"
	"daily-tasks/internal/repository"
	"daily-tasks/internal/service"
)

const ownerChat int64 = 42

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	ch := make(chan tgbotapi.Update)
	close(ch)
	return ch
}

func (f *fakeAPI) StopReceivingUpdates() {}

func (f *fakeAPI) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func (f *fakeAPI) texts() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var parts []string
	for _, m := range f.sent {
		parts = append(parts, m.Text)
	}
	return strings.Join(parts, "\n---\n")
}

type botFixture struct {
	bot      *Bot
	api      *fakeAPI
	tasks    *service.TaskService
	bindings *repository.BindingRepository
}

func newBotFixture(t *testing.T) botFixture {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "tasks.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	port := notify.NewTimerPort(notify.NewLogDeliverer(zerolog.Nop()), zerolog.Nop())
	t.Cleanup(port.Close)
	bindings := repository.NewBindingRepository(repository.NewGormKV(db))
	reminders := service.NewReminderScheduler(port, bindings, zerolog.Nop())
	tasks := service.NewTaskService(repository.NewTaskRepository(db), reminders)
	api := &fakeAPI{}

	return botFixture{
		bot:      New(api, ownerChat, tasks, reminders, zerolog.Nop()),
		api:      api,
		tasks:    tasks,
		bindings: bindings,
	}
}

func textMessage(chatID int64, text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: chatID, Type: "private"},
		From: &tgbotapi.User{ID: chatID},
	}
	if strings.HasPrefix(text, "/") {
		length := strings.IndexByte(text, ' ')
		if length < 0 {
			length = len(text)
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	}
	return msg
}

func (f botFixture) say(text string) {
	f.bot.handleUpdate(context.Background(), tgbotapi.Update{Message: textMessage(ownerChat, text)})
}

func (f botFixture) press(data string) {
	f.bot.handleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    data,
		From:    &tgbotapi.User{ID: ownerChat},
		Message: textMessage(ownerChat, "list"),
	}})
}

func (f botFixture) create(t *testing.T, title string) *model.Task {
	t.Helper()
	task, _, err := f.tasks.CreateTask(context.Background(), service.TaskInput{Title: title})
	require.NoError(t, err)
	return task
}

func TestAddConversationCreatesTask(t *testing.T) {
	f := newBotFixture(t)

	f.say("/add")
	f.say("Water plants")
	f.say("Skip")
	f.say("home")
	f.say("09:30")
	f.say(btnWeekly)

	tasks, err := f.tasks.ListTasks(context.Background(), repository.FilterAll)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, "Water plants", task.Title)
	assert.Empty(t, task.Description)
	assert.Equal(t, "home", task.Category)
	assert.Equal(t, model.ReminderWeekly, task.ReminderType)
	local := task.ReminderTime.In(time.Local)
	assert.Equal(t, 9, local.Hour())
	assert.Equal(t, 30, local.Minute())

	bindings, err := f.bindings.Load(context.Background())
	require.NoError(t, err)
	assert.Contains(t, bindings, task.ID)
	assert.Contains(t, f.api.texts(), "Task saved")
	assert.Nil(t, f.bot.getConversation())
}

func TestAddConversationRejectsBadInput(t *testing.T) {
	f := newBotFixture(t)

	f.say("/add")
	f.say("Read")
	f.say("-")
	f.say("-")
	f.say("half past nine")
	assert.Contains(t, f.api.last(t).Text, "Cannot read that time")

	f.say("21:00")
	f.say("yearly")
	assert.Contains(t, f.api.last(t).Text, "Pick Daily")

	f.say(btnCancelDialog)
	assert.Nil(t, f.bot.getConversation())
	tasks, err := f.tasks.ListTasks(context.Background(), repository.FilterAll)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestAddConversationWithoutReminder(t *testing.T) {
	f := newBotFixture(t)

	f.say("/add")
	f.say("Someday")
	f.say("Skip")
	f.say("Skip")
	f.say("Skip")

	tasks, err := f.tasks.ListTasks(context.Background(), repository.FilterAll)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].ReminderTime.IsZero())
	assert.Contains(t, f.api.texts(), "No reminder")
}

func TestListShowsTasksWithButtons(t *testing.T) {
	f := newBotFixture(t)
	task := f.create(t, "Call mom")

	f.say("/list")

	msg := f.api.last(t)
	assert.Contains(t, msg.Text, shortID(task.ID))
	assert.Contains(t, msg.Text, "Call mom")
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	require.NotNil(t, markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, cbTogglePrefix+task.ID, *markup.InlineKeyboard[0][0].CallbackData)
}

func TestListEmpty(t *testing.T) {
	f := newBotFixture(t)

	f.say("/list completed")

	assert.Contains(t, f.api.last(t).Text, "No completed tasks")
}

func TestDoneByIDPrefix(t *testing.T) {
	f := newBotFixture(t)
	task := f.create(t, "Stretch")

	f.say("/done " + shortID(task.ID))

	got, err := f.tasks.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)

	f.say("/done ffffffffffff")
	assert.Contains(t, f.api.last(t).Text, "Task not found")
}

func TestDeleteWithConfirmation(t *testing.T) {
	f := newBotFixture(t)
	task := f.create(t, "Old chore")

	f.press(cbDeletePrefix + task.ID)
	assert.Contains(t, f.api.last(t).Text, "Delete «Old chore»")
	_, err := f.tasks.GetTask(context.Background(), task.ID)
	require.NoError(t, err)

	f.press(cbCancelPrefix + task.ID)
	assert.Contains(t, f.api.last(t).Text, "Deletion cancelled")

	f.press(cbConfirmPrefix + task.ID)
	_, err = f.tasks.GetTask(context.Background(), task.ID)
	assert.ErrorIs(t, err, service.ErrTaskNotFound)
	assert.Len(t, f.api.requests, 3)
}

func TestRemindUpdatesReminder(t *testing.T) {
	f := newBotFixture(t)
	task := f.create(t, "Pay rent")

	f.say("/remind " + shortID(task.ID) + " 2026-01-05 10:15 monthly")

	got, err := f.tasks.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReminderMonthly, got.ReminderType)
	assert.Equal(t, 5, got.ReminderTime.In(time.Local).Day())
	assert.Contains(t, f.api.last(t).Text, "Next reminder")

	f.say("/remind " + shortID(task.ID))
	assert.Contains(t, f.api.last(t).Text, "Usage")
}

func TestForeignChatIgnored(t *testing.T) {
	f := newBotFixture(t)

	f.bot.handleUpdate(context.Background(), tgbotapi.Update{Message: textMessage(7, "/add")})

	assert.Empty(t, f.api.sent)
	assert.Nil(t, f.bot.getConversation())
}

func TestParseReminderTime(t *testing.T) {
	now := time.Date(2026, time.October, 15, 8, 0, 0, 0, time.UTC)

	got, err := parseReminderTime("9:05", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.October, 15, 9, 5, 0, 0, time.UTC), got)

	got, err = parseReminderTime(" 2026-11-30 18:45 ", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.November, 30, 18, 45, 0, 0, time.UTC), got)

	for _, bad := range []string{"", "25:00", "tomorrow", "2026-13-01 10:00"} {
		_, err := parseReminderTime(bad, now)
		assert.Error(t, err, bad)
	}
}

func TestFormatTaskShowsNextOccurrence(t *testing.T) {
	now := time.Date(2026, time.October, 15, 8, 0, 0, 0, time.UTC)
	task := model.Task{
		ID:           "1a2b3c4d-0000-0000-0000-000000000000",
		Title:        "Gym <legs>",
		ReminderTime: time.Date(2026, time.October, 1, 7, 0, 0, 0, time.UTC),
		ReminderType: model.ReminderDaily,
	}

	out := formatTask(task, now)

	assert.Contains(t, out, "<code>1a2b3c4d</code>")
	assert.Contains(t, out, "Gym &lt;legs&gt;")
	assert.Contains(t, out, "daily at 07:00")
	assert.Contains(t, out, "next Fri 10-16 07:00")
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "short", shortTitle("short", 10))
	assert.Equal(t, "abcd…", shortTitle("abcdefgh", 5))
	assert.Equal(t, "a b", shortTitle("a\nb", 5))
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, repository.FilterActive, listFilter(""))
	assert.Equal(t, repository.FilterAll, listFilter("all"))
	assert.True(t, isSkipInput(btnSkip))
	assert.False(t, isSkipInput("skipper"))
}
