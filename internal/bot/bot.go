package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"daily-tasks/internal/model"
	"daily-tasks/internal/repository"
	"daily-tasks/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stageTitle
	stageDescription
	stageCategory
	stageReminderTime
	stageReminderType
)

const (
	cbTogglePrefix  = "toggle:"
	cbDeletePrefix  = "delete:"
	cbConfirmPrefix = "confirm:"
	cbCancelPrefix  = "cancel:"
)

const (
	btnSkip         = "⏭️ Skip"
	btnCancelDialog = "⏪ Cancel input"
	btnDaily        = "Daily"
	btnWeekly       = "Weekly"
	btnMonthly      = "Monthly"
	menuLabelAdd    = "➕ New task"
	menuLabelList   = "📋 Tasks"
	menuLabelHelp   = "ℹ️ Help"
	shortIDLen      = 8
)

const helpText = "ℹ️ <b>Commands</b>\n" +
	"• /add — create a task step by step\n" +
	"• /list [active|completed|all] — show tasks (active by default)\n" +
	"• /done &lt;id&gt; — toggle completion\n" +
	"• /delete &lt;id&gt; — delete a task\n" +
	"• /remind &lt;id&gt; &lt;HH:MM | YYYY-MM-DD HH:MM&gt; [daily|weekly|monthly] — change the reminder\n" +
	"• /permission — check notification permission\n" +
	"• /test — send a test notification\n" +
	"• /cancel — abort the current input"

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// replyError is a failure whose text goes to the chat as is.
type replyError string

func (e replyError) Error() string { return string(e) }

type conversationState struct {
	stage conversationStage
	input service.TaskInput
}

// Bot is the Telegram front end. It only talks to the owner chat.
type Bot struct {
	api       API
	chatID    int64
	tasks     *service.TaskService
	reminders *service.ReminderScheduler
	log       zerolog.Logger
	now       func() time.Time

	mu           sync.Mutex
	conversation *conversationState
}

func New(api API, chatID int64, tasks *service.TaskService, reminders *service.ReminderScheduler, log zerolog.Logger) *Bot {
	return &Bot{
		api:       api,
		chatID:    chatID,
		tasks:     tasks,
		reminders: reminders,
		log:       log,
		now:       time.Now,
	}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info().Int64("chat_id", b.chatID).Msg("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		b.handleUpdate(ctx, update)
	}

	return ctx.Err()
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
			b.log.Error().Err(err).Msg("handle callback")
		}
	case update.Message != nil:
		if update.Message.Chat == nil || update.Message.Chat.ID != b.chatID {
			return
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			b.log.Error().Err(err).Msg("handle message")
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation()
		return b.sendText("⏪ Input cancelled.")
	}

	if msg.IsCommand() {
		b.log.Info().Str("command", msg.Command()).Str("args", msg.CommandArguments()).Msg("command")
		return b.handleCommand(ctx, msg)
	}

	if handled, err := b.handleMenuAlias(ctx, msg); handled {
		return err
	}

	if state := b.getConversation(); state != nil {
		b.log.Debug().Int("stage", int(state.stage)).Msg("conversation step")
		return b.handleConversation(ctx, state, strings.TrimSpace(msg.Text))
	}

	return b.sendText("I did not get that. Use /add to create a task or /help for the command list.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "start", "help":
		return b.sendText(helpText)
	case "add", "newtask":
		return b.startNewTaskConversation()
	case "list", "tasks":
		return b.sendTaskList(ctx, listFilter(args))
	case "done":
		return b.handleToggle(ctx, args)
	case "delete":
		return b.handleDelete(ctx, args)
	case "remind":
		return b.handleRemind(ctx, args)
	case "permission":
		status := b.reminders.Configure(ctx)
		return b.sendText(fmt.Sprintf("🔔 Notification permission: <b>%s</b>", status))
	case "test":
		if _, err := b.reminders.SendTest(ctx, "", ""); err != nil {
			return b.sendText(fmt.Sprintf("Could not schedule a test notification: %s", escape(err.Error())))
		}
		return b.sendText("🔔 Test notification scheduled.")
	case "cancel":
		b.clearConversation()
		return b.sendText("⏪ Input cancelled.")
	default:
		return b.sendText("Unknown command. See /help.")
	}
}

func (b *Bot) startNewTaskConversation() error {
	b.setConversation(&conversationState{stage: stageTitle})
	return b.sendWithReplyMarkup("🆕 New task.\n<b>Step 1:</b> what is it called?", cancelKeyboard())
}

func (b *Bot) handleConversation(ctx context.Context, state *conversationState, text string) error {
	switch state.stage {
	case stageTitle:
		if text == "" {
			return b.sendWithReplyMarkup("The title is required.", cancelKeyboard())
		}
		state.input.Title = text
		state.stage = stageDescription
		return b.sendWithReplyMarkup("✏️ Add a short description (or Skip).", skipKeyboard())
	case stageDescription:
		if !isSkipInput(text) {
			state.input.Description = text
		}
		state.stage = stageCategory
		return b.sendWithReplyMarkup("🏷 Category (or Skip).", skipKeyboard())
	case stageCategory:
		if !isSkipInput(text) {
			state.input.Category = text
		}
		state.stage = stageReminderTime
		return b.sendWithReplyMarkup("⏰ Reminder time: <code>HH:MM</code> or <code>YYYY-MM-DD HH:MM</code> (or Skip for no reminder).", skipKeyboard())
	case stageReminderTime:
		if isSkipInput(text) {
			return b.finishTaskCreation(ctx, state.input)
		}
		reminderTime, err := parseReminderTime(text, b.now())
		if err != nil {
			return b.sendWithReplyMarkup("Cannot read that time. Use <code>09:30</code> or <code>2026-10-21 09:30</code>.", skipKeyboard())
		}
		state.input.ReminderTime = reminderTime
		state.stage = stageReminderType
		return b.sendWithReplyMarkup("🔁 How often?", frequencyKeyboard())
	case stageReminderType:
		kind := model.ReminderType(strings.ToLower(text))
		if !kind.Valid() {
			return b.sendWithReplyMarkup("Pick Daily, Weekly or Monthly.", frequencyKeyboard())
		}
		state.input.ReminderType = string(kind)
		return b.finishTaskCreation(ctx, state.input)
	default:
		b.clearConversation()
		return b.sendText("Dialog reset. Try /add again.")
	}
}

func (b *Bot) finishTaskCreation(ctx context.Context, input service.TaskInput) error {
	b.clearConversation()

	task, d, err := b.tasks.CreateTask(ctx, input)
	if err != nil {
		return b.sendText(fmt.Sprintf("Could not save the task: %s", escape(err.Error())))
	}
	b.log.Info().Str("task_id", task.ID).Str("reminder", string(d.State)).Msg("task created")

	var summary strings.Builder
	summary.WriteString("✅ <b>Task saved</b>\n")
	summary.WriteString(fmt.Sprintf("• <b>ID:</b> <code>%s</code>\n", shortID(task.ID)))
	summary.WriteString(fmt.Sprintf("• <b>Title:</b> %s\n", escape(task.Title)))
	if task.Description != "" {
		summary.WriteString(fmt.Sprintf("• <b>Description:</b> %s\n", escape(task.Description)))
	}
	if task.Category != "" {
		summary.WriteString(fmt.Sprintf("• <b>Category:</b> %s\n", escape(task.Category)))
	}
	summary.WriteString(describeDecision(d))
	if err := b.sendText(strings.TrimSpace(summary.String())); err != nil {
		return err
	}
	return b.sendTaskList(ctx, repository.FilterActive)
}

func (b *Bot) sendTaskList(ctx context.Context, filter repository.TaskFilter) error {
	tasks, err := b.tasks.ListTasks(ctx, filter)
	if err != nil {
		return b.sendText(fmt.Sprintf("Could not load tasks: %s", escape(err.Error())))
	}
	stats, err := b.tasks.Stats(ctx)
	if err != nil {
		return b.sendText(fmt.Sprintf("Could not load tasks: %s", escape(err.Error())))
	}

	if len(tasks) == 0 {
		return b.sendText(fmt.Sprintf("No %s tasks. Add one with /add.", filter))
	}

	now := b.now()
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("📋 <b>Tasks</b> (%s) · %d active · %d done\n\n", filter, stats.Active, stats.Completed))

	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, task := range tasks {
		builder.WriteString(formatTask(task, now))
		toggleLabel := "✅ " + shortTitle(task.Title, 20)
		if task.Completed {
			toggleLabel = "↩️ " + shortTitle(task.Title, 20)
		}
		buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(toggleLabel, cbTogglePrefix+task.ID),
			tgbotapi.NewInlineKeyboardButtonData("🗑", cbDeletePrefix+task.ID),
		))
	}

	msg := tgbotapi.NewMessage(b.chatID, strings.TrimSpace(builder.String()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(msg)
	return err
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.Message == nil || cb.Message.Chat == nil || cb.Message.Chat.ID != b.chatID {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warn().Err(err).Msg("callback ack")
	}

	data := cb.Data
	b.log.Info().Str("data", data).Msg("callback")
	switch {
	case strings.HasPrefix(data, cbTogglePrefix):
		return b.toggleAndRefresh(ctx, strings.TrimPrefix(data, cbTogglePrefix))
	case strings.HasPrefix(data, cbDeletePrefix):
		return b.askDeleteConfirmation(ctx, strings.TrimPrefix(data, cbDeletePrefix))
	case strings.HasPrefix(data, cbConfirmPrefix):
		return b.deleteAndRefresh(ctx, strings.TrimPrefix(data, cbConfirmPrefix))
	case strings.HasPrefix(data, cbCancelPrefix):
		return b.sendText("Deletion cancelled.")
	default:
		return nil
	}
}

func (b *Bot) handleToggle(ctx context.Context, ref string) error {
	task, err := b.resolveTask(ctx, ref)
	if err != nil {
		return b.sendText(err.Error())
	}
	return b.toggleAndRefresh(ctx, task.ID)
}

func (b *Bot) toggleAndRefresh(ctx context.Context, taskID string) error {
	task, d, err := b.tasks.ToggleCompletion(ctx, taskID)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			return b.sendText("Task not found or already deleted.")
		}
		return b.sendText(fmt.Sprintf("Error: %s", escape(err.Error())))
	}

	info := fmt.Sprintf("✅ «%s» done. Reminder cancelled.", escape(task.Title))
	if !task.Completed {
		info = fmt.Sprintf("↩️ «%s» reopened.\n%s", escape(task.Title), describeDecision(d))
	}
	if err := b.sendText(strings.TrimSpace(info)); err != nil {
		return err
	}
	return b.sendTaskList(ctx, repository.FilterActive)
}

func (b *Bot) handleDelete(ctx context.Context, ref string) error {
	task, err := b.resolveTask(ctx, ref)
	if err != nil {
		return b.sendText(err.Error())
	}
	return b.askDeleteConfirmation(ctx, task.ID)
}

func (b *Bot) askDeleteConfirmation(ctx context.Context, taskID string) error {
	task, err := b.tasks.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			return b.sendText("Task not found.")
		}
		return err
	}

	text := fmt.Sprintf("Delete «%s» (<code>%s</code>)?", escape(task.Title), shortID(task.ID))
	return b.sendWithReplyMarkup(text, tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🗑 Delete", cbConfirmPrefix+task.ID),
		tgbotapi.NewInlineKeyboardButtonData("↩️ Keep", cbCancelPrefix+task.ID),
	)))
}

func (b *Bot) deleteAndRefresh(ctx context.Context, taskID string) error {
	task, err := b.tasks.GetTask(ctx, taskID)
	if err != nil {
		return b.sendText("Task not found or already deleted.")
	}
	if err := b.tasks.DeleteTask(ctx, taskID); err != nil {
		return b.sendText(fmt.Sprintf("Could not delete the task: %s", escape(err.Error())))
	}

	b.log.Info().Str("task_id", taskID).Msg("task deleted")
	if err := b.sendText(fmt.Sprintf("🗑 «%s» deleted.", escape(task.Title))); err != nil {
		return err
	}
	return b.sendTaskList(ctx, repository.FilterActive)
}

// handleRemind changes the reminder: /remind <id> <time> [type].
func (b *Bot) handleRemind(ctx context.Context, args string) error {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return b.sendText("Usage: /remind &lt;id&gt; &lt;HH:MM | YYYY-MM-DD HH:MM&gt; [daily|weekly|monthly]")
	}
	task, err := b.resolveTask(ctx, fields[0])
	if err != nil {
		return b.sendText(err.Error())
	}

	rest := fields[1:]
	var kind *string
	if last := strings.ToLower(rest[len(rest)-1]); model.ReminderType(last).Valid() {
		kind = &last
		rest = rest[:len(rest)-1]
	}
	reminderTime, err := parseReminderTime(strings.Join(rest, " "), b.now())
	if err != nil {
		return b.sendText("Cannot read that time. Use <code>09:30</code> or <code>2026-10-21 09:30</code>.")
	}

	updated, d, err := b.tasks.UpdateTask(ctx, task.ID, service.TaskUpdate{ReminderTime: &reminderTime, ReminderType: kind})
	if err != nil {
		return b.sendText(fmt.Sprintf("Could not update the task: %s", escape(err.Error())))
	}
	return b.sendText(strings.TrimSpace(fmt.Sprintf("⏰ «%s» updated.\n%s", escape(updated.Title), describeDecision(d))))
}

// resolveTask finds a task by full id or a unique id prefix.
func (b *Bot) resolveTask(ctx context.Context, ref string) (*model.Task, error) {
	ref = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ref), "#"))
	if ref == "" {
		return nil, replyError("Give the task id, e.g. /done 1a2b3c4d")
	}
	tasks, err := b.tasks.ListTasks(ctx, repository.FilterAll)
	if err != nil {
		return nil, replyError("Could not load tasks: " + escape(err.Error()))
	}
	var found *model.Task
	for i := range tasks {
		if !strings.HasPrefix(tasks[i].ID, ref) {
			continue
		}
		if found != nil {
			return nil, replyError("That id matches several tasks, type more characters.")
		}
		found = &tasks[i]
	}
	if found == nil {
		return nil, replyError("Task not found.")
	}
	return found, nil
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	switch strings.TrimSpace(msg.Text) {
	case menuLabelAdd:
		return true, b.startNewTaskConversation()
	case menuLabelList:
		return true, b.sendTaskList(ctx, repository.FilterActive)
	case menuLabelHelp:
		return true, b.sendText(helpText)
	default:
		return false, nil
	}
}

func (b *Bot) sendText(text string) error {
	return b.sendWithReplyMarkup(text, mainMenuKeyboard())
}

func (b *Bot) sendWithReplyMarkup(text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) setConversation(state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversation = state
}

func (b *Bot) getConversation() *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversation
}

func (b *Bot) clearConversation() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversation = nil
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelAdd),
			tgbotapi.NewKeyboardButton(menuLabelList),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSkip),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func frequencyKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnDaily),
			tgbotapi.NewKeyboardButton(btnWeekly),
			tgbotapi.NewKeyboardButton(btnMonthly),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

// listFilter defaults to active tasks when no argument is given.
func listFilter(args string) repository.TaskFilter {
	if strings.TrimSpace(args) == "" {
		return repository.FilterActive
	}
	return repository.ParseTaskFilter(args)
}

func isSkipInput(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	return text == btnSkip || lower == "skip" || lower == "-"
}

func isCancelDialogInput(text string) bool {
	return strings.TrimSpace(text) == btnCancelDialog
}

// parseReminderTime accepts "HH:MM" (today, local) or "YYYY-MM-DD HH:MM".
func parseReminderTime(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if t, err := time.ParseInLocation("2006-01-02 15:04", text, now.Location()); err == nil {
		return t, nil
	}
	hour, minute, err := service.ParseClock(text)
	if err != nil {
		return time.Time{}, err
	}
	year, month, day := now.Date()
	return time.Date(year, month, day, hour, minute, 0, 0, now.Location()), nil
}

func describeDecision(d service.Decision) string {
	switch d.State {
	case service.StateScheduled:
		return fmt.Sprintf("🔔 Next reminder: %s\n", d.FireAt.Format("Mon 2006-01-02 15:04"))
	case service.StateFailed:
		return "⚠️ Reminder could not be scheduled (see /permission).\n"
	case service.StateNoReminder:
		return "🔕 No reminder.\n"
	default:
		return ""
	}
}

func formatTask(task model.Task, now time.Time) string {
	var sb strings.Builder
	icon := "🟢"
	if task.Completed {
		icon = "✔️"
	}
	sb.WriteString(fmt.Sprintf("%s <code>%s</code> %s", icon, shortID(task.ID), escape(task.Title)))
	if task.Category != "" {
		sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", escape(task.Category)))
	}
	if !task.ReminderTime.IsZero() {
		sb.WriteString(fmt.Sprintf("\n   🔁 %s at %s", task.ReminderType, task.ReminderTime.In(now.Location()).Format("15:04")))
		if !task.Completed {
			next := service.NextOccurrence(task.ReminderType, task.ReminderTime, now)
			sb.WriteString(fmt.Sprintf(" · next %s", next.Format("Mon 01-02 15:04")))
		}
	}
	if task.Description != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", escape(task.Description)))
	}
	sb.WriteByte('\n')
	return sb.String()
}

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

func shortTitle(title string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func escape(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}
