package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"daily-tasks/internal/model"
	"daily-tasks/internal/repository"
	"daily-tasks/internal/service"
)

// TaskController handles HTTP requests for tasks and notifications.
type TaskController struct {
	tasks     *service.TaskService
	reminders *service.ReminderScheduler
	log       zerolog.Logger
}

func NewTaskController(tasks *service.TaskService, reminders *service.ReminderScheduler, log zerolog.Logger) *TaskController {
	return &TaskController{tasks: tasks, reminders: reminders, log: log}
}

type taskRequest struct {
	Title        *string    `json:"title"`
	Description  *string    `json:"description"`
	Category     *string    `json:"category"`
	ReminderTime *time.Time `json:"reminderTime"`
	ReminderType *string    `json:"reminderType"`
	Completed    *bool      `json:"completed"`
}

type taskResponse struct {
	Task     *model.Task       `json:"task"`
	Reminder *reminderResponse `json:"reminder,omitempty"`
}

type reminderResponse struct {
	State  service.ReminderState `json:"state"`
	FireAt *time.Time            `json:"fireAt,omitempty"`
	Error  string                `json:"error,omitempty"`
}

type listResponse struct {
	Tasks []model.Task      `json:"tasks"`
	Stats service.TaskStats `json:"stats"`
}

// GetTasks handles GET /tasks?filter=all|active|completed.
func (c *TaskController) GetTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := c.tasks.ListTasks(r.Context(), repository.ParseTaskFilter(r.URL.Query().Get("filter")))
	if err != nil {
		c.fail(w, err)
		return
	}
	stats, err := c.tasks.Stats(r.Context())
	if err != nil {
		c.fail(w, err)
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, listResponse{Tasks: tasks, Stats: stats})
}

// CreateTask handles POST /tasks.
func (c *TaskController) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	input := service.TaskInput{}
	if req.Title != nil {
		input.Title = *req.Title
	}
	if req.Description != nil {
		input.Description = *req.Description
	}
	if req.Category != nil {
		input.Category = *req.Category
	}
	if req.ReminderTime != nil {
		input.ReminderTime = *req.ReminderTime
	}
	if req.ReminderType != nil {
		input.ReminderType = *req.ReminderType
	}

	task, d, err := c.tasks.CreateTask(r.Context(), input)
	if err != nil {
		c.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, taskResponse{Task: task, Reminder: toReminder(d)})
}

// GetTaskByID handles GET /tasks/{taskID}.
func (c *TaskController) GetTaskByID(w http.ResponseWriter, r *http.Request) {
	task, err := c.tasks.GetTask(r.Context(), mux.Vars(r)["taskID"])
	if err != nil {
		c.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Task: task})
}

// UpdateTask handles PUT /tasks/{taskID}; absent fields are kept.
func (c *TaskController) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	task, d, err := c.tasks.UpdateTask(r.Context(), mux.Vars(r)["taskID"], service.TaskUpdate{
		Title:        req.Title,
		Description:  req.Description,
		Category:     req.Category,
		ReminderTime: req.ReminderTime,
		ReminderType: req.ReminderType,
		Completed:    req.Completed,
	})
	if err != nil {
		c.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Task: task, Reminder: toReminder(d)})
}

// ToggleTask handles POST /tasks/{taskID}/toggle.
func (c *TaskController) ToggleTask(w http.ResponseWriter, r *http.Request) {
	task, d, err := c.tasks.ToggleCompletion(r.Context(), mux.Vars(r)["taskID"])
	if err != nil {
		c.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{Task: task, Reminder: toReminder(d)})
}

// DeleteTask handles DELETE /tasks/{taskID}.
func (c *TaskController) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := c.tasks.DeleteTask(r.Context(), mux.Vars(r)["taskID"]); err != nil {
		c.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPermission handles GET /notifications/permission.
func (c *TaskController) GetPermission(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": string(c.reminders.Permissions(r.Context()))})
}

// RequestPermission handles POST /notifications/permission.
func (c *TaskController) RequestPermission(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": string(c.reminders.RequestPermission(r.Context()))})
}

// SendTest handles POST /notifications/test.
func (c *TaskController) SendTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request payload", http.StatusBadRequest)
			return
		}
	}
	handle, err := c.reminders.SendTest(r.Context(), req.Title, req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"handle": handle})
}

// CancelAll handles DELETE /notifications.
func (c *TaskController) CancelAll(w http.ResponseWriter, r *http.Request) {
	c.reminders.CancelAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (c *TaskController) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		http.Error(w, "Task not found", http.StatusNotFound)
	case errors.Is(err, service.ErrTitleRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		c.log.Error().Err(err).Msg("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toReminder(d service.Decision) *reminderResponse {
	resp := &reminderResponse{State: d.State}
	if !d.FireAt.IsZero() {
		fireAt := d.FireAt
		resp.FireAt = &fireAt
	}
	if d.Err != nil {
		resp.Error = d.Err.Error()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
