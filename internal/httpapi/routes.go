package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// NewRouter sets up all routes for the application.
func NewRouter(c *TaskController, log zerolog.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(accessLog(log))

	router.HandleFunc("/tasks", c.GetTasks).Methods(http.MethodGet)
	router.HandleFunc("/tasks", c.CreateTask).Methods(http.MethodPost)
	router.HandleFunc("/tasks/{taskID}", c.GetTaskByID).Methods(http.MethodGet)
	router.HandleFunc("/tasks/{taskID}", c.UpdateTask).Methods(http.MethodPut)
	router.HandleFunc("/tasks/{taskID}", c.DeleteTask).Methods(http.MethodDelete)
	router.HandleFunc("/tasks/{taskID}/toggle", c.ToggleTask).Methods(http.MethodPost)

	router.HandleFunc("/notifications", c.CancelAll).Methods(http.MethodDelete)
	router.HandleFunc("/notifications/permission", c.GetPermission).Methods(http.MethodGet)
	router.HandleFunc("/notifications/permission", c.RequestPermission).Methods(http.MethodPost)
	router.HandleFunc("/notifications/test", c.SendTest).Methods(http.MethodPost)
	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func accessLog(log zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("took", time.Since(start)).
				Msg("http request")
		})
	}
}
