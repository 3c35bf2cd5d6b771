package eventbus

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/hansjm10/jeeves/internal/state"
)

// StoreFor opens the state store for an issue coordinate, matching
// internal/activity's storeFor. The server is handed this instead of a
// *state.Store directly because it serves every issue on the same process.
type StoreFor func(issueCoordinate string) (*state.Store, error)

// Server is the HTTP API for the viewer: issue/run inspection plus the
// per-issue SSE event stream, modeled on the teacher's
// internal/server.Server route table and handleTaskEvents.
type Server struct {
	router   chi.Router
	bus      *Bus
	storeFor StoreFor
}

// NewServer creates a Server backed by bus for streaming and storeFor for
// point-in-time issue/run/task reads.
func NewServer(bus *Bus, storeFor StoreFor) *Server {
	s := &Server{bus: bus, storeFor: storeFor}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/api/v1/health", s.handleHealth)

	r.Route("/api/v1/issues/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetIssue)
		r.Get("/tasks", s.handleGetTasks)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	store, err := s.storeFor(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	issue, err := store.GetIssue()
	if err != nil {
		writeError(w, http.StatusNotFound, "issue not found")
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) handleGetTasks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	store, err := s.storeFor(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tasks, err := store.GetTasks()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	runID := chi.URLParam(r, "runID")
	store, err := s.storeFor(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rec, err := store.GetRunRecord(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
