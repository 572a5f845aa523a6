package doctor

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"respira-triage/internal/apperr"
	"respira-triage/internal/followup"
	"respira-triage/internal/triage"
)

type Handler struct {
	svc    *Service
	tasks  *followup.Service
	logger *zap.Logger
}

func NewHandler(svc *Service, tasks *followup.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, tasks: tasks, logger: logger}
}

// Routes mounts the doctor-side API.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/doctor", func(r chi.Router) {
		r.Get("/cases", h.ListCases)
		r.Route("/cases/{episodeID}", func(r chi.Router) {
			r.Post("/claim", h.Claim)
			r.Post("/approve", h.Approve)
			r.Get("/tasks", h.ListTasks)
		})
		r.Post("/tasks/{taskID}/complete", h.CompleteTask)
	})
}

func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := ListRequest{}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			req.Statuses = append(req.Statuses, triage.EpisodeStatus(strings.ToUpper(strings.TrimSpace(s))))
		}
	}
	if raw := q.Get("severity"); raw != "" {
		class := triage.SeverityClass(strings.ToUpper(raw))
		req.Severity = &class
	}
	if raw := q.Get("claimedBy"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, apperr.Validation("invalid claimedBy id"))
			return
		}
		req.ClaimedBy = &id
	}
	req.Unclaimed = q.Get("unclaimed") == "true"
	req.Limit, _ = strconv.Atoi(q.Get("limit"))
	req.Offset, _ = strconv.Atoi(q.Get("offset"))

	list, err := h.svc.ListCases(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, http.StatusOK, list)
}

type claimRequest struct {
	DoctorID string `json:"doctorId"`
}

func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	episodeID, err := episodeID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid claim payload"))
		return
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, apperr.Validation("invalid doctor id"))
		return
	}

	ep, err := h.svc.Claim(r.Context(), episodeID, doctorID)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, http.StatusOK, ep)
}

type approveRequest struct {
	DoctorID string `json:"doctorId"`
	Override string `json:"override,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := episodeID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid approve payload"))
		return
	}
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, apperr.Validation("invalid doctor id"))
		return
	}

	approve := ApproveRequest{DoctorID: doctorID, Notes: req.Notes}
	if req.Override != "" {
		class := triage.SeverityClass(strings.ToUpper(req.Override))
		approve.Override = &class
	}

	result, err := h.svc.Approve(r.Context(), id, approve)
	if err != nil {
		h.logger.Warn("approval rejected",
			zap.String("episode_id", id.String()),
			zap.Error(err))
		writeError(w, err)
		return
	}
	respond(w, http.StatusOK, result)
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	id, err := episodeID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tasks, err := h.tasks.List(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []followup.Task{}
	}
	respond(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, apperr.Validation("invalid task id"))
		return
	}
	task, err := h.tasks.Complete(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, http.StatusOK, task)
}

func episodeID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "episodeID"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid episode id")
	}
	return id, nil
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	respond(w, apperr.HTTPStatus(err), map[string]string{"error": apperr.MessageOf(err)})
}
