package episode

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"respira-triage/internal/apperr"
	"respira-triage/internal/triage"
)

type Handler struct {
	svc    *Service
	logger *zap.Logger
}

func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the patient-side API.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhook/telegram", h.HandleTelegramWebhook)
	r.Route("/episodes/{episodeID}", func(r chi.Router) {
		r.Get("/", h.GetEpisode)
		r.Get("/chat", h.ListChat)
		r.Get("/images", h.ListImages)
		r.Post("/images", h.UploadImage)
		r.Get("/severity", h.EvaluateSeverity)
		r.Post("/reset", h.ResetConversation)
	})
}

// telegramUpdate is the slice of the Bot API update payload the bot consumes.
type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
		} `json:"from"`
		Text    string `json:"text"`
		Caption string `json:"caption"`
		Photo   []struct {
			FileID   string `json:"file_id"`
			FileSize int64  `json:"file_size"`
		} `json:"photo"`
		Contact *struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"contact"`
	} `json:"message"`
}

func (h *Handler) HandleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	var update telegramUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, apperr.Validation("invalid update payload"))
		return
	}
	// Non-message updates (edits, callbacks) are acknowledged and skipped so
	// Telegram does not retry them.
	if update.Message == nil {
		respond(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	in := Inbound{
		ChatID: update.Message.Chat.ID,
		Name:   update.Message.From.FirstName,
		Text:   update.Message.Text,
	}
	if update.Message.Contact != nil {
		in.Phone = update.Message.Contact.PhoneNumber
	}
	if len(update.Message.Photo) > 0 {
		// Telegram sends multiple sizes; the last entry is the largest.
		in.ImageFileID = update.Message.Photo[len(update.Message.Photo)-1].FileID
		if in.Text == "" {
			in.Text = update.Message.Caption
		}
	}

	outcome, err := h.svc.ProcessIncomingMessage(r.Context(), in)
	if err != nil {
		h.logger.Error("webhook processing failed",
			zap.Int64("chat_id", in.ChatID),
			zap.Error(err))
		writeError(w, err)
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"episodeId": outcome.Episode.ID,
		"status":    outcome.Episode.Status,
		"replies":   outcome.Replies,
		"escalated": outcome.Escalated,
	})
}

func (h *Handler) GetEpisode(w http.ResponseWriter, r *http.Request) {
	id, err := episodeID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ep, err := h.svc.GetEpisode(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, http.StatusOK, ep)
}

func (h *Handler) ListChat(w http.ResponseWriter, r *http.Request) {
	id, err := episodeID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	messages, err := h.svc.ListChat(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if messages == nil {
		messages = []ChatMessage{}
	}
	respond(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *Handler) ListImages(w http.ResponseWriter, r *http.Request) {
	id, err := episodeID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	images, err := h.svc.ListImages(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"images": images})
}

const maxImageUpload = 10 << 20

func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	id, err := episodeID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	content, err := io.ReadAll(io.LimitReader(r.Body, maxImageUpload+1))
	if err != nil {
		writeError(w, apperr.Validation("unreadable request body"))
		return
	}
	if len(content) == 0 {
		writeError(w, apperr.Validation("empty image body"))
		return
	}
	if len(content) > maxImageUpload {
		writeError(w, apperr.Validation("image exceeds the 10MB limit"))
		return
	}

	rec, err := h.svc.RegisterImage(r.Context(), id, content, contentType, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, http.StatusCreated, rec)
}

func (h *Handler) EvaluateSeverity(w http.ResponseWriter, r *http.Request) {
	id, err := episodeID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	eval, err := h.svc.EvaluateSeverity(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, http.StatusOK, eval)
}

type resetRequest struct {
	ActorType string `json:"actorType"`
	ActorID   string `json:"actorId"`
}

func (h *Handler) ResetConversation(w http.ResponseWriter, r *http.Request) {
	id, err := episodeID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req resetRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	actor := triage.Actor{Type: req.ActorType, ID: req.ActorID}
	if actor.Type == "" {
		actor.Type = triage.ActorPatient
	}

	counts, err := h.svc.ResetConversation(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"cleared": counts})
}

func episodeID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "episodeID"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid episode id")
	}
	return id, nil
}

// respond and writeError are the single JSON response path for all handlers.
func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	respond(w, apperr.HTTPStatus(err), map[string]string{"error": apperr.MessageOf(err)})
}
