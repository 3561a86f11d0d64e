package directory

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/zentra/nbot/internal/middleware"
	"github.com/zentra/nbot/internal/utils"
)

// CacheInvalidator drops a name from the cache guild after it is removed
// or disabled.
type CacheInvalidator interface {
	Remove(ctx context.Context, name string) error
}

type Handler struct {
	service *Service
	cache   CacheInvalidator
}

func NewHandler(service *Service, cache CacheInvalidator) *Handler {
	return &Handler{service: service, cache: cache}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.AddEmote)
	r.Get("/disabled", h.ListDisabled)

	r.Route("/{name}", func(r chi.Router) {
		r.Get("/", h.GetEmote)
		r.Patch("/", h.UpdateEmote)
		r.Delete("/", h.RemoveEmote)
		r.Post("/disable", h.DisableEmote)
		r.Post("/enable", h.EnableEmote)
	})

	return r
}

var serviceErrors = []utils.StatusError{
	{Err: ErrEmoteNotFound, Status: http.StatusNotFound, Message: "Emote not found"},
	{Err: ErrNameTaken, Status: http.StatusConflict},
	{Err: ErrAlreadyDisabled, Status: http.StatusConflict},
	{Err: ErrNotDisabled, Status: http.StatusConflict},
	{Err: ErrNotOwner, Status: http.StatusForbidden},
	{Err: ErrNotUserEmote, Status: http.StatusForbidden},
}

type addEmoteRequest struct {
	Name    string `json:"name" validate:"required,emotename"`
	URL     string `json:"url" validate:"required,url,max=2048"`
	OwnerID string `json:"ownerId" validate:"required,snowflake"`
}

type updateEmoteRequest struct {
	URL string `json:"url" validate:"required,url,max=2048"`
}

func (h *Handler) AddEmote(w http.ResponseWriter, r *http.Request) {
	var req addEmoteRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Name = utils.SanitizeString(req.Name)
	if err := utils.Validate(req); err != nil {
		utils.RespondValidationError(w, utils.FormatValidationErrors(err))
		return
	}

	ownerID, _ := strconv.ParseInt(req.OwnerID, 10, 64)
	emote, err := h.service.Add(r.Context(), req.Name, req.URL, ownerID)
	if err != nil {
		utils.RespondServiceError(w, err, "Failed to add emote", serviceErrors...)
		return
	}

	subject, _ := middleware.GetSubject(r.Context())
	log.Info().Str("emote", emote.Name).Str("admin", subject).Msg("Emote added via admin API")

	utils.RespondCreated(w, emote)
}

func (h *Handler) GetEmote(w http.ResponseWriter, r *http.Request) {
	emote, err := h.service.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		utils.RespondServiceError(w, err, "Failed to fetch emote", serviceErrors...)
		return
	}

	utils.RespondSuccess(w, emote)
}

func (h *Handler) UpdateEmote(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req updateEmoteRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := utils.Validate(req); err != nil {
		utils.RespondValidationError(w, utils.FormatValidationErrors(err))
		return
	}

	if err := h.service.UpdateURL(r.Context(), name, req.URL, 0, true); err != nil {
		utils.RespondServiceError(w, err, "Failed to update emote", serviceErrors...)
		return
	}
	h.invalidate(r.Context(), name)

	utils.RespondNoContent(w)
}

func (h *Handler) RemoveEmote(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.service.RemoveOwned(r.Context(), name, 0, true); err != nil {
		utils.RespondServiceError(w, err, "Failed to remove emote", serviceErrors...)
		return
	}
	h.invalidate(r.Context(), name)

	utils.RespondNoContent(w)
}

func (h *Handler) DisableEmote(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.service.Disable(r.Context(), name, 0); err != nil {
		utils.RespondServiceError(w, err, "Failed to disable emote", serviceErrors...)
		return
	}
	h.invalidate(r.Context(), name)

	utils.RespondNoContent(w)
}

func (h *Handler) EnableEmote(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Enable(r.Context(), chi.URLParam(r, "name")); err != nil {
		utils.RespondServiceError(w, err, "Failed to enable emote", serviceErrors...)
		return
	}

	utils.RespondNoContent(w)
}

func (h *Handler) ListDisabled(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListDisabled(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "Failed to list disabled emotes")
		return
	}

	utils.RespondSuccess(w, list)
}

func (h *Handler) invalidate(ctx context.Context, name string) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Remove(ctx, name); err != nil {
		log.Warn().Err(err).Str("emote", name).Msg("Failed to drop emote from cache")
	}
}
