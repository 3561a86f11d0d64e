package emoter

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/zentra/nbot/internal/middleware"
	"github.com/zentra/nbot/internal/services/collection"
	"github.com/zentra/nbot/internal/services/emotecache"
	"github.com/zentra/nbot/internal/utils"
)

const (
	defaultTopLimit = 25
	maxTopLimit     = 500
)

// Handler is the admin API of the emote pipeline.
type Handler struct {
	module *Module
}

func NewHandler(module *Module) *Handler {
	return &Handler{module: module}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.GetStatus)
	r.Get("/usage/top", h.GetTopUsage)
	r.Post("/directory/refresh", h.RefreshDirectory)
	r.Post("/cache/refresh", h.RefreshCache)
	r.Post("/cache/purge", h.PurgeCache)

	return r
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.module.Status(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to collect emoter status")
		utils.RespondError(w, http.StatusInternalServerError, "Failed to collect status")
		return
	}
	utils.RespondSuccess(w, st)
}

func (h *Handler) GetTopUsage(w http.ResponseWriter, r *http.Request) {
	limit, err := utils.QueryInt(r, "limit", defaultTopLimit, 1, maxTopLimit)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	top, err := h.module.deps.Usage.Top(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read usage ledger")
		utils.RespondError(w, http.StatusInternalServerError, "Failed to read usage")
		return
	}
	utils.RespondSuccess(w, top)
}

func (h *Handler) RefreshDirectory(w http.ResponseWriter, r *http.Request) {
	report, err := h.module.deps.Collection.Update(r.Context())
	if errors.Is(err, collection.ErrAlreadyRunning) {
		utils.RespondErrorWithCode(w, http.StatusConflict, utils.CodeSyncRunning, err.Error())
		return
	}
	h.respondRefresh(w, r, "directory", report, err)
}

func (h *Handler) RefreshCache(w http.ResponseWriter, r *http.Request) {
	report, err := h.module.deps.CacheSync.Update(r.Context())
	if errors.Is(err, emotecache.ErrAlreadyRunning) {
		utils.RespondErrorWithCode(w, http.StatusConflict, utils.CodeSyncRunning, err.Error())
		return
	}
	h.respondRefresh(w, r, "cache", report, err)
}

func (h *Handler) respondRefresh(w http.ResponseWriter, r *http.Request, job string, report any, err error) {
	subject, _ := middleware.GetSubject(r.Context())
	log.Info().
		Str("job", job).
		Str("subject", subject).
		Bool("success", err == nil).
		Msg("Refresh triggered from admin API")
	utils.RespondJob(w, report, err)
}

func (h *Handler) PurgeCache(w http.ResponseWriter, r *http.Request) {
	removed, err := h.module.deps.Cache.Purge(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("Purge left some emotes behind")
	}
	utils.RespondSuccess(w, map[string]any{"removed": removed, "complete": err == nil})
}
