package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"gtg-gateway/internal/cache"
	"gtg-gateway/internal/photoqueue"
	"gtg-gateway/internal/pipeline"
	"gtg-gateway/internal/places"
	"gtg-gateway/internal/render"
	"gtg-gateway/internal/tracker"
	"gtg-gateway/pkg/logging/logging"
)

const (
	PageHeader     = "X-Page-ID"
	maxPhotoRefLen = 1024
)

// PhotoHandler serves photo references through the requesting session's pipeline.
type PhotoHandler struct {
	Sessions *pipeline.Registry
}

func NewPhotoHandler(sessions *pipeline.Registry) *PhotoHandler {
	return &PhotoHandler{Sessions: sessions}
}

// responseTarget receives the photo for one request. It stops being alive when the client
// goes away, so a queued fetch for an abandoned request is skipped.
type responseTarget struct {
	ctx context.Context

	mu      sync.Mutex
	payload cache.Payload
}

func (t *responseTarget) Alive() bool { return t.ctx.Err() == nil }

func (t *responseTarget) Show(_ string, p cache.Payload) {
	t.mu.Lock()
	t.payload = p
	t.mu.Unlock()
}

func (t *responseTarget) image() cache.Payload {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.payload
}

// Photo handles GET /v1/photos/{ref}.
//
// ?manual=1 marks a click-to-load request, which skips the page's automatic limit.
// ?region=<name> seeds the conservative session budget for region listings.
// ?kind=restaurant picks the restaurant placeholder for failed loads.
func (h *PhotoHandler) Photo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	ref := chi.URLParam(r, "ref")
	if ref == "" || len(ref) > maxPhotoRefLen {
		writeError(w, http.StatusBadRequest, "invalid_photo_ref", "")
		return
	}

	q := r.URL.Query()
	page := r.Header.Get(PageHeader)
	if page == "" {
		page = "default"
	}
	manual := q.Get("manual") == "1"

	sess := h.Sessions.Get(sessionID(ctx))
	if region := q.Get("region"); region != "" && region != places.RegionAll && places.IsRegion(region) {
		sess.Budget.SeedIfUnset(ctx, tracker.ConservativeBudget)
	}

	target := &responseTarget{ctx: ctx}
	ticket, ok := sess.Queue.TryEnqueue(ctx, target, ref, photoqueue.Options{Page: page, Manual: manual})
	if !ok {
		logger.Info("photo_budget_exhausted",
			zap.String("photo_ref", ref),
			zap.String("page", page),
			zap.Bool("manual", manual),
		)
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "photo_budget_exhausted", ClickToLoad: true})
		return
	}

	if !ticket.Wait(ctx) {
		if ctx.Err() != nil {
			return
		}
		kind := render.KindAttraction
		if q.Get("kind") == string(places.KindRestaurant) {
			kind = render.KindRestaurant
		}
		http.Redirect(w, r, kind.Placeholder(), http.StatusFound)
		return
	}

	img := target.image()
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

type budgetResponse struct {
	SessionID string `json:"session_id"`
	Remaining int    `json:"remaining"`
	Page      string `json:"page,omitempty"`
	PageUsed  int    `json:"page_used"`
}

// Budget handles GET /v1/session/budget.
func (h *PhotoHandler) Budget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionID(ctx)
	sess := h.Sessions.Get(id)

	page := r.Header.Get(PageHeader)
	if page == "" {
		page = "default"
	}
	writeJSON(w, http.StatusOK, budgetResponse{
		SessionID: id,
		Remaining: sess.Budget.Remaining(ctx),
		Page:      page,
		PageUsed:  sess.Budget.PageUsage(ctx, page),
	})
}

type pageLimitRequest struct {
	Limit int `json:"limit"`
}

// SetPageLimit handles PUT /v1/session/pages/{page}/limit. It also resets the page's counter.
func (h *PhotoHandler) SetPageLimit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page := chi.URLParam(r, "page")

	var req pageLimitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil || req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be {\"limit\": n} with n >= 0")
		return
	}

	sess := h.Sessions.Get(sessionID(ctx))
	sess.Budget.SetPageLimit(ctx, page, req.Limit)
	logging.L(ctx).Info("page_limit_set", zap.String("page", page), zap.Int("limit", req.Limit))
	w.WriteHeader(http.StatusNoContent)
}

func sessionID(ctx context.Context) string {
	if id := logging.SessionID(ctx); id != "" {
		return id
	}
	return "anon"
}
