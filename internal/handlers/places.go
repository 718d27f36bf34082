package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"gtg-gateway/internal/places"
	"gtg-gateway/pkg/logging/logging"
)

// PlacesAPI is the part of places.Client the handlers use.
type PlacesAPI interface {
	TextSearch(ctx context.Context, query string) ([]places.Place, error)
	Details(ctx context.Context, placeID string) (places.Place, error)
	List(ctx context.Context, kind places.Kind, region string, limit int) ([]places.Place, error)
}

type PlacesHandler struct {
	Client PlacesAPI
}

func NewPlacesHandler(client PlacesAPI) *PlacesHandler {
	return &PlacesHandler{Client: client}
}

// placeView adds gateway photo URLs to a place. Browsers load those instead of the upstream
// photo endpoint, so every fetch goes through the session's budget and queue.
type placeView struct {
	places.Place
	ProxyPhotos []string `json:"proxyPhotos"`
}

func view(p places.Place) placeView {
	v := placeView{Place: p, ProxyPhotos: make([]string, 0, len(p.PhotoRefs))}
	for _, ref := range p.PhotoRefs {
		v.ProxyPhotos = append(v.ProxyPhotos, "/v1/photos/"+url.PathEscape(ref))
	}
	return v
}

func views(ps []places.Place) []placeView {
	out := make([]placeView, len(ps))
	for i, p := range ps {
		out[i] = view(p)
	}
	return out
}

type listResponse struct {
	Count  int         `json:"count"`
	Places []placeView `json:"places"`
}

// Search handles GET /v1/places/search?q=.
func (h *PlacesHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "q is required")
		return
	}
	res, err := h.Client.TextSearch(r.Context(), q)
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Count: len(res), Places: views(res)})
}

// List handles GET /v1/places?kind=attraction|restaurant&region=&limit=.
func (h *PlacesHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	kind := places.Kind(q.Get("kind"))
	switch kind {
	case "":
		kind = places.KindAttraction
	case places.KindAttraction, places.KindRestaurant:
	default:
		writeError(w, http.StatusBadRequest, "invalid_kind", "kind must be attraction or restaurant")
		return
	}

	region := q.Get("region")
	if region != "" && region != places.RegionAll && !places.IsRegion(region) {
		writeError(w, http.StatusBadRequest, "invalid_region", "unknown region "+strconv.Quote(region))
		return
	}

	limit := places.DefaultListLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > places.MaxResults {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and "+strconv.Itoa(places.MaxResults))
			return
		}
		limit = n
	}

	res, err := h.Client.List(r.Context(), kind, region, limit)
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Count: len(res), Places: views(res)})
}

// Details handles GET /v1/places/{id}.
func (h *PlacesHandler) Details(w http.ResponseWriter, r *http.Request) {
	p, err := h.Client.Details(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view(p))
}

func (h *PlacesHandler) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		return
	}
	logging.L(r.Context()).Warn("places_upstream_error", zap.Error(err))

	var apiErr *places.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case "NOT_FOUND", "INVALID_REQUEST":
			writeError(w, http.StatusNotFound, "not_found", "")
			return
		case "OVER_QUERY_LIMIT":
			writeError(w, http.StatusServiceUnavailable, "upstream_quota", "")
			return
		}
	}
	var se *places.StatusError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(se.RetryAfter.Seconds())))
	}
	writeError(w, http.StatusBadGateway, "upstream_error", "")
}
