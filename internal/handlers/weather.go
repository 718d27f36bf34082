package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"gtg-gateway/internal/weather"
	"gtg-gateway/pkg/logging/logging"
)

type ForecastAPI interface {
	FetchDaily(ctx context.Context, lat, lon float64) (weather.Forecast, error)
}

type WeatherHandler struct {
	Client ForecastAPI
}

func NewWeatherHandler(client ForecastAPI) *WeatherHandler {
	return &WeatherHandler{Client: client}
}

type weatherResponse struct {
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Timezone  string        `json:"timezone,omitempty"`
	Days      []weather.Day `json:"days"`
}

// Daily handles GET /v1/weather?lat=&lon=.
func (h *WeatherHandler) Daily(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		writeError(w, http.StatusBadRequest, "invalid_coordinates", "lat and lon must be valid coordinates")
		return
	}

	f, err := h.Client.FetchDaily(r.Context(), lat, lon)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		logging.L(r.Context()).Warn("weather_upstream_error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream_error", "")
		return
	}

	days := weather.DailySummary(f)
	if days == nil {
		days = []weather.Day{}
	}
	writeJSON(w, http.StatusOK, weatherResponse{Latitude: lat, Longitude: lon, Timezone: f.Timezone, Days: days})
}
