package cache

import (
	"strconv"
	"strings"
	"time"
)

// key namespaces
const (
	photoBlobPrefix   = "photoBlob:"
	placeDetailPrefix = "places:detail:"
	placeTextPrefix   = "places:text:"
	weatherPrefix     = "weather:"
)

const (
	PhotoBlobTTL   = time.Hour
	PlaceTextTTL   = time.Hour
	PlaceDetailTTL = 24 * time.Hour
	WeatherTTL     = time.Hour
)

func PhotoBlobKey(ref string) string { return photoBlobPrefix + ref }

func PlaceDetailKey(placeID string) string { return placeDetailPrefix + placeID }

// PlaceTextKey normalizes whitespace and case so equivalent queries share an entry.
func PlaceTextKey(query string) string {
	return placeTextPrefix + strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// WeatherKey rounds coordinates to two decimals (about 1 km).
func WeatherKey(lat, lon float64) string {
	return weatherPrefix + strconv.FormatFloat(lat, 'f', 2, 64) + "," + strconv.FormatFloat(lon, 'f', 2, 64)
}
