// Package places is the client for the Places web service: photo references, text search and
// place details, normalized into the records the travel guide renders.
package places

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Place is a normalized place record.
type Place struct {
	PlaceID  string   `json:"placeId"`
	Name     string   `json:"name"`
	Types    []string `json:"types"`
	Status   string   `json:"status,omitempty"`
	IsOpen   *bool    `json:"isOpen"`
	Location *LatLng  `json:"location"`
	Address  string   `json:"address,omitempty"`
	// Photos are direct image URLs; PhotoRefs are the opaque references behind them.
	Photos    []string `json:"photos"`
	PhotoRefs []string `json:"photoRefs"`
	Region    string   `json:"region"`
}

// HasPhoto reports whether the place has at least one direct photo URL.
func (p Place) HasPhoto() bool { return len(p.Photos) > 0 }

// HasType reports whether t is one of the place's (normalized) types.
func (p Place) HasType(t string) bool {
	for _, have := range p.Types {
		if have == t {
			return true
		}
	}
	return false
}

// wire types of the web service

type rawPhoto struct {
	PhotoReference string `json:"photo_reference"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
}

type rawPlace struct {
	PlaceID          string   `json:"place_id"`
	Name             string   `json:"name"`
	Types            []string `json:"types"`
	BusinessStatus   string   `json:"business_status"`
	FormattedAddress string   `json:"formatted_address"`
	Vicinity         string   `json:"vicinity"`
	Geometry         *struct {
		Location *LatLng `json:"location"`
	} `json:"geometry"`
	OpeningHours *struct {
		OpenNow *bool `json:"open_now"`
	} `json:"opening_hours"`
	Photos []rawPhoto `json:"photos"`
}

type textSearchResponse struct {
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message"`
	Results      []rawPlace `json:"results"`
}

type detailsResponse struct {
	Status       string   `json:"status"`
	ErrorMessage string   `json:"error_message"`
	Result       rawPlace `json:"result"`
}
