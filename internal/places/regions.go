package places

const (
	RegionMetropolitan = "Metropolitan"
	RegionVerapaces    = "Las Verapaces"
	RegionNortheast    = "Northeast"
	RegionSoutheast    = "Southeast"
	RegionCenter       = "Center"
	RegionWest         = "West"
	RegionNorthwest    = "Northwest"
	RegionPeten        = "Petén"
	RegionSouthCoast   = "South Coast"

	// RegionAll is the filter value meaning "no region".
	RegionAll = "All"
)

var Regions = []string{
	RegionMetropolitan, RegionVerapaces, RegionNortheast, RegionSoutheast, RegionCenter,
	RegionWest, RegionNorthwest, RegionPeten, RegionSouthCoast,
}

// IsRegion reports whether name is one of Regions.
func IsRegion(name string) bool {
	for _, r := range Regions {
		if r == name {
			return true
		}
	}
	return false
}

// AssignRegion maps a coordinate to one of the nine tourism regions using rough bounding
// boxes. Rules are checked in order; anything unmatched is Center.
func AssignRegion(lat, lng float64) string {
	switch {
	case lat >= 16.0:
		return RegionPeten
	case lat >= 15.5 && lng >= -89.5:
		return RegionNortheast
	case lat >= 14.9 && lat < 16.0 && lng >= -90.5 && lng <= -89.0:
		return RegionVerapaces
	case lat >= 14.4 && lat <= 14.9 && lng >= -90.9 && lng <= -90.2:
		return RegionMetropolitan
	case lat < 14.4 && lng <= -90.5:
		return RegionSouthCoast
	case lng <= -91.0:
		return RegionWest
	case lat >= 15.0 && lng <= -90.8:
		return RegionNorthwest
	case lat < 15.0 && lng >= -90.3 && lng <= -89.0:
		return RegionSoutheast
	default:
		return RegionCenter
	}
}
