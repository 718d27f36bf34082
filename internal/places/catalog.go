package places

import (
	"context"
)

// Kind selects which catalog a listing comes from.
type Kind string

const (
	KindAttraction Kind = "attraction"
	KindRestaurant Kind = "restaurant"
)

// DefaultListLimit is the size of a region listing.
const DefaultListLimit = 18

var (
	attractionSeeds = []string{
		"tourist attractions in Guatemala",
		"historic sites in Guatemala",
		"national parks Guatemala",
		"archaeological sites Guatemala",
		"museums Guatemala",
		"landmarks Guatemala",
	}
	restaurantSeeds = []string{
		"best restaurants in Guatemala",
		"popular restaurants Guatemala",
		"top restaurants Guatemala",
		"local cuisine Guatemala",
	}

	// Some region names make poor search queries on their own.
	restaurantRegionSeeds = map[string][]string{
		RegionMetropolitan: {"Guatemala City", "Guatemala City restaurants", "restaurants in Guatemala City"},
		RegionVerapaces:    {"Las Verapaces", "Verapaces Guatemala", "restaurants in Las Verapaces"},
		RegionPeten:        {"Petén", "Petén Guatemala", "restaurants in Petén"},
		RegionSouthCoast:   {"Pacific coast Guatemala", "South Coast Guatemala", "restaurants on the Pacific coast Guatemala"},
		RegionWest:         {"Quetzaltenango", "Quetzaltenango restaurants", "restaurants in Quetzaltenango"},
		RegionSoutheast:    {"Jutiapa", "Jutiapa Guatemala restaurants", "restaurants in Jutiapa"},
		RegionNortheast:    {"Izabal", "Izabal Guatemala restaurants", "restaurants in Izabal"},
	}
)

// Seeds returns the text queries used to build a listing of kind for region.
func Seeds(kind Kind, region string) []string {
	all := region == "" || region == RegionAll
	switch kind {
	case KindRestaurant:
		if all {
			return append([]string{}, restaurantSeeds...)
		}
		if s, ok := restaurantRegionSeeds[region]; ok {
			return append([]string{}, s...)
		}
		return []string{region + " restaurants", "best restaurants in " + region, region + " local cuisine"}
	default:
		if all {
			return append([]string{}, attractionSeeds...)
		}
		return []string{region + " tourist attractions", "top sites in " + region, region + " attractions Guatemala"}
	}
}

// List returns up to limit places of kind for region ("" or All for the whole country).
//
// Restaurant listings keep only places typed as restaurants and prefer those that fall inside
// the requested region, widening to country-wide seeds when the region has none.
func (c *Client) List(ctx context.Context, kind Kind, region string, limit int) ([]Place, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	all := region == "" || region == RegionAll

	items, err := c.SearchMany(ctx, Seeds(kind, region), MaxResults)
	if err != nil {
		return nil, err
	}
	if kind != KindRestaurant {
		return capList(items, limit), nil
	}
	if all {
		return capList(filter(items, func(p Place) bool { return p.HasType("restaurant") }), limit), nil
	}

	if exact := inRegion(items, region); len(exact) > 0 {
		return capList(exact, limit), nil
	}

	fallback, err := c.SearchMany(ctx, []string{
		"best restaurants in Guatemala",
		"popular restaurants Guatemala",
		region + " near Guatemala City",
	}, MaxResults)
	if err == nil {
		if exact := inRegion(fallback, region); len(exact) > 0 {
			return capList(exact, limit), nil
		}
	}
	if len(items) > 0 {
		return capList(items, limit), nil
	}
	return capList(fallback, limit), nil
}

func inRegion(items []Place, region string) []Place {
	return filter(items, func(p Place) bool { return p.Region == region })
}

func filter(items []Place, keep func(Place) bool) []Place {
	out := make([]Place, 0, len(items))
	for _, p := range items {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func capList(items []Place, limit int) []Place {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
