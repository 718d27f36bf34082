package places

const maxTypes = 3

// normalize converts a web service record into a Place. Photo URLs are built against
// baseURL without an API key.
func normalize(p rawPlace, baseURL string, maxWidth int) Place {
	out := Place{
		PlaceID: p.PlaceID,
		Name:    p.Name,
		Status:  p.BusinessStatus,
		Address: p.FormattedAddress,
		Region:  RegionCenter,
	}
	if out.Address == "" {
		out.Address = p.Vicinity
	}

	types := p.Types
	if len(types) > maxTypes {
		types = types[:maxTypes]
	}
	out.Types = append([]string{}, types...)

	if p.OpeningHours != nil && p.OpeningHours.OpenNow != nil {
		open := *p.OpeningHours.OpenNow
		out.IsOpen = &open
	}

	if p.Geometry != nil && p.Geometry.Location != nil {
		loc := *p.Geometry.Location
		out.Location = &loc
		out.Region = AssignRegion(loc.Lat, loc.Lng)
	}

	out.Photos = []string{}
	out.PhotoRefs = []string{}
	for _, ph := range p.Photos {
		if ph.PhotoReference == "" {
			continue
		}
		out.PhotoRefs = append(out.PhotoRefs, ph.PhotoReference)
		out.Photos = append(out.Photos, PhotoURL(baseURL, ph.PhotoReference, maxWidth, ""))
	}
	return out
}

// normalize applies this client's photo settings.
func (c *Client) normalize(p rawPlace) Place {
	return normalize(p, c.cfg.BaseURL, c.cfg.MaxWidth)
}
