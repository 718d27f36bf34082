package places

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssignRegion(t *testing.T) {
	cases := []struct {
		name     string
		lat, lng float64
		want     string
	}{
		{"tikal", 17.223, -89.623, RegionPeten},
		{"livingston", 15.83, -88.75, RegionNortheast},
		{"coban", 15.47, -90.37, RegionVerapaces},
		{"guatemala city", 14.6349, -90.5069, RegionMetropolitan},
		{"monterrico", 13.9, -90.8, RegionSouthCoast},
		{"quetzaltenango", 14.84, -91.52, RegionWest},
		{"huehuetenango highlands", 15.3, -90.9, RegionNorthwest},
		{"jutiapa", 14.29, -89.9, RegionSoutheast},
		{"chimaltenango", 14.66, -90.95, RegionCenter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AssignRegion(tc.lat, tc.lng))
			assert.True(t, IsRegion(tc.want))
		})
	}
}

func TestReferenceFromURL(t *testing.T) {
	ref, ok := ReferenceFromURL(PhotoURL("https://maps.googleapis.com", "AUc7 tZ/x", 800, "key"))
	assert.True(t, ok)
	assert.Equal(t, "AUc7 tZ/x", ref)

	_, ok = ReferenceFromURL("https://lh3.googleusercontent.com/p/AF1Qip=s800")
	assert.False(t, ok)

	_, ok = ReferenceFromURL("https://maps.googleapis.com/maps/api/place/photo?maxwidth=800")
	assert.False(t, ok)

	_, ok = ReferenceFromURL("://bad")
	assert.False(t, ok)
}
