package places

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gtg-gateway/internal/cache"
)

const testBase = "https://maps.example.test"

func newTestClient(t *testing.T, blobs *cache.BlobCache) *Client {
	t.Helper()

	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	t.Cleanup(httpmock.DeactivateAndReset)

	c, err := NewClient(Config{
		BaseURL:           testBase,
		APIKey:            "test-key",
		BaseBackoff:       time.Millisecond,
		RequestsPerSecond: 1000,
		HTTPClient:        hc,
	}, blobs, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func newBlobs(t *testing.T) *cache.BlobCache {
	return cache.NewBlobCache(cache.NewMemoryStore(), nil, zaptest.NewLogger(t))
}

const textSearchBody = `{
  "status": "OK",
  "results": [
    {
      "place_id": "tikal",
      "name": "Tikal National Park",
      "types": ["park", "tourist_attraction", "point_of_interest", "establishment"],
      "business_status": "OPERATIONAL",
      "formatted_address": "Tikal, Petén",
      "geometry": {"location": {"lat": 17.223, "lng": -89.623}},
      "opening_hours": {"open_now": true},
      "photos": [{"photo_reference": "ref-tikal", "width": 4000, "height": 3000}]
    },
    {
      "place_id": "nophoto",
      "name": "No Photo Museum",
      "types": ["museum"],
      "geometry": {"location": {"lat": 14.6, "lng": -90.5}}
    },
    {
      "place_id": "antigua",
      "name": "Antigua Guatemala",
      "types": ["locality"],
      "vicinity": "Sacatepéquez",
      "geometry": {"location": {"lat": 14.556, "lng": -90.734}},
      "photos": [{"photo_reference": "ref-antigua-1"}, {"photo_reference": "ref-antigua-2"}]
    }
  ]
}`

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{}, nil, nil, zaptest.NewLogger(t))
	require.Error(t, err)

	_, err = NewClient(Config{APIKey: "k", BaseURL: "not a url"}, nil, nil, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestTextSearchNormalizesAndCaches(t *testing.T) {
	blobs := newBlobs(t)
	c := newTestClient(t, blobs)
	ctx := context.Background()

	httpmock.RegisterResponder("GET", testBase+textSearchPath,
		httpmock.NewStringResponder(http.StatusOK, textSearchBody))

	got, err := c.TextSearch(ctx, "tourist attractions in Guatemala")
	require.NoError(t, err)
	require.Len(t, got, 2, "places without photos are dropped")

	tikal := got[0]
	assert.Equal(t, "tikal", tikal.PlaceID)
	assert.Equal(t, []string{"park", "tourist_attraction", "point_of_interest"}, tikal.Types)
	assert.Equal(t, RegionPeten, tikal.Region)
	require.NotNil(t, tikal.IsOpen)
	assert.True(t, *tikal.IsOpen)
	assert.Equal(t, []string{"ref-tikal"}, tikal.PhotoRefs)

	ref, ok := ReferenceFromURL(tikal.Photos[0])
	require.True(t, ok)
	assert.Equal(t, "ref-tikal", ref)
	assert.NotContains(t, tikal.Photos[0], "test-key", "client-facing URLs never carry the key")

	antigua := got[1]
	assert.Equal(t, "Sacatepéquez", antigua.Address)
	assert.Equal(t, RegionMetropolitan, antigua.Region)
	assert.Nil(t, antigua.IsOpen)
	assert.Len(t, antigua.Photos, 2)

	// served from the blob cache the second time
	_, err = c.TextSearch(ctx, "  Tourist attractions in   guatemala")
	require.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestTextSearchAPIStatusError(t *testing.T) {
	c := newTestClient(t, nil)

	httpmock.RegisterResponder("GET", testBase+textSearchPath,
		httpmock.NewStringResponder(http.StatusOK, `{"status":"REQUEST_DENIED","error_message":"bad key"}`))

	_, err := c.TextSearch(context.Background(), "museums")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "REQUEST_DENIED", apiErr.Status)
}

func TestJSONRetriesTransientStatus(t *testing.T) {
	c := newTestClient(t, nil)

	httpmock.RegisterResponder("GET", testBase+detailsPath,
		httpmock.ResponderFromMultipleResponses([]*http.Response{
			httpmock.NewStringResponse(http.StatusServiceUnavailable, ""),
			httpmock.NewStringResponse(http.StatusOK, `{"status":"OK","result":{"place_id":"atitlan","name":"Lake Atitlán","geometry":{"location":{"lat":14.704,"lng":-91.186}}}}`),
		}))

	p, err := c.Details(context.Background(), "atitlan")
	require.NoError(t, err)
	assert.Equal(t, "Lake Atitlán", p.Name)
	assert.Equal(t, RegionWest, p.Region)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestJSONDoesNotRetryClientError(t *testing.T) {
	c := newTestClient(t, nil)

	httpmock.RegisterResponder("GET", testBase+detailsPath,
		httpmock.NewStringResponder(http.StatusForbidden, ""))

	_, err := c.Details(context.Background(), "x")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestDetailsCached(t *testing.T) {
	blobs := newBlobs(t)
	c := newTestClient(t, blobs)
	ctx := context.Background()

	require.True(t, blobs.PutJSON(ctx, cache.PlaceDetailKey("cached"), Place{PlaceID: "cached", Name: "From cache"}, cache.PlaceDetailTTL))

	p, err := c.Details(ctx, "cached")
	require.NoError(t, err)
	assert.Equal(t, "From cache", p.Name)
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestFetchPhoto(t *testing.T) {
	c := newTestClient(t, nil)
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

	httpmock.RegisterResponder("GET", testBase+photoPath,
		func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			assert.Equal(t, "ref-1", q.Get("photoreference"))
			assert.Equal(t, "800", q.Get("maxwidth"))
			assert.Equal(t, "test-key", q.Get("key"))
			resp := httpmock.NewBytesResponse(http.StatusOK, jpeg)
			resp.Header = http.Header{"Content-Type": {"image/jpeg"}}
			return resp, nil
		})

	p, err := c.FetchPhoto(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", p.ContentType)
	assert.Equal(t, jpeg, p.Data)
	assert.Equal(t, "maps.example.test", c.Host())
}

func TestFetchPhotoRateLimited(t *testing.T) {
	c := newTestClient(t, nil)

	httpmock.RegisterResponder("GET", testBase+photoPath,
		func(*http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(http.StatusTooManyRequests, "")
			resp.Header = http.Header{"Retry-After": {"30"}}
			return resp, nil
		})

	_, err := c.FetchPhoto(context.Background(), "ref-1")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Equal(t, 30*time.Second, RetryAfterOf(err))
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "photo fetches make a single attempt")
}

func TestFetchPhotoFailureNamesRedirectHost(t *testing.T) {
	c := newTestClient(t, nil)

	httpmock.RegisterResponder("GET", testBase+photoPath,
		func(*http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(http.StatusFound, "")
			resp.Header = http.Header{"Location": {"https://lh3.example.test/p/ref-1"}}
			return resp, nil
		})
	httpmock.RegisterResponder("GET", "https://lh3.example.test/p/ref-1",
		func(req *http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(http.StatusServiceUnavailable, "")
			resp.Header = http.Header{}
			resp.Request = req
			return resp, nil
		})

	_, err := c.FetchPhoto(context.Background(), "ref-1")
	require.Error(t, err)
	assert.Equal(t, "lh3.example.test", HostOf(err))
	assert.Equal(t, "maps.example.test", c.Host(), "the configured host is unchanged")
	assert.Empty(t, HostOf(errors.New("network down")))
}

func TestSearchManyDedupesAndSkipsFailedSeeds(t *testing.T) {
	c := newTestClient(t, nil)

	httpmock.RegisterResponder("GET", testBase+textSearchPath,
		func(req *http.Request) (*http.Response, error) {
			if req.URL.Query().Get("query") == "broken" {
				return httpmock.NewStringResponse(http.StatusBadRequest, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, textSearchBody), nil
		})

	got, err := c.SearchMany(context.Background(), []string{"a", "broken", "b"}, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = c.SearchMany(context.Background(), []string{"c"}, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = c.SearchMany(context.Background(), []string{"broken"}, 0)
	assert.Error(t, err)
}

func TestListRestaurantsPrefersRegion(t *testing.T) {
	c := newTestClient(t, nil)

	httpmock.RegisterResponder("GET", testBase+textSearchPath,
		httpmock.NewStringResponder(http.StatusOK, `{"status":"OK","results":[
			{"place_id":"r1","name":"City Grill","types":["restaurant"],"geometry":{"location":{"lat":14.6,"lng":-90.5}},"photos":[{"photo_reference":"p1"}]},
			{"place_id":"r2","name":"Xela Cafe","types":["restaurant","cafe"],"geometry":{"location":{"lat":14.84,"lng":-91.52}},"photos":[{"photo_reference":"p2"}]}
		]}`))

	got, err := c.List(context.Background(), KindRestaurant, RegionWest, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r2", got[0].PlaceID)

	got, err = c.List(context.Background(), KindRestaurant, RegionAll, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSeeds(t *testing.T) {
	assert.Equal(t, attractionSeeds, Seeds(KindAttraction, RegionAll))
	assert.Equal(t, []string{"Quetzaltenango", "Quetzaltenango restaurants", "restaurants in Quetzaltenango"}, Seeds(KindRestaurant, RegionWest))
	assert.Equal(t, "Center restaurants", Seeds(KindRestaurant, RegionCenter)[0])
	assert.Equal(t, "Petén tourist attractions", Seeds(KindAttraction, RegionPeten)[0])
}
