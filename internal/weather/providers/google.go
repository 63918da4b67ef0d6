package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"

	"github.com/i474232898/raincheck/internal/weather"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// GoogleGeocoder implements weather.Geocoder with the Google Geocoding API.
type GoogleGeocoder struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewGoogleGeocoder(httpCfg HTTPClientConfig, apiKey string) *GoogleGeocoder {
	return &GoogleGeocoder{
		name:    "google",
		apiKey:  apiKey,
		baseURL: googleGeocodeURL,
		httpCfg: httpCfg,
		circuit: newCircuitBreaker("google-geocode"),
	}
}

// WithBaseURL points the geocoder at another endpoint.
func (g *GoogleGeocoder) WithBaseURL(u string) *GoogleGeocoder {
	g.baseURL = u
	return g
}

func (g *GoogleGeocoder) Name() string {
	return g.name
}

func (g *GoogleGeocoder) Geocode(ctx context.Context, address string) (weather.Coordinates, error) {
	if g.apiKey == "" {
		return weather.Coordinates{}, fmt.Errorf("google: %w", errNotConfigured)
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("address", address)
		values.Set("key", g.apiKey)
		return http.NewRequest(http.MethodGet, g.baseURL+"?"+values.Encode(), nil)
	}

	var payload struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
		Results      []struct {
			Geometry struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
		} `json:"results"`
	}

	if err := getJSON(ctx, g.name, g.httpCfg, g.circuit, buildRequest, &payload); err != nil {
		return weather.Coordinates{}, err
	}

	switch payload.Status {
	case "ZERO_RESULTS":
		return weather.Coordinates{}, weather.ErrNoGeocodeResult
	case "OK":
	default:
		return weather.Coordinates{}, fmt.Errorf("%w: google status %s %s", weather.ErrGeocodeProvider, payload.Status, payload.ErrorMessage)
	}
	if len(payload.Results) == 0 {
		return weather.Coordinates{}, weather.ErrNoGeocodeResult
	}

	loc := payload.Results[0].Geometry.Location
	return weather.Coordinates{Lat: loc.Lat, Lon: loc.Lng}, nil
}
