package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sony/gobreaker"

	"github.com/i474232898/raincheck/internal/weather"
)

const hereGeocodeURL = "https://geocode.search.hereapi.com/v1/geocode"

// HereGeocoder implements weather.Geocoder with the HERE Geocoding & Search API.
type HereGeocoder struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewHereGeocoder(httpCfg HTTPClientConfig, apiKey string) *HereGeocoder {
	return &HereGeocoder{
		name:    "here",
		apiKey:  apiKey,
		baseURL: hereGeocodeURL,
		httpCfg: httpCfg,
		circuit: newCircuitBreaker("here-geocode"),
	}
}

// WithBaseURL points the geocoder at another endpoint.
func (h *HereGeocoder) WithBaseURL(u string) *HereGeocoder {
	h.baseURL = u
	return h
}

func (h *HereGeocoder) Name() string {
	return h.name
}

func (h *HereGeocoder) Geocode(ctx context.Context, address string) (weather.Coordinates, error) {
	if h.apiKey == "" {
		return weather.Coordinates{}, fmt.Errorf("here: %w", errNotConfigured)
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("q", address)
		values.Set("apiKey", h.apiKey)
		return http.NewRequest(http.MethodGet, h.baseURL+"?"+values.Encode(), nil)
	}

	var payload struct {
		Items []struct {
			Position struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"position"`
		} `json:"items"`
	}

	if err := getJSON(ctx, h.name, h.httpCfg, h.circuit, buildRequest, &payload); err != nil {
		return weather.Coordinates{}, err
	}
	if len(payload.Items) == 0 {
		return weather.Coordinates{}, weather.ErrNoGeocodeResult
	}

	pos := payload.Items[0].Position
	return weather.Coordinates{Lat: pos.Lat, Lon: pos.Lng}, nil
}
