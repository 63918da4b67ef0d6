package providers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sony/gobreaker"

	"github.com/i474232898/raincheck/internal/weather"
)

const (
	nwsAPIHost          = "https://api.weather.gov"
	defaultNWSUserAgent = "raincheck (https://github.com/i474232898/raincheck)"
)

// NWSClient talks to the National Weather Service API. It resolves grid
// cells and fetches hourly forecasts, so it implements both
// weather.GridResolver and weather.ForecastFetcher.
type NWSClient struct {
	name      string
	host      string
	userAgent string
	httpCfg   HTTPClientConfig
	points    *gobreaker.CircuitBreaker
	forecasts *gobreaker.CircuitBreaker
}

// NewNWSClient creates a client. NWS rejects requests without a
// User-Agent, so a default is used when userAgent is empty.
func NewNWSClient(httpCfg HTTPClientConfig, userAgent string) *NWSClient {
	if userAgent == "" {
		userAgent = defaultNWSUserAgent
	}
	return &NWSClient{
		name:      "nws",
		host:      nwsAPIHost,
		userAgent: userAgent,
		httpCfg:   httpCfg,
		points:    newCircuitBreaker("nws-points"),
		forecasts: newCircuitBreaker("nws-forecast"),
	}
}

// WithHost points the client at another API host.
func (n *NWSClient) WithHost(host string) *NWSClient {
	n.host = host
	return n
}

func (n *NWSClient) Name() string {
	return n.name
}

func (n *NWSClient) newRequest(u string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", n.userAgent)
		req.Header.Set("Accept", "application/geo+json")
		return req, nil
	}
}

func (n *NWSClient) ResolveGrid(ctx context.Context, c weather.Coordinates) (weather.GridCell, error) {
	u := fmt.Sprintf("%s/points/%s,%s", n.host, formatCoordinate(c.Lat), formatCoordinate(c.Lon))

	var payload struct {
		Properties struct {
			GridID string `json:"gridId"`
			GridX  *int   `json:"gridX"`
			GridY  *int   `json:"gridY"`
		} `json:"properties"`
	}

	if err := getJSON(ctx, n.name, n.httpCfg, n.points, n.newRequest(u), &payload); err != nil {
		return weather.GridCell{}, err
	}

	p := payload.Properties
	if p.GridID == "" || p.GridX == nil || p.GridY == nil {
		return weather.GridCell{}, fmt.Errorf("%w: points response for %s is missing grid fields", weather.ErrGridProvider, u)
	}
	return weather.GridCell{ID: p.GridID, X: *p.GridX, Y: *p.GridY}, nil
}

func (n *NWSClient) FetchHourly(ctx context.Context, cell weather.GridCell) ([]weather.ForecastPeriod, error) {
	u := fmt.Sprintf("%s/gridpoints/%s/%d,%d/forecast/hourly", n.host, cell.ID, cell.X, cell.Y)

	var payload struct {
		Properties struct {
			Periods []weather.ForecastPeriod `json:"periods"`
		} `json:"properties"`
	}

	if err := getJSON(ctx, n.name, n.httpCfg, n.forecasts, n.newRequest(u), &payload); err != nil {
		return nil, err
	}
	if payload.Properties.Periods == nil {
		return []weather.ForecastPeriod{}, nil
	}
	return payload.Properties.Periods, nil
}

// NWS redirects requests with more than four decimal places.
func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
