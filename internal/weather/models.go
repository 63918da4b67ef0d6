package weather

import (
	"encoding/json"
	"time"
)

// Coordinates is a latitude/longitude pair returned by a geocoder.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// GridCell identifies the forecast cell a point falls into.
type GridCell struct {
	ID string `json:"gridId"`
	X  int    `json:"gridX"`
	Y  int    `json:"gridY"`
}

// Place is the location of an event. Only Address comes from the user;
// the remaining fields are derived by the pipeline.
// Grid fields are either all set or all nil.
type Place struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
	GridID  *string  `json:"gridId,omitempty"`
	GridX   *int     `json:"gridX,omitempty"`
	GridY   *int     `json:"gridY,omitempty"`
}

// NewPlace returns a Place with only the address populated.
func NewPlace(address string) Place {
	return Place{Address: address}
}

// Coordinates returns the derived coordinates, if present.
func (p Place) Coordinates() (Coordinates, bool) {
	if p.Lat == nil || p.Lon == nil {
		return Coordinates{}, false
	}
	return Coordinates{Lat: *p.Lat, Lon: *p.Lon}, true
}

// GridCell returns the derived grid cell, if present.
func (p Place) GridCell() (GridCell, bool) {
	if p.GridID == nil || p.GridX == nil || p.GridY == nil {
		return GridCell{}, false
	}
	return GridCell{ID: *p.GridID, X: *p.GridX, Y: *p.GridY}, true
}

// SetCoordinates stores geocoded coordinates. Any grid cell derived from
// earlier coordinates is dropped.
func (p *Place) SetCoordinates(c Coordinates) {
	lat, lon := c.Lat, c.Lon
	p.Lat, p.Lon = &lat, &lon
	p.clearGrid()
}

// SetGridCell stores all three grid fields together.
func (p *Place) SetGridCell(g GridCell) {
	id, x, y := g.ID, g.X, g.Y
	p.GridID, p.GridX, p.GridY = &id, &x, &y
}

// WithAddress returns a copy of the place pointing at address. Derived
// fields survive only when the address is unchanged.
func (p Place) WithAddress(address string) Place {
	if address == p.Address {
		return p
	}
	return NewPlace(address)
}

func (p *Place) clearGrid() {
	p.GridID, p.GridX, p.GridY = nil, nil, nil
}

// ValueUnit is the NWS quantitative value shape ({"unitCode": ..., "value": ...}).
type ValueUnit struct {
	UnitCode string   `json:"unitCode"`
	Value    *float64 `json:"value"`
}

// ForecastPeriod is one slice of a provider forecast. The pipeline reads
// StartTime and EndTime; all other fields are passed through unchanged.
// Provider fields without a typed counterpart are kept verbatim in Extra.
type ForecastPeriod struct {
	Number                     int        `json:"number"`
	Name                       string     `json:"name"`
	StartTime                  time.Time  `json:"startTime"`
	EndTime                    time.Time  `json:"endTime"`
	IsDaytime                  bool       `json:"isDaytime"`
	Temperature                int        `json:"temperature"`
	TemperatureUnit            string     `json:"temperatureUnit"`
	TemperatureTrend           string     `json:"temperatureTrend,omitempty"`
	ProbabilityOfPrecipitation *ValueUnit `json:"probabilityOfPrecipitation,omitempty"`
	Dewpoint                   *ValueUnit `json:"dewpoint,omitempty"`
	RelativeHumidity           *ValueUnit `json:"relativeHumidity,omitempty"`
	WindSpeed                  string     `json:"windSpeed"`
	WindDirection              string     `json:"windDirection"`
	Icon                       string     `json:"icon"`
	ShortForecast              string     `json:"shortForecast"`
	DetailedForecast           string     `json:"detailedForecast"`

	Extra map[string]json.RawMessage `json:"-"`
}

// periodFields lists the JSON keys decoded into typed ForecastPeriod fields.
var periodFields = []string{
	"number", "name", "startTime", "endTime", "isDaytime",
	"temperature", "temperatureUnit", "temperatureTrend",
	"probabilityOfPrecipitation", "dewpoint", "relativeHumidity",
	"windSpeed", "windDirection", "icon", "shortForecast", "detailedForecast",
}

func (p *ForecastPeriod) UnmarshalJSON(data []byte) error {
	type plain ForecastPeriod
	var known plain
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range periodFields {
		delete(all, k)
	}
	if len(all) > 0 {
		known.Extra = all
	}

	*p = ForecastPeriod(known)
	return nil
}

func (p ForecastPeriod) MarshalJSON() ([]byte, error) {
	type plain ForecastPeriod
	known, err := json.Marshal(plain(p))
	if err != nil || len(p.Extra) == 0 {
		return known, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	merged := make(map[string]json.RawMessage, len(fields)+len(p.Extra))
	for k, v := range p.Extra {
		merged[k] = v
	}
	// Typed fields win over a stale extra of the same name.
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Forecast is the derived artifact attached to an Event after a
// successful pipeline run.
type Forecast struct {
	Raw         []ForecastPeriod `json:"raw"`
	Matched     []ForecastPeriod `json:"raw_filtered"`
	Summary     *string          `json:"summary,omitempty"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

// Event is the unit of work of the pipeline. Revision is bumped on every
// write and guards against overwriting a newer copy.
type Event struct {
	ID       string     `json:"event_id"`
	Revision int64      `json:"revision"`
	Time     TimeWindow `json:"time"`
	Place    Place      `json:"place"`
	Forecast *Forecast  `json:"forecast,omitempty"`
}

// Subscriber holds contact details and notification preferences.
type Subscriber struct {
	Phone       string `json:"phone"`
	Email       string `json:"email,omitempty"`
	AlertTexts  bool   `json:"alert_texts"`
	AlertEmails bool   `json:"alert_emails"`
}

// Subscription is the persisted aggregate of one subscriber and their events.
type Subscription struct {
	ID         string     `json:"_id"`
	Subscriber Subscriber `json:"subscriber"`
	Events     []Event    `json:"events"`
}

// EventIndex returns the position of the event with the given id, or -1.
func (s Subscription) EventIndex(eventID string) int {
	for i := range s.Events {
		if s.Events[i].ID == eventID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate events without touching
// the stored record.
func (s Subscription) Clone() Subscription {
	out := s
	if s.Events != nil {
		out.Events = make([]Event, len(s.Events))
		for i, ev := range s.Events {
			out.Events[i] = ev.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	out := e
	out.Place = e.Place.clone()
	if e.Time.End != nil {
		end := *e.Time.End
		out.Time.End = &end
	}
	if e.Forecast != nil {
		f := *e.Forecast
		f.Raw = clonePeriods(e.Forecast.Raw)
		f.Matched = clonePeriods(e.Forecast.Matched)
		if e.Forecast.Summary != nil {
			s := *e.Forecast.Summary
			f.Summary = &s
		}
		out.Forecast = &f
	}
	return out
}

func (p Place) clone() Place {
	out := Place{Address: p.Address}
	if c, ok := p.Coordinates(); ok {
		out.SetCoordinates(c)
	}
	if g, ok := p.GridCell(); ok {
		out.SetGridCell(g)
	}
	return out
}

func clonePeriods(in []ForecastPeriod) []ForecastPeriod {
	if in == nil {
		return nil
	}
	out := make([]ForecastPeriod, len(in))
	copy(out, in)
	for i := range out {
		if in[i].Extra != nil {
			extra := make(map[string]json.RawMessage, len(in[i].Extra))
			for k, v := range in[i].Extra {
				extra[k] = v
			}
			out[i].Extra = extra
		}
	}
	return out
}
