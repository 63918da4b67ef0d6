package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/i474232898/raincheck/internal/weather"
)

// Timestamps are stored as RFC3339 strings so the caller's UTC offset
// survives a round trip; BSON datetimes are UTC-only.

type subscriptionDoc struct {
	ID         string        `bson:"_id"`
	Subscriber subscriberDoc `bson:"subscriber"`
	Events     []eventDoc    `bson:"events"`
}

type subscriberDoc struct {
	Phone       string `bson:"phone"`
	Email       string `bson:"email,omitempty"`
	AlertTexts  bool   `bson:"alert_texts"`
	AlertEmails bool   `bson:"alert_emails"`
}

type eventDoc struct {
	EventID  string       `bson:"event_id"`
	Revision int64        `bson:"revision"`
	Time     timeDoc      `bson:"time"`
	Place    placeDoc     `bson:"place"`
	Forecast *forecastDoc `bson:"forecast,omitempty"`
}

type timeDoc struct {
	Start string  `bson:"startDateTime"`
	End   *string `bson:"endDateTime,omitempty"`
}

type placeDoc struct {
	Address string   `bson:"address"`
	Lat     *float64 `bson:"lat,omitempty"`
	Lon     *float64 `bson:"lon,omitempty"`
	GridID  *string  `bson:"gridId,omitempty"`
	GridX   *int     `bson:"gridX,omitempty"`
	GridY   *int     `bson:"gridY,omitempty"`
}

type forecastDoc struct {
	Raw         []periodDoc `bson:"raw"`
	Matched     []periodDoc `bson:"raw_filtered"`
	Summary     *string     `bson:"summary,omitempty"`
	GeneratedAt string      `bson:"generatedAt"`
}

type valueUnitDoc struct {
	UnitCode string   `bson:"unitCode"`
	Value    *float64 `bson:"value"`
}

type periodDoc struct {
	Number                     int           `bson:"number"`
	Name                       string        `bson:"name"`
	StartTime                  string        `bson:"startTime"`
	EndTime                    string        `bson:"endTime"`
	IsDaytime                  bool          `bson:"isDaytime"`
	Temperature                int           `bson:"temperature"`
	TemperatureUnit            string        `bson:"temperatureUnit"`
	TemperatureTrend           string        `bson:"temperatureTrend,omitempty"`
	ProbabilityOfPrecipitation *valueUnitDoc `bson:"probabilityOfPrecipitation,omitempty"`
	Dewpoint                   *valueUnitDoc `bson:"dewpoint,omitempty"`
	RelativeHumidity           *valueUnitDoc `bson:"relativeHumidity,omitempty"`
	WindSpeed                  string        `bson:"windSpeed"`
	WindDirection              string        `bson:"windDirection"`
	Icon                       string        `bson:"icon"`
	ShortForecast              string        `bson:"shortForecast"`
	DetailedForecast           string        `bson:"detailedForecast"`

	// Untyped provider fields, each kept as its JSON text.
	Extra map[string]string `bson:"extra,omitempty"`
}

func toSubscriptionDoc(sub weather.Subscription) subscriptionDoc {
	doc := subscriptionDoc{
		ID:         sub.ID,
		Subscriber: toSubscriberDoc(sub.Subscriber),
		Events:     make([]eventDoc, 0, len(sub.Events)),
	}
	for _, ev := range sub.Events {
		doc.Events = append(doc.Events, toEventDoc(ev))
	}
	return doc
}

func toSubscriberDoc(s weather.Subscriber) subscriberDoc {
	return subscriberDoc{
		Phone:       s.Phone,
		Email:       s.Email,
		AlertTexts:  s.AlertTexts,
		AlertEmails: s.AlertEmails,
	}
}

func toEventDoc(ev weather.Event) eventDoc {
	doc := eventDoc{
		EventID:  ev.ID,
		Revision: ev.Revision,
		Time:     timeDoc{Start: formatTime(ev.Time.Start)},
		Place: placeDoc{
			Address: ev.Place.Address,
			Lat:     ev.Place.Lat,
			Lon:     ev.Place.Lon,
			GridID:  ev.Place.GridID,
			GridX:   ev.Place.GridX,
			GridY:   ev.Place.GridY,
		},
	}
	if ev.Time.End != nil {
		end := formatTime(*ev.Time.End)
		doc.Time.End = &end
	}
	if f := ev.Forecast; f != nil {
		doc.Forecast = &forecastDoc{
			Raw:         toPeriodDocs(f.Raw),
			Matched:     toPeriodDocs(f.Matched),
			Summary:     f.Summary,
			GeneratedAt: formatTime(f.GeneratedAt),
		}
	}
	return doc
}

func toPeriodDocs(periods []weather.ForecastPeriod) []periodDoc {
	out := make([]periodDoc, 0, len(periods))
	for _, p := range periods {
		out = append(out, periodDoc{
			Number:                     p.Number,
			Name:                       p.Name,
			StartTime:                  formatTime(p.StartTime),
			EndTime:                    formatTime(p.EndTime),
			IsDaytime:                  p.IsDaytime,
			Temperature:                p.Temperature,
			TemperatureUnit:            p.TemperatureUnit,
			TemperatureTrend:           p.TemperatureTrend,
			ProbabilityOfPrecipitation: toValueUnitDoc(p.ProbabilityOfPrecipitation),
			Dewpoint:                   toValueUnitDoc(p.Dewpoint),
			RelativeHumidity:           toValueUnitDoc(p.RelativeHumidity),
			WindSpeed:                  p.WindSpeed,
			WindDirection:              p.WindDirection,
			Icon:                       p.Icon,
			ShortForecast:              p.ShortForecast,
			DetailedForecast:           p.DetailedForecast,
			Extra:                      toExtraDoc(p.Extra),
		})
	}
	return out
}

func toExtraDoc(extra map[string]json.RawMessage) map[string]string {
	if len(extra) == 0 {
		return nil
	}
	out := make(map[string]string, len(extra))
	for k, v := range extra {
		out[k] = string(v)
	}
	return out
}

func fromExtraDoc(extra map[string]string) map[string]json.RawMessage {
	if len(extra) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(extra))
	for k, v := range extra {
		out[k] = json.RawMessage(v)
	}
	return out
}

func toValueUnitDoc(v *weather.ValueUnit) *valueUnitDoc {
	if v == nil {
		return nil
	}
	return &valueUnitDoc{UnitCode: v.UnitCode, Value: v.Value}
}

func (d subscriptionDoc) toSubscription() (weather.Subscription, error) {
	sub := weather.Subscription{
		ID: d.ID,
		Subscriber: weather.Subscriber{
			Phone:       d.Subscriber.Phone,
			Email:       d.Subscriber.Email,
			AlertTexts:  d.Subscriber.AlertTexts,
			AlertEmails: d.Subscriber.AlertEmails,
		},
		Events: make([]weather.Event, 0, len(d.Events)),
	}
	for _, ed := range d.Events {
		ev, err := ed.toEvent()
		if err != nil {
			return weather.Subscription{}, fmt.Errorf("subscription %s: %w", d.ID, err)
		}
		sub.Events = append(sub.Events, ev)
	}
	return sub, nil
}

func (d eventDoc) toEvent() (weather.Event, error) {
	start, err := parseTime(d.Time.Start)
	if err != nil {
		return weather.Event{}, fmt.Errorf("event %s startDateTime: %w", d.EventID, err)
	}

	ev := weather.Event{
		ID:       d.EventID,
		Revision: d.Revision,
		Time:     weather.TimeWindow{Start: start},
		Place:    weather.NewPlace(d.Place.Address),
	}
	if d.Time.End != nil {
		end, err := parseTime(*d.Time.End)
		if err != nil {
			return weather.Event{}, fmt.Errorf("event %s endDateTime: %w", d.EventID, err)
		}
		ev.Time.End = &end
	}

	if d.Place.Lat != nil && d.Place.Lon != nil {
		ev.Place.SetCoordinates(weather.Coordinates{Lat: *d.Place.Lat, Lon: *d.Place.Lon})
		if d.Place.GridID != nil && d.Place.GridX != nil && d.Place.GridY != nil {
			ev.Place.SetGridCell(weather.GridCell{ID: *d.Place.GridID, X: *d.Place.GridX, Y: *d.Place.GridY})
		}
	}

	if f := d.Forecast; f != nil {
		raw, err := fromPeriodDocs(f.Raw)
		if err != nil {
			return weather.Event{}, fmt.Errorf("event %s forecast: %w", d.EventID, err)
		}
		matched, err := fromPeriodDocs(f.Matched)
		if err != nil {
			return weather.Event{}, fmt.Errorf("event %s forecast: %w", d.EventID, err)
		}
		generated, err := parseTime(f.GeneratedAt)
		if err != nil {
			return weather.Event{}, fmt.Errorf("event %s generatedAt: %w", d.EventID, err)
		}
		ev.Forecast = &weather.Forecast{
			Raw:         raw,
			Matched:     matched,
			Summary:     f.Summary,
			GeneratedAt: generated,
		}
	}
	return ev, nil
}

func fromPeriodDocs(docs []periodDoc) ([]weather.ForecastPeriod, error) {
	out := make([]weather.ForecastPeriod, 0, len(docs))
	for _, d := range docs {
		start, err := parseTime(d.StartTime)
		if err != nil {
			return nil, err
		}
		end, err := parseTime(d.EndTime)
		if err != nil {
			return nil, err
		}
		out = append(out, weather.ForecastPeriod{
			Number:                     d.Number,
			Name:                       d.Name,
			StartTime:                  start,
			EndTime:                    end,
			IsDaytime:                  d.IsDaytime,
			Temperature:                d.Temperature,
			TemperatureUnit:            d.TemperatureUnit,
			TemperatureTrend:           d.TemperatureTrend,
			ProbabilityOfPrecipitation: fromValueUnitDoc(d.ProbabilityOfPrecipitation),
			Dewpoint:                   fromValueUnitDoc(d.Dewpoint),
			RelativeHumidity:           fromValueUnitDoc(d.RelativeHumidity),
			WindSpeed:                  d.WindSpeed,
			WindDirection:              d.WindDirection,
			Icon:                       d.Icon,
			ShortForecast:              d.ShortForecast,
			DetailedForecast:           d.DetailedForecast,
			Extra:                      fromExtraDoc(d.Extra),
		})
	}
	return out, nil
}

func fromValueUnitDoc(v *valueUnitDoc) *weather.ValueUnit {
	if v == nil {
		return nil
	}
	return &weather.ValueUnit{UnitCode: v.UnitCode, Value: v.Value}
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
