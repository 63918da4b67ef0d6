package httpapi

import (
	"fmt"

	"github.com/i474232898/raincheck/internal/weather"
)

type subscriberRequest struct {
	Phone       string `json:"phone" validate:"required,min=7,max=20"`
	Email       string `json:"email" validate:"omitempty,email"`
	AlertTexts  bool   `json:"alert_texts"`
	AlertEmails bool   `json:"alert_emails"`
}

func (r subscriberRequest) toSubscriber() weather.Subscriber {
	return weather.Subscriber{
		Phone:       r.Phone,
		Email:       r.Email,
		AlertTexts:  r.AlertTexts,
		AlertEmails: r.AlertEmails,
	}
}

type timeRequest struct {
	Start string `json:"startDateTime" validate:"required"`
	End   string `json:"endDateTime"`
}

type placeRequest struct {
	Address string `json:"address" validate:"required"`
}

type eventRequest struct {
	Time  timeRequest  `json:"time"`
	Place placeRequest `json:"place"`
}

func (r eventRequest) toInput() (weather.EventInput, error) {
	start, err := parseTime(r.Time.Start)
	if err != nil {
		return weather.EventInput{}, fmt.Errorf("startDateTime: %w", err)
	}
	in := weather.EventInput{Address: r.Place.Address, Start: start}
	if r.Time.End != "" {
		end, err := parseTime(r.Time.End)
		if err != nil {
			return weather.EventInput{}, fmt.Errorf("endDateTime: %w", err)
		}
		in.End = &end
	}
	return in, nil
}

// MaxEventsPerRequest caps the events accepted when creating a
// subscription. The validate tag below must agree.
const MaxEventsPerRequest = 10

type subscriptionRequest struct {
	Subscriber subscriberRequest `json:"subscriber"`
	Events     []eventRequest    `json:"events" validate:"max=10,dive"`
}

// pipelineStatus reports how the forecast pipeline ended for one event.
type pipelineStatus struct {
	EventID string        `json:"event_id"`
	State   weather.State `json:"state"`
	Stage   weather.Stage `json:"stage,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	Error   string        `json:"error,omitempty"`
}

func newPipelineStatus(eventID string, res weather.Result) pipelineStatus {
	s := pipelineStatus{
		EventID: eventID,
		State:   res.State,
		Stage:   res.Stage,
		Reason:  res.Reason,
	}
	if res.Err != nil {
		s.Error = res.Err.Error()
	}
	return s
}

type eventResponse struct {
	Event    weather.Event  `json:"event"`
	Pipeline pipelineStatus `json:"pipeline"`
}

func newEventResponse(res weather.EventResult) eventResponse {
	return eventResponse{
		Event:    res.Event,
		Pipeline: newPipelineStatus(res.Event.ID, res.Result),
	}
}
