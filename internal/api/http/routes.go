package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/raincheck/internal/weather"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *weather.Service) {
	v1 := app.Group("/api/v1")

	h := &handlers{service: service}

	// Phone lookups are registered before the :id routes they would shadow.
	v1.Post("/subscriptions", h.createSubscription)
	v1.Get("/subscriptions", h.listSubscriptions)
	v1.Get("/subscriptions/phone/:phone", h.getSubscriptionByPhone)
	v1.Get("/subscriptions/:id", h.getSubscription)
	v1.Delete("/subscriptions/:id", h.deleteSubscription)
	v1.Post("/subscriptions/:id/events", h.addEvent)
	v1.Get("/subscriptions/:id/events", h.listEvents)

	v1.Post("/subscribers", h.createSubscriber)
	v1.Get("/subscribers", h.listSubscribers)
	v1.Get("/subscribers/phone/:phone", h.getSubscriberByPhone)
	v1.Get("/subscribers/:id", h.getSubscriber)
	v1.Put("/subscribers/:id", h.updateSubscriber)

	v1.Get("/events", h.listAllEvents)
	v1.Get("/events/:id", h.getEvent)
	v1.Put("/events/:id", h.updateEvent)
	v1.Delete("/events/:id", h.deleteEvent)
	v1.Post("/events/:id/forecast", h.refreshEvent)
}

// ErrorHandler renders every error as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// serviceError maps domain errors onto HTTP status codes. Unexpected
// errors are reported with the fallback message only.
func serviceError(err error, fallback string) error {
	var ve validator.ValidationErrors
	switch {
	case weather.IsValidation(err), errors.As(err, &ve):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, weather.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, weather.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, fallback)
	}
}

type handlers struct {
	service *weather.Service
}

func (h *handlers) createSubscription(c *fiber.Ctx) error {
	var req subscriptionRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	inputs := make([]weather.EventInput, 0, len(req.Events))
	for _, ev := range req.Events {
		in, err := ev.toInput()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		inputs = append(inputs, in)
	}

	sub, results, err := h.service.CreateSubscription(c.UserContext(), req.Subscriber.toSubscriber(), inputs)
	if err != nil {
		return serviceError(err, "failed to create subscription")
	}

	statuses := make([]pipelineStatus, 0, len(results))
	for i, res := range results {
		statuses = append(statuses, newPipelineStatus(sub.Events[i].ID, res))
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"subscription": sub,
		"pipeline":     statuses,
	})
}

func (h *handlers) listSubscriptions(c *fiber.Ctx) error {
	subs, err := h.service.ListSubscriptions(c.UserContext())
	if err != nil {
		return serviceError(err, "failed to list subscriptions")
	}
	return c.JSON(subs)
}

func (h *handlers) getSubscription(c *fiber.Ctx) error {
	sub, err := h.service.GetSubscription(c.UserContext(), c.Params("id"))
	if err != nil {
		return serviceError(err, "failed to fetch subscription")
	}
	return c.JSON(sub)
}

func (h *handlers) getSubscriptionByPhone(c *fiber.Ctx) error {
	sub, err := h.service.GetSubscriptionByPhone(c.UserContext(), c.Params("phone"))
	if err != nil {
		return serviceError(err, "failed to fetch subscription")
	}
	return c.JSON(sub)
}

func (h *handlers) deleteSubscription(c *fiber.Ctx) error {
	if err := h.service.DeleteSubscription(c.UserContext(), c.Params("id")); err != nil {
		return serviceError(err, "failed to delete subscription")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) createSubscriber(c *fiber.Ctx) error {
	var req subscriberRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	rec, err := h.service.CreateSubscriber(c.UserContext(), req.toSubscriber())
	if err != nil {
		return serviceError(err, "failed to create subscriber")
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (h *handlers) listSubscribers(c *fiber.Ctx) error {
	recs, err := h.service.ListSubscribers(c.UserContext())
	if err != nil {
		return serviceError(err, "failed to list subscribers")
	}
	return c.JSON(recs)
}

func (h *handlers) getSubscriber(c *fiber.Ctx) error {
	rec, err := h.service.GetSubscriber(c.UserContext(), c.Params("id"))
	if err != nil {
		return serviceError(err, "failed to fetch subscriber")
	}
	return c.JSON(rec)
}

func (h *handlers) getSubscriberByPhone(c *fiber.Ctx) error {
	rec, err := h.service.GetSubscriberByPhone(c.UserContext(), c.Params("phone"))
	if err != nil {
		return serviceError(err, "failed to fetch subscriber")
	}
	return c.JSON(rec)
}

func (h *handlers) updateSubscriber(c *fiber.Ctx) error {
	var req subscriberRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}

	rec, err := h.service.UpdateSubscriber(c.UserContext(), c.Params("id"), req.toSubscriber())
	if err != nil {
		return serviceError(err, "failed to update subscriber")
	}
	return c.JSON(rec)
}

func (h *handlers) addEvent(c *fiber.Ctx) error {
	in, err := bindEvent(c)
	if err != nil {
		return err
	}

	res, err := h.service.AddEvent(c.UserContext(), c.Params("id"), in)
	if err != nil {
		return serviceError(err, "failed to add event")
	}
	return c.Status(fiber.StatusCreated).JSON(newEventResponse(res))
}

func (h *handlers) listEvents(c *fiber.Ctx) error {
	events, err := h.service.ListEvents(c.UserContext(), c.Params("id"))
	if err != nil {
		return serviceError(err, "failed to list events")
	}
	return c.JSON(events)
}

func (h *handlers) listAllEvents(c *fiber.Ctx) error {
	events, err := h.service.ListAllEvents(c.UserContext())
	if err != nil {
		return serviceError(err, "failed to list events")
	}
	return c.JSON(events)
}

func (h *handlers) getEvent(c *fiber.Ctx) error {
	ev, err := h.service.GetEvent(c.UserContext(), c.Params("id"))
	if err != nil {
		return serviceError(err, "failed to fetch event")
	}
	return c.JSON(ev)
}

func (h *handlers) updateEvent(c *fiber.Ctx) error {
	in, err := bindEvent(c)
	if err != nil {
		return err
	}

	res, err := h.service.UpdateEvent(c.UserContext(), c.Params("id"), in)
	if err != nil {
		return serviceError(err, "failed to update event")
	}
	return c.JSON(newEventResponse(res))
}

func (h *handlers) deleteEvent(c *fiber.Ctx) error {
	if err := h.service.DeleteEvent(c.UserContext(), c.Params("id")); err != nil {
		return serviceError(err, "failed to delete event")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) refreshEvent(c *fiber.Ctx) error {
	res, err := h.service.RefreshEvent(c.UserContext(), c.Params("id"))
	if err != nil {
		return serviceError(err, "failed to refresh forecast")
	}
	return c.JSON(newEventResponse(res))
}

func bindJSON(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if err := validate.Struct(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

func bindEvent(c *fiber.Ctx) (weather.EventInput, error) {
	var req eventRequest
	if err := bindJSON(c, &req); err != nil {
		return weather.EventInput{}, err
	}
	in, err := req.toInput()
	if err != nil {
		return weather.EventInput{}, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return in, nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
