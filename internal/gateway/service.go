package gateway

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"

	"github.com/paxoskv/paxoskv/internal/notify"
	"github.com/paxoskv/paxoskv/internal/paxos"
	"github.com/paxoskv/paxoskv/pkg/errors"
)

// Service adapts a Gateway to Echo routes plus the subscribe/unsubscribe
// out-of-core notification surface.
type Service struct {
	gw         *Gateway
	subscriber *notify.Subscriber

	mu   sync.Mutex
	subs map[string]subEntry
}

type subEntry struct {
	events chan notify.CommitEvent
	sub    *nats.Subscription
}

func NewService(gw *Gateway, subscriber *notify.Subscriber) *Service {
	return &Service{gw: gw, subscriber: subscriber, subs: make(map[string]subEntry)}
}

func (s *Service) Register(e *echo.Echo) {
	e.POST("/write", s.handleWrite)
	e.GET("/read", s.handleRead)
	e.POST("/subscribe", s.handleSubscribe)
	e.POST("/unsubscribe", s.handleUnsubscribe)
	e.GET("/status", s.handleStatus)
	e.GET("/health", s.handleHealth)
}

type writeRequest struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

func (s *Service) handleWrite(c echo.Context) error {
	var req writeRequest
	if err := c.Bind(&req); err != nil {
		return writeErr(c, errors.InvalidArgument("malformed write request", err))
	}
	result, err := s.gw.Write(c.Request().Context(), req.Key, req.Value)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Service) handleRead(c echo.Context) error {
	key := c.QueryParam("key")
	if key == "" {
		return writeErr(c, errors.InvalidArgument("missing key", nil))
	}
	mode := ReadMode(c.QueryParam("mode"))
	if mode == "" {
		mode = ReadEventual
	}
	clientID := c.QueryParam("clientId")

	var sessionSlot paxos.Slot
	if raw := c.QueryParam("sessionSlot"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return writeErr(c, errors.InvalidArgument("malformed sessionSlot", err))
		}
		sessionSlot = paxos.Slot(n)
	}

	result, err := s.gw.Read(c.Request().Context(), key, mode, clientID, sessionSlot)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"key": key, "value": result.Value})
}

type subscribeRequest struct {
	SubscriptionID string `json:"subscriptionId"`
}

// handleSubscribe registers a best-effort commit-event subscription for the
// caller's subscriptionId and returns once it is registered, handing back
// the id the client passes to /unsubscribe when done. Matching events are
// buffered in a 64-entry channel per subscription; no route of this service
// reads that channel, so events are not delivered to the HTTP client.
func (s *Service) handleSubscribe(c echo.Context) error {
	var req subscribeRequest
	if err := c.Bind(&req); err != nil {
		return writeErr(c, errors.InvalidArgument("malformed subscribe request", err))
	}
	if req.SubscriptionID == "" {
		return writeErr(c, errors.InvalidArgument("missing subscriptionId", nil))
	}

	events := make(chan notify.CommitEvent, 64)
	sub, err := s.subscriber.Subscribe(c.Request().Context(), req.SubscriptionID, func(ev notify.CommitEvent) {
		select {
		case events <- ev:
		default: // buffer full: the event is dropped
		}
	})
	if err != nil {
		return writeErr(c, err)
	}

	s.mu.Lock()
	s.subs[req.SubscriptionID] = subEntry{events: events, sub: sub}
	s.mu.Unlock()

	return c.JSON(http.StatusOK, map[string]string{"subscriptionId": req.SubscriptionID})
}

func (s *Service) handleUnsubscribe(c echo.Context) error {
	var req subscribeRequest
	if err := c.Bind(&req); err != nil {
		return writeErr(c, errors.InvalidArgument("malformed unsubscribe request", err))
	}
	s.mu.Lock()
	entry, ok := s.subs[req.SubscriptionID]
	delete(s.subs, req.SubscriptionID)
	s.mu.Unlock()
	if ok {
		if err := s.subscriber.Unsubscribe(entry.sub); err != nil {
			return writeErr(c, errors.Internal("unsubscribe from commit subject", err))
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Service) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"role": "gateway"})
}

func (s *Service) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func writeErr(c echo.Context, err error) error {
	code := errors.CodeInternal
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
	}
	return c.JSON(errors.HTTPStatus(err), errors.Body{Code: code, Error: err.Error()})
}
