// Package acceptor wires a paxos.Acceptor to Echo routes: the durable,
// reactive half of the protocol exposed as JSON over HTTP (spec.md §6).
package acceptor

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/paxoskv/paxoskv/internal/paxos"
	"github.com/paxoskv/paxoskv/pkg/errors"
)

// Service adapts a paxos.Acceptor to Echo handler functions.
type Service struct {
	acceptor *paxos.Acceptor
}

func NewService(a *paxos.Acceptor) *Service {
	return &Service{acceptor: a}
}

// Register mounts every Acceptor route on e.
func (s *Service) Register(e *echo.Echo) {
	e.POST("/prepare", s.handlePrepare)
	e.POST("/accept", s.handleAccept)
	e.POST("/sync", s.handleSync)
	e.GET("/health", s.handleHealth)
	e.GET("/status", s.handleStatus)
	e.GET("/highest-slot", s.handleHighestSlot)
}

func (s *Service) handlePrepare(c echo.Context) error {
	var req paxos.PrepareRequest
	if err := c.Bind(&req); err != nil {
		return writeErr(c, errors.InvalidArgument("malformed prepare request", err))
	}

	result, err := s.acceptor.Prepare(c.Request().Context(), req.Slot, req.N)
	if err != nil {
		return writeErr(c, err)
	}

	reply := paxos.PrepareReply{
		AcceptorID:  s.acceptor.ID,
		Promised:    result.Promised,
		Current:     result.CurrentPromised,
		AcceptedNum: result.AcceptedNum,
		AcceptedVal: result.AcceptedVal,
	}
	return c.JSON(http.StatusOK, reply)
}

func (s *Service) handleAccept(c echo.Context) error {
	var req paxos.AcceptRequest
	if err := c.Bind(&req); err != nil {
		return writeErr(c, errors.InvalidArgument("malformed accept request", err))
	}

	result, err := s.acceptor.Accept(c.Request().Context(), req.Slot, req.N, req.Value)
	if err != nil {
		return writeErr(c, err)
	}

	reply := paxos.AcceptReply{
		AcceptorID: s.acceptor.ID,
		Accepted:   result.Accepted,
		Current:    result.CurrentPromised,
	}
	return c.JSON(http.StatusOK, reply)
}

func (s *Service) handleSync(c echo.Context) error {
	var req paxos.SyncRequest
	if err := c.Bind(&req); err != nil {
		return writeErr(c, errors.InvalidArgument("malformed sync request", err))
	}

	recs, err := s.acceptor.QueryRange(c.Request().Context(), req.From, req.To)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, recs)
}

func (s *Service) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"id": s.acceptor.ID, "role": "acceptor"})
}

func (s *Service) handleHighestSlot(c echo.Context) error {
	slot, err := s.acceptor.HighestSlot(c.Request().Context())
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"highestSlot": int64(slot)})
}

func writeErr(c echo.Context, err error) error {
	code := errors.CodeInternal
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
	}
	return c.JSON(errors.HTTPStatus(err), errors.Body{Code: code, Error: err.Error()})
}
