// Package proposer wires a paxos.Proposer to Echo routes: the client write
// path, heartbeat ingestion and leadership status, exposed as JSON over
// HTTP (spec.md §6).
package proposer

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/paxoskv/paxoskv/internal/paxos"
	"github.com/paxoskv/paxoskv/pkg/errors"
)

// CommitObserver lets the Proposer tell the local Learner about a slot it
// just drove to a decision, so session reads issued against the same
// replica don't need to wait on the broadcast/sync path.
type CommitObserver interface {
	UpdateCommitted(slot paxos.Slot)
}

type Service struct {
	proposer *paxos.Proposer
	learners CommitObserver
}

func NewService(p *paxos.Proposer, learners CommitObserver) *Service {
	return &Service{proposer: p, learners: learners}
}

func (s *Service) Register(e *echo.Echo) {
	e.POST("/propose", s.handlePropose)
	e.POST("/heartbeat", s.handleHeartbeat)
	e.GET("/status", s.handleStatus)
	e.GET("/health", s.handleHealth)
}

type proposeRequest struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

type proposeResponse struct {
	Slot Slot `json:"slot"`
}

// Slot mirrors paxos.Slot in the wire response; kept distinct so the JSON
// tag convention matches the rest of this package's request/response types.
type Slot = paxos.Slot

// handlePropose is the write path the gateway calls for every client write.
// It assigns the next slot, drives a Paxos instance for it (Propose), and
// retries at a new slot if that slot's value was adopted by a different
// command (the classic Multi-Paxos "proposal lost the slot" case).
func (s *Service) handlePropose(c echo.Context) error {
	var req proposeRequest
	if err := c.Bind(&req); err != nil {
		return writeErr(c, errors.InvalidArgument("malformed propose request", err))
	}
	if !s.proposer.IsLeader() {
		return writeErr(c, errors.NotLeader(s.proposer.CurrentLeader()))
	}
	if err := s.proposer.AcquireInflightSlot(); err != nil {
		return writeErr(c, err)
	}
	defer s.proposer.ReleaseInflightSlot()

	ctx := c.Request().Context()
	want := paxos.CommandValue(req.Key, req.Value)

	for attempt := 0; attempt < maxProposeAttempts; attempt++ {
		if !s.proposer.IsLeader() {
			return writeErr(c, errors.NotLeader(s.proposer.CurrentLeader()))
		}
		slot := s.proposer.AssignSlot()
		committed, err := s.proposer.Propose(ctx, slot, want)
		if err != nil {
			return writeErr(c, err)
		}
		if s.learners != nil {
			s.learners.UpdateCommitted(slot)
		}
		s.proposer.UpdateCommitted(slot)
		if committed.Equal(want) {
			return c.JSON(http.StatusOK, proposeResponse{Slot: slot})
		}
		// lost the slot to an adopted value: try again at a fresh slot.
	}
	return writeErr(c, errors.NoQuorum("exhausted slot contention retries", nil))
}

const maxProposeAttempts = 32

func (s *Service) handleHeartbeat(c echo.Context) error {
	var hb paxos.Heartbeat
	if err := c.Bind(&hb); err != nil {
		return writeErr(c, errors.InvalidArgument("malformed heartbeat", err))
	}
	s.proposer.ObserveHeartbeat(hb)
	s.proposer.UpdateCommitted(hb.CommittedUpTo)
	return c.NoContent(http.StatusNoContent)
}

func (s *Service) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"id":            s.proposer.ID(),
		"role":          s.proposer.Role().String(),
		"epoch":         s.proposer.Epoch(),
		"currentLeader": s.proposer.CurrentLeader(),
		"committedUpTo": s.proposer.CommittedUpTo(),
	})
}

func (s *Service) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Run starts the background heartbeat/timeout loops for p in their own
// goroutines and returns at once; the loops stop when ctx is cancelled.
func Run(ctx context.Context, p *paxos.Proposer, learnerIDs []string) {
	go p.StartHeartbeatLoop(ctx, learnerIDs)
	go p.WatchLeaderTimeout(ctx)
}

func writeErr(c echo.Context, err error) error {
	code := errors.CodeInternal
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
	}
	return c.JSON(errors.HTTPStatus(err), errors.Body{Code: code, Error: err.Error()})
}
