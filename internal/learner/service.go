// Package learner wires a paxos.Learner to Echo routes: the commit
// aggregation intake and the tunable-consistency read path (spec.md §4.3,
// §5).
package learner

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/paxoskv/paxoskv/internal/paxos"
	"github.com/paxoskv/paxoskv/pkg/errors"
)

type Service struct {
	learner *paxos.Learner
}

func NewService(l *paxos.Learner) *Service {
	return &Service{learner: l}
}

func (s *Service) Register(e *echo.Echo) {
	e.POST("/notify", s.handleNotify)
	e.GET("/read", s.handleRead)
	e.POST("/sync", s.handleSync)
	e.GET("/status", s.handleStatus)
	e.GET("/health", s.handleHealth)
}

func (s *Service) handleNotify(c echo.Context) error {
	var n paxos.AcceptedNotification
	if err := c.Bind(&n); err != nil {
		return writeErr(c, errors.InvalidArgument("malformed notify request", err))
	}
	s.learner.Notify(c.Request().Context(), n.Slot, n.AcceptorID, n.N, n.Value)
	return c.NoContent(http.StatusNoContent)
}

// handleRead serves key, with consistency controlled by the mode query
// parameter: eventual (default, immediate local read), session (block
// until minSlot has committed locally) or strong (identical to session,
// where the gateway has already resolved minSlot to the leader's
// committedUpTo before calling in).
func (s *Service) handleRead(c echo.Context) error {
	key := c.QueryParam("key")
	if key == "" {
		return writeErr(c, errors.InvalidArgument("missing key", nil))
	}
	mode := c.QueryParam("mode")
	if mode == "" {
		mode = "eventual"
	}

	var (
		value []byte
		found bool
		err   error
	)

	switch mode {
	case "eventual":
		value, found = s.learner.ReadEventual(key)
	case "session", "strong":
		minSlot, parseErr := parseSlot(c.QueryParam("minSlot"))
		if parseErr != nil {
			return writeErr(c, errors.InvalidArgument("missing or malformed minSlot", parseErr))
		}
		value, found, err = s.learner.ReadSession(c.Request().Context(), key, minSlot)
		if err != nil {
			return writeErr(c, errors.ReadUnavailable(err))
		}
	default:
		return writeErr(c, errors.InvalidArgument("unknown consistency mode: "+mode, nil))
	}

	if !found {
		return writeErr(c, errors.NotFound("key not found: "+key, nil))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"key":           key,
		"value":         value,
		"committedUpTo": s.learner.CommittedUpTo(),
	})
}

// handleSync answers a peer Learner's catch-up request (spec.md §4.3's
// Learner-to-Learner tier), distinct from an Acceptor's /sync which returns
// raw SlotRecords instead of already-decided values.
func (s *Service) handleSync(c echo.Context) error {
	var req paxos.SyncRequest
	if err := c.Bind(&req); err != nil {
		return writeErr(c, errors.InvalidArgument("malformed sync request", err))
	}
	recs := s.learner.QueryCommitted(c.Request().Context(), req.From, req.To)
	return c.JSON(http.StatusOK, recs)
}

func parseSlot(raw string) (paxos.Slot, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return paxos.Slot(n), nil
}

func (s *Service) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"committedUpTo":   s.learner.CommittedUpTo(),
		"highestKnown":    s.learner.HighestKnownSlot(),
		"committedEntries": s.learner.CommittedUpTo() + 1,
	})
}

func (s *Service) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Run starts the background catch-up sync loop in its own goroutine and
// returns at once; the loop stops when ctx is cancelled.
func Run(ctx context.Context, l *paxos.Learner) {
	go l.StartSyncLoop(ctx)
}

func writeErr(c echo.Context, err error) error {
	code := errors.CodeInternal
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
	}
	return c.JSON(errors.HTTPStatus(err), errors.Body{Code: code, Error: err.Error()})
}
