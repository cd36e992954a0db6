package transport_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paxoskv/paxoskv/internal/paxos"
	"github.com/paxoskv/paxoskv/internal/transport"
	"github.com/paxoskv/paxoskv/pkg/client/rest"
	"github.com/paxoskv/paxoskv/pkg/errors"
	paxostest "github.com/paxoskv/paxoskv/pkg/test"
)

type ClientSuite struct {
	*paxostest.Suite
}

func TestClientSuite(t *testing.T) {
	paxostest.Run(t, &ClientSuite{Suite: paxostest.NewSuite()})
}

// TestPrepareDecodesRealErrorCodeFrom409 round-trips the exact JSON body
// internal/acceptor/service.go's writeErr produces for a NOT_LEADER-flavored
// failure and checks the client recovers the original AppError code instead
// of collapsing it into a generic internal error.
func (s *ClientSuite) TestPrepareDecodesRealErrorCodeFrom409() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(errors.Body{
			Code:  errors.CodeNotLeader,
			Error: "not leader, current leader: acceptor-9",
		})
	}))
	defer srv.Close()

	c := transport.NewClient(rest.Config{})
	target := strings.TrimPrefix(srv.URL, "http://")

	_, err := c.Prepare(s.Ctx, target, paxos.Slot(1), paxos.ProposalNumber{Round: 1, ProposerID: "p1"})
	s.Require().Error(err)

	var appErr *errors.AppError
	s.Require().True(errors.As(err, &appErr), "client must surface an *errors.AppError, not a bare error")
	s.Equal(errors.CodeNotLeader, appErr.Code, "the real protocol error code must survive the HTTP round trip")
}

// TestPrepareFallsBackToTransientOn500 covers a peer that fails before it
// can even produce a structured error body (e.g. a panic-recovered 500 with
// no JSON), which must still map to a retriable transient-network code.
func (s *ClientSuite) TestPrepareFallsBackToTransientOn500() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := transport.NewClient(rest.Config{})
	target := strings.TrimPrefix(srv.URL, "http://")

	_, err := c.Prepare(s.Ctx, target, paxos.Slot(1), paxos.ProposalNumber{Round: 1, ProposerID: "p1"})
	s.Require().Error(err)

	var appErr *errors.AppError
	s.Require().True(errors.As(err, &appErr))
	s.Equal(errors.CodeTransientNetwork, appErr.Code)
}
