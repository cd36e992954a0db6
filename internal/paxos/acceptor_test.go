package paxos_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/paxoskv/paxoskv/internal/paxos"
	"github.com/paxoskv/paxoskv/internal/storage/memory"
	paxostest "github.com/paxoskv/paxoskv/pkg/test"
)

type AcceptorSuite struct {
	*paxostest.Suite
	acc *paxos.Acceptor
}

func TestAcceptorSuite(t *testing.T) {
	paxostest.Run(t, &AcceptorSuite{Suite: paxostest.NewSuite()})
}

func (s *AcceptorSuite) SetupTest() {
	s.Suite.SetupTest()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.acc = paxos.NewAcceptor("acceptor-0", memory.New(), nil, log)
}

func n(round int64, id string) paxos.ProposalNumber {
	return paxos.ProposalNumber{Round: round, ProposerID: id}
}

func (s *AcceptorSuite) TestPrepareStrictlyHigherIsPromised() {
	result, err := s.acc.Prepare(s.Ctx, 1, n(1, "p1"))
	s.Require().NoError(err)
	s.True(result.Promised)
	s.True(result.AcceptedNum.IsZero())
}

func (s *AcceptorSuite) TestPrepareLowerIsNacked() {
	_, err := s.acc.Prepare(s.Ctx, 1, n(5, "p1"))
	s.Require().NoError(err)

	result, err := s.acc.Prepare(s.Ctx, 1, n(3, "p2"))
	s.Require().NoError(err)
	s.False(result.Promised)
	s.Equal(n(5, "p1"), result.CurrentPromised)
}

func (s *AcceptorSuite) TestRepeatedIdenticalPrepareIsIdempotent() {
	first, err := s.acc.Prepare(s.Ctx, 1, n(5, "p1"))
	s.Require().NoError(err)
	s.True(first.Promised)

	second, err := s.acc.Prepare(s.Ctx, 1, n(5, "p1"))
	s.Require().NoError(err)
	s.True(second.Promised, "a retried prepare with the same n must still be promised")
	s.Equal(first.AcceptedNum, second.AcceptedNum)
}

func (s *AcceptorSuite) TestAcceptRequiresPromisedOrHigherNumber() {
	_, err := s.acc.Prepare(s.Ctx, 1, n(5, "p1"))
	s.Require().NoError(err)

	stale, err := s.acc.Accept(s.Ctx, 1, n(3, "p2"), paxos.CommandValue("k", []byte("v")))
	s.Require().NoError(err)
	s.False(stale.Accepted)

	ok, err := s.acc.Accept(s.Ctx, 1, n(5, "p1"), paxos.CommandValue("k", []byte("v")))
	s.Require().NoError(err)
	s.True(ok.Accepted)
}

func (s *AcceptorSuite) TestAcceptIsIdempotentOnReplay() {
	v := paxos.CommandValue("k", []byte("v1"))
	_, err := s.acc.Accept(s.Ctx, 1, n(1, "p1"), v)
	s.Require().NoError(err)

	replay, err := s.acc.Accept(s.Ctx, 1, n(1, "p1"), v)
	s.Require().NoError(err)
	s.True(replay.Accepted)

	rec, err := s.acc.QueryAccepted(s.Ctx, 1)
	s.Require().NoError(err)
	s.True(rec.AcceptedVal.Equal(v))
}

func (s *AcceptorSuite) TestPromiseReturnsPreviouslyAcceptedValue() {
	v := paxos.CommandValue("k", []byte("v1"))
	_, err := s.acc.Accept(s.Ctx, 1, n(1, "p1"), v)
	s.Require().NoError(err)

	result, err := s.acc.Prepare(s.Ctx, 1, n(2, "p2"))
	s.Require().NoError(err)
	s.Require().NotNil(result.AcceptedVal)
	s.True(result.AcceptedVal.Equal(v))
	s.Equal(n(1, "p1"), result.AcceptedNum)
}

func (s *AcceptorSuite) TestIndependentSlotsDoNotInterfere() {
	_, err := s.acc.Prepare(s.Ctx, 1, n(10, "p1"))
	s.Require().NoError(err)

	result, err := s.acc.Prepare(context.Background(), 2, n(1, "p2"))
	s.Require().NoError(err)
	s.True(result.Promised, "a high promise on slot 1 must not affect slot 2")
}
