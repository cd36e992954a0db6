package paxos_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/paxoskv/paxoskv/internal/paxos"
	paxostest "github.com/paxoskv/paxoskv/pkg/test"
)

type fakeQuerier struct{}

func (fakeQuerier) QueryRange(ctx context.Context, acceptorID string, from, to paxos.Slot) ([]paxos.SlotRecord, error) {
	return nil, nil
}

type LearnerSuite struct {
	*paxostest.Suite
	l *paxos.Learner
}

func TestLearnerSuite(t *testing.T) {
	paxostest.Run(t, &LearnerSuite{Suite: paxostest.NewSuite()})
}

func (s *LearnerSuite) SetupTest() {
	s.Suite.SetupTest()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.l = paxos.NewLearner(paxos.LearnerConfig{
		ID:          "learner-0",
		AcceptorIDs: []string{"a0", "a1", "a2"},
		Quorum:      2,
	}, fakeQuerier{}, nil, log)
}

func (s *LearnerSuite) TestCommitsOnceQuorumVotesAgree() {
	v := paxos.CommandValue("k", []byte("v1"))
	number := n(1, "p1")

	s.l.Notify(s.Ctx, 0, "a0", number, v)
	s.Equal(paxos.Slot(-1), s.l.CommittedUpTo(), "one vote must not be enough")

	s.l.Notify(s.Ctx, 0, "a1", number, v)
	s.Eventually(func() bool { return s.l.CommittedUpTo() >= 0 }, time.Second, time.Millisecond)

	value, ok := s.l.ReadEventual("k")
	s.Require().True(ok)
	s.Equal([]byte("v1"), value)
}

func (s *LearnerSuite) TestCommittedUpToOnlyAdvancesContiguously() {
	v1 := paxos.CommandValue("a", []byte("1"))
	v2 := paxos.CommandValue("b", []byte("2"))
	number := n(1, "p1")

	s.l.Notify(s.Ctx, 1, "a0", number, v2)
	s.l.Notify(s.Ctx, 1, "a1", number, v2)
	s.Equal(paxos.Slot(-1), s.l.CommittedUpTo(), "slot 1 deciding must not advance past the gap at slot 0")

	s.l.Notify(s.Ctx, 0, "a0", number, v1)
	s.l.Notify(s.Ctx, 0, "a1", number, v1)
	s.Eventually(func() bool { return s.l.CommittedUpTo() >= 1 }, time.Second, time.Millisecond)
}

func (s *LearnerSuite) TestWaitForSlotUnblocksOnCommit() {
	done := make(chan error, 1)
	go func() {
		done <- s.l.WaitForSlot(s.Ctx, 0)
	}()

	v := paxos.CommandValue("k", []byte("v"))
	number := n(1, "p1")
	s.l.Notify(s.Ctx, 0, "a0", number, v)
	s.l.Notify(s.Ctx, 0, "a1", number, v)

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(time.Second):
		s.Fail("WaitForSlot did not unblock after commit")
	}
}

func (s *LearnerSuite) TestWaitForSlotRespectsContextCancellation() {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.l.WaitForSlot(ctx, 5)
	s.Error(err)
}
