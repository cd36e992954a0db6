package paxoskvtest_test

import (
	"context"
	"testing"
	"time"

	"github.com/paxoskv/paxoskv/internal/paxos"
	"github.com/paxoskv/paxoskv/internal/paxoskvtest"
	paxostest "github.com/paxoskv/paxoskv/pkg/test"
)

type ClusterSuite struct {
	*paxostest.Suite
}

func TestClusterSuite(t *testing.T) {
	paxostest.Run(t, &ClusterSuite{Suite: paxostest.NewSuite()})
}

// TestSingleLeaderCommitsAndIsLearned exercises the S1-style scenario: one
// Proposer wins leadership, proposes a client command, and a quorum of
// Acceptors accepting it is enough for the Learner to serve it.
func (s *ClusterSuite) TestSingleLeaderCommitsAndIsLearned() {
	c := paxoskvtest.NewCluster(3, 2, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Require().NoError(c.ElectLeader(ctx, 0))
	s.True(c.Proposers[0].IsLeader())

	slot := c.Proposers[0].AssignSlot()
	committed, err := c.Proposers[0].Propose(ctx, slot, paxos.CommandValue("x", []byte("1")))
	s.Require().NoError(err)
	s.True(committed.Equal(paxos.CommandValue("x", []byte("1"))))

	// The Acceptor->Learner broadcast wiring alone must be enough: no manual
	// Notify call here.
	s.Eventually(func() bool {
		v, ok := c.Learners[0].ReadEventual("x")
		return ok && string(v) == "1"
	}, time.Second, 5*time.Millisecond)
}

// TestSecondProposerAdoptsAlreadyAcceptedValue exercises the Paxos safety
// rule directly: once a value is accepted by a quorum for a slot, any later
// Proposer running Phase 1/2 for that same slot must adopt it rather than
// imposing its own value.
func (s *ClusterSuite) TestSecondProposerAdoptsAlreadyAcceptedValue() {
	c := paxoskvtest.NewCluster(3, 1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first := paxos.ProposalNumber{Round: 1, ProposerID: "ghost"}
	for _, acc := range c.Acceptors {
		_, err := acc.Prepare(ctx, 1, first)
		s.Require().NoError(err)
		_, err = acc.Accept(ctx, 1, first, paxos.CommandValue("k", []byte("ghost-value")))
		s.Require().NoError(err)
	}

	p := c.Proposers[0]
	committed, err := p.Propose(ctx, 1, paxos.CommandValue("k", []byte("new-value")))
	s.Require().NoError(err)
	s.True(committed.Equal(paxos.CommandValue("k", []byte("ghost-value"))),
		"a later proposer must adopt the already-accepted value, not overwrite it")
}

// TestElectionLoserLearnsTheWinnersEpoch covers the leader-election
// contention path: two Proposers both attempt slot-0 election; the loser
// observes the winner's epoch and steps down rather than retrying forever
// against a now-stale round.
func (s *ClusterSuite) TestElectionLoserLearnsTheWinnersEpoch() {
	c := paxoskvtest.NewCluster(3, 2, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s.Require().NoError(c.ElectLeader(ctx, 0))
	s.True(c.Proposers[0].IsLeader())

	err := c.ElectLeader(ctx, 1)
	s.Error(err, "a second proposer cannot win leadership for an epoch already held")
	s.False(c.Proposers[1].IsLeader())
}

// TestLateLearnerCatchesUpViaPeerSync exercises the S5 scenario: a Learner
// that joined after a value was already decided, and so never received the
// Acceptors' broadcast, recovers the missed slot purely through
// StartSyncLoop's peer-Learner tier (spec.md §4.3).
func (s *ClusterSuite) TestLateLearnerCatchesUpViaPeerSync() {
	c := paxoskvtest.NewCluster(3, 1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s.Require().NoError(c.ElectLeader(ctx, 0))
	slot := c.Proposers[0].AssignSlot()
	_, err := c.Proposers[0].Propose(ctx, slot, paxos.CommandValue("late", []byte("v1")))
	s.Require().NoError(err)

	s.Eventually(func() bool {
		v, ok := c.Learners[0].ReadEventual("late")
		return ok && string(v) == "v1"
	}, time.Second, 5*time.Millisecond, "seed learner must learn the write before the late learner joins")

	late := c.AddLateLearner("learner-late")
	syncCtx, syncCancel := context.WithCancel(ctx)
	defer syncCancel()
	go late.StartSyncLoop(syncCtx)

	s.Eventually(func() bool {
		v, ok := late.ReadEventual("late")
		return ok && string(v) == "v1"
	}, time.Second, 5*time.Millisecond, "late learner must recover the missed slot via peer sync")
}

// TestAcceptorFailureStillReachesQuorum exercises the S2 scenario: with one
// of three Acceptors dropped, the surviving two still form a majority
// quorum, so leader election and writes continue to succeed.
func (s *ClusterSuite) TestAcceptorFailureStillReachesQuorum() {
	c := paxoskvtest.NewCluster(3, 1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c.DropAcceptor("acceptor-2")

	s.Require().NoError(c.ElectLeader(ctx, 0))
	slot := c.Proposers[0].AssignSlot()
	committed, err := c.Proposers[0].Propose(ctx, slot, paxos.CommandValue("k", []byte("v")))
	s.Require().NoError(err, "a majority of surviving acceptors must still commit writes")
	s.True(committed.Equal(paxos.CommandValue("k", []byte("v"))))
}

// TestLeaderFailoverElectsNewLeaderForNextEpoch exercises the S3 scenario:
// once the original leader is presumed dead (its heartbeats stop reaching
// the cluster), a follower that has observed its epoch can contest and win
// the next epoch and resume serving writes.
func (s *ClusterSuite) TestLeaderFailoverElectsNewLeaderForNextEpoch() {
	c := paxoskvtest.NewCluster(3, 2, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s.Require().NoError(c.ElectLeader(ctx, 0))
	s.True(c.Proposers[0].IsLeader())
	deadEpoch := c.Proposers[0].Epoch()

	// Proposer 1 observes the dead leader's epoch, as it would from its
	// heartbeats, so the epoch it next contests is strictly greater.
	c.Proposers[1].ObserveHeartbeat(paxos.Heartbeat{
		LeaderID:      c.Proposers[0].ID(),
		Epoch:         deadEpoch,
		CommittedUpTo: c.Proposers[0].CommittedUpTo(),
	})

	s.Require().NoError(c.ElectLeader(ctx, 1))
	s.True(c.Proposers[1].IsLeader())
	s.Greater(c.Proposers[1].Epoch(), deadEpoch, "failover must contest a strictly later epoch than the dead leader held")

	slot := c.Proposers[1].AssignSlot()
	committed, err := c.Proposers[1].Propose(ctx, slot, paxos.CommandValue("k", []byte("after-failover")))
	s.Require().NoError(err, "the newly-elected leader must still be able to commit writes")
	s.True(committed.Equal(paxos.CommandValue("k", []byte("after-failover"))))
}
