// Package paxoskvtest wires a full in-process cluster of Acceptors,
// Proposers and Learners together without any network hop, so the
// invariants and scenarios in spec.md §8 can be exercised directly against
// the paxos package's real types.
package paxoskvtest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/paxoskv/paxoskv/internal/paxos"
	"github.com/paxoskv/paxoskv/internal/storage/memory"
)

// Cluster is an in-process Paxos deployment: every Acceptor, Proposer and
// Learner talk to each other through direct Go calls instead of HTTP, via
// the localRPC fake below.
type Cluster struct {
	Acceptors []*paxos.Acceptor
	Proposers []*paxos.Proposer
	Learners  []*paxos.Learner

	acceptorByID map[string]*paxos.Acceptor
	learnerByID  map[string]*paxos.Learner
	broadcaster  *fanoutNotifier
	quorum       int
	log          *slog.Logger
}

// NewCluster builds numAcceptors Acceptors, numProposers Proposers and
// numLearners Learners, all sharing the computed majority quorum and all
// wired into one Acceptor broadcast fanout so every Learner normally learns
// every decision directly.
func NewCluster(numAcceptors, numProposers, numLearners int) *Cluster {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	quorum := numAcceptors/2 + 1

	c := &Cluster{
		acceptorByID: make(map[string]*paxos.Acceptor),
		learnerByID:  make(map[string]*paxos.Learner),
		broadcaster:  &fanoutNotifier{},
		quorum:       quorum,
		log:          log,
	}

	acceptorIDs := make([]string, numAcceptors)
	for i := 0; i < numAcceptors; i++ {
		acceptorIDs[i] = fmt.Sprintf("acceptor-%d", i)
	}

	learnerIDs := make([]string, numLearners)
	for i := 0; i < numLearners; i++ {
		learnerIDs[i] = fmt.Sprintf("learner-%d", i)
	}

	rpc := &localRPC{cluster: c}

	for _, id := range learnerIDs {
		l := paxos.NewLearner(paxos.LearnerConfig{
			ID:             id,
			AcceptorIDs:    acceptorIDs,
			PeerLearnerIDs: peersExcept(learnerIDs, id),
			Quorum:         quorum,
			SyncInterval:   20 * time.Millisecond,
		}, rpc, rpc, log)
		c.Learners = append(c.Learners, l)
		c.learnerByID[id] = l
		c.broadcaster.learners = append(c.broadcaster.learners, l)
	}

	for _, id := range acceptorIDs {
		store := memory.New()
		acc := paxos.NewAcceptor(id, store, c.broadcaster, log)
		c.Acceptors = append(c.Acceptors, acc)
		c.acceptorByID[id] = acc
	}

	proposerIDs := make([]string, numProposers)
	for i := 0; i < numProposers; i++ {
		proposerIDs[i] = fmt.Sprintf("proposer-%d", i)
	}
	for _, id := range proposerIDs {
		p := paxos.NewProposer(paxos.ProposerConfig{
			ID:                id,
			AcceptorIDs:       acceptorIDs,
			Quorum:            quorum,
			PeerProposerIDs:   peersExcept(proposerIDs, id),
			HeartbeatInterval: 20 * time.Millisecond,
			LeaderTimeout:     100 * time.Millisecond,
			MaxInflightSlots:  16,
		}, rpc, rpc, rpc, log)
		c.Proposers = append(c.Proposers, p)
	}

	return c
}

// ElectLeader drives proposer index i through leader election until it
// succeeds or ctx ends.
func (c *Cluster) ElectLeader(ctx context.Context, i int) error {
	return c.Proposers[i].RunForLeadership(ctx)
}

// AddLateLearner registers an additional Learner wired to query the
// existing Acceptors and peer Learners for catch-up, but deliberately left
// out of the Acceptor broadcast fanout: it never receives a live Notify and
// must recover everything through StartSyncLoop, exercising spec.md §8's
// S5 (Learner catch-up/gap-fill) scenario.
func (c *Cluster) AddLateLearner(id string) *paxos.Learner {
	acceptorIDs := make([]string, 0, len(c.Acceptors))
	for _, acc := range c.Acceptors {
		acceptorIDs = append(acceptorIDs, acc.ID)
	}
	peerIDs := make([]string, 0, len(c.Learners))
	for _, l := range c.Learners {
		peerIDs = append(peerIDs, l.ID())
	}

	rpc := &localRPC{cluster: c}
	l := paxos.NewLearner(paxos.LearnerConfig{
		ID:             id,
		AcceptorIDs:    acceptorIDs,
		PeerLearnerIDs: peerIDs,
		Quorum:         c.quorum,
		SyncInterval:   10 * time.Millisecond,
	}, rpc, rpc, c.log)
	c.Learners = append(c.Learners, l)
	c.learnerByID[id] = l
	return l
}

// DropAcceptor removes an Acceptor from routing entirely, simulating a
// crashed node for spec.md §8's S2 (acceptor failure) scenario: any
// in-flight Prepare/Accept addressed to it fails as if the peer were
// unreachable, while the remaining Acceptors still form a quorum.
func (c *Cluster) DropAcceptor(id string) {
	delete(c.acceptorByID, id)
}

func peersExcept(ids []string, self string) []string {
	peers := make([]string, 0, len(ids)-1)
	for _, id := range ids {
		if id != self {
			peers = append(peers, id)
		}
	}
	return peers
}

// fanoutNotifier implements paxos.LearnerNotifier by calling every Learner
// currently registered with the cluster, standing in for an Acceptor
// broadcasting its ACCEPTED vote to the whole Learner fleet over HTTP.
type fanoutNotifier struct {
	learners []*paxos.Learner
}

func (f *fanoutNotifier) Notify(ctx context.Context, slot paxos.Slot, acceptorID string, n paxos.ProposalNumber, v paxos.Value) {
	for _, l := range f.learners {
		l.Notify(ctx, slot, acceptorID, n, v)
	}
}

// localRPC implements paxos.AcceptorClient, paxos.AcceptorQuerier,
// paxos.HeartbeatSender, paxos.SlotSeeder and paxos.LearnerPeerQuerier by
// calling straight into the in-process Acceptor/Proposer/Learner objects,
// standing in for internal/transport in tests.
type localRPC struct {
	cluster *Cluster
}

func (r *localRPC) Prepare(ctx context.Context, acceptorID string, slot paxos.Slot, n paxos.ProposalNumber) (paxos.PrepareReply, error) {
	acc, ok := r.cluster.acceptorByID[acceptorID]
	if !ok {
		return paxos.PrepareReply{}, fmt.Errorf("unknown acceptor %s", acceptorID)
	}
	result, err := acc.Prepare(ctx, slot, n)
	if err != nil {
		return paxos.PrepareReply{}, err
	}
	return paxos.PrepareReply{
		AcceptorID:  acceptorID,
		Promised:    result.Promised,
		Current:     result.CurrentPromised,
		AcceptedNum: result.AcceptedNum,
		AcceptedVal: result.AcceptedVal,
	}, nil
}

func (r *localRPC) Accept(ctx context.Context, acceptorID string, slot paxos.Slot, n paxos.ProposalNumber, v paxos.Value) (paxos.AcceptReply, error) {
	acc, ok := r.cluster.acceptorByID[acceptorID]
	if !ok {
		return paxos.AcceptReply{}, fmt.Errorf("unknown acceptor %s", acceptorID)
	}
	result, err := acc.Accept(ctx, slot, n, v)
	if err != nil {
		return paxos.AcceptReply{}, err
	}
	return paxos.AcceptReply{AcceptorID: acceptorID, Accepted: result.Accepted, Current: result.CurrentPromised}, nil
}

func (r *localRPC) QueryRange(ctx context.Context, acceptorID string, from, to paxos.Slot) ([]paxos.SlotRecord, error) {
	acc, ok := r.cluster.acceptorByID[acceptorID]
	if !ok {
		return nil, fmt.Errorf("unknown acceptor %s", acceptorID)
	}
	return acc.QueryRange(ctx, from, to)
}

func (r *localRPC) HighestSlot(ctx context.Context, acceptorID string) (paxos.Slot, error) {
	acc, ok := r.cluster.acceptorByID[acceptorID]
	if !ok {
		return -1, fmt.Errorf("unknown acceptor %s", acceptorID)
	}
	return acc.HighestSlot(ctx)
}

func (r *localRPC) SendHeartbeat(ctx context.Context, peerID string, hb paxos.Heartbeat) {
	for _, p := range r.cluster.Proposers {
		if p.ID() == peerID {
			p.ObserveHeartbeat(hb)
			return
		}
	}
}

// QueryCommitted implements paxos.LearnerPeerQuerier by routing to the
// named in-process Learner, the peer-Learner tier of catch-up sync.
func (r *localRPC) QueryCommitted(ctx context.Context, learnerID string, from, to paxos.Slot) ([]paxos.CommittedRecord, error) {
	l, ok := r.cluster.learnerByID[learnerID]
	if !ok {
		return nil, fmt.Errorf("unknown learner %s", learnerID)
	}
	return l.QueryCommitted(ctx, from, to), nil
}
