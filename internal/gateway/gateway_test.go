package gateway_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/paxoskv/paxoskv/internal/gateway"
	"github.com/paxoskv/paxoskv/internal/paxos"
	"github.com/paxoskv/paxoskv/internal/transport"
	"github.com/paxoskv/paxoskv/pkg/errors"
	paxostest "github.com/paxoskv/paxoskv/pkg/test"
)

// fakeRPC stands in for internal/transport in tests: no HTTP involved, just
// direct bookkeeping of what each proposer/learner would answer.
type fakeRPC struct {
	mu sync.Mutex

	status map[string]transport.ProposerStatus
	writes map[string]paxos.Slot // proposerID -> next slot to return
	kv     map[string][]byte
	calls  []string
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		status: make(map[string]transport.ProposerStatus),
		writes: make(map[string]paxos.Slot),
		kv:     make(map[string][]byte),
	}
}

func (f *fakeRPC) Status(ctx context.Context, proposerID string) (transport.ProposerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "status:"+proposerID)
	st, ok := f.status[proposerID]
	if !ok {
		return transport.ProposerStatus{}, errors.Internal("unknown proposer", nil)
	}
	return st, nil
}

func (f *fakeRPC) ProposeWrite(ctx context.Context, proposerID, key string, value []byte) (paxos.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "write:"+proposerID)
	st, ok := f.status[proposerID]
	if !ok || st.Role != "LEADER" {
		return 0, errors.NotLeader(st.CurrentLeader)
	}
	slot := f.writes[proposerID]
	f.writes[proposerID] = slot + 1
	f.kv[key] = value
	return slot, nil
}

func (f *fakeRPC) LearnerRead(ctx context.Context, learnerID, key, mode string, minSlot paxos.Slot) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "read:"+learnerID)
	v, ok := f.kv[key]
	return v, ok, nil
}

// fakeLeaderCache is an in-memory stand-in for the gateway's Redis-backed
// leader cache.
type fakeLeaderCache struct {
	mu     sync.Mutex
	leader string
	set    bool
}

func (c *fakeLeaderCache) Get(ctx context.Context) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leader, c.set
}

func (c *fakeLeaderCache) Set(ctx context.Context, proposerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leader, c.set = proposerID, true
	return nil
}

func (c *fakeLeaderCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leader, c.set = "", false
	return nil
}

type GatewaySuite struct {
	*paxostest.Suite
	rpc   *fakeRPC
	cache *fakeLeaderCache
	gw    *gateway.Gateway
}

func TestGatewaySuite(t *testing.T) {
	paxostest.Run(t, &GatewaySuite{Suite: paxostest.NewSuite()})
}

func (s *GatewaySuite) SetupTest() {
	s.Suite.SetupTest()
	s.rpc = newFakeRPC()
	s.rpc.status["proposer-0"] = transport.ProposerStatus{ID: "proposer-0", Role: "LEADER", CurrentLeader: "proposer-0"}
	s.rpc.status["proposer-1"] = transport.ProposerStatus{ID: "proposer-1", Role: "FOLLOWER", CurrentLeader: "proposer-0"}
	s.cache = &fakeLeaderCache{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.gw = gateway.New(gateway.Config{
		ProposerIDs: []string{"proposer-0", "proposer-1"},
		LearnerIDs:  []string{"learner-0", "learner-1"},
	}, s.rpc, s.cache, log)
}

func (s *GatewaySuite) TestWriteResolvesLeaderByProbingWhenCacheEmpty() {
	res, err := s.gw.Write(s.Ctx, "k", []byte("v"))
	s.Require().NoError(err)
	s.Equal(paxos.Slot(0), res.Slot)

	cached, ok := s.cache.Get(s.Ctx)
	s.True(ok, "a successful write must populate the leader cache")
	s.Equal("proposer-0", cached)
}

func (s *GatewaySuite) TestWriteRetriesAfterCacheGoesStale() {
	// Seed a stale cached leader; the gateway must invalidate and re-resolve.
	s.Require().NoError(s.cache.Set(s.Ctx, "proposer-1"))
	s.rpc.status["proposer-1"] = transport.ProposerStatus{ID: "proposer-1", Role: "FOLLOWER", CurrentLeader: "proposer-0"}

	res, err := s.gw.Write(s.Ctx, "k", []byte("v"))
	s.Require().NoError(err)
	s.Equal(paxos.Slot(0), res.Slot)

	cached, _ := s.cache.Get(s.Ctx)
	s.Equal("proposer-0", cached, "gateway must land on the real leader after the stale cache entry fails")
}

func (s *GatewaySuite) TestWriteFailsWhenNoProposerClaimsLeadership() {
	s.rpc.status["proposer-0"] = transport.ProposerStatus{ID: "proposer-0", Role: "FOLLOWER", CurrentLeader: "proposer-0"}
	s.rpc.status["proposer-1"] = transport.ProposerStatus{ID: "proposer-1", Role: "FOLLOWER", CurrentLeader: "proposer-0"}

	_, err := s.gw.Write(s.Ctx, "k", []byte("v"))
	s.Error(err)
}

func (s *GatewaySuite) TestReadEventualReturnsWrittenValue() {
	_, err := s.gw.Write(s.Ctx, "k", []byte("v1"))
	s.Require().NoError(err)

	res, err := s.gw.Read(s.Ctx, "k", gateway.ReadEventual, "client-1", 0)
	s.Require().NoError(err)
	s.Equal([]byte("v1"), res.Value)
}

func (s *GatewaySuite) TestReadMissingKeyReturnsNotFound() {
	_, err := s.gw.Read(s.Ctx, "missing", gateway.ReadEventual, "client-1", 0)
	s.Require().Error(err)
	s.Equal(errors.CodeNotFound, err.(*errors.AppError).Code)
}

func (s *GatewaySuite) TestStrongReadResolvesLeaderCommittedUpToFirst() {
	s.rpc.status["proposer-0"] = transport.ProposerStatus{ID: "proposer-0", Role: "LEADER", CurrentLeader: "proposer-0", CommittedUpTo: 7}
	_, err := s.gw.Write(s.Ctx, "k", []byte("v1"))
	s.Require().NoError(err)

	_, err = s.gw.Read(s.Ctx, "k", gateway.ReadStrong, "client-1", 0)
	s.Require().NoError(err)

	foundStatusCall := false
	for _, c := range s.rpc.calls {
		if c == "status:proposer-0" {
			foundStatusCall = true
		}
	}
	s.True(foundStatusCall, "a strong read must consult the leader's status to learn committedUpTo")
}
