// Package gateway is the client-facing edge (spec.md §4.4): it resolves
// the current leader for writes, routes reads to a Learner chosen by
// consistency mode, and shields callers from individual Proposer/Learner
// flakiness with one circuit breaker per peer.
package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/paxoskv/paxoskv/internal/paxos"
	"github.com/paxoskv/paxoskv/internal/transport"
	"github.com/paxoskv/paxoskv/pkg/concurrency"
	"github.com/paxoskv/paxoskv/pkg/errors"
	"github.com/paxoskv/paxoskv/pkg/resilience"
)

// LeaderCache is the cross-replica shared cache of the current leader.
type LeaderCache interface {
	Get(ctx context.Context) (string, bool)
	Set(ctx context.Context, proposerID string) error
	Invalidate(ctx context.Context) error
}

// RPC is the gateway's outbound view of the Proposer and Learner fleets,
// implemented by *transport.Client in production and a fake in tests.
type RPC interface {
	Status(ctx context.Context, proposerID string) (transport.ProposerStatus, error)
	ProposeWrite(ctx context.Context, proposerID, key string, value []byte) (paxos.Slot, error)
	LearnerRead(ctx context.Context, learnerID, key, mode string, minSlot paxos.Slot) ([]byte, bool, error)
}

// WriteResult is returned to the client for a successful write, carrying
// the slot it committed at so the client can present it back on a
// subsequent session read.
type WriteResult struct {
	Slot paxos.Slot `json:"slot"`
}

// ReadResult is returned to the client for a successful read.
type ReadResult struct {
	Value         []byte     `json:"value"`
	CommittedUpTo paxos.Slot `json:"-"`
}

type Config struct {
	ProposerIDs []string
	LearnerIDs  []string
}

// Gateway is stateless across requests except for the shared LeaderCache:
// any replica can serve any client, and any client can be routed to any
// replica between requests.
type Gateway struct {
	cfg         Config
	client      RPC
	leaderCache LeaderCache
	ring        *concurrency.HashRing
	breakers    *concurrency.ShardedMapString[*resilience.CircuitBreaker]
	log         *slog.Logger
	mu          sync.Mutex
}

func New(cfg Config, client RPC, leaderCache LeaderCache, log *slog.Logger) *Gateway {
	ring := concurrency.NewHashRing(100)
	for _, id := range cfg.LearnerIDs {
		ring.AddNode(id)
	}
	return &Gateway{
		cfg:         cfg,
		client:      client,
		leaderCache: leaderCache,
		ring:        ring,
		breakers:    concurrency.NewShardedMapString[*resilience.CircuitBreaker](),
		log:         log,
	}
}

func (g *Gateway) breaker(target string) *resilience.CircuitBreaker {
	if cb, ok := g.breakers.Get(target); ok {
		return cb
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if cb, ok := g.breakers.Get(target); ok {
		return cb
	}
	cb := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(target))
	g.breakers.Set(target, cb)
	return cb
}

// resolveLeader returns the current leader's address, consulting the
// shared cache first and falling back to probing every Proposer.
func (g *Gateway) resolveLeader(ctx context.Context) (string, error) {
	if cached, ok := g.leaderCache.Get(ctx); ok {
		return cached, nil
	}
	for _, proposerID := range g.cfg.ProposerIDs {
		status, err := g.client.Status(ctx, proposerID)
		if err != nil {
			continue
		}
		if status.Role == "LEADER" {
			_ = g.leaderCache.Set(ctx, proposerID)
			return proposerID, nil
		}
	}
	return "", errors.NoQuorum("no reachable proposer reports itself leader", nil)
}

const maxWriteAttempts = 5

// Write submits key/value as a client command, resolving and retrying
// against the current leader until it commits or attempts are exhausted.
func (g *Gateway) Write(ctx context.Context, key string, value []byte) (WriteResult, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		leader, err := g.resolveLeader(ctx)
		if err != nil {
			return WriteResult{}, err
		}

		cb := g.breaker(leader)
		var slot paxos.Slot
		execErr := cb.Execute(ctx, func(ctx context.Context) error {
			var innerErr error
			slot, innerErr = g.client.ProposeWrite(ctx, leader, key, value)
			return innerErr
		})

		if execErr == nil {
			return WriteResult{Slot: slot}, nil
		}

		var appErr *errors.AppError
		if errors.As(execErr, &appErr) && appErr.Code == errors.CodeNotLeader {
			_ = g.leaderCache.Invalidate(ctx)
			continue
		}
		return WriteResult{}, execErr
	}
	return WriteResult{}, errors.NoQuorum("exhausted leader-resolution retries", nil)
}

// ReadMode selects how fresh a read must be (spec.md §5).
type ReadMode string

const (
	ReadEventual ReadMode = "eventual"
	ReadSession  ReadMode = "session"
	ReadStrong   ReadMode = "strong"
)

// Read serves key under mode. clientID selects which Learner replica
// handles the request (consistent hashing keeps one client's reads sticky
// to one Learner, which matters for session continuity); sessionSlot is the
// client's last-observed write slot, required for ReadSession.
func (g *Gateway) Read(ctx context.Context, key string, mode ReadMode, clientID string, sessionSlot paxos.Slot) (ReadResult, error) {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	learnerID := g.ring.GetNode(clientID)
	if learnerID == "" {
		return ReadResult{}, errors.NoQuorum("no learner available", nil)
	}

	minSlot := sessionSlot
	wireMode := string(mode)
	if mode == ReadStrong {
		leader, err := g.resolveLeader(ctx)
		if err != nil {
			return ReadResult{}, err
		}
		status, err := g.client.Status(ctx, leader)
		if err != nil {
			return ReadResult{}, errors.ReadUnavailable(err)
		}
		minSlot = status.CommittedUpTo
		wireMode = "session"
	}

	cb := g.breaker(learnerID)
	var value []byte
	var found bool
	execErr := cb.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		value, found, innerErr = g.client.LearnerRead(ctx, learnerID, key, wireMode, minSlot)
		return innerErr
	})
	if execErr != nil {
		return ReadResult{}, execErr
	}
	if !found {
		return ReadResult{}, errors.NotFound("key not found: "+key, nil)
	}
	return ReadResult{Value: value}, nil
}
