package paxos

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/paxoskv/paxoskv/pkg/errors"
)

// Role is the Proposer's position in the leader-election state machine
// (spec.md §4.2).
type Role int32

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleCandidate:
		return "CANDIDATE"
	case RoleLeader:
		return "LEADER"
	default:
		return "FOLLOWER"
	}
}

// AcceptorClient is the Proposer's outbound view of the Acceptor fleet,
// implemented by internal/transport over HTTP in production and by an
// in-process fake in tests.
type AcceptorClient interface {
	Prepare(ctx context.Context, acceptorID string, slot Slot, n ProposalNumber) (PrepareReply, error)
	Accept(ctx context.Context, acceptorID string, slot Slot, n ProposalNumber, v Value) (AcceptReply, error)
}

// HeartbeatSender broadcasts the leader's heartbeat to a peer Proposer or
// Learner. Failures are not reported to the caller: the next tick resends.
type HeartbeatSender interface {
	SendHeartbeat(ctx context.Context, peerID string, hb Heartbeat)
}

// SlotSeeder lets a newly-elected leader discover how far the log already
// extends, so it doesn't hand out slot numbers that collide with slots
// decided under a previous leader.
type SlotSeeder interface {
	HighestSlot(ctx context.Context, acceptorID string) (Slot, error)
}

// ProposerConfig wires a Proposer to its cluster.
type ProposerConfig struct {
	ID                string
	AcceptorIDs       []string
	Quorum            int
	PeerProposerIDs   []string
	HeartbeatInterval time.Duration
	LeaderTimeout     time.Duration
	MaxInflightSlots  int64
	RetryInitial      time.Duration
	RetryMax          time.Duration
}

// Proposer drives Phase 1/2 for both client-write slots and the slot-0
// leader-election instance, and runs the Multi-Paxos heartbeat/timeout
// state machine on top.
type Proposer struct {
	id              string
	acceptorIDs     []string
	quorum          int
	peerProposerIDs []string
	client          AcceptorClient
	heartbeats      HeartbeatSender
	seeder          SlotSeeder
	log             *slog.Logger

	heartbeatInterval time.Duration
	leaderTimeout     time.Duration
	retryInitial      time.Duration
	retryMax          time.Duration
	maxInflight       int64

	mu            sync.RWMutex
	role          Role
	epoch         int64
	currentLeader string

	// electedNum/electedEpoch/hasElected cache the proposal number a Phase 1
	// quorum last promised this leader within the current epoch, so Propose
	// can bind new slots via Phase 2 alone (spec.md §4.2, §9 "amortized as
	// first-write-in-epoch") instead of re-running Phase 1 for every write.
	electedNum   ProposalNumber
	electedEpoch int64
	hasElected   bool

	round           atomic.Int64
	nextSlot        atomic.Int64
	committedUpTo   atomic.Int64
	lastHeartbeatNs atomic.Int64
	inflight        atomic.Int64

	stopCh chan struct{}
}

func NewProposer(cfg ProposerConfig, client AcceptorClient, hb HeartbeatSender, seeder SlotSeeder, log *slog.Logger) *Proposer {
	if cfg.MaxInflightSlots <= 0 {
		cfg.MaxInflightSlots = 256
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 20 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 1 * time.Second
	}
	p := &Proposer{
		id:                cfg.ID,
		acceptorIDs:       cfg.AcceptorIDs,
		quorum:            cfg.Quorum,
		peerProposerIDs:   cfg.PeerProposerIDs,
		client:            client,
		heartbeats:        hb,
		seeder:            seeder,
		log:               log,
		heartbeatInterval: cfg.HeartbeatInterval,
		leaderTimeout:     cfg.LeaderTimeout,
		retryInitial:      cfg.RetryInitial,
		retryMax:          cfg.RetryMax,
		maxInflight:       cfg.MaxInflightSlots,
		stopCh:            make(chan struct{}),
	}
	p.lastHeartbeatNs.Store(time.Now().UnixNano())
	return p
}

func (p *Proposer) ID() string { return p.id }

func (p *Proposer) Role() Role {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.role
}

func (p *Proposer) IsLeader() bool { return p.Role() == RoleLeader }

func (p *Proposer) Epoch() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.epoch
}

func (p *Proposer) CurrentLeader() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentLeader
}

func (p *Proposer) CommittedUpTo() Slot { return Slot(p.committedUpTo.Load()) }

// UpdateCommitted advances the local committed watermark the Learner feeds
// back, used in heartbeat payloads and read-your-writes session tracking.
func (p *Proposer) UpdateCommitted(slot Slot) {
	for {
		cur := p.committedUpTo.Load()
		if int64(slot) <= cur {
			return
		}
		if p.committedUpTo.CompareAndSwap(cur, int64(slot)) {
			return
		}
	}
}

func (p *Proposer) newProposalNumber() ProposalNumber {
	return ProposalNumber{Round: p.round.Add(1), ProposerID: p.id}
}

// fastPathNumber returns the proposal number a Phase 1 quorum already
// promised this leader for the current epoch, if any is usable for slot.
// ElectionSlot always runs a full Phase 1/2 so election contention is
// always resolved explicitly.
func (p *Proposer) fastPathNumber(slot Slot) (ProposalNumber, bool) {
	if slot == ElectionSlot {
		return ProposalNumber{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.role != RoleLeader || !p.hasElected || p.electedEpoch != p.epoch {
		return ProposalNumber{}, false
	}
	return p.electedNum, true
}

// recordElected remembers n as safe to reuse for Phase-2-only proposals for
// the rest of the current epoch: a Phase 1 quorum promising n is also a
// quorum's word that no competing round is in flight, so n covers future
// slots too, not just the one it was prepared for.
func (p *Proposer) recordElected(n ProposalNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.electedNum = n
	p.electedEpoch = p.epoch
	p.hasElected = true
}

// AcquireInflightSlot enforces the bounded client-write backpressure window
// (spec.md §6 resource model): a leader juggling more than MaxInflightSlots
// unacknowledged proposals rejects new writes rather than queueing
// unboundedly.
func (p *Proposer) AcquireInflightSlot() error {
	if p.inflight.Add(1) > p.maxInflight {
		p.inflight.Add(-1)
		return errors.Backpressure()
	}
	return nil
}

func (p *Proposer) ReleaseInflightSlot() {
	p.inflight.Add(-1)
}

// ObserveHeartbeat is called when this Proposer, acting as a follower,
// receives a heartbeat. A heartbeat from an epoch at or after its own
// resets the timeout clock and, if strictly greater, demotes this Proposer
// (it can never win an election for a stale epoch again).
func (p *Proposer) ObserveHeartbeat(hb Heartbeat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if hb.Epoch < p.epoch {
		return // stale leader, ignore
	}
	if hb.Epoch > p.epoch {
		p.epoch = hb.Epoch
		p.role = RoleFollower
	}
	if hb.LeaderID != p.id {
		p.currentLeader = hb.LeaderID
		if p.role == RoleLeader {
			p.role = RoleFollower
		}
	}
	p.lastHeartbeatNs.Store(time.Now().UnixNano())
}

// sawRecentHeartbeat reports whether a heartbeat arrived within LeaderTimeout.
func (p *Proposer) sawRecentHeartbeat() bool {
	last := time.Unix(0, p.lastHeartbeatNs.Load())
	return time.Since(last) < p.leaderTimeout
}

// RunForLeadership runs a Paxos instance on ElectionSlot proposing itself as
// leader of the next epoch. It returns nil once this Proposer is durably
// elected (a quorum of Acceptors accepted its LEADER claim for that epoch),
// or the adoption/quorum error that prevented it.
func (p *Proposer) RunForLeadership(ctx context.Context) error {
	p.mu.Lock()
	p.role = RoleCandidate
	nextEpoch := p.epoch + 1
	p.mu.Unlock()

	claim := LeaderValue(p.id, nextEpoch)
	committed, err := p.Propose(ctx, ElectionSlot, claim)
	if err != nil {
		p.mu.Lock()
		if p.role == RoleCandidate {
			p.role = RoleFollower
		}
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	if !committed.IsLeaderClaim() || committed.Leader.ProposerID != p.id || committed.Leader.Epoch != nextEpoch {
		// a different Proposer's claim was adopted for this slot; we lost
		// the election but now know who holds (or is contesting) the seat.
		p.role = RoleFollower
		if committed.IsLeaderClaim() {
			p.epoch = committed.Leader.Epoch
			p.currentLeader = committed.Leader.ProposerID
		}
		p.mu.Unlock()
		return errors.StaleEpoch("lost leader election: another claim was adopted")
	}

	p.role = RoleLeader
	p.epoch = nextEpoch
	p.currentLeader = p.id
	p.lastHeartbeatNs.Store(time.Now().UnixNano())
	p.mu.Unlock()

	p.seedNextSlot(ctx)
	return nil
}

// seedNextSlot queries every Acceptor for its highest durably-touched slot
// and raises this Proposer's slot counter to the highest seen, so the next
// AssignSlot returns one past it and the new leader never reassigns a slot
// number a previous leader may have already driven to a decision.
func (p *Proposer) seedNextSlot(ctx context.Context) {
	if p.seeder == nil {
		return
	}
	var highest Slot = -1
	for _, acceptorID := range p.acceptorIDs {
		slot, err := p.seeder.HighestSlot(ctx, acceptorID)
		if err != nil {
			continue
		}
		if slot > highest {
			highest = slot
		}
	}
	seeded := int64(highest) // nextSlot holds the last slot handed out
	for {
		cur := p.nextSlot.Load()
		if seeded <= cur {
			return
		}
		if p.nextSlot.CompareAndSwap(cur, seeded) {
			return
		}
	}
}

// AssignSlot hands out the next client-write slot number for this leader's
// term. Slot 0 is reserved for election instances, so assignment starts at 1.
func (p *Proposer) AssignSlot() Slot {
	for {
		cur := p.nextSlot.Load()
		next := cur + 1
		if next == int64(ElectionSlot) {
			next++
		}
		if p.nextSlot.CompareAndSwap(cur, next) {
			return Slot(next)
		}
	}
}

// Propose runs a Paxos instance for slot with the value the caller proposes:
// Phase 2 alone when this leader already holds an elected proposal number
// (see fastPathNumber), otherwise a full Phase 1/Phase 2 round, retrying
// with jittered exponential backoff on
// NACK or missed quorum until ctx is done. It returns the value actually
// chosen for slot, which differs from v when a higher-numbered value was
// already accepted and had to be adopted per the Paxos safety rule: the
// caller must compare the result against v to detect that its own command
// lost the slot and needs to be retried elsewhere.
func (p *Proposer) Propose(ctx context.Context, slot Slot, v Value) (Value, error) {
	if n, ok := p.fastPathNumber(slot); ok {
		committed, accepted, err := p.phase2(ctx, slot, n, v)
		if err != nil {
			var appErr *errors.AppError
			if errors.As(err, &appErr) && appErr.Code == errors.CodeStaleEpoch {
				return Value{}, err
			}
		}
		if accepted {
			return committed, nil
		}
		// The cached number was refused (a competing round appeared, or
		// this slot saw contention): fall through to a full Phase 1/2
		// round below, which re-establishes electedNum for next time.
	}

	bo := &backoff.ExponentialBackOff{
		InitialInterval:     p.retryInitial,
		RandomizationFactor: 0.5,
		Multiplier:          2.0,
		MaxInterval:         p.retryMax,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	bo.Reset()

	for {
		if err := ctx.Err(); err != nil {
			return Value{}, err
		}

		n := p.newProposalNumber()
		adopted, ok, err := p.phase1(ctx, slot, n)
		if err != nil {
			var appErr *errors.AppError
			if errors.As(err, &appErr) && appErr.Code == errors.CodeStaleEpoch {
				return Value{}, err
			}
		}
		if !ok {
			if waitErr := p.backoffWait(ctx, bo); waitErr != nil {
				return Value{}, waitErr
			}
			continue
		}
		if slot != ElectionSlot {
			p.recordElected(n)
		}

		toAccept := v
		if adopted != nil {
			toAccept = *adopted
		}

		committed, ok, err := p.phase2(ctx, slot, n, toAccept)
		if err != nil {
			var appErr *errors.AppError
			if errors.As(err, &appErr) && appErr.Code == errors.CodeStaleEpoch {
				return Value{}, err
			}
		}
		if !ok {
			if waitErr := p.backoffWait(ctx, bo); waitErr != nil {
				return Value{}, waitErr
			}
			continue
		}

		return committed, nil
	}
}

func (p *Proposer) backoffWait(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	wait := bo.NextBackOff()
	if wait == backoff.Stop {
		return errors.NoQuorum("exhausted backoff retrying proposal", nil)
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type prepareOutcome struct {
	reply PrepareReply
	err   error
}

// phase1 sends Prepare(slot, n) to every Acceptor in parallel and waits for
// a quorum of PROMISE replies (or until every Acceptor has answered, or ctx
// done). It
// returns the highest-numbered previously-accepted value among the
// promises, if any, which Phase 2 must adopt instead of the caller's value.
func (p *Proposer) phase1(ctx context.Context, slot Slot, n ProposalNumber) (*Value, bool, error) {
	results := make(chan prepareOutcome, len(p.acceptorIDs))
	for _, acceptorID := range p.acceptorIDs {
		go func(id string) {
			reply, err := p.client.Prepare(ctx, id, slot, n)
			results <- prepareOutcome{reply: reply, err: err}
		}(acceptorID)
	}

	var promises, nacks int
	var highestAccepted ProposalNumber
	var adopted *Value
	var highestNack ProposalNumber

	for i := 0; i < len(p.acceptorIDs); i++ {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case out := <-results:
			if out.err != nil {
				continue
			}
			if out.reply.Promised {
				promises++
				if out.reply.AcceptedVal != nil && out.reply.AcceptedNum.GreaterThan(highestAccepted) {
					highestAccepted = out.reply.AcceptedNum
					adopted = out.reply.AcceptedVal
				}
			} else {
				nacks++
				if out.reply.Current.GreaterThan(highestNack) {
					highestNack = out.reply.Current
				}
			}
		}
		if promises >= p.quorum {
			return adopted, true, nil
		}
	}

	if highestNack.GreaterThan(n) {
		p.observeSupersededEpoch(highestNack)
	}
	return nil, false, errors.NoQuorum("phase 1 did not reach quorum", nil)
}

type acceptOutcome struct {
	reply AcceptReply
	err   error
}

// phase2 sends Accept(slot, n, v) to every Acceptor in parallel and waits
// for a quorum of ACCEPTED replies.
func (p *Proposer) phase2(ctx context.Context, slot Slot, n ProposalNumber, v Value) (Value, bool, error) {
	results := make(chan acceptOutcome, len(p.acceptorIDs))
	for _, acceptorID := range p.acceptorIDs {
		go func(id string) {
			reply, err := p.client.Accept(ctx, id, slot, n, v)
			results <- acceptOutcome{reply: reply, err: err}
		}(acceptorID)
	}

	var accepted int
	var highestNack ProposalNumber
	for i := 0; i < len(p.acceptorIDs); i++ {
		select {
		case <-ctx.Done():
			return Value{}, false, ctx.Err()
		case out := <-results:
			if out.err != nil {
				continue
			}
			if out.reply.Accepted {
				accepted++
			} else if out.reply.Current.GreaterThan(highestNack) {
				highestNack = out.reply.Current
			}
		}
		if accepted >= p.quorum {
			return v, true, nil
		}
	}

	if highestNack.GreaterThan(n) {
		p.observeSupersededEpoch(highestNack)
	}
	return Value{}, false, errors.NoQuorum("phase 2 did not reach quorum", nil)
}

// observeSupersededEpoch raises this Proposer's round counter to the round
// of another Proposer's higher proposal number seen in a NACK, so its next
// proposal number outranks it instead of retrying against the old round. It
// does not change whether this Proposer is leader.
func (p *Proposer) observeSupersededEpoch(n ProposalNumber) {
	if n.ProposerID == p.id {
		return
	}
	for {
		cur := p.round.Load()
		if n.Round <= cur {
			return
		}
		if p.round.CompareAndSwap(cur, n.Round) {
			return
		}
	}
}

// StartHeartbeatLoop broadcasts a heartbeat to every peer Proposer and
// Learner on every HeartbeatInterval tick at which this Proposer holds
// leadership (ticks while it does not are skipped), and returns when ctx is
// done or the Proposer is stopped.
func (p *Proposer) StartHeartbeatLoop(ctx context.Context, learnerIDs []string) {
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if !p.IsLeader() {
				continue
			}
			hb := Heartbeat{LeaderID: p.id, Epoch: p.Epoch(), CommittedUpTo: p.CommittedUpTo()}
			for _, peer := range p.peerProposerIDs {
				go p.heartbeats.SendHeartbeat(ctx, peer, hb)
			}
			for _, learner := range learnerIDs {
				go p.heartbeats.SendHeartbeat(ctx, learner, hb)
			}
		}
	}
}

// WatchLeaderTimeout runs in the background and triggers a new election
// attempt whenever no heartbeat has been seen from the current leader for
// LeaderTimeout, implementing the failure-detection half of spec.md §4.2.
func (p *Proposer) WatchLeaderTimeout(ctx context.Context) {
	ticker := time.NewTicker(p.leaderTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if p.IsLeader() || p.sawRecentHeartbeat() {
				continue
			}
			go func() {
				if err := p.RunForLeadership(ctx); err != nil {
					p.log.Debug("leadership attempt did not succeed", "error", err)
				}
			}()
		}
	}
}

func (p *Proposer) Stop() {
	close(p.stopCh)
}
