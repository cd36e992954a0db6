package paxos

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/paxoskv/paxoskv/pkg/concurrency"
	"github.com/paxoskv/paxoskv/pkg/errors"
)

// LearnerNotifier fans accepted values out to Learners. The Acceptor treats
// it as best-effort: Learners that miss a broadcast catch up via sync, so a
// failed Notify never blocks or fails an Accept.
type LearnerNotifier interface {
	Notify(ctx context.Context, slot Slot, acceptorID string, n ProposalNumber, v Value)
}

// PrepareResult is the Acceptor's reply to a Prepare(slot, n).
type PrepareResult struct {
	Promised        bool
	CurrentPromised ProposalNumber // set when !Promised, for the Proposer's backoff/adoption logic
	AcceptedNum     ProposalNumber // highest n this Acceptor has ever accepted for slot
	AcceptedVal     *Value
}

// AcceptResult is the Acceptor's reply to an Accept(slot, n, v).
type AcceptResult struct {
	Accepted        bool
	CurrentPromised ProposalNumber
}

// Acceptor is the durable, reactive Paxos role (spec.md §4.1). It holds no
// leadership state and makes no outbound calls except the best-effort
// Learner broadcast; every promise or acceptance is durable before the
// Acceptor's method returns.
type Acceptor struct {
	ID          string
	store       Store
	broadcaster LearnerNotifier
	log         *slog.Logger

	locks   *concurrency.ShardedMapString[*sync.Mutex]
	locksMu sync.Mutex // guards lazy creation of entries in locks
}

func NewAcceptor(id string, store Store, broadcaster LearnerNotifier, log *slog.Logger) *Acceptor {
	return &Acceptor{
		ID:          id,
		store:       store,
		broadcaster: broadcaster,
		log:         log,
		locks:       concurrency.NewShardedMapString[*sync.Mutex](),
	}
}

// slotMutex returns the mutex serializing Prepare/Accept calls for slot,
// creating it on first use. Every Acceptor method for a given slot takes
// this lock for its full read-modify-write against Store, so two concurrent
// RPCs for the same slot are never interleaved.
func (a *Acceptor) slotMutex(slot Slot) *sync.Mutex {
	key := strconv.FormatInt(int64(slot), 10)
	if m, ok := a.locks.Get(key); ok {
		return m
	}
	a.locksMu.Lock()
	defer a.locksMu.Unlock()
	if m, ok := a.locks.Get(key); ok {
		return m
	}
	m := &sync.Mutex{}
	a.locks.Set(key, m)
	return m
}

// Prepare implements phase 1b. A proposal number ordered at or after the
// slot's current promise is promised and persisted; anything ordered before
// it is rejected with the current promise so the caller can back off.
//
// n == promised is treated as PROMISE, not NACK: proposal numbers are
// globally unique per (round, proposerId) (invariant I-4), so a tie can only
// be the same Proposer retrying its own most recent Prepare after a dropped
// reply. Re-affirming the existing promise keeps that retry idempotent,
// which the round-trip law in spec.md §8 requires; it never lets a second,
// distinct Proposer through, since no two distinct proposals ever compare
// equal.
func (a *Acceptor) Prepare(ctx context.Context, slot Slot, n ProposalNumber) (PrepareResult, error) {
	mu := a.slotMutex(slot)
	mu.Lock()
	defer mu.Unlock()

	rec, err := a.store.Load(ctx, slot)
	if err != nil {
		return PrepareResult{}, errors.DurabilityFailure(err)
	}

	if !n.GreaterOrEqual(rec.Promised) {
		return PrepareResult{Promised: false, CurrentPromised: rec.Promised}, nil
	}

	rec.Promised = n
	rec.Slot = slot
	if err := a.store.Save(ctx, rec); err != nil {
		return PrepareResult{}, errors.DurabilityFailure(err)
	}

	return PrepareResult{
		Promised:    true,
		AcceptedNum: rec.AcceptedNum,
		AcceptedVal: rec.AcceptedVal,
	}, nil
}

// Accept implements phase 2b. A proposal number ordered at or after the
// slot's current promise is accepted and persisted, and the acceptance is
// broadcast to Learners best-effort; anything older is rejected.
func (a *Acceptor) Accept(ctx context.Context, slot Slot, n ProposalNumber, v Value) (AcceptResult, error) {
	mu := a.slotMutex(slot)
	mu.Lock()

	rec, err := a.store.Load(ctx, slot)
	if err != nil {
		mu.Unlock()
		return AcceptResult{}, errors.DurabilityFailure(err)
	}

	if !n.GreaterOrEqual(rec.Promised) {
		result := AcceptResult{Accepted: false, CurrentPromised: rec.Promised}
		mu.Unlock()
		return result, nil
	}

	rec.Slot = slot
	rec.Promised = n
	rec.AcceptedNum = n
	val := v
	rec.AcceptedVal = &val
	if err := a.store.Save(ctx, rec); err != nil {
		mu.Unlock()
		return AcceptResult{}, errors.DurabilityFailure(err)
	}
	mu.Unlock()

	if a.broadcaster != nil {
		// Fire-and-forget: the RPC has already durably succeeded: a lost
		// broadcast is recovered by the Learner's catch-up sync, not by
		// retrying here.
		go a.broadcaster.Notify(context.Background(), slot, a.ID, n, val)
	}

	return AcceptResult{Accepted: true}, nil
}

// QueryAccepted returns the durable record for slot without taking part in
// a Prepare/Accept exchange, used by Learner catch-up sync.
func (a *Acceptor) QueryAccepted(ctx context.Context, slot Slot) (SlotRecord, error) {
	mu := a.slotMutex(slot)
	mu.Lock()
	defer mu.Unlock()
	rec, err := a.store.Load(ctx, slot)
	if err != nil {
		return SlotRecord{}, errors.DurabilityFailure(err)
	}
	return rec, nil
}

// HighestSlot returns the highest slot this Acceptor has ever durably
// touched, used by a newly-elected Proposer to seed its next-slot counter.
func (a *Acceptor) HighestSlot(ctx context.Context) (Slot, error) {
	slot, err := a.store.HighestSlot(ctx)
	if err != nil {
		return -1, errors.DurabilityFailure(err)
	}
	return slot, nil
}

// QueryRange returns every durable record in [from, to) for bulk catch-up.
func (a *Acceptor) QueryRange(ctx context.Context, from, to Slot) ([]SlotRecord, error) {
	recs, err := a.store.LoadRange(ctx, from, to)
	if err != nil {
		return nil, errors.DurabilityFailure(err)
	}
	return recs, nil
}
