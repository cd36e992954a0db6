package paxos

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paxoskv/paxoskv/pkg/concurrency"
)

// AcceptorQuerier is the Learner's outbound view of the Acceptor fleet used
// for catch-up sync, implemented by internal/transport in production.
type AcceptorQuerier interface {
	QueryRange(ctx context.Context, acceptorID string, from, to Slot) ([]SlotRecord, error)
}

// LearnerPeerQuerier is the Learner's outbound view of its peer Learners,
// consulted first during catch-up sync (spec.md §4.3's two-tier recovery):
// a peer's answer is already a quorum-confirmed decision, cheaper to apply
// and to fetch than re-deriving it from every Acceptor's queryAccepted.
type LearnerPeerQuerier interface {
	QueryCommitted(ctx context.Context, learnerID string, from, to Slot) ([]CommittedRecord, error)
}

// LearnerConfig wires a Learner to its cluster.
type LearnerConfig struct {
	ID             string
	AcceptorIDs    []string
	PeerLearnerIDs []string
	Quorum         int
	SyncInterval   time.Duration
}

type ballot struct {
	votes  map[ProposalNumber]map[string]bool
	values map[ProposalNumber]Value
}

type waiter struct {
	slot Slot
	ch   chan struct{}
}

// Learner aggregates ACCEPTED broadcasts from Acceptors into a committed
// log, applies Command values to a key/value projection, and fills gaps by
// querying Acceptors directly (spec.md §4.3).
type Learner struct {
	id             string
	acceptorIDs    []string
	peerLearnerIDs []string
	quorum         int
	querier        AcceptorQuerier
	peerQuerier    LearnerPeerQuerier
	syncInterval   time.Duration
	log            *slog.Logger

	ballotMu sync.Mutex
	ballots  map[Slot]*ballot

	committedValues *concurrency.ShardedMapString[Value]
	kv              *concurrency.ShardedMapString[[]byte]

	committedUpTo atomic.Int64 // -1 means nothing committed yet
	highestSlot   atomic.Int64

	waitMu  sync.Mutex
	waiters []waiter
}

func NewLearner(cfg LearnerConfig, querier AcceptorQuerier, peerQuerier LearnerPeerQuerier, log *slog.Logger) *Learner {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 2 * time.Second
	}
	l := &Learner{
		id:              cfg.ID,
		acceptorIDs:     cfg.AcceptorIDs,
		peerLearnerIDs:  cfg.PeerLearnerIDs,
		quorum:          cfg.Quorum,
		querier:         querier,
		peerQuerier:     peerQuerier,
		syncInterval:    cfg.SyncInterval,
		log:             log,
		ballots:         make(map[Slot]*ballot),
		committedValues: concurrency.NewShardedMapString[Value](),
		kv:              concurrency.NewShardedMapString[[]byte](),
	}
	l.committedUpTo.Store(-1)
	l.highestSlot.Store(-1)
	return l
}

func slotKey(slot Slot) string { return strconv.FormatInt(int64(slot), 10) }

// syncProbeWindow is how many slots past CommittedUpTo syncOnce asks about
// when it knows of no higher slot.
const syncProbeWindow Slot = 64

// ID returns this Learner's identity, as used in PeerLearnerIDs.
func (l *Learner) ID() string { return l.id }

// Notify implements paxos.LearnerNotifier: it records one Acceptor's vote
// for (slot, n, v), committing the slot once a quorum of Acceptors have
// voted for the same proposal number.
func (l *Learner) Notify(ctx context.Context, slot Slot, acceptorID string, n ProposalNumber, v Value) {
	l.recordVote(slot, acceptorID, n, v)
}

func (l *Learner) recordVote(slot Slot, acceptorID string, n ProposalNumber, v Value) {
	l.bumpHighestSlot(slot)

	if _, done := l.committedValues.Get(slotKey(slot)); done {
		return
	}

	l.ballotMu.Lock()
	b, ok := l.ballots[slot]
	if !ok {
		b = &ballot{votes: make(map[ProposalNumber]map[string]bool), values: make(map[ProposalNumber]Value)}
		l.ballots[slot] = b
	}
	if b.votes[n] == nil {
		b.votes[n] = make(map[string]bool)
	}
	b.votes[n][acceptorID] = true
	b.values[n] = v
	reached := len(b.votes[n]) >= l.quorum
	if reached {
		delete(l.ballots, slot)
	}
	l.ballotMu.Unlock()

	if reached {
		l.commit(slot, v)
	}
}

func (l *Learner) bumpHighestSlot(slot Slot) {
	for {
		cur := l.highestSlot.Load()
		if int64(slot) <= cur {
			return
		}
		if l.highestSlot.CompareAndSwap(cur, int64(slot)) {
			return
		}
	}
}

// commit applies a newly-decided slot to the kv projection and advances the
// contiguous committedUpTo watermark as far as it now can.
func (l *Learner) commit(slot Slot, v Value) {
	if _, exists := l.committedValues.Get(slotKey(slot)); exists {
		return
	}
	l.committedValues.Set(slotKey(slot), v)
	if v.Command != nil {
		l.kv.Set(v.Command.Key, v.Command.Value)
	}
	l.advanceCommittedUpTo()
}

func (l *Learner) advanceCommittedUpTo() {
	l.waitMu.Lock()
	defer l.waitMu.Unlock()
	for {
		next := Slot(l.committedUpTo.Load() + 1)
		if _, ok := l.committedValues.Get(slotKey(next)); !ok {
			break
		}
		l.committedUpTo.Store(int64(next))
	}
	l.wakeWaitersLocked()
}

func (l *Learner) wakeWaitersLocked() {
	cur := Slot(l.committedUpTo.Load())
	remaining := l.waiters[:0]
	for _, w := range l.waiters {
		if w.slot <= cur {
			close(w.ch)
		} else {
			remaining = append(remaining, w)
		}
	}
	l.waiters = remaining
}

// CommittedUpTo returns the highest slot S such that every slot in [0, S] is
// decided, the watermark session reads block on.
func (l *Learner) CommittedUpTo() Slot { return Slot(l.committedUpTo.Load()) }

// HighestKnownSlot returns the highest slot this Learner has seen any vote
// for, decided or not, used to bound catch-up sync queries.
func (l *Learner) HighestKnownSlot() Slot { return Slot(l.highestSlot.Load()) }

// ReadEventual serves an immediate local read against the committed
// projection with no freshness guarantee.
func (l *Learner) ReadEventual(key string) ([]byte, bool) {
	return l.kv.Get(key)
}

// WaitForSlot blocks until CommittedUpTo reaches at least slot, or ctx ends.
func (l *Learner) WaitForSlot(ctx context.Context, slot Slot) error {
	if l.CommittedUpTo() >= slot {
		return nil
	}
	ch := make(chan struct{})
	l.waitMu.Lock()
	if l.CommittedUpTo() >= slot {
		l.waitMu.Unlock()
		return nil
	}
	l.waiters = append(l.waiters, waiter{slot: slot, ch: ch})
	l.waitMu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// ReadSession serves a read after blocking until the client's last-observed
// slot has committed, giving read-your-writes within one client session.
func (l *Learner) ReadSession(ctx context.Context, key string, minSlot Slot) ([]byte, bool, error) {
	if err := l.WaitForSlot(ctx, minSlot); err != nil {
		return nil, false, err
	}
	v, ok := l.kv.Get(key)
	return v, ok, nil
}

// Snapshot returns a copy of every committed key and its current value.
func (l *Learner) Snapshot() map[string][]byte {
	return l.kv.Snapshot()
}

// QueryCommitted answers a peer Learner's catch-up request with every
// decided slot this Learner knows about in [from, to). Serves the Learner's
// own /sync endpoint.
func (l *Learner) QueryCommitted(ctx context.Context, from, to Slot) []CommittedRecord {
	var out []CommittedRecord
	for s := from; s < to; s++ {
		if v, ok := l.committedValues.Get(slotKey(s)); ok {
			out = append(out, CommittedRecord{Slot: s, Value: v})
		}
	}
	return out
}

// StartSyncLoop periodically fills the gap between CommittedUpTo and
// HighestKnownSlot, or, when no gap is known, probes the syncProbeWindow
// slots past CommittedUpTo, recovering from Notify broadcasts dropped by the
// network (spec.md §4.3 catch-up sync).
func (l *Learner) StartSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(l.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.syncOnce(ctx)
		}
	}
}

// syncOnce implements the two-tier catch-up spec.md §4.3 requires: ask peer
// Learners first (their answer is already quorum-decided, so it is applied
// directly), then fall back to querying Acceptors' queryAccepted state for
// whatever gap remains.
func (l *Learner) syncOnce(ctx context.Context) {
	from := l.CommittedUpTo() + 1
	to := l.HighestKnownSlot() + 1
	if from >= to {
		// No known gap: a Learner that never received a broadcast still
		// discovers decided slots by probing the next window.
		to = from + syncProbeWindow
	}

	if l.peerQuerier != nil {
		for _, peerID := range l.peerLearnerIDs {
			recs, err := l.peerQuerier.QueryCommitted(ctx, peerID, from, to)
			if err != nil {
				l.log.Debug("peer learner sync failed", "learner", peerID, "error", err)
				continue
			}
			for _, rec := range recs {
				l.bumpHighestSlot(rec.Slot)
				l.commit(rec.Slot, rec.Value)
			}
			from = l.CommittedUpTo() + 1
			if from >= to {
				return
			}
		}
	}

	for _, acceptorID := range l.acceptorIDs {
		recs, err := l.querier.QueryRange(ctx, acceptorID, from, to)
		if err != nil {
			l.log.Debug("sync query failed", "acceptor", acceptorID, "error", err)
			continue
		}
		for _, rec := range recs {
			if rec.AcceptedVal != nil {
				l.recordVote(rec.Slot, acceptorID, rec.AcceptedNum, *rec.AcceptedVal)
			}
		}
	}
}
