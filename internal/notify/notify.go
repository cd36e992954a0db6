// Package notify provides the out-of-core commit notification channel: a
// Learner publishes a CommitEvent for every slot it decides, and the
// gateway subscribes to those events. Delivery rides NATS core pub/sub,
// which is at-most-once on its own. Every Learner publishes its own event
// for each slot, so a subscription receives the same slot once per Learner;
// a Bloom filter keyed on (subscriptionID, slot) lets the Subscriber
// suppress the repeats without keeping a full seen-set per subscriber.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/paxoskv/paxoskv/internal/paxos"
	"github.com/paxoskv/paxoskv/pkg/datastructures/bloomfilter"
	"github.com/paxoskv/paxoskv/pkg/errors"
)

const commitSubject = "paxoskv.commits"

// CommitEvent is published once per decided slot.
type CommitEvent struct {
	Slot paxos.Slot `json:"slot"`
	Key  string     `json:"key,omitempty"`
}

// Publisher is the Learner-side half: it turns local commits into NATS
// messages on commitSubject.
type Publisher struct {
	conn *nats.Conn
	log  *slog.Logger
}

func NewPublisher(conn *nats.Conn, log *slog.Logger) *Publisher {
	return &Publisher{conn: conn, log: log}
}

// PublishCommit publishes ev on commitSubject. cmd/learner calls it once for
// every slot its Learner's committed watermark passes.
func (p *Publisher) PublishCommit(ev CommitEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("marshal commit event", "error", err)
		return
	}
	if err := p.conn.Publish(commitSubject, data); err != nil {
		p.log.Warn("publish commit event failed, subscribers rely on replay", "error", err)
	}
}

// Subscriber is the gateway-side half: it fans NATS commit messages out to
// per-client subscriptions, deduplicating the per-Learner repeats of a slot.
type Subscriber struct {
	conn *nats.Conn
	seen *bloomfilter.BloomFilter
	log  *slog.Logger
}

func NewSubscriber(conn *nats.Conn, log *slog.Logger) *Subscriber {
	return &Subscriber{
		conn: conn,
		seen: bloomfilter.New(1_000_000, 0.001),
		log:  log,
	}
}

// Subscribe registers handler for every commit event, tagging deliveries
// with subscriptionID so repeated deliveries of the same slot are
// recognized as duplicates and suppressed.
func (s *Subscriber) Subscribe(ctx context.Context, subscriptionID string, handler func(CommitEvent)) (*nats.Subscription, error) {
	sub, err := s.conn.Subscribe(commitSubject, func(msg *nats.Msg) {
		var ev CommitEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			s.log.Warn("malformed commit event", "error", err)
			return
		}
		dedupKey := fmt.Sprintf("%s:%d", subscriptionID, ev.Slot)
		if s.seen.ContainsString(dedupKey) {
			return
		}
		s.seen.AddString(dedupKey)
		handler(ev)
	})
	if err != nil {
		return nil, errors.Internal("subscribe to commit subject", err)
	}
	return sub, nil
}

func (s *Subscriber) Unsubscribe(sub *nats.Subscription) error {
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}
