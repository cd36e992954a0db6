// Package cluster holds the static peer directory every role reads from
// its environment at startup (spec.md §6 configuration table): each role
// address doubles as its identity, so the directory is just a set of
// string lists, no separate ID->address lookup layer.
package cluster

import "time"

// Config is the shared peer-directory and timing configuration, loaded via
// pkg/config.Load into each role's own Config embedding this one.
type Config struct {
	AcceptorHosts []string `env:"ACCEPTOR_HOSTS" env-separator:"," validate:"required,min=1"`
	ProposerHosts []string `env:"PROPOSER_HOSTS" env-separator:"," validate:"required,min=1"`
	LearnerHosts  []string `env:"LEARNER_HOSTS" env-separator:"," validate:"required,min=1"`

	QuorumSize int `env:"QUORUM_SIZE" validate:"omitempty,min=1"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" env-default:"150ms"`
	LeaderTimeout     time.Duration `env:"LEADER_TIMEOUT" env-default:"750ms"`
	SyncInterval      time.Duration `env:"SYNC_INTERVAL" env-default:"2s"`
	MaxInflightSlots  int64         `env:"MAX_INFLIGHT_SLOTS" env-default:"256"`
}

// Quorum returns the configured quorum size, defaulting to the majority of
// AcceptorHosts if QuorumSize was left unset.
func (c Config) Quorum() int {
	if c.QuorumSize > 0 {
		return c.QuorumSize
	}
	return len(c.AcceptorHosts)/2 + 1
}

// PeersExcept returns every host in hosts other than self, used to build a
// Proposer's or Learner's view of its siblings.
func PeersExcept(hosts []string, self string) []string {
	peers := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h != self {
			peers = append(peers, h)
		}
	}
	return peers
}
