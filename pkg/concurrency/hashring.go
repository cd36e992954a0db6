package concurrency

import (
	"hash/crc32"
	"sort"
	"strconv"
)

// HashRing implements consistent hashing with virtual nodes. The gateway
// uses it to pick a Learner for session/eventual reads: hashing on
// clientId gives a given client sticky affinity to the same Learner
// (helping session reads converge faster) without a central router.
type HashRing struct {
	nodes        map[string]struct{}
	ring         []uint32
	hashToNode   map[uint32]string
	virtualNodes int
	mu           *SmartRWMutex
}

// NewHashRing creates a new consistent hash ring. virtualNodes controls the
// number of virtual nodes per physical node; higher values improve
// distribution at the cost of memory. 150 is a reasonable default for a
// handful of Learners.
func NewHashRing(virtualNodes int) *HashRing {
	if virtualNodes <= 0 {
		virtualNodes = 150
	}
	return &HashRing{
		nodes:        make(map[string]struct{}),
		ring:         make([]uint32, 0),
		hashToNode:   make(map[uint32]string),
		virtualNodes: virtualNodes,
		mu:           NewSmartRWMutex(MutexConfig{Name: "HashRing"}),
	}
}

func (h *HashRing) AddNode(node string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.nodes[node]; exists {
		return
	}
	h.nodes[node] = struct{}{}

	for i := 0; i < h.virtualNodes; i++ {
		hash := h.hashKey(virtualNodeKey(node, i))
		h.ring = append(h.ring, hash)
		h.hashToNode[hash] = node
	}

	sort.Slice(h.ring, func(i, j int) bool {
		return h.ring[i] < h.ring[j]
	})
}

func (h *HashRing) RemoveNode(node string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.nodes[node]; !exists {
		return
	}
	delete(h.nodes, node)

	for i := 0; i < h.virtualNodes; i++ {
		hash := h.hashKey(virtualNodeKey(node, i))
		delete(h.hashToNode, hash)
	}

	newRing := make([]uint32, 0, len(h.ring))
	for _, hash := range h.ring {
		if _, exists := h.hashToNode[hash]; exists {
			newRing = append(newRing, hash)
		}
	}
	h.ring = newRing
}

// GetNode returns the node responsible for key (e.g. a clientId).
func (h *HashRing) GetNode(key string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.ring) == 0 {
		return ""
	}

	hash := h.hashKey(key)
	idx := sort.Search(len(h.ring), func(i int) bool {
		return h.ring[i] >= hash
	})
	if idx >= len(h.ring) {
		idx = 0
	}
	return h.hashToNode[h.ring[idx]]
}

func (h *HashRing) Nodes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	nodes := make([]string, 0, len(h.nodes))
	for node := range h.nodes {
		nodes = append(nodes, node)
	}
	return nodes
}

func (h *HashRing) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

func (h *HashRing) hashKey(key string) uint32 {
	return crc32.ChecksumIEEE([]byte(key))
}

func virtualNodeKey(node string, index int) string {
	return node + "#" + strconv.Itoa(index)
}
