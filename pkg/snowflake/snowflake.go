package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

var ErrInvalidNode = errors.New("snowflake: node number must be between 0 and 1023")

// Node hands out message ids that sort in creation order. Ids from one node
// are strictly increasing; ids across nodes are ordered to the millisecond.
type Node struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
	node int64
	step int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, ErrInvalidNode
	}
	return &Node{node: node, now: time.Now}, nil
}

// Generate returns the next id.
func (n *Node) Generate() int64 {
	id, _ := n.Next()
	return id
}

// Next returns the next id together with the millisecond it was minted in,
// so callers can stamp records with a time that agrees with the id order.
func (n *Node) Next() (int64, time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ms := n.now().UnixMilli()
	if ms < n.last {
		// clock went backwards; stay on the last millisecond
		ms = n.last
	}

	if ms == n.last {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for ms <= n.last {
				ms = n.now().UnixMilli()
			}
		}
	} else {
		n.step = 0
	}
	n.last = ms

	id := ((ms - epoch) << timeShift) | (n.node << nodeShift) | n.step
	return id, time.UnixMilli(ms)
}

// Time extracts the creation millisecond from an id.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch)
}
