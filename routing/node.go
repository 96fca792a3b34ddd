package routing

import (
	"net"
	"time"

	"kadnode/identifier"
)

// LivenessWindow is how long a node stays "good" after its last reply
// (§3: Node).
const LivenessWindow = 15 * time.Minute

// BadPingThreshold is the number of consecutive unanswered pings after
// which a node is considered bad and evictable.
const BadPingThreshold = 3

// Node is a routing-table entry: a remote DHT participant we have exchanged
// at least one message with, or are trying to.
type Node struct {
	ID         identifier.ID
	Addr       net.UDPAddr
	PingCount  int
	LastReply  time.Time
	LastPinged time.Time
}

// Good reports whether the node has replied at least once and its last
// reply is still within the liveness window.
func (n *Node) Good(now time.Time) bool {
	return !n.LastReply.IsZero() && now.Sub(n.LastReply) < LivenessWindow
}

// Questionable reports whether the node's liveness has expired without yet
// being bad.
func (n *Node) Questionable(now time.Time) bool {
	return !n.Good(now) && !n.Bad()
}

// Bad reports whether the node has failed to answer BadPingThreshold or
// more consecutive pings.
func (n *Node) Bad() bool {
	return n.PingCount >= BadPingThreshold
}

// MarkReplied records a fresh reply, resetting the unanswered-ping counter.
func (n *Node) MarkReplied(now time.Time) {
	n.LastReply = now
	n.PingCount = 0
}

// MarkPinged records that a ping was sent but not yet answered.
func (n *Node) MarkPinged(now time.Time) {
	n.LastPinged = now
	n.PingCount++
}
