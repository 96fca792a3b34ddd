// Package kadnode wires the routing, storage, lookup, announcement,
// transport, reactor and control layers together into one runnable DHT
// node, the same role the teacher's dht.go (and its expvar-exposed globals)
// played, now expressed as a single owned struct instead of package state.
package kadnode

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"kadnode/announce"
	"kadnode/blocklist"
	"kadnode/control"
	"kadnode/identifier"
	"kadnode/logger"
	"kadnode/lookup"
	"kadnode/reactor"
	"kadnode/results"
	"kadnode/routing"
	"kadnode/storage"
	"kadnode/transport"
	"kadnode/wire"
)

// QueryTimeout bounds how long an outbound query waits for a reply before
// the candidate is treated as unresponsive.
const QueryTimeout = 5 * time.Second

// BucketRefreshTick is how often the node checks for stale buckets needing
// a random-target find_node to keep their membership fresh (§4.2).
const BucketRefreshTick = 6 * time.Minute

// pendingQuery is a query this node sent and is waiting on a matching reply
// or error for.
type pendingQuery struct {
	reply chan wire.Message
}

// Node is a complete DHT participant: routing table, caches, lookup engine,
// transport and control surface, all owned by one value instead of package
// globals.
type Node struct {
	ID      identifier.ID
	cfg     Config
	log     logger.DebugLogger
	start   time.Time
	table   *routing.Table
	store   *storage.Store
	results *results.Store
	announces *announce.Manager
	lookups *lookup.Engine
	blocked *blocklist.List
	tokens  *wire.TokenServer
	tr      *transport.Transport

	lastTokenRotation  time.Time
	lastBucketRefresh  time.Time

	mu      sync.Mutex
	pending map[string]*pendingQuery
	txnSeq  uint32

	ready chan struct{}
}

// New builds a Node from cfg but does not yet open any socket.
func New(cfg Config, log logger.DebugLogger) (*Node, error) {
	if log == nil {
		log = &logger.NullLogger{}
	}
	id := cfg.ID
	if id == identifier.Zero {
		var err error
		id, err = identifier.Random()
		if err != nil {
			return nil, err
		}
	}
	tokens, err := wire.NewTokenServer()
	if err != nil {
		return nil, err
	}

	var hook results.Hook
	if cfg.ExecutePath != "" {
		hook = results.ExecHook(cfg.ExecutePath)
	}

	now := time.Now()
	n := &Node{
		ID:        id,
		cfg:       cfg,
		log:       log,
		start:     now,
		table:     routing.New(id, now),
		store:     storage.New(cfg.MaxHashes, cfg.MaxPeersPerHash),
		results:   results.New(hook, log),
		announces: announce.New(),
		blocked:   blocklist.New(cfg.BlocklistCapacity),
		tokens:    tokens,
		pending:           make(map[string]*pendingQuery),
		lastTokenRotation: now,
		lastBucketRefresh: now,
		ready:             make(chan struct{}),
	}
	n.lookups = lookup.New(n, n.results)
	return n, nil
}

// Run opens the transport and control socket and blocks until ctx is
// canceled.
func (n *Node) Run(ctx context.Context) error {
	tr, err := transport.Open(n.cfg.Port, n.cfg.EnableV4, n.cfg.EnableV6, time.Now())
	if err != nil {
		return err
	}
	n.tr = tr
	close(n.ready)
	defer tr.Close()

	r, err := reactor.New(tr, n.handlePacket, n.tick, n.log)
	if err != nil {
		return err
	}

	var srv *control.Server
	if n.cfg.ControlSocketPath != "" {
		srv = control.New(n.cfg.ControlSocketPath, n, n.cfg.ColorOutput, n.log)
		if err := srv.Listen(); err != nil {
			return err
		}
		go func() {
			if err := srv.Serve(); err != nil {
				n.log.Errorf("control: serve: %v", err)
			}
		}()
		defer srv.Close()
	}

	r.Run(ctx)
	return nil
}

// tick runs the node's periodic housekeeping: stale-bucket refresh seeding,
// node liveness pings, announcement refresh/expiry, token rotation and
// search expiry.
func (n *Node) tick(now time.Time) {
	if now.Sub(n.lastTokenRotation) >= wire.TokenRotation {
		if err := n.tokens.Rotate(); err != nil {
			n.log.Errorf("kadnode: token rotation: %v", err)
		} else {
			n.lastTokenRotation = now
		}
	}
	for _, target := range n.announces.DueForAnnounce(now, n.hasRoutingCandidates) {
		go n.announceToNetwork(target.ID, target.Port)
	}
	n.announces.Expire(now)
	n.lookups.Expire(now)

	for _, due := range n.table.Cleanup(now) {
		go n.pingNode(due)
	}

	if now.Sub(n.lastBucketRefresh) >= BucketRefreshTick {
		n.lastBucketRefresh = now
		for _, target := range n.table.StaleBucketTargets(now) {
			go n.refreshBucket(target)
		}
	}
}

// refreshBucket drives a find_node search toward target, an id within a
// stale bucket's range, so that bucket's membership gets exercised again
// instead of going quiet indefinitely (§4.2).
func (n *Node) refreshBucket(target routing.RefreshTarget) {
	seed := n.table.Closest(target.ID, lookup.KSearch, target.V6)
	s, _ := n.lookups.Start(target.ID, false, toContacts(seed), time.Now())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i := 0; i < 4; i++ {
		progressed, err := n.lookups.Step(ctx, s)
		if err != nil || !progressed {
			break
		}
	}
}

// hasRoutingCandidates reports whether the routing table has at least one
// v4 node to seed an announce search from (announce searches are v4-only,
// matching the rest of the control surface — see DESIGN.md).
func (n *Node) hasRoutingCandidates() bool {
	v4, _ := n.table.Count()
	return v4 > 0
}

func (n *Node) announceToNetwork(target identifier.ID, port int) {
	seed := n.table.Closest(target, lookup.KSearch, false)
	contacts := toContacts(seed)
	s, _ := n.lookups.Start(target, true, contacts, time.Now())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for i := 0; i < 4; i++ {
		progressed, err := n.lookups.Step(ctx, s)
		if err != nil || !progressed {
			break
		}
	}
	if err := n.lookups.Announce(ctx, s, port); err != nil {
		n.log.Errorf("kadnode: announce burst for %s: %v", target, err)
	}
}

func (n *Node) pingNode(node *routing.Node) {
	ctx, cancel := context.WithTimeout(context.Background(), QueryTimeout)
	defer cancel()
	_, err := n.query(ctx, node.Addr, "ping", map[string]interface{}{"id": n.ID.String()})
	if err != nil {
		node.MarkPinged(time.Now())
		if node.Bad() {
			n.table.Kill(node.ID, node.Addr.IP.To4() == nil)
		}
		return
	}
	node.MarkReplied(time.Now())
}

func toContacts(nodes []*routing.Node) []wire.Contact {
	out := make([]wire.Contact, len(nodes))
	for i, nd := range nodes {
		out[i] = wire.Contact{ID: nd.ID, IP: nd.Addr.IP, Port: uint16(nd.Addr.Port)}
	}
	return out
}

// nextTxnID returns a fresh 2-byte transaction id, the minimal size the
// wire format needs to disambiguate concurrent outstanding queries.
func (n *Node) nextTxnID() string {
	n.mu.Lock()
	n.txnSeq++
	seq := n.txnSeq
	n.mu.Unlock()
	return fmt.Sprintf("%02x", byte(seq))
}

// query sends method/args to addr and blocks for a matching reply or error.
func (n *Node) query(ctx context.Context, addr net.UDPAddr, method string, args map[string]interface{}) (wire.Message, error) {
	txn := n.nextTxnID()
	pq := &pendingQuery{reply: make(chan wire.Message, 1)}
	n.mu.Lock()
	n.pending[txn] = pq
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.pending, txn)
		n.mu.Unlock()
	}()

	b, err := wire.EncodeQuery(txn, method, args)
	if err != nil {
		return wire.Message{}, err
	}
	if err := n.tr.Send(b, addr); err != nil {
		return wire.Message{}, err
	}

	select {
	case msg := <-pq.reply:
		if msg.Type == "e" {
			return msg, fmt.Errorf("kadnode: peer returned error %d: %s", msg.ErrorCode, msg.ErrorMsg)
		}
		return msg, nil
	case <-ctx.Done():
		return wire.Message{}, ctx.Err()
	}
}

func (n *Node) handlePacket(p transport.Packet) {
	if n.blocked.Contains(p.Addr.IP) {
		return
	}
	msg, err := wire.Decode(p.Data)
	if err != nil {
		n.log.Debugf("kadnode: dropping malformed packet from %s: %v", p.Addr, err)
		return
	}
	switch msg.Type {
	case "q":
		n.handleQuery(p.Addr, msg)
	case "r", "e":
		if msg.Type == "r" {
			n.markReplied(msg.Reply.ID, p.Addr)
		}
		n.mu.Lock()
		pq, ok := n.pending[msg.TransactionID]
		n.mu.Unlock()
		if ok {
			pq.reply <- msg
		}
	}
}

// markReplied records that the node at addr, identified by idHex, answered
// one of our queries: it enters the routing table (or has its liveness
// refreshed) the same way a node that queried us does in handleQuery.
func (n *Node) markReplied(idHex string, addr net.UDPAddr) {
	id, err := identifier.FromHex(idHex)
	if err != nil {
		return
	}
	n.table.GetOrCreateNode(id, addr, time.Now()).MarkReplied(time.Now())
}

func (n *Node) handleQuery(addr net.UDPAddr, msg wire.Message) {
	if msg.Query.ID != "" {
		if id, err := identifier.FromHex(msg.Query.ID); err == nil {
			n.table.GetOrCreateNode(id, addr, time.Now()).MarkReplied(time.Now())
		}
	}
	switch msg.Method {
	case "ping":
		n.reply(addr, msg.TransactionID, map[string]interface{}{"id": n.ID.String()})
	case "find_node":
		n.handleFindNode(addr, msg)
	case "get_peers":
		n.handleGetPeers(addr, msg)
	case "announce_peer":
		n.handleAnnouncePeer(addr, msg)
	default:
		n.replyError(addr, msg.TransactionID, 204, "method unknown: "+msg.Method)
	}
}

func (n *Node) handleFindNode(addr net.UDPAddr, msg wire.Message) {
	target, err := identifier.FromHex(msg.Query.Target)
	if err != nil {
		n.replyError(addr, msg.TransactionID, 203, "bad target")
		return
	}
	v6 := addr.IP.To4() == nil
	closest := n.table.Closest(target, routing.K, v6)
	n.reply(addr, msg.TransactionID, map[string]interface{}{
		"id":          n.ID.String(),
		nodesKey(v6): encodeNodes(closest, v6),
	})
}

func (n *Node) handleGetPeers(addr net.UDPAddr, msg wire.Message) {
	infoHash, err := identifier.FromHex(msg.Query.InfoHash)
	if err != nil {
		n.replyError(addr, msg.TransactionID, 203, "bad info_hash")
		return
	}
	v6 := addr.IP.To4() == nil
	resp := map[string]interface{}{
		"id":    n.ID.String(),
		"token": n.tokens.Issue(addr),
	}
	if peers := n.store.Peers(infoHash, routing.K); len(peers) > 0 {
		resp["values"] = peers
	} else {
		resp[nodesKey(v6)] = encodeNodes(n.table.Closest(infoHash, routing.K, v6), v6)
	}
	n.reply(addr, msg.TransactionID, resp)
}

func (n *Node) handleAnnouncePeer(addr net.UDPAddr, msg wire.Message) {
	if !n.tokens.Verify(addr, msg.Query.Token) {
		n.replyError(addr, msg.TransactionID, 203, "bad token")
		return
	}
	infoHash, err := identifier.FromHex(msg.Query.InfoHash)
	if err != nil {
		n.replyError(addr, msg.TransactionID, 203, "bad info_hash")
		return
	}
	port := msg.Query.Port
	if msg.Query.ImpliedPort == 1 {
		port = addr.Port
	}
	contact := wire.EncodeCompactPeer(nil, addr.IP, uint16(port))
	n.store.Add(infoHash, string(contact))
	n.reply(addr, msg.TransactionID, map[string]interface{}{"id": n.ID.String()})
}

func nodesKey(v6 bool) string {
	if v6 {
		return "nodes6"
	}
	return "nodes"
}

func encodeNodes(nodes []*routing.Node, v6 bool) string {
	var buf []byte
	for _, nd := range nodes {
		buf = wire.EncodeCompactNode(buf, nd.ID, nd.Addr.IP, uint16(nd.Addr.Port))
	}
	return string(buf)
}

func (n *Node) reply(addr net.UDPAddr, txn string, r map[string]interface{}) {
	b, err := wire.EncodeReply(txn, r)
	if err != nil {
		n.log.Errorf("kadnode: encode reply: %v", err)
		return
	}
	if err := n.tr.Send(b, addr); err != nil {
		n.log.Errorf("kadnode: send reply to %s: %v", addr, err)
	}
}

func (n *Node) replyError(addr net.UDPAddr, txn string, code int, msg string) {
	b, err := wire.EncodeError(txn, code, msg)
	if err != nil {
		return
	}
	_ = n.tr.Send(b, addr)
}

// --- lookup.Transport ---

// FindNode implements lookup.Transport.
func (n *Node) FindNode(ctx context.Context, addr net.UDPAddr, target identifier.ID) ([]wire.Contact, error) {
	msg, err := n.query(ctx, addr, "find_node", map[string]interface{}{
		"id":     n.ID.String(),
		"target": target.String(),
	})
	if err != nil {
		return nil, err
	}
	nodes, err := parseNodesReply(msg)
	if err != nil {
		return nil, err
	}
	n.offerContacts(nodes)
	return nodes, nil
}

// GetPeers implements lookup.Transport.
func (n *Node) GetPeers(ctx context.Context, addr net.UDPAddr, target identifier.ID) (string, []wire.Contact, []wire.Contact, error) {
	msg, err := n.query(ctx, addr, "get_peers", map[string]interface{}{
		"id":        n.ID.String(),
		"info_hash": target.String(),
	})
	if err != nil {
		return "", nil, nil, err
	}
	nodes, _ := parseNodesReply(msg)
	n.offerContacts(nodes)
	var peers []wire.Contact
	for _, v := range msg.Reply.Values {
		ip, port, err := wire.ParseCompactPeer(v)
		if err == nil {
			peers = append(peers, wire.Contact{IP: ip, Port: port})
		}
	}
	return msg.Reply.Token, nodes, peers, nil
}

// offerContacts folds contacts discovered via find_node/get_peers replies
// into the routing table as not-yet-replied nodes, so a lookup's side
// effects extend the table the same way direct pings do (§4.2, scenario 1).
func (n *Node) offerContacts(contacts []wire.Contact) {
	now := time.Now()
	for _, c := range contacts {
		if c.ID == identifier.Zero || c.ID == n.ID {
			continue
		}
		if n.blocked.Contains(c.IP) {
			continue
		}
		n.table.GetOrCreateNode(c.ID, c.Addr(), now)
	}
}

// AnnouncePeer implements lookup.Transport.
func (n *Node) AnnouncePeer(ctx context.Context, addr net.UDPAddr, target identifier.ID, port int, token string) error {
	_, err := n.query(ctx, addr, "announce_peer", map[string]interface{}{
		"id":        n.ID.String(),
		"info_hash": target.String(),
		"port":      port,
		"token":     token,
	})
	return err
}

func parseNodesReply(msg wire.Message) ([]wire.Contact, error) {
	var out []wire.Contact
	if msg.Reply.Nodes != "" {
		c, err := wire.ParseCompactNodes(msg.Reply.Nodes, false)
		if err != nil {
			return nil, err
		}
		out = append(out, c...)
	}
	if msg.Reply.Nodes6 != "" {
		c, err := wire.ParseCompactNodes(msg.Reply.Nodes6, true)
		if err != nil {
			return nil, err
		}
		out = append(out, c...)
	}
	return out, nil
}

// BlockAddr adds addr's IP to the blocklist, dropping it on the next packet.
func (n *Node) BlockAddr(ip net.IP) {
	n.blocked.Add(ip)
}

// LocalPort blocks until the transport has opened (or ctx is done) and
// returns its bound IPv4 port, mainly useful for tests that need to dial a
// node started with an ephemeral port.
func (n *Node) LocalPort(ctx context.Context) (int, error) {
	select {
	case <-n.ready:
		return n.tr.LocalPort(), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
