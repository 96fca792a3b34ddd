package kadnode

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"kadnode/announce"
	"kadnode/control"
	"kadnode/identifier"
	"kadnode/lookup"
	"kadnode/wire"
)

// Commands implemented here satisfy control.Node, the surface the text
// control protocol drives (§ external interfaces). Each method renders a
// plain-text response; nothing here touches the wire protocol directly.

var _ control.Node = (*Node)(nil)

// Status renders the same sort of summary block the original daemon's
// "status" command prints: uptime, node id, and per-family bucket/peer
// counts.
func (n *Node) Status() string {
	v4, v6 := n.table.Count()
	bv4, bv6 := n.table.BucketCount()
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", n.ID)
	fmt.Fprintf(&b, "uptime: %s\n", control.FormatUptime(time.Since(n.start)))
	fmt.Fprintf(&b, "nodes: %d (v4) / %d (v6)\n", v4, v6)
	fmt.Fprintf(&b, "buckets: %d (v4) / %d (v6)\n", bv4, bv6)
	fmt.Fprintf(&b, "storage: %d info-hashes\n", n.store.Len())
	fmt.Fprintf(&b, "announcements: %d\n", n.announces.Count())
	fmt.Fprintf(&b, "blocklist: %d/%d\n", n.blocked.Len(), n.cfg.BlocklistCapacity)
	return strings.TrimRight(b.String(), "\n")
}

// Help lists every recognized command.
func (n *Node) Help() string {
	return strings.Join([]string{
		"status", "help", "constants", "buckets", "storage",
		"searches", "announcements", "blocklist",
		"ping <addr>", "peer <addr>[:port]", "block <addr>",
		"lookup <id>", "search <id>", "results <id>", "peers <id>",
		"announce-start <id> [port] [minutes]", "announce-stop <id>",
	}, "\n")
}

// Constants reports the compiled-in limits a client may want to know, the
// Go analogue of kad_export_constants() in kad.c.
func (n *Node) Constants() string {
	var b strings.Builder
	fmt.Fprintf(&b, "bucket_size: %d\n", 8)
	fmt.Fprintf(&b, "search_size: %d\n", lookup.KSearch)
	fmt.Fprintf(&b, "search_alpha: %d\n", lookup.Alpha)
	fmt.Fprintf(&b, "search_expiry: %s\n", lookup.Expiry)
	fmt.Fprintf(&b, "max_results_per_search: %d\n", 500)
	fmt.Fprintf(&b, "announce_interval: %s\n", 20*time.Minute)
	fmt.Fprintf(&b, "token_rotation: %s\n", wire.TokenRotation)
	return strings.TrimRight(b.String(), "\n")
}

// Buckets reports the per-family bucket count.
func (n *Node) Buckets() string {
	v4, v6 := n.table.BucketCount()
	return fmt.Sprintf("buckets: %d (v4) / %d (v6)", v4, v6)
}

// Storage reports how many info-hashes are cached for peer lookups.
func (n *Node) Storage() string {
	return fmt.Sprintf("info-hashes cached: %d/%d", n.store.Len(), n.cfg.MaxHashes)
}

// Searches answers the "searches" command. The lookup engine exposes no
// listing or count of its searches (they are keyed internally), so this
// neither lists nor counts them; it returns a fixed hint pointing at
// `results <id>`.
func (n *Node) Searches() string {
	return "searches are tracked internally; use `results <id>` for a specific target"
}

// Announcements lists every info-hash this node is announcing itself for.
func (n *Node) Announcements() string {
	all := n.announces.All(time.Now())
	if len(all) == 0 {
		return "no announcements"
	}
	var b strings.Builder
	for _, a := range all {
		fmt.Fprintf(&b, "id: %s port: %d refresh: %s", a.ID, a.Port, a.RefreshIn.Round(time.Second))
		if a.Infinite {
			b.WriteString(" lifetime: entire runtime\n")
		} else {
			fmt.Fprintf(&b, " lifetime: %s left\n", a.ExpireIn.Round(time.Second))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Blocklist lists every currently blocked address.
func (n *Node) Blocklist() string {
	all := n.blocked.All()
	if len(all) == 0 {
		return "no blocked addresses"
	}
	var b strings.Builder
	for _, ip := range all {
		fmt.Fprintln(&b, ip.String())
	}
	return strings.TrimRight(b.String(), "\n")
}

// Block adds addr's IP to the blocklist.
func (n *Node) Block(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "error: invalid address: " + addr
	}
	n.blocked.Add(ip)
	return "blocked " + ip.String()
}

// Ping sends a ping query to addr and reports whether it answered.
func (n *Node) Ping(addr string) (string, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), QueryTimeout)
	defer cancel()
	start := time.Now()
	msg, err := n.query(ctx, *udpAddr, "ping", map[string]interface{}{"id": n.ID.String()})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("pong from %s (id %s) in %s", addr, msg.Reply.ID, time.Since(start).Round(time.Millisecond)), nil
}

// Peer injects a bootstrap contact: addr may omit its port, in which case
// the node's own DHT port is assumed. A reply to the ping this sends seeds
// the routing table the same way any other ping reply does.
func (n *Node) Peer(addr string) (string, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(n.cfg.Port))
	}
	return n.Ping(addr)
}

// Lookup starts (or attaches to) a find_node search for target and returns
// immediately, printing whatever the routing table already knows about it
// rather than blocking on any network round (§4.8: "start search and
// immediately print current results").
func (n *Node) Lookup(target identifier.ID) (string, error) {
	seed := n.table.Closest(target, lookup.KSearch, false)
	if len(seed) == 0 {
		return "", fmt.Errorf("failed to start lookup: routing table has no candidates")
	}
	s, isNew := n.lookups.Start(target, false, toContacts(seed), time.Now())
	if isNew {
		go n.driveSearch(s)
	}
	return renderCandidates(s), nil
}

// driveSearch steps s to completion or expiry in the background, used by
// both Lookup and SearchStart once a brand new search has been created.
func (n *Node) driveSearch(s *lookup.Search) {
	ctx, cancel := context.WithTimeout(context.Background(), lookup.Expiry)
	defer cancel()
	for {
		progressed, err := n.lookups.Step(ctx, s)
		if err != nil || !progressed {
			return
		}
	}
}

// renderCandidates formats a search's current best-known contacts, for
// commands that report "current results" rather than waiting on the
// network.
func renderCandidates(s *lookup.Search) string {
	candidates := s.Candidates()
	if len(candidates) == 0 {
		return "no candidates yet"
	}
	var b strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&b, "%s %s:%d\n", c.ID, c.IP, c.Port)
	}
	return strings.TrimRight(b.String(), "\n")
}

// SearchStart begins a get_peers search for target, returning one of three
// outcomes per §4.8: "Search started" for a brand new search, "Search in
// progress" if one was already running, or a failure message if the
// routing table has nothing to seed it from. Poll results with
// `results <id>`.
func (n *Node) SearchStart(target identifier.ID) string {
	seed := n.table.Closest(target, lookup.KSearch, false)
	if len(seed) == 0 {
		return "Failed to start search: routing table has no candidates"
	}
	s, isNew := n.lookups.Start(target, true, toContacts(seed), time.Now())
	if !isNew {
		return "Search in progress"
	}
	go n.driveSearch(s)
	return "Search started"
}

// SearchResults reports the peer contacts collected so far for target.
func (n *Node) SearchResults(target identifier.ID) string {
	all := n.results.All(target)
	if len(all) == 0 {
		return "no results"
	}
	var b strings.Builder
	for _, r := range all {
		fmt.Fprintf(&b, "%s:%d\n", r.IP, r.Port)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Peers reports peers this node has itself cached for target via
// announce_peer, independent of any search it ran.
func (n *Node) Peers(target identifier.ID) string {
	contacts := n.store.Peers(target, 8)
	if len(contacts) == 0 {
		return "no peers"
	}
	var b strings.Builder
	for _, c := range contacts {
		ip, port, err := wire.ParseCompactPeer(c)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%s:%d\n", ip, port)
	}
	return strings.TrimRight(b.String(), "\n")
}

// AnnounceStart registers target/port for periodic re-announcement. A
// negative minutes means "for the entire runtime".
func (n *Node) AnnounceStart(target identifier.ID, port int, minutes int) string {
	if port == 0 {
		port = n.cfg.Port
	}
	now := time.Now()
	lifetime := announce.Forever
	if minutes >= 0 {
		lifetime = now.Add(time.Duration(minutes) * time.Minute)
	}
	n.announces.Add(target, port, lifetime, now)
	return "announcing " + target.String() + " on port " + strconv.Itoa(port)
}

// AnnounceStop stops announcing target.
func (n *Node) AnnounceStop(target identifier.ID) string {
	n.announces.Remove(target)
	return "stopped announcing " + target.String()
}
