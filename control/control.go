// Package control implements the node's text control protocol over a Unix
// domain socket: newline-delimited requests, one line of command plus
// arguments, answered with one or more lines of plain text. It replaces the
// teacher's HTTP status endpoint with the original daemon's own command
// surface (ext-cmd.c), since the specification's external interface is a
// line-oriented control socket rather than HTTP.
package control

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"kadnode/identifier"
	"kadnode/logger"
)

// Node is the subset of node behavior the control protocol can drive.
// kadnode.Node implements it; tests use a fake.
type Node interface {
	Status() string
	Help() string
	Ping(addr string) (string, error)
	Peer(addr string) (string, error)
	Lookup(target identifier.ID) (string, error)
	SearchStart(target identifier.ID) string
	SearchResults(target identifier.ID) string
	AnnounceStart(target identifier.ID, port int, minutes int) string
	AnnounceStop(target identifier.ID) string
	Searches() string
	Announcements() string
	Blocklist() string
	Block(addr string) string
	Constants() string
	Peers(target identifier.ID) string
	Buckets() string
	Storage() string
}

// Server accepts connections on a Unix domain socket and services the text
// protocol against node.
type Server struct {
	path     string
	node     Node
	listener net.Listener
	log      logger.DebugLogger
	color    bool
}

// New creates a control server bound to socketPath. useColor enables
// fatih/color output for interactive (non-daemon) use.
func New(socketPath string, node Node, useColor bool, log logger.DebugLogger) *Server {
	return &Server{path: socketPath, node: node, color: useColor, log: log}
}

// Listen binds the Unix socket, removing any stale one left from a previous
// run.
func (s *Server) Listen() error {
	_ = os.Remove(s.path)
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("control: listen on %s: %w", s.path, err)
	}
	s.listener = ln
	return nil
}

// Serve accepts and services connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close shuts the listener down and removes the socket file.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	connID := uuid.New().String()[:8]
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if s.log != nil {
			s.log.Debugf("control[%s]: %s", connID, line)
		}
		resp := s.dispatch(line)
		fmt.Fprintln(conn, resp)
	}
}

func (s *Server) dispatch(line string) string {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "help":
		return s.node.Help()
	case "status":
		return s.node.Status()
	case "constants":
		return s.node.Constants()
	case "buckets":
		return s.node.Buckets()
	case "storage":
		return s.node.Storage()
	case "searches":
		return s.node.Searches()
	case "announcements":
		return s.node.Announcements()
	case "blocklist":
		return s.node.Blocklist()
	case "ping":
		if len(args) != 1 {
			return s.errorf("usage: ping <addr>")
		}
		out, err := s.node.Ping(args[0])
		if err != nil {
			return s.errorf("ping %s: %v", args[0], err)
		}
		return out
	case "peer":
		if len(args) != 1 {
			return s.errorf("usage: peer <addr>[:port]")
		}
		out, err := s.node.Peer(args[0])
		if err != nil {
			return s.errorf("peer %s: %v", args[0], err)
		}
		return out
	case "block":
		if len(args) != 1 {
			return s.errorf("usage: block <addr>")
		}
		return s.node.Block(args[0])
	case "lookup":
		id, err := parseID(args)
		if err != nil {
			return s.errorf("%v", err)
		}
		out, err := s.node.Lookup(id)
		if err != nil {
			return s.errorf("lookup %s: %v", id, err)
		}
		return out
	case "search":
		id, err := parseID(args)
		if err != nil {
			return s.errorf("%v", err)
		}
		return s.node.SearchStart(id)
	case "results":
		id, err := parseID(args)
		if err != nil {
			return s.errorf("%v", err)
		}
		return s.node.SearchResults(id)
	case "peers":
		id, err := parseID(args)
		if err != nil {
			return s.errorf("%v", err)
		}
		return s.node.Peers(id)
	case "announce-start":
		return s.dispatchAnnounceStart(args)
	case "announce-stop":
		id, err := parseID(args)
		if err != nil {
			return s.errorf("%v", err)
		}
		return s.node.AnnounceStop(id)
	default:
		return s.errorf("unknown command: %s", cmd)
	}
}

func (s *Server) dispatchAnnounceStart(args []string) string {
	if len(args) < 1 {
		return s.errorf("usage: announce-start <id> [port] [minutes]")
	}
	id, err := identifier.FromHex(args[0])
	if err != nil {
		return s.errorf("invalid id: %v", err)
	}
	port, minutes := 0, -1
	if len(args) >= 2 {
		if port, err = strconv.Atoi(args[1]); err != nil {
			return s.errorf("invalid port: %v", err)
		}
	}
	if len(args) >= 3 {
		if minutes, err = strconv.Atoi(args[2]); err != nil {
			return s.errorf("invalid minutes: %v", err)
		}
	}
	return s.node.AnnounceStart(id, port, minutes)
}

func parseID(args []string) (identifier.ID, error) {
	if len(args) != 1 {
		return identifier.Zero, fmt.Errorf("expected exactly one id argument")
	}
	return identifier.FromHex(args[0])
}

func (s *Server) errorf(format string, args ...interface{}) string {
	msg := "error: " + fmt.Sprintf(format, args...)
	if !s.color {
		return msg
	}
	return color.RedString(msg)
}

// FormatUptime renders a duration the way the status command's uptime line
// is meant to read, minutes and seconds only (status output stays short-
// lived numbers, never raw durations).
func FormatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	m := d / time.Minute
	sec := (d % time.Minute) / time.Second
	return fmt.Sprintf("%dm%ds", m, sec)
}
