// Package transport owns the UDP sockets the node sends and receives KRPC
// packets over, for both address families, and the traffic counters that
// track bytes in each direction. It adapts the teacher's arena.Arena free
// list for receive buffers so steady-state operation does as few heap
// allocations as the original design intended.
package transport

import (
	"fmt"
	"net"
	"time"

	"kadnode/arena"
)

// MaxPacketSize bounds a single receive buffer.
const MaxPacketSize = 4096

// Packet is one received UDP datagram, tagged with its source and whether
// it arrived on the v6 socket.
type Packet struct {
	Data []byte
	Addr net.UDPAddr
	V6   bool
}

// Transport owns up to two UDP sockets (v4 and v6) and funnels every
// received packet into a single channel the reactor drains.
type Transport struct {
	v4, v6   *net.UDPConn
	arena    arena.Arena
	Incoming chan Packet
	Counters *Counters
	done     chan struct{}
}

// Open binds UDP sockets on port for whichever of v4/v6 is requested.
func Open(port int, useV4, useV6 bool, now time.Time) (*Transport, error) {
	t := &Transport{
		arena:    arena.NewArena(MaxPacketSize, 256),
		Incoming: make(chan Packet, 256),
		Counters: NewCounters(now),
		done:     make(chan struct{}),
	}
	if useV4 {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
		if err != nil {
			return nil, fmt.Errorf("transport: listen udp4: %w", err)
		}
		t.v4 = conn
		go t.recvLoop(conn, false)
	}
	if useV6 {
		conn, err := net.ListenUDP("udp6", &net.UDPAddr{Port: port})
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("transport: listen udp6: %w", err)
		}
		t.v6 = conn
		go t.recvLoop(conn, true)
	}
	if t.v4 == nil && t.v6 == nil {
		return nil, fmt.Errorf("transport: at least one of v4/v6 must be enabled")
	}
	return t, nil
}

// recvLoop is the idiomatic-Go substitute for the original's readiness-based
// non-blocking socket poll: one goroutine per socket doing a blocking read,
// feeding a single channel the reactor's event loop selects on. This keeps
// the reactor's own logic single-threaded even though two sockets are live.
func (t *Transport) recvLoop(conn *net.UDPConn, v6 bool) {
	for {
		buf := t.arena.Pop()
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
				t.arena.Push(buf)
				return
			default:
			}
			t.arena.Push(buf)
			continue
		}
		now := time.Now()
		t.Counters.AddIn(n, now)
		select {
		case t.Incoming <- Packet{Data: buf[:n], Addr: *addr, V6: v6}:
		case <-t.done:
			t.arena.Push(buf)
			return
		}
	}
}

// LocalPort returns the bound port of the v4 socket, or 0 if none is open.
func (t *Transport) LocalPort() int {
	if t.v4 == nil {
		return 0
	}
	return t.v4.LocalAddr().(*net.UDPAddr).Port
}

// Release returns a packet's buffer to the arena once the caller is done
// with it.
func (t *Transport) Release(p Packet) {
	t.arena.Push(p.Data)
}

// Send writes b to addr over whichever socket matches its family.
func (t *Transport) Send(b []byte, addr net.UDPAddr) error {
	conn := t.v4
	if addr.IP.To4() == nil {
		conn = t.v6
	}
	if conn == nil {
		return fmt.Errorf("transport: no socket open for address family of %s", addr.IP)
	}
	n, err := conn.WriteToUDP(b, &addr)
	if err != nil {
		return fmt.Errorf("transport: write to %s: %w", addr.String(), err)
	}
	t.Counters.AddOut(n, time.Now())
	return nil
}

// Close shuts both sockets down and stops their receive loops.
func (t *Transport) Close() error {
	close(t.done)
	var err error
	if t.v4 != nil {
		err = t.v4.Close()
	}
	if t.v6 != nil {
		if e := t.v6.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
