package control

import (
	"bufio"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kadnode/identifier"
)

type fakeNode struct{}

func (fakeNode) Status() string                                   { return "status ok" }
func (fakeNode) Help() string                                     { return "help text" }
func (fakeNode) Ping(addr string) (string, error)                 { return "pong from " + addr, nil }
func (fakeNode) Peer(addr string) (string, error)                 { return "pong from " + addr, nil }
func (fakeNode) Lookup(id identifier.ID) (string, error)           { return "looked up " + id.String(), nil }
func (fakeNode) SearchStart(id identifier.ID) string               { return "search started" }
func (fakeNode) SearchResults(id identifier.ID) string              { return "no results" }
func (fakeNode) AnnounceStart(id identifier.ID, p, m int) string   { return "announcing" }
func (fakeNode) AnnounceStop(id identifier.ID) string              { return "stopped" }
func (fakeNode) Searches() string                                 { return "0 searches" }
func (fakeNode) Announcements() string                            { return "0 announcements" }
func (fakeNode) Blocklist() string                                { return "0 blocked" }
func (fakeNode) Block(addr string) string                         { return "blocked " + addr }
func (fakeNode) Constants() string                                { return "K: 8" }
func (fakeNode) Peers(id identifier.ID) string                    { return "no peers" }
func (fakeNode) Buckets() string                                  { return "1 bucket" }
func (fakeNode) Storage() string                                  { return "0 hashes" }

func TestServeRespondsToCommands(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "control.sock")
	s := New(sockPath, fakeNode{}, false, nil)
	require.NoError(t, s.Listen())
	go s.Serve()
	defer s.Close()

	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("status\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "status ok\n", line)

	_, err = conn.Write([]byte("ping 1.2.3.4:6881\n"))
	require.NoError(t, err)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "pong from 1.2.3.4:6881\n", line)

	_, err = conn.Write([]byte("peer 1.2.3.4:6881\n"))
	require.NoError(t, err)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "pong from 1.2.3.4:6881\n", line)

	_, err = conn.Write([]byte("bogus\n"))
	require.NoError(t, err)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "unknown command")
}

