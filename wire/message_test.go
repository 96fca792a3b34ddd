package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeQueryRoundTrip(t *testing.T) {
	args := map[string]interface{}{"id": "01234567890123456789", "target": "abcdefghij0123456789"}
	b, err := EncodeQuery("aa", "find_node", args)
	require.NoError(t, err)

	msg, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, "q", msg.Type)
	require.Equal(t, "find_node", msg.Method)
	require.Equal(t, "aa", msg.TransactionID)
	require.Equal(t, "01234567890123456789", msg.Query.ID)
}

func TestEncodeDecodeReplyRoundTrip(t *testing.T) {
	b, err := EncodeReply("zz", map[string]interface{}{"id": "01234567890123456789", "token": "tok"})
	require.NoError(t, err)

	msg, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, "r", msg.Type)
	require.Equal(t, "tok", msg.Reply.Token)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode([]byte("not bencode"))
	require.Error(t, err)

	_, err = Decode([]byte("d1:tde"))
	require.Error(t, err)
}

func TestDecodeRecoversFromPanic(t *testing.T) {
	// A truncated dictionary that bencode-go might choke on internally;
	// Decode must return an error, not crash the reactor.
	_, err := Decode([]byte("d1:ti1e1:y"))
	require.Error(t, err)
}
