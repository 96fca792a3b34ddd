// Package wire implements the Mainline BitTorrent DHT wire protocol: KRPC
// messages bencoded as self-delimited dictionaries, and the compact node/peer
// contact encodings used inside them.
package wire

import (
	"bytes"
	"fmt"

	bencode "github.com/jackpal/bencode-go"

	"kadnode/identifier"
)

// Maximum size of a single datagram this node will ever emit or accept.
// Oversized or truncated packets are a transport-transient error (§7).
const MaxPacketSize = 4096

// wireQuery mirrors the bencode field tags used on the wire. Field tags in
// this package intentionally match BEP-5's single-letter dictionary keys.
type wireQuery struct {
	T string                 "t"
	Y string                 "y"
	Q string                 "q"
	A map[string]interface{} "a"
}

type wireReply struct {
	T string                 "t"
	Y string                 "y"
	R map[string]interface{} "r"
}

type wireError struct {
	T string        "t"
	Y string        "y"
	E []interface{} "e"
}

// replyFields mirrors the fields a "r" response dictionary can carry. Decode
// reads a message's "r" dictionary into this permissive struct and its "a"
// dictionary into queryFields: strict decoding is only enforced by the
// caller checking Y/Q afterwards, as the teacher's ReadResponse does.
type replyFields struct {
	ID     string "id"
	Target string "target"
	Nodes  string "nodes"
	Nodes6 string "nodes6"
	Values []string "values"
	Token  string "token"
}

type queryFields struct {
	ID          string "id"
	Target      string "target"
	InfoHash    string "info_hash"
	Port        int    "port"
	ImpliedPort int    "implied_port"
	Token       string "token"
}

// Message is the generic shape of anything read off the wire: a query, a
// reply, or an error, all fields populated best-effort.
type Message struct {
	TransactionID string
	Type          string // "q", "r", or "e"
	Method        string // set when Type == "q"
	Query         queryFields
	Reply         replyFields
	ErrorCode     int
	ErrorMsg      string
}

// rawMessage is used purely to decode, since a field can be absent and
// bencode-go doesn't tolerate partially-typed unions gracefully.
type rawMessage struct {
	T string                 "t"
	Y string                 "y"
	Q string                 "q"
	A queryFields            "a"
	R replyFields            "r"
	E []interface{}          "e"
}

// Encode bencodes a query message destined for a peer.
func EncodeQuery(transactionID, method string, args map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	msg := wireQuery{T: transactionID, Y: "q", Q: method, A: args}
	if err := bencode.Marshal(&buf, msg); err != nil {
		return nil, fmt.Errorf("wire: encode query: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeReply bencodes a successful response.
func EncodeReply(transactionID string, fields map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	msg := wireReply{T: transactionID, Y: "r", R: fields}
	if err := bencode.Marshal(&buf, msg); err != nil {
		return nil, fmt.Errorf("wire: encode reply: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeError bencodes a protocol error response.
func EncodeError(transactionID string, code int, msg string) ([]byte, error) {
	var buf bytes.Buffer
	m := wireError{T: transactionID, Y: "e", E: []interface{}{code, msg}}
	if err := bencode.Marshal(&buf, m); err != nil {
		return nil, fmt.Errorf("wire: encode error: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a raw datagram into a Message. Decoding is strict in the
// sense required by §4.1: any malformed input returns an error, and the
// node drops such a packet, logging it at debug level only.
func Decode(b []byte) (msg Message, err error) {
	defer func() {
		if x := recover(); x != nil {
			err = fmt.Errorf("wire: panic decoding message: %v", x)
		}
	}()

	if len(b) == 0 || b[0] != 'd' {
		return Message{}, fmt.Errorf("wire: not a bencoded dictionary")
	}

	var raw rawMessage
	if e := bencode.Unmarshal(bytes.NewReader(b), &raw); e != nil {
		return Message{}, fmt.Errorf("wire: unmarshal: %w", e)
	}

	msg = Message{
		TransactionID: raw.T,
		Type:          raw.Y,
		Method:        raw.Q,
		Query:         raw.A,
		Reply:         raw.R,
	}
	if len(raw.E) == 2 {
		if code, ok := raw.E[0].(int64); ok {
			msg.ErrorCode = int(code)
		}
		if m, ok := raw.E[1].(string); ok {
			msg.ErrorMsg = m
		}
	}
	return msg, nil
}

// ValidNodeID reports whether id has the right length to be a node id (as
// opposed to a bogus/short string a misbehaving peer sent).
func ValidNodeID(id string) bool {
	return len(id) == identifier.Len
}
