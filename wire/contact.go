package wire

import (
	"encoding/binary"
	"fmt"
	"net"

	"kadnode/identifier"
)

// Fixed widths of a single compact contact: 20 bytes of id plus a 4- or
// 16-byte address and a 2-byte port.
const (
	V4ContactLen = identifier.Len + 4 + 2
	V6ContactLen = identifier.Len + 16 + 2
)

// Contact is a decoded compact node or peer contact.
type Contact struct {
	ID   identifier.ID
	IP   net.IP
	Port uint16
}

// Addr returns the contact's endpoint as a net.UDPAddr.
func (c Contact) Addr() net.UDPAddr {
	return net.UDPAddr{IP: c.IP, Port: int(c.Port)}
}

// EncodeCompactNode appends id+ip+port in compact form to dst and returns
// the extended slice.
func EncodeCompactNode(dst []byte, id identifier.ID, ip net.IP, port uint16) []byte {
	dst = append(dst, id[:]...)
	if v4 := ip.To4(); v4 != nil {
		dst = append(dst, v4...)
	} else {
		dst = append(dst, ip.To16()...)
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], port)
	return append(dst, portBuf[:]...)
}

// EncodeCompactPeer appends only ip+port (no id), as used in get_peers
// "values" entries.
func EncodeCompactPeer(dst []byte, ip net.IP, port uint16) []byte {
	if v4 := ip.To4(); v4 != nil {
		dst = append(dst, v4...)
	} else {
		dst = append(dst, ip.To16()...)
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], port)
	return append(dst, portBuf[:]...)
}

// ParseCompactNodes splits a concatenated "nodes"/"nodes6" string into
// individual contacts. v6 selects the 38-byte vs. 26-byte stride.
func ParseCompactNodes(s string, v6 bool) ([]Contact, error) {
	stride := V4ContactLen
	ipLen := 4
	if v6 {
		stride = V6ContactLen
		ipLen = 16
	}
	if len(s)%stride != 0 {
		return nil, fmt.Errorf("wire: compact node string length %d not a multiple of %d", len(s), stride)
	}
	contacts := make([]Contact, 0, len(s)/stride)
	for i := 0; i < len(s); i += stride {
		id, err := identifier.FromBytes([]byte(s[i : i+identifier.Len]))
		if err != nil {
			return nil, err
		}
		ipStart := i + identifier.Len
		ip := net.IP([]byte(s[ipStart : ipStart+ipLen]))
		port := binary.BigEndian.Uint16([]byte(s[ipStart+ipLen : ipStart+ipLen+2]))
		contacts = append(contacts, Contact{ID: id, IP: ip, Port: port})
	}
	return contacts, nil
}

// ParseCompactPeer decodes a single "values" entry (no id).
func ParseCompactPeer(s string) (net.IP, uint16, error) {
	switch len(s) {
	case 6:
		ip := net.IP([]byte(s[:4]))
		port := binary.BigEndian.Uint16([]byte(s[4:6]))
		return ip, port, nil
	case 18:
		ip := net.IP([]byte(s[:16]))
		port := binary.BigEndian.Uint16([]byte(s[16:18]))
		return ip, port, nil
	default:
		return nil, 0, fmt.Errorf("wire: invalid compact peer length %d", len(s))
	}
}
