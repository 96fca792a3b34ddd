package wire

import (
	"crypto/rand"
	"fmt"
	"hash/fnv"
	"net"
	"sync"
	"time"
)

// secretLen matches the teacher's newTokenSecret, which used a 5-byte
// random secret per rotation.
const secretLen = 5

// TokenRotation is how often the signing secret is replaced. The previous
// secret is kept valid for one additional rotation, so a token is accepted
// for up to 2*TokenRotation after issuance (§8, testable property 6).
const TokenRotation = 10 * time.Minute

// TokenServer issues and validates write tokens bound to a requester's
// endpoint, rotating its signing secret on a timer. It is the idiomatic-Go
// analogue of dht.go's tokenSecrets slice plus hostToken/checkToken, using a
// non-cryptographic keyed hash as the Design Notes permit.
type TokenServer struct {
	mu      sync.Mutex
	current []byte
	prior   []byte
}

// NewTokenServer creates a token server with a freshly generated secret.
func NewTokenServer() (*TokenServer, error) {
	s := &TokenServer{}
	secret, err := randomSecret()
	if err != nil {
		return nil, err
	}
	s.current = secret
	return s, nil
}

func randomSecret() ([]byte, error) {
	b := make([]byte, secretLen)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("wire: generating token secret: %w", err)
	}
	return b, nil
}

// Rotate replaces the current secret, demoting the old one to "prior" for
// one more rotation period. Call this on a ~10-minute timer.
func (s *TokenServer) Rotate() error {
	secret, err := randomSecret()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.prior = s.current
	s.current = secret
	s.mu.Unlock()
	return nil
}

// Issue returns the token a requester at addr should be given in a
// get_peers reply.
func (s *TokenServer) Issue(addr net.UDPAddr) string {
	s.mu.Lock()
	secret := s.current
	s.mu.Unlock()
	return tokenFor(addr, secret)
}

// Verify reports whether token was issued to addr under the current or the
// prior secret.
func (s *TokenServer) Verify(addr net.UDPAddr, token string) bool {
	s.mu.Lock()
	current, prior := s.current, s.prior
	s.mu.Unlock()
	if token == tokenFor(addr, current) {
		return true
	}
	return prior != nil && token == tokenFor(addr, prior)
}

func tokenFor(addr net.UDPAddr, secret []byte) string {
	h := fnv.New64a()
	h.Write([]byte(addr.String()))
	h.Write(secret)
	return fmt.Sprintf("%x", h.Sum(nil))
}
