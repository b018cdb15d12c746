package lock

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/hugo-lorenzo-mato/quorum-sweep/internal/core"
)

// Signer computes and checks the keyed integrity value of a lock record.
type Signer struct {
	key []byte
}

// NewSigner returns a signer keyed with secret. An empty secret still yields
// deterministic signatures, which is enough for token+signature CAS but not
// for tamper detection.
func NewSigner(secret []byte) *Signer {
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Signer{key: key}
}

// Sign returns the hex HMAC-SHA256 over the record fields. The signature
// field itself is ignored.
func (s *Signer) Sign(rec core.LockRecord) string {
	mac := hmac.New(sha256.New, s.key)
	writeField(mac, []byte(rec.ResourceID))
	writeField(mac, []byte(rec.HolderToken))
	var buf [8]byte
	for _, ts := range []int64{rec.AcquiredAt.UnixNano(), rec.ExpiresAt.UnixNano(), rec.LastRenewedAt.UnixNano()} {
		binary.BigEndian.PutUint64(buf[:], uint64(ts))
		mac.Write(buf[:])
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether rec carries a valid signature.
func (s *Signer) Verify(rec core.LockRecord) bool {
	want, err := hex.DecodeString(rec.Signature)
	if err != nil {
		return false
	}
	got, _ := hex.DecodeString(s.Sign(rec))
	return hmac.Equal(got, want)
}

// writeField length-prefixes b so field boundaries cannot shift.
func writeField(w interface{ Write([]byte) (int, error) }, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	_, _ = w.Write(n[:])
	_, _ = w.Write(b)
}
