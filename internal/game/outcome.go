package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Outcome is the winning position plus its derived wheel attributes.
type Outcome struct {
	Number int    `json:"number"`
	Color  Color  `json:"color"`
	Parity Parity `json:"parity"`
	Range  Range  `json:"range"`
}

// GenerateSeed creates a cryptographically secure random seed
func GenerateSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// HashCommitment creates a SHA256 hash of the seed for commitment
func HashCommitment(seed string) string {
	h := sha256.New()
	h.Write([]byte(seed))
	return hex.EncodeToString(h.Sum(nil))
}

// ComputeOutcome derives the winning position from the committed server
// seed and the round identifier: HMAC-SHA256(serverSeed, roundID), first
// 8 bytes as a big-endian uint64, reduced modulo the wheel size. The
// commitment is published before betting opens and the seed revealed with
// the results, so anyone can recompute the number afterwards.
func ComputeOutcome(serverSeed, roundID string) Outcome {
	h := hmac.New(sha256.New, []byte(serverSeed))
	h.Write([]byte(roundID))
	sum := h.Sum(nil)

	n := int(binary.BigEndian.Uint64(sum[:8]) % WHEEL_POSITIONS)

	return Outcome{
		Number: n,
		Color:  ColorOf(n),
		Parity: ParityOf(n),
		Range:  RangeOf(n),
	}
}

// VerifyOutcome lets players check a revealed seed against the published
// winning number and commitment.
func VerifyOutcome(serverSeed, roundID string, commitment string, claimedNumber int) bool {
	if HashCommitment(serverSeed) != commitment {
		return false
	}
	return ComputeOutcome(serverSeed, roundID).Number == claimedNumber
}
