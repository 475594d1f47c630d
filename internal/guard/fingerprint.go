package guard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/talentpath/orchestrator/internal/api"
)

// Fingerprint is a deterministic digest of an answer/score payload, used as
// the identity for submission deduplication.
type Fingerprint string

// FingerprintOf computes the fingerprint of a submission payload. The digest
// is independent of map key insertion order: encoding/json emits map keys in
// sorted order, so identical payloads always serialize identically.
func FingerprintOf(payload *api.SubmitRequest) (Fingerprint, error) {
	if payload == nil {
		return "", fmt.Errorf("payload is nil")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return Fingerprint(hex.EncodeToString(sum[:])), nil
}
