// Package idhash derives deterministic identifiers.
package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"

	"multipair-engine/internal/domain"
)

// ComputeTradeID computes a deterministic trade_id.
// Formula: base58(SHA256(pair|direction|session_id|entry_time_ms|seq))
// seq is the engine's execution counter, so executions on one pair within the
// same millisecond still get distinct ids.
func ComputeTradeID(
	pair string,
	direction domain.Direction,
	sessionID string,
	entryTimeMs int64,
	seq uint64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d|%d", pair, direction, sessionID, entryTimeMs, seq)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
