package engine

import (
	"crypto/sha256"
	"fmt"

	"github.com/eci-platform/notifyd/internal/domain"
)

// DedupKey derives the deterministic idempotency key for one logical
// notification: the same event, channel and recipient always map to the
// same key.
func DedupKey(eventID string, channel domain.Channel, recipient string) string {
	sum := sha256.Sum256([]byte(eventID + "|" + string(channel) + "|" + recipient))
	return fmt.Sprintf("%x", sum)
}
