package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives a short stable identifier for an error so that
// recurring failures can be grouped in logs and metrics. The input is the
// error kind, the first clause of the message (everything before the first
// colon or newline), and the route. Variable tails like wrapped causes,
// addresses and IDs are deliberately excluded.
func Fingerprint(kind, message, route string) string {
	clause := firstClause(message)
	sum := sha256.Sum256([]byte(kind + "|" + clause + "|" + route))
	return hex.EncodeToString(sum[:6])
}

func firstClause(msg string) string {
	if i := strings.IndexAny(msg, ":\n"); i >= 0 {
		msg = msg[:i]
	}
	return strings.TrimSpace(strings.ToLower(msg))
}
