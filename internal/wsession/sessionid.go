package wsession

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// mintSessionID returns 256 bits of cryptographically strong randomness as
// lowercase hex. Like httpapi's token salt, on CSPRNG failure it falls back
// to a UUID-derived id; it reports that through fellBack, and the caller
// MUST log that fallback per §4.2.
func mintSessionID() (id string, fellBack bool) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return strings.ReplaceAll(uuid.NewString(), "-", ""), true
	}
	return hex.EncodeToString(buf), false
}
