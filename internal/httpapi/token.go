package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// tokenPrefix and the four-field, underscore-delimited shape are structural
// only, per §9's Open Question: "Token scheme is non-cryptographic...the
// structural check remains a prerequisite." A future upgrade to
// HMAC-signed tokens would wrap this same shape rather than replace it.
const tokenPrefix = "token"

// generateToken mints a token of shape token_{userId}_{ns}_{salt}.
func generateToken(userID int64) string {
	return fmt.Sprintf("%s_%d_%d_%s", tokenPrefix, userID, time.Now().UnixNano(), randomSalt())
}

func randomSalt() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// Falls back to a UUID-derived salt. The CSPRNG failure is neither
		// logged here nor reported to the caller.
		return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	}
	return hex.EncodeToString(buf)
}

// verifyToken implements §4.2's structural check exactly: starts with
// "token_", four underscore-delimited fields, second field non-empty and
// numeric. Returns the parsed user-id on success.
func verifyToken(token string) (int64, bool) {
	if !strings.HasPrefix(token, tokenPrefix+"_") {
		return 0, false
	}
	fields := strings.Split(token, "_")
	if len(fields) != 4 {
		return 0, false
	}
	if fields[1] == "" {
		return 0, false
	}
	userID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return userID, true
}
