package ledger

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// refContext is the BLAKE3 key-derivation context for account refs.
// Changing it changes every account ref.
const refContext = "signalbox 2026-01 account ref v1"

// RefDeriver maps normalized phone numbers to stable account refs.
type RefDeriver struct {
	key [32]byte
}

// NewRefDeriver derives the hashing key from a deployment secret.
func NewRefDeriver(secret string) RefDeriver {
	var d RefDeriver
	blake3.DeriveKey(refContext, []byte(secret), d.key[:])
	return d
}

// Ref returns the account ref for a normalized phone number.
func (d RefDeriver) Ref(phone string) string {
	h, err := blake3.NewKeyed(d.key[:])
	if err != nil {
		// Only returned for keys that are not 32 bytes.
		panic(err)
	}
	h.Write([]byte(phone))
	sum := h.Sum(nil)
	return "acct_" + hex.EncodeToString(sum[:12])
}

// NormalizePhone turns carrier and user-typed numbers into international
// digits without a plus sign: "+256 700-000000", "0700000000" and
// "256700000000" all become "256700000000" for country code "256".
func NormalizePhone(raw, countryCode string) (string, bool) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", false
		}
	}
	digits := b.String()
	switch {
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0"):
		digits = countryCode + digits[1:]
	case len(digits) == 9 && countryCode != "":
		digits = countryCode + digits
	}
	if len(digits) < 10 || len(digits) > 15 {
		return "", false
	}
	return digits, true
}
