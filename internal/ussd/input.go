package ussd

import (
	"strconv"
	"strings"
	"unicode"
)

// LastInput returns the newest segment of the carrier's "*"-joined input.
func LastInput(text string) string {
	if i := strings.LastIndexByte(text, '*'); i >= 0 {
		text = text[i+1:]
	}
	return strings.TrimSpace(text)
}

// maxAmount caps a single typed amount; anything larger is a typo.
const maxAmount = 1_000_000_000_000

// parseAmount accepts a positive whole number with optional "," grouping.
func parseAmount(s string) (int64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 || v > maxAmount {
		return 0, false
	}
	return v, true
}

// validPIN requires four digits that are not all the same.
func validPIN(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return strings.Count(pin, pin[:1]) != len(pin)
}

// validName allows 2-40 letters, spaces, apostrophes and hyphens, with at
// least two letters.
func validName(name string) bool {
	n, letters := 0, 0
	for _, r := range name {
		n++
		switch {
		case unicode.IsLetter(r):
			letters++
		case r == ' ' || r == '\'' || r == '-':
		default:
			return false
		}
	}
	return n >= 2 && n <= 40 && letters >= 2
}

// validBTCAddress is a shape check only: bech32 (bc1/tb1) or base58
// (1/3/m/n/2) of plausible length and alphabet. The ledger validates
// checksums.
func validBTCAddress(addr string) bool {
	lower := strings.ToLower(addr)
	switch {
	case strings.HasPrefix(lower, "bc1") || strings.HasPrefix(lower, "tb1"):
		if len(addr) < 14 || len(addr) > 74 || (addr != lower && addr != strings.ToUpper(addr)) {
			return false
		}
		for _, r := range lower[3:] {
			if !strings.ContainsRune(bech32Charset, r) {
				return false
			}
		}
		return true
	case len(addr) >= 26 && len(addr) <= 35 && strings.ContainsRune("13mn2", rune(addr[0])):
		for _, r := range addr {
			if !strings.ContainsRune(base58Charset, r) {
				return false
			}
		}
		return true
	}
	return false
}

const (
	bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	base58Charset = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
)

// pickCurrency resolves a menu digit ("1" is the first currency) or an ISO
// code against the offered currencies.
func pickCurrency(in string, currencies []string) (string, bool) {
	if n, err := strconv.Atoi(in); err == nil {
		if n >= 1 && n <= len(currencies) {
			return currencies[n-1], true
		}
		return "", false
	}
	code := strings.ToUpper(strings.TrimSpace(in))
	for _, c := range currencies {
		if c == code {
			return c, true
		}
	}
	return "", false
}

// numbered renders items as "1. a\n2. b".
func numbered(items []string) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(it)
	}
	return b.String()
}

// shortRef trims a transaction id to something a caller can read out.
func shortRef(txID string) string {
	id := strings.ToUpper(strings.ReplaceAll(txID, "-", ""))
	if len(id) > 10 {
		id = id[:10]
	}
	return id
}
