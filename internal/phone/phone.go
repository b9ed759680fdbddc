// Package phone converts between user-entered phone numbers and
// protocol account ids (JIDs).
package phone

import "strings"

const (
	// UserSuffix marks a personal account JID.
	UserSuffix = "@s.whatsapp.net"
	// GroupSuffix marks a group JID.
	GroupSuffix = "@g.us"

	DefaultCountryCode = "62"
)

// Formatter normalizes numbers for one default country.
type Formatter struct {
	CountryCode string
}

// NewFormatter returns a Formatter for countryCode, falling back to
// DefaultCountryCode when it is empty.
func NewFormatter(countryCode string) Formatter {
	cc := digits(countryCode)
	if cc == "" {
		cc = DefaultCountryCode
	}
	return Formatter{CountryCode: cc}
}

// JID turns a number in any common notation into a personal JID: non
// digits are dropped, a leading trunk 0 becomes the country code, and
// the country code is prefixed when missing. Inputs that already are a
// JID are returned unchanged.
func (f Formatter) JID(number string) string {
	if strings.HasSuffix(number, UserSuffix) || strings.HasSuffix(number, GroupSuffix) {
		return number
	}
	n := digits(number)
	if strings.HasPrefix(n, "0") {
		n = f.CountryCode + n[1:]
	}
	if !strings.HasPrefix(n, f.CountryCode) {
		n = f.CountryCode + n
	}
	return n + UserSuffix
}

// Number strips the account suffix from a JID.
func Number(jid string) string {
	jid = strings.TrimSuffix(jid, UserSuffix)
	jid = strings.TrimSuffix(jid, GroupSuffix)
	// Device-qualified ids look like 628123:12@s.whatsapp.net.
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	return jid
}

// Valid reports whether number carries 10 to 15 digits.
func Valid(number string) bool {
	n := len(digits(number))
	return n >= 10 && n <= 15
}

func digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
