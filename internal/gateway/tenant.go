package gateway

import "fmt"

const (
	minTenantIDLen = 3
	maxTenantIDLen = 50
)

// ValidateTenantID checks the external session id format.
func ValidateTenantID(id string) error {
	if len(id) < minTenantIDLen || len(id) > maxTenantIDLen {
		return fmt.Errorf("%w: %q", ErrInvalidTenantID, id)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidTenantID, id)
		}
	}
	return nil
}
