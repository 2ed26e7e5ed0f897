package otp

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/kustom-api/internal/domain"
)

// NormalizePhone parses raw in any common notation and returns it in E.164.
// Numbers without a leading "+" are read as national numbers of
// defaultRegion (ISO 3166 alpha-2).
func NormalizePhone(raw, defaultRegion string) (domain.PhoneNumber, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", domain.ErrInvalidPhone)
	}

	num, err := phonenumbers.Parse(s, strings.ToUpper(defaultRegion))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", domain.ErrInvalidPhone, raw, err)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", fmt.Errorf("%w: %q is not a possible number", domain.ErrInvalidPhone, raw)
	}
	return domain.PhoneNumber(phonenumbers.Format(num, phonenumbers.E164)), nil
}
