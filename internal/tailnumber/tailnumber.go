// Package tailnumber converts US civil registrations ("N-numbers") into the
// 24-bit ICAO transponder address assigned to them.
//
// US addresses occupy the contiguous block starting at 0xA00001 and follow
// the order of the N-number registry: N1, N1A, N1B, ... N1Z, N1AA ... N1ZZ,
// N10, N10A ... and so on. Every registration maps to exactly one address.
// The conversion is one-way; nothing needs to look an address back up.
package tailnumber

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFormat is returned for strings that are not valid US registrations
var ErrInvalidFormat = errors.New("invalid tail number format")

const (
	base = 0xA00001

	// Registry letters skip I and O so they can't be read as 1 and 0
	letters = "ABCDEFGHJKLMNPQRSTUVWXYZ"

	maxDigits  = 5
	maxLetters = 2
	maxSuffix  = 5
)

// bucket[d] is the number of registrations below one value of the d-th digit.
// suffix[d] is the number of registrations sharing the first d digits before
// the (d+1)-th digit is appended (the bare number plus its letter suffixes).
var (
	bucket = [maxDigits + 1]int{1: 101711, 2: 10111, 3: 951, 4: 35, 5: 1}
	suffix = [maxDigits + 1]int{1: 601, 2: 601, 3: 601, 4: 25, 5: 1}
)

// Encode returns the lowercase six-digit hex address for a registration such as "N728SK"
func Encode(tail string) (string, error) {
	addr, err := Address(tail)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06x", addr), nil
}

// Address returns the numeric ICAO address for a registration
func Address(tail string) (uint32, error) {
	tail = strings.ToUpper(strings.TrimSpace(tail))
	if !strings.HasPrefix(tail, "N") {
		return 0, fmt.Errorf("%w: %q must start with N", ErrInvalidFormat, tail)
	}

	rest := tail[1:]
	if rest == "" || len(rest) > maxSuffix {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, tail)
	}

	digits := make([]int, 0, maxDigits)
	lets := make([]int, 0, maxLetters)
	for _, ch := range rest {
		switch {
		case ch >= '0' && ch <= '9' && len(lets) == 0:
			digits = append(digits, int(ch-'0'))
		default:
			idx := strings.IndexRune(letters, ch)
			if idx < 0 {
				return 0, fmt.Errorf("%w: unexpected character %q in %q", ErrInvalidFormat, ch, tail)
			}
			lets = append(lets, idx)
		}
	}

	if len(digits) == 0 || digits[0] == 0 {
		return 0, fmt.Errorf("%w: %q must start with a digit 1-9", ErrInvalidFormat, tail)
	}
	if len(digits) > maxDigits || len(lets) > maxLetters || len(digits)+len(lets) > maxSuffix {
		return 0, fmt.Errorf("%w: %q is too long", ErrInvalidFormat, tail)
	}

	offset := (digits[0] - 1) * bucket[1]
	for i := 1; i < len(digits); i++ {
		offset += suffix[i] + digits[i]*bucket[i+1]
	}

	switch len(lets) {
	case 1:
		offset += 1 + lets[0]
	case 2:
		offset += 1 + len(letters) + lets[0]*len(letters) + lets[1]
	}

	return uint32(base + offset), nil
}
