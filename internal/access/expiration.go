package access

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Never is the expiration option for secrets without a deadline.
const Never = "never"

var ErrInvalidExpiration = errors.New("invalid expiration option")

var expirationUnits = map[byte]time.Duration{
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseExpiration turns an option such as "1h" or "7d" into a duration.
// "never" yields zero and ok == false.
func ParseExpiration(option string) (d time.Duration, ok bool, err error) {
	option = strings.ToLower(strings.TrimSpace(option))
	if option == Never {
		return 0, false, nil
	}
	if len(option) < 2 {
		return 0, false, errors.Wrapf(ErrInvalidExpiration, "%q", option)
	}

	unit, ok := expirationUnits[option[len(option)-1]]
	if !ok {
		return 0, false, errors.Wrapf(ErrInvalidExpiration, "%q: unknown unit", option)
	}
	n, err := strconv.Atoi(option[:len(option)-1])
	if err != nil || n <= 0 {
		return 0, false, errors.Wrapf(ErrInvalidExpiration, "%q: amount must be a positive integer", option)
	}
	if int64(n) > math.MaxInt64/int64(unit) {
		return 0, false, errors.Wrapf(ErrInvalidExpiration, "%q: too far in the future", option)
	}
	return time.Duration(n) * unit, true, nil
}

// CalculateExpiration maps option to an absolute deadline relative to now.
// It is evaluated once at creation; "never" returns nil.
func CalculateExpiration(option string, now time.Time) (*time.Time, error) {
	d, ok, err := ParseExpiration(option)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	at := now.Add(d).UTC()
	return &at, nil
}
