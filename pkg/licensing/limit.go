package licensing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Limit is a numeric quota that may be unlimited. The zero value is a limit
// of 0, not unlimited; use Unlimited() to lift a quota.
type Limit struct {
	max       int64
	unlimited bool
}

// Max returns a bounded limit.
func Max(n int64) Limit { return Limit{max: n} }

// Unlimited returns a limit that admits any value.
func Unlimited() Limit { return Limit{unlimited: true} }

// IsUnlimited reports whether the limit admits any value.
func (l Limit) IsUnlimited() bool { return l.unlimited }

// Value returns the bound and true, or 0 and false when unlimited.
func (l Limit) Value() (int64, bool) {
	if l.unlimited {
		return 0, false
	}
	return l.max, true
}

// Allows reports whether current fits within the limit (inclusive).
func (l Limit) Allows(current int64) bool {
	return l.unlimited || current <= l.max
}

func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(l.max, 10)
}

// MarshalJSON encodes unlimited as null.
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(l.max, 10)), nil
}

// UnmarshalJSON accepts null or "unlimited" as unlimited and a number as a bound.
func (l *Limit) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`"unlimited"`)) {
		*l = Unlimited()
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("limit must be a number, null or \"unlimited\": %w", err)
	}
	*l = Max(n)
	return nil
}
