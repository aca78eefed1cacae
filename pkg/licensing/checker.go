package licensing

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// UnknownLimitPolicy decides how limit checks treat limit names that no tier
// defines.
type UnknownLimitPolicy int32

const (
	// UnknownLimitDeny rejects checks against undefined limits.
	UnknownLimitDeny UnknownLimitPolicy = iota
	// UnknownLimitAllow treats undefined limits as unlimited.
	UnknownLimitAllow
)

func (p UnknownLimitPolicy) String() string {
	if p == UnknownLimitAllow {
		return "allow"
	}
	return "deny"
}

// ParseUnknownLimitPolicy parses "deny" or "allow" (case-insensitive).
func ParseUnknownLimitPolicy(s string) (UnknownLimitPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "deny":
		return UnknownLimitDeny, nil
	case "allow", "unlimited":
		return UnknownLimitAllow, nil
	default:
		return UnknownLimitDeny, fmt.Errorf("unknown limit policy %q (want deny or allow)", s)
	}
}

// Checker answers feature and quota questions about a resolved license.
// It is safe for concurrent use; the unknown-limit policy may be swapped at
// runtime when configuration is reloaded.
type Checker struct {
	unknownLimit atomic.Int32
}

// NewChecker creates a checker with the given unknown-limit policy.
func NewChecker(policy UnknownLimitPolicy) *Checker {
	c := &Checker{}
	c.unknownLimit.Store(int32(policy))
	return c
}

// UnknownLimitPolicy returns the active policy.
func (c *Checker) UnknownLimitPolicy() UnknownLimitPolicy {
	return UnknownLimitPolicy(c.unknownLimit.Load())
}

// SetUnknownLimitPolicy replaces the active policy.
func (c *Checker) SetUnknownLimitPolicy(p UnknownLimitPolicy) {
	c.unknownLimit.Store(int32(p))
}

// HasFeature reports whether lic grants the named feature. Unknown names and
// nil licenses are false.
func (c *Checker) HasFeature(lic *ResolvedLicense, name string) bool {
	if lic == nil {
		return false
	}
	f, ok := ParseFeature(name)
	if !ok {
		return false
	}
	return lic.Features.Feature(f)
}

// WithinLimit reports whether current fits the named limit of lic. Unlimited
// quotas admit any value; bounded ones admit current <= limit. Names that no
// tier defines follow the checker's UnknownLimitPolicy.
func (c *Checker) WithinLimit(lic *ResolvedLicense, name string, current int64) bool {
	return c.CheckLimit(lic, name, current) == nil
}

// CheckLimit is WithinLimit with a reason. It returns a *LimitExceededError
// when the quota is exceeded and ErrUnknownLimit when the name is undefined
// and the policy denies it.
func (c *Checker) CheckLimit(lic *ResolvedLicense, name string, current int64) error {
	key, known := ParseLimitKey(name)
	if !known {
		if c.UnknownLimitPolicy() == UnknownLimitAllow {
			return nil
		}
		return fmt.Errorf("%w: %q", ErrUnknownLimit, name)
	}
	if lic == nil {
		return fmt.Errorf("%w: no license", ErrLimitExceeded)
	}
	limit, _ := lic.Features.Limit(key)
	if limit.Allows(current) {
		return nil
	}
	bound, _ := limit.Value()
	return &LimitExceededError{Key: key, Limit: bound, Current: current}
}
