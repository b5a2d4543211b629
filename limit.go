package quotaledger

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

const unlimitedText = "unlimited"

// Limit is a monthly ceiling for one resource: either a finite count or
// unlimited. The zero value is Limited(0).
type Limit struct {
	n         int64
	unlimited bool
}

// Limited returns a finite limit of n units. Negative n is clamped to zero.
func Limited(n int64) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{n: n}
}

// Unlimited returns a limit with no ceiling.
func Unlimited() Limit { return Limit{unlimited: true} }

// IsUnlimited reports whether the limit has no ceiling.
func (l Limit) IsUnlimited() bool { return l.unlimited }

// Value returns the finite limit. ok is false for an unlimited limit.
func (l Limit) Value() (n int64, ok bool) {
	if l.unlimited {
		return 0, false
	}
	return l.n, true
}

// Allows reports whether one more unit fits when used units are taken.
func (l Limit) Allows(used int64) bool {
	if l.unlimited {
		return true
	}
	return used < l.n
}

// Remaining returns how many units are left after used.
func (l Limit) Remaining(used int64) Remaining {
	if l.unlimited {
		return Remaining{unlimited: true}
	}
	left := l.n - used
	if left < 0 {
		left = 0
	}
	return Remaining{n: left}
}

func (l Limit) String() string {
	if l.unlimited {
		return unlimitedText
	}
	return strconv.FormatInt(l.n, 10)
}

// MarshalJSON encodes an unlimited limit as "unlimited" and a finite one as a number.
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return json.Marshal(unlimitedText)
	}
	return json.Marshal(l.n)
}

// UnmarshalJSON accepts a number, "unlimited", or the legacy -1.
func (l *Limit) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseLimit(s)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("quotaledger: invalid limit %s", data)
	}
	parsed, err := limitFromInt(n)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (l Limit) MarshalYAML() (interface{}, error) {
	if l.unlimited {
		return unlimitedText, nil
	}
	return l.n, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *Limit) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("quotaledger: limit must be a scalar (line %d)", value.Line)
	}
	parsed, err := ParseLimit(value.Value)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLimit parses "unlimited", "-1" or a non-negative integer.
func ParseLimit(s string) (Limit, error) {
	if s == unlimitedText {
		return Unlimited(), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Limit{}, fmt.Errorf("quotaledger: invalid limit %q", s)
	}
	return limitFromInt(n)
}

// limitFromInt maps the legacy -1 sentinel to Unlimited.
func limitFromInt(n int64) (Limit, error) {
	switch {
	case n == -1:
		return Unlimited(), nil
	case n < 0:
		return Limit{}, fmt.Errorf("quotaledger: invalid limit %d", n)
	default:
		return Limited(n), nil
	}
}

// Remaining is the headroom left under a Limit. An unlimited Remaining has
// no count and is never exhausted.
type Remaining struct {
	n         int64
	unlimited bool
}

// IsUnlimited reports whether there is no ceiling.
func (r Remaining) IsUnlimited() bool { return r.unlimited }

// Value returns the finite remaining count. ok is false when unlimited.
func (r Remaining) Value() (n int64, ok bool) {
	if r.unlimited {
		return 0, false
	}
	return r.n, true
}

// Exhausted reports whether no units are left.
func (r Remaining) Exhausted() bool { return !r.unlimited && r.n == 0 }

func (r Remaining) String() string {
	if r.unlimited {
		return unlimitedText
	}
	return strconv.FormatInt(r.n, 10)
}

// MarshalJSON mirrors Limit's encoding.
func (r Remaining) MarshalJSON() ([]byte, error) {
	if r.unlimited {
		return json.Marshal(unlimitedText)
	}
	return json.Marshal(r.n)
}

// QuotaLimits maps each resource type to its monthly limit.
type QuotaLimits map[ResourceType]Limit

// Get returns the limit for r. Resources a plan does not grant are Limited(0).
func (q QuotaLimits) Get(r ResourceType) Limit {
	if l, ok := q[r]; ok {
		return l
	}
	return Limited(0)
}

// Clone returns an independent copy.
func (q QuotaLimits) Clone() QuotaLimits {
	if q == nil {
		return nil
	}
	out := make(QuotaLimits, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}
