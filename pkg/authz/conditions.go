package authz

import (
	"encoding/json"
	"fmt"
	"net"
	"path"
	"time"
)

// Condition is one predicate attached to a permission override. The
// variant set is closed: decoding rejects unknown kinds so a malformed
// condition can never silently match.
type Condition interface {
	// Satisfied evaluates the predicate against the call.
	Satisfied(req ResolveRequest, now time.Time) bool
}

const (
	conditionKindTimeWindow      = "time_window"
	conditionKindResourcePattern = "resource_pattern"
	conditionKindIPRange         = "ip_range"
)

// TimeWindowCondition holds between Start and End, wall-clock HH:MM.
// Windows crossing midnight are supported.
type TimeWindowCondition struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Satisfied reports whether now falls inside the window.
func (c TimeWindowCondition) Satisfied(req ResolveRequest, now time.Time) bool {
	start, err := parseClock(c.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(c.End)
	if err != nil {
		return false
	}

	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ResourcePatternCondition holds when the requested resource name
// matches a glob pattern.
type ResourcePatternCondition struct {
	Pattern string `json:"pattern"`
}

// Satisfied reports whether the request's resource name matches.
func (c ResourcePatternCondition) Satisfied(req ResolveRequest, now time.Time) bool {
	ok, err := path.Match(c.Pattern, req.ResourceName)
	return err == nil && ok
}

// IPRangeCondition holds when the caller's IP falls inside a CIDR.
type IPRangeCondition struct {
	CIDR string `json:"cidr"`
}

// Satisfied reports whether the call context's IP is in range.
func (c IPRangeCondition) Satisfied(req ResolveRequest, now time.Time) bool {
	_, network, err := net.ParseCIDR(c.CIDR)
	if err != nil {
		return false
	}
	ip := net.ParseIP(req.Context.IPAddress)
	if ip == nil {
		return false
	}
	return network.Contains(ip)
}

type conditionEnvelope struct {
	Kind string `json:"kind"`

	// TimeWindow
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`

	// ResourcePattern
	Pattern string `json:"pattern,omitempty"`

	// IPRange
	CIDR string `json:"cidr,omitempty"`
}

// DecodeConditions parses an override's conditions blob. An unknown
// kind or malformed field is a hard error, not a skipped entry.
func DecodeConditions(raw []byte) ([]Condition, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var envelopes []conditionEnvelope
	if err := json.Unmarshal(raw, &envelopes); err != nil {
		return nil, fmt.Errorf("failed to decode conditions: %w", err)
	}

	conditions := make([]Condition, 0, len(envelopes))
	for _, env := range envelopes {
		switch env.Kind {
		case conditionKindTimeWindow:
			if _, err := parseClock(env.Start); err != nil {
				return nil, err
			}
			if _, err := parseClock(env.End); err != nil {
				return nil, err
			}
			conditions = append(conditions, TimeWindowCondition{Start: env.Start, End: env.End})
		case conditionKindResourcePattern:
			if _, err := path.Match(env.Pattern, ""); err != nil {
				return nil, fmt.Errorf("invalid resource pattern %q: %w", env.Pattern, err)
			}
			conditions = append(conditions, ResourcePatternCondition{Pattern: env.Pattern})
		case conditionKindIPRange:
			if _, _, err := net.ParseCIDR(env.CIDR); err != nil {
				return nil, fmt.Errorf("invalid cidr %q: %w", env.CIDR, err)
			}
			conditions = append(conditions, IPRangeCondition{CIDR: env.CIDR})
		default:
			return nil, fmt.Errorf("unknown condition kind %q", env.Kind)
		}
	}
	return conditions, nil
}

// ValidateConditions checks a conditions blob without evaluating it.
// The tenancy mutator runs this at write time so the resolver never
// sees a blob it cannot decode.
func ValidateConditions(raw []byte) error {
	_, err := DecodeConditions(raw)
	return err
}
