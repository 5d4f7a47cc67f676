package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Response header names, matched case-insensitively.
const (
	HeaderRemaining = "Requests-Remaining"
	HeaderReset     = "Requests-Reset"
	HeaderCooldown  = "Cooldown-Reset"
)

// DefaultSoftReset is assumed when the server reports no remaining requests
// without saying when the window resets.
const DefaultSoftReset = 300 * time.Second

// ErrInvalidCooldown is returned for a hard cooldown that is infinite,
// negative infinity, NaN or not a number at all.
var ErrInvalidCooldown = errors.New("ratelimit: invalid cooldown-reset")

// Headers is the parsed rate-limit state of one response.
type Headers struct {
	Remaining    int
	Reset        time.Duration
	Cooldown     time.Duration
	HasRemaining bool
	HasReset     bool
	HasCooldown  bool

	// Ignored lists soft headers that were sent but could not be parsed.
	// They are treated as absent.
	Ignored []string
}

// Present reports whether any rate-limit header was sent.
func (h Headers) Present() bool {
	return h.HasRemaining || h.HasReset || h.HasCooldown
}

// ParseHeaders extracts the rate-limit headers. Absent values take the
// defaults of the wire protocol: zero remaining and DefaultSoftReset.
// Only an unusable Cooldown-Reset is an error.
func ParseHeaders(h http.Header) (Headers, error) {
	out := Headers{Reset: DefaultSoftReset}

	if v := lookup(h, HeaderRemaining); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			out.Ignored = append(out.Ignored, HeaderRemaining+"="+v)
		} else {
			out.Remaining = int(n)
			out.HasRemaining = true
		}
	}

	if v := lookup(h, HeaderReset); v != "" {
		if d, err := parseSeconds(v); err != nil {
			out.Ignored = append(out.Ignored, HeaderReset+"="+v)
		} else {
			out.Reset = d
			out.HasReset = true
		}
	}

	if v := lookup(h, HeaderCooldown); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return out, fmt.Errorf("%w: %q", ErrInvalidCooldown, v)
		}
		out.Cooldown = d
		out.HasCooldown = true
	}
	return out, nil
}

// lookup reads a header by name regardless of how the map keys were cased.
func lookup(h http.Header, name string) string {
	if v := h.Get(name); v != "" {
		return strings.TrimSpace(v)
	}
	for k, vs := range h {
		if len(vs) > 0 && strings.EqualFold(k, name) {
			return strings.TrimSpace(vs[0])
		}
	}
	return ""
}

func parseSeconds(v string) (time.Duration, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not a finite number of seconds", v)
	}
	if f*float64(time.Second) > math.MaxInt64 {
		return 0, fmt.Errorf("%q seconds overflows", v)
	}
	if f < 0 {
		return 0, nil
	}
	return time.Duration(f * float64(time.Second)), nil
}
