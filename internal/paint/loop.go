package paint

import (
	"fmt"
	"strconv"
	"strings"
)

// Loop says how many convergence passes to run.
type Loop struct {
	Times   int
	Forever bool
}

// Once is a single pass.
var Once = Loop{Times: 1}

// ParseLoop accepts "once", a positive count, or one of "forever",
// "infinite", "infinity" and "24/7".
func ParseLoop(s string) (Loop, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "", "once":
		return Once, nil
	case "forever", "infinite", "infinity", "24/7":
		return Loop{Forever: true}, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return Loop{}, fmt.Errorf("paint: %q is not a recognised loop count, try \"once\", a number, or \"forever\"", s)
	}
	return Loop{Times: n}, nil
}

// More reports whether pass (1-based) should run.
func (l Loop) More(pass int) bool {
	return l.Forever || pass <= l.Times
}

// Last reports whether pass is the final one.
func (l Loop) Last(pass int) bool {
	return !l.Forever && pass >= l.Times
}

func (l Loop) String() string {
	switch {
	case l.Forever:
		return "forever"
	case l.Times == 1:
		return "once"
	}
	return strconv.Itoa(l.Times) + " times"
}
