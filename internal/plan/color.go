package plan

import (
	"fmt"
	"strconv"
	"strings"
)

// Hex formats a color as six lowercase hex digits, e.g. (0,255,16) → "00ff10".
func Hex(r, g, b uint8) string {
	return fmt.Sprintf("%02x%02x%02x", r, g, b)
}

// NormalizeHex accepts "#ff0000", "0xFF0000", "ff0000" or a short
// unpadded value like "ff" and returns six lowercase digits.
func NormalizeHex(s string) (string, error) {
	v := strings.TrimSpace(s)
	v = strings.TrimPrefix(v, "#")
	if len(v) > 1 && (v[:2] == "0x" || v[:2] == "0X") {
		v = v[2:]
	}
	if v == "" || len(v) > 6 {
		return "", fmt.Errorf("plan: invalid color %q", s)
	}
	n, err := strconv.ParseUint(v, 16, 32)
	if err != nil {
		return "", fmt.Errorf("plan: invalid color %q", s)
	}
	return fmt.Sprintf("%06x", n), nil
}
