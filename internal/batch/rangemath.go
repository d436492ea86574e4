package batch

import (
	"fmt"
	"math/big"
	"strings"
)

// DefaultRangeWidth is used when the range bounds cannot be parsed.
const DefaultRangeWidth = 64

// ParseHex parses a hexadecimal string with an optional 0x prefix.
func ParseHex(s string) (*big.Int, error) {
	clean := strings.TrimSpace(s)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	if clean == "" {
		return nil, fmt.Errorf("empty hex value %q", s)
	}
	v, ok := new(big.Int).SetString(clean, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex value %q", s)
	}
	return v, nil
}

// RangeWidth returns the number of bits needed to cover [start, end].
// A range holding at most one value has width 1.
func RangeWidth(startHex, endHex string) int {
	start, err := ParseHex(startHex)
	if err != nil {
		return DefaultRangeWidth
	}
	end, err := ParseHex(endHex)
	if err != nil {
		return DefaultRangeWidth
	}
	count := new(big.Int).Sub(end, start)
	count.Add(count, big.NewInt(1))
	if count.Cmp(big.NewInt(1)) <= 0 {
		return 1
	}
	// ceil(log2(count)) == bitlen(count-1)
	return count.Sub(count, big.NewInt(1)).BitLen()
}

// RangeEnd returns start + 2^width as upper-case hex without a prefix.
func RangeEnd(startHex string, width int) (string, error) {
	start, err := ParseHex(startHex)
	if err != nil {
		return "", err
	}
	if width < 0 {
		return "", fmt.Errorf("negative range width %d", width)
	}
	end := new(big.Int).Lsh(big.NewInt(1), uint(width))
	end.Add(end, start)
	return strings.ToUpper(end.Text(16)), nil
}

// DescribeRange renders "<start> -> <end> (+<width>)" for previews.
func DescribeRange(startHex string, width int) string {
	end, err := RangeEnd(startHex, width)
	if err != nil {
		return fmt.Sprintf("%s (+%d)", startHex, width)
	}
	return fmt.Sprintf("%s -> %s (+%d)", startHex, end, width)
}
