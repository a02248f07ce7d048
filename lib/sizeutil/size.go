// Package sizeutil parses and formats dd-style human-readable byte sizes.
package sizeutil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/briankendall/multipart-backup/lib/errs"
)

// suffixMultipliers maps a dd-style size suffix to its byte multiplier.
// "w" is the host machine word size: 4 bytes on 32-bit targets, 8 on
// 64-bit, matching strconv.IntSize for the build's GOARCH.
var suffixMultipliers = map[byte]int64{
	'b': 512,
	'k': 1024,
	'm': 1024 * 1024,
	'g': 1024 * 1024 * 1024,
	'w': int64(strconv.IntSize / 8),
}

// ParseSize parses a dd-style size string: a decimal, 0x-prefixed hex, or
// 0-prefixed octal number, optionally followed by one of the suffixes
// b/k/m/g/w (case-insensitive).
func ParseSize(value string) (int64, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return 0, errs.New(errs.InvalidArgument, nil, "empty size")
	}

	numberPart := v
	var multiplier int64 = 1
	if mult, ok := suffixMultipliers[v[len(v)-1]]; ok {
		numberPart = v[:len(v)-1]
		multiplier = mult
	}
	if numberPart == "" {
		return 0, errs.New(errs.InvalidArgument, nil, "missing digits in size %q", value)
	}

	base := 10
	digits := numberPart
	switch {
	case strings.HasPrefix(numberPart, "0x"):
		base = 16
		digits = numberPart[2:]
	case strings.HasPrefix(numberPart, "0") && numberPart != "0":
		base = 8
		digits = numberPart[1:]
	}

	n, err := strconv.ParseInt(digits, base, 64)
	if err != nil {
		return 0, errs.New(errs.InvalidArgument, err, "invalid size %q", value)
	}
	return n * multiplier, nil
}

// FormatSize renders n bytes as the largest of B/K/M/G whose value is
// >= 1, with one decimal place for K/M/G and an integer for B.
func FormatSize(n int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case n < kb:
		return fmt.Sprintf("%db", n)
	case n < mb:
		return fmt.Sprintf("%.1fK", float64(n)/kb)
	case n < gb:
		return fmt.Sprintf("%.1fM", float64(n)/mb)
	default:
		return fmt.Sprintf("%.1fG", float64(n)/gb)
	}
}
