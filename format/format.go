// Package format provides pure text normalization helpers shared by
// the order aggregate and the delivery sinks.
package format

import (
	"fmt"
	"strings"
	"unicode"
)

// blockedCallerIDs are the caller ID strings carriers substitute when
// the caller withholds their number.
var blockedCallerIDs = map[string]bool{
	"":           true,
	"anonymous":  true,
	"restricted": true,
	"blocked":    true,
	"unknown":    true,
	"private":    true,
}

// Phone canonicalizes a North American phone number to the display
// form "(123) 456-7890". Withheld caller IDs ("anonymous",
// "restricted", empty) become "Blocked". Anything that does not reduce
// to ten digits (after stripping a leading country code 1) is returned
// unchanged.
func Phone(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if blockedCallerIDs[strings.ToLower(trimmed)] {
		return "Blocked"
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, trimmed)

	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return trimmed
	}

	return fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:])
}

// Title capitalizes the first letter of each word and lowercases the
// rest, for customer names arriving from speech recognition in
// arbitrary case.
func Title(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
