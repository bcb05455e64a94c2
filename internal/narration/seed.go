package narration

import "unicode/utf16"

// seedHash is a 32-bit polynomial rolling hash (h*31 + unit, wrapping) over
// the UTF-16 code units of s.
func seedHash(s string) int32 {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(unit)
	}
	return h
}

// seededIndex maps seed to a stable index in [0, n).
func seededIndex(seed string, n int) int {
	h := int64(seedHash(seed))
	if h < 0 {
		h = -h
	}
	return int(h % int64(n))
}

func seededPick[T any](items []T, seed string) T {
	return items[seededIndex(seed, len(items))]
}
