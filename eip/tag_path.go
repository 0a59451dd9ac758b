package eip

import (
	"fmt"
	"strings"
)

// BuildTagPath encodes a dotted tag name as a sequence of ANSI extended symbol segments.
//
// Each component becomes 0x91, a one-byte length, the ASCII bytes, and a zero pad byte when the
// component length is odd.
func BuildTagPath(tag string) ([]byte, error) {
	if tag == "" {
		return nil, fmt.Errorf("%w: empty tag", ErrInvalidTag)
	}

	parts := strings.Split(tag, ".")
	size := 0
	for _, part := range parts {
		if err := validateTagComponent(tag, part); err != nil {
			return nil, err
		}
		size += 2 + len(part) + len(part)%2
	}

	path := make([]byte, 0, size)
	for _, part := range parts {
		path = append(path, segmentSymbol, byte(len(part)))
		path = append(path, part...)
		if len(part)%2 == 1 {
			path = append(path, 0)
		}
	}

	return path, nil
}

func validateTagComponent(tag string, part string) error {
	switch {
	case part == "":
		return fmt.Errorf("%w: empty component in %q", ErrInvalidTag, tag)
	case len(part) > 255:
		return fmt.Errorf("%w: component of %q longer than 255 bytes", ErrInvalidTag, tag)
	case strings.ContainsAny(part, "[]"):
		return fmt.Errorf("%w: array element in %q", ErrUnsupportedTag, tag)
	case isBitIndex(part):
		return fmt.Errorf("%w: bit address in %q", ErrUnsupportedTag, tag)
	}

	for i := 0; i < len(part); i++ {
		c := part[i]
		if c < 0x21 || c > 0x7E {
			return fmt.Errorf("%w: non-printable or non-ASCII byte 0x%02X in %q", ErrInvalidTag, c, tag)
		}
	}

	return nil
}

// isBitIndex reports whether a component is all digits, as in "Word.3".
func isBitIndex(part string) bool {
	for i := 0; i < len(part); i++ {
		if part[i] < '0' || part[i] > '9' {
			return false
		}
	}

	return true
}
