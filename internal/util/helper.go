// Package util contains small slice and network helpers.
package util

import (
	"errors"
	"net"
	"os"
)

// CloneSlice clones slice with cloneSize.
// This function will use src length as the clone size if cloneSize is 0.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}

// IsTimeout reports whether err is a deadline or timeout error from a network operation.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsClosed reports whether err results from using a closed network connection.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
