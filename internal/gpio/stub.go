//go:build !linux

package gpio

import "errors"

// RealWriter is not available on non-Linux platforms.
type RealWriter struct{}

// NewRealWriter returns an error on non-Linux platforms.
func NewRealWriter(chip string, pins ...int) (*RealWriter, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// SetLevel is not implemented on non-Linux platforms.
func (r *RealWriter) SetLevel(pin int, on bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealWriter) Close() error {
	return nil
}
