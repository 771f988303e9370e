// Package gpio drives the lamp output lines with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation records levels so tests run without hardware.
package gpio

// Writer drives digital output lines.
type Writer interface {
	// SetLevel drives pin high (on) or low (off).
	// A returned error means the line may not reflect the requested level.
	SetLevel(pin int, on bool) error

	// Close releases GPIO resources.
	Close() error
}

// Default pin definitions (BCM numbering).
const (
	DefaultPinGreen = 16
	DefaultPinRed   = 17
)
