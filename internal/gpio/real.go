//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealWriter drives lamp lines on actual hardware using the Linux GPIO character device.
type RealWriter struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewRealWriter requests each pin on chip as an output, initially low.
func NewRealWriter(chip string, pins ...int) (*RealWriter, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chip, err)
	}

	w := &RealWriter{
		chip:  c,
		lines: make(map[int]*gpiocdev.Line, len(pins)),
	}

	for _, pin := range pins {
		line, err := c.RequestLine(pin, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("lamp-panel"))
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("request pin %d: %w", pin, err)
		}
		w.lines[pin] = line
	}

	return w, nil
}

// SetLevel drives pin high (on) or low (off).
func (w *RealWriter) SetLevel(pin int, on bool) error {
	line, ok := w.lines[pin]
	if !ok {
		return fmt.Errorf("pin %d was not requested", pin)
	}

	value := 0
	if on {
		value = 1
	}

	if err := line.SetValue(value); err != nil {
		return fmt.Errorf("set pin %d: %w", pin, err)
	}

	return nil
}

// Close releases GPIO resources.
// Lines are reconfigured as inputs with pull-down (matching Pi boot defaults)
// before closing so the lamps are not left floating at an undefined level.
func (w *RealWriter) Close() error {
	var errs []error

	for pin, line := range w.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	w.lines = nil

	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		w.chip = nil
	}

	return errors.Join(errs...)
}
