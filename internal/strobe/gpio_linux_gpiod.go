//go:build linux && (arm || arm64)

package strobe

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// openLine requests BCM GPIO pin as an output, initially low. The line is
// looked up by its "GPIO<n>" name so Pi 4 (gpiochip0) and Pi 5 (gpiochip4)
// both work.
func openLine(pin int) (outputLine, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("strobe: invalid gpio pin %d", pin)
	}
	name := fmt.Sprintf("GPIO%d", pin)
	chip, offset, err := gpiocdev.FindLine(name)
	if err != nil {
		return nil, fmt.Errorf("strobe: gpio line %q: %w", name, err)
	}
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("pinger-sim-strobe"),
	)
	if err != nil {
		return nil, fmt.Errorf("strobe: request %s on %s: %w", name, chip, err)
	}
	return line, nil
}

var openLineFn = openLine
