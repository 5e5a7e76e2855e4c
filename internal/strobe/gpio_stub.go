//go:build !linux || (!arm && !arm64)

package strobe

import "fmt"

func openLine(pin int) (outputLine, error) {
	return nil, fmt.Errorf("strobe: gpio unsupported on this platform")
}

var openLineFn = openLine
