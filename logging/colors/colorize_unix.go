//go:build !windows

package colors

import "fmt"

// enabled is cleared by DisableColor, e.g. when the user asked for plain output.
var enabled = true

// EnableColor is a no-op on non-windows systems because they support ANSI escape codes.
func EnableColor() {}

// DisableColor turns Colorize into a plain formatter.
func DisableColor() {
	enabled = false
}

// Colorize returns the string s wrapped in ANSI code c
func Colorize(s any, c Color) string {
	if !enabled {
		return fmt.Sprintf("%v", s)
	}
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}
