package cli

import (
	"fmt"
	"os"
	"sync/atomic"
)

const (
	ResetCode = "\033[0m"
	BoldCode  = "\033[1m"
	DimCode   = "\033[2m"

	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Purple = "\033[35m"
	Cyan   = "\033[36m"
)

// disabled is seeded from NO_COLOR and can be flipped by --no-color.
var disabled atomic.Bool

func init() {
	_, noColor := os.LookupEnv("NO_COLOR")
	disabled.Store(noColor)
}

// Enabled reports whether output is colorized.
func Enabled() bool { return !disabled.Load() }

// SetEnabled forces color on or off.
func SetEnabled(on bool) { disabled.Store(!on) }

// Stylize wraps text in a color code.
func Stylize(text string, colorCode string) string {
	if !Enabled() {
		return text
	}
	return fmt.Sprintf("%s%s%s", colorCode, text, ResetCode)
}

func Bold(text string) string { return Stylize(text, BoldCode) }
func Dim(text string) string  { return Stylize(text, DimCode) }

func CheckMark() string   { return Stylize("✔", Green) }
func CrossMark() string   { return Stylize("✘", Red) }
func WarningSign() string { return Stylize("!", Yellow) }
func Arrow() string       { return Stylize("➜", Blue) }
