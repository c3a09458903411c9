// Package utils collects small presentation helpers shared by the
// command-line front end: colored strings, aligned tables, and byte-size
// formatting for the sizes an operation reports. Trimmed down from the
// teacher's pkg/utils, which carried the same helpers alongside a much
// larger set of Docker/TUI-specific ones (gocui color mapping, menu
// styling, SHA shortening) that have no equivalent here.
package utils

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/go-errors/errors"
	"github.com/mattn/go-runewidth"
)

// WithPadding pads a string as much as you want, accounting for any ANSI
// color codes and wide runes already present in it.
func WithPadding(str string, padding int) string {
	uncoloredStr := Decolorise(str)
	if padding < runewidth.StringWidth(uncoloredStr) {
		return str
	}
	return str + strings.Repeat(" ", padding-runewidth.StringWidth(uncoloredStr))
}

// ColoredString takes a string and a colour attribute and returns a colored
// string with that attribute.
func ColoredString(str string, colorAttribute color.Attribute) string {
	// fatih/color has no color.Default attribute; treat FgWhite as "leave
	// the terminal's own default alone" so light-themed terminals aren't
	// forced to white text.
	if colorAttribute == color.FgWhite {
		return str
	}
	return color.New(colorAttribute).SprintFunc()(fmt.Sprint(str))
}

// MultiColoredString takes a string and an array of colour attributes and
// returns a colored string with those attributes.
func MultiColoredString(str string, colorAttribute ...color.Attribute) string {
	return color.New(colorAttribute...).SprintFunc()(fmt.Sprint(str))
}

// RenderTable takes an array of string arrays and returns a table containing
// the values, column-aligned. Used for keylist output.
func RenderTable(rows [][]string) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}
	if !displayArraysAligned(rows) {
		return "", errors.New("each row must have the same number of columns")
	}

	columnPadWidths := getPadWidths(rows)
	paddedDisplayRows := getPaddedDisplayStrings(rows, columnPadWidths)

	return strings.Join(paddedDisplayRows, "\n"), nil
}

// Decolorise strips a string of ANSI color escapes.
func Decolorise(str string) string {
	re := regexp.MustCompile(`\x1B\[([0-9]{1,2}(;[0-9]{1,2})?)?[mK]`)
	return re.ReplaceAllString(str, "")
}

func getPadWidths(rows [][]string) []int {
	if len(rows[0]) <= 1 {
		return []int{}
	}
	columnPadWidths := make([]int, len(rows[0])-1)
	for i := range columnPadWidths {
		for _, cells := range rows {
			uncoloredCell := Decolorise(cells[i])
			if runewidth.StringWidth(uncoloredCell) > columnPadWidths[i] {
				columnPadWidths[i] = runewidth.StringWidth(uncoloredCell)
			}
		}
	}
	return columnPadWidths
}

func getPaddedDisplayStrings(rows [][]string, columnPadWidths []int) []string {
	paddedDisplayRows := make([]string, len(rows))
	for i, cells := range rows {
		for j, columnPadWidth := range columnPadWidths {
			paddedDisplayRows[i] += WithPadding(cells[j], columnPadWidth) + " "
		}
		paddedDisplayRows[i] += cells[len(columnPadWidths)]
	}
	return paddedDisplayRows
}

// displayArraysAligned returns true if every row has the same length.
func displayArraysAligned(stringArrays [][]string) bool {
	for _, strs := range stringArrays {
		if len(strs) != len(stringArrays[0]) {
			return false
		}
	}
	return true
}

// FormatBinaryBytes renders a byte count with IEC (power-of-1024) units, for
// reporting plaintext/ciphertext sizes.
func FormatBinaryBytes(b int64) string {
	n := float64(b)
	units := []string{"B", "kiB", "MiB", "GiB", "TiB", "PiB", "EiB", "ZiB", "YiB"}
	for _, unit := range units {
		if n >= math.Pow(2, 10) {
			n /= math.Pow(2, 10)
		} else {
			val := fmt.Sprintf("%.2f%s", n, unit)
			if val == "0.00B" {
				return "0B"
			}
			return val
		}
	}
	return "a lot"
}

type multiErr []error

func (m multiErr) Error() string {
	var b bytes.Buffer
	b.WriteString("encountered multiple errors:")
	for _, err := range m {
		b.WriteString("\n\t... " + err.Error())
	}
	return b.String()
}

// CloseMany closes every closer, collecting and returning any errors
// encountered rather than stopping at the first one.
func CloseMany(closers []io.Closer) error {
	errs := make([]error, 0, len(closers))
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return multiErr(errs)
	}
	return nil
}

// SafeTruncate truncates str to at most limit bytes, used to shorten a
// revision hash into the display version string.
func SafeTruncate(str string, limit int) string {
	if len(str) > limit {
		return str[0:limit]
	}
	return str
}
