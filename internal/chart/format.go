package chart

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const (
	timeFormat24h = "%H:%M:%S"
	timeFormat12h = "%-I:%M:%S %p"
)

// unitNames maps UCUM-style OTel unit symbols to singular display names.
var unitNames = map[string]string{
	"ns":   "nanosecond",
	"us":   "microsecond",
	"ms":   "millisecond",
	"s":    "second",
	"min":  "minute",
	"h":    "hour",
	"d":    "day",
	"bit":  "bit",
	"By":   "byte",
	"KBy":  "kilobyte",
	"MBy":  "megabyte",
	"GBy":  "gigabyte",
	"KiBy": "kibibyte",
	"MiBy": "mebibyte",
	"GiBy": "gibibyte",
}

// Formatter renders values, times and tooltips for one chart. The zero value
// formats in local time on a 12-hour clock with AM/PM designators.
type Formatter struct {
	Unit         string
	Location     *time.Location
	Use24Hour    bool
	AMDesignator string
	PMDesignator string

	// Language picks digit grouping and the decimal separator. Unit names
	// stay English. The zero value formats as English.
	Language language.Tag
}

// Value formats v with at most three decimals, trailing zeros trimmed and
// thousands grouped using the formatter's language.
func (f Formatter) Value(v float64) string {
	return formatValue(f.language(), v)
}

// Time formats t in the formatter's location.
func (f Formatter) Time(t time.Time) string {
	t = f.Localize(t)
	if f.Use24Hour {
		return t.Format("15:04:05")
	}
	period := f.am()
	if t.Hour() >= 12 {
		period = f.pm()
	}
	return t.Format("3:04:05") + " " + period
}

// Localize converts t into the formatter's location.
func (f Formatter) Localize(t time.Time) time.Time {
	if f.Location == nil {
		return t.Local()
	}
	return t.In(f.Location)
}

// ValueWithUnit formats v followed by the display unit, if any.
func (f Formatter) ValueWithUnit(v float64) string {
	s := f.Value(v)
	if u := DisplayUnit(f.Unit, v); u != "" {
		s += " " + u
	}
	return s
}

// Tooltip renders the hover text for one plotted point.
func (f Formatter) Tooltip(title string, v float64, t time.Time) string {
	return fmt.Sprintf("<b>%s</b><br />Value: %s<br />Time: %s",
		html.EscapeString(title), f.ValueWithUnit(v), f.Time(t))
}

// Hints returns the axis formatting hints sent on a full redraw.
func (f Formatter) Hints() LocaleHints {
	h := LocaleHints{
		Periods:    [2]string{f.am(), f.pm()},
		TimeFormat: timeFormat12h,
	}
	if f.Use24Hour {
		h.TimeFormat = timeFormat24h
	}
	return h
}

func (f Formatter) language() language.Tag {
	if f.Language == language.Und {
		return language.English
	}
	return f.Language
}

func (f Formatter) am() string {
	if f.AMDesignator == "" {
		return "AM"
	}
	return f.AMDesignator
}

func (f Formatter) pm() string {
	if f.PMDesignator == "" {
		return "PM"
	}
	return f.PMDesignator
}

// FormatValue formats v in English with at most three decimal places,
// trailing zeros trimmed and thousands grouped.
func FormatValue(v float64) string {
	return formatValue(language.English, v)
}

// printers caches one message.Printer per language.
var printers sync.Map

func printerFor(tag language.Tag) *message.Printer {
	if p, ok := printers.Load(tag); ok {
		return p.(*message.Printer)
	}
	p, _ := printers.LoadOrStore(tag, message.NewPrinter(tag))
	return p.(*message.Printer)
}

func formatValue(tag language.Tag, v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	// Round half away from zero before handing off, so 2.0005 reads 2.001
	// and tiny negatives collapse to a plain 0.
	v = math.Round(v*1000) / 1000
	if v == 0 {
		v = 0
	}
	return printerFor(tag).Sprint(number.Decimal(v, number.MaxFractionDigits(3)))
}

// DisplayUnit resolves an OTel unit to the word shown after a value,
// pluralized when v != 1. Dimensionless units resolve to "".
func DisplayUnit(unit string, v float64) string {
	switch unit {
	case "", "1":
		return ""
	case "%":
		return "percent"
	}

	var name string
	if strings.HasPrefix(unit, "{") && strings.HasSuffix(unit, "}") && len(unit) > 2 {
		name = unit[1 : len(unit)-1]
	} else if n, ok := unitNames[unit]; ok {
		name = n
	} else {
		return unit
	}

	if v != 1 {
		name += "s"
	}
	return name
}

// ShortenID returns a display form of a trace or span id: at most the first
// seven characters followed by an ellipsis. At least the last character is
// always elided, so a shortened id is never mistaken for a complete one.
func ShortenID(id string) string {
	r := []rune(id)
	if len(r) <= 1 {
		return id
	}
	n := min(len(r)-1, 7)
	return string(r[:n]) + "…"
}
