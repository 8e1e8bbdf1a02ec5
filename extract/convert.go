package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openlot/lotwatch/models"
)

// convertField converts a raw scraped string to the schema field type.
// Numeric conversions are lenient about the decoration real parking
// pages wrap numbers in ("42 spaces free", "$3.50/hr", "1,204").
func convertField(raw, ftype string) (any, error) {
	switch ftype {
	case models.FieldString:
		return raw, nil
	case models.FieldInt:
		digits := firstNumberRun(raw, false)
		if digits == "" {
			return nil, fmt.Errorf("no integer in %q", raw)
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as int", raw)
		}
		return n, nil
	case models.FieldFloat:
		digits := firstNumberRun(raw, true)
		if digits == "" {
			return nil, fmt.Errorf("no number in %q", raw)
		}
		f, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as float", raw)
		}
		return f, nil
	case models.FieldBool:
		return parseLooseBool(raw)
	default:
		// Unknown types are rejected at target load; see targets.Load.
		return nil, fmt.Errorf("unknown field type %q", ftype)
	}
}

// firstNumberRun extracts the first run of digits (with optional leading
// minus and, when allowDot, one decimal point) from s, skipping currency
// symbols and thousands separators.
func firstNumberRun(s string, allowDot bool) string {
	var b strings.Builder
	seenDigit := false
	seenDot := false

	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			seenDigit = true
		case r == ',' && seenDigit:
			// thousands separator inside a number
		case r == '.' && allowDot && seenDigit && !seenDot:
			b.WriteRune(r)
			seenDot = true
		case r == '-' && !seenDigit && b.Len() == 0:
			b.WriteRune(r)
		default:
			if seenDigit {
				return b.String()
			}
			b.Reset()
			seenDot = false
		}
	}
	if !seenDigit {
		return ""
	}
	return b.String()
}

// parseLooseBool accepts the strconv booleans plus the open/closed and
// yes/no vocabulary parking sites use.
func parseLooseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "open", "yes", "available", "y":
		return true, nil
	case "closed", "no", "full", "n":
		return false, nil
	}
	b, err := strconv.ParseBool(strings.ToLower(raw))
	if err != nil {
		return false, fmt.Errorf("cannot parse %q as bool", raw)
	}
	return b, nil
}
