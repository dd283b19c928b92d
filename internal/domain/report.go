package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Report is one logged expense entry. UserID identifies the owner and
// is immutable after creation; ID and CreatedAt are assigned by the
// backend on insert.
type Report struct {
	ID          string
	UserID      string
	ReportAt    time.Time
	Amount      float64
	Description string
	CreatedAt   time.Time
	// OwnerEmail is populated only for privileged listings, from the
	// backend's embedded owner join.
	OwnerEmail string
}

// ReportInput is the structured form input for creating or editing a
// report. Fields arrive as strings from the presentation layer and are
// normalized by Normalize before a Report is built from them.
type ReportInput struct {
	ReportAt    string
	Amount      string
	Description string
}

// ReportPatch is the set of fields an owner (or privileged principal)
// may change on an existing report. The owner is deliberately absent.
type ReportPatch struct {
	ReportAt    time.Time
	Amount      float64
	Description string
}

// timestamp layouts accepted from form input, tried in order
var reportAtLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// Normalize coerces raw form input into patch values. An empty
// timestamp defaults to now; an unparseable amount becomes 0 and a
// negative amount is clamped to 0.
func (in ReportInput) Normalize(now time.Time) ReportPatch {
	return ReportPatch{
		ReportAt:    ParseReportAt(in.ReportAt, now),
		Amount:      CoerceAmount(in.Amount),
		Description: strings.TrimSpace(in.Description),
	}
}

// ParseReportAt parses a form timestamp, falling back to fallback when
// the value is empty or unparseable.
func ParseReportAt(value string, fallback time.Time) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback.UTC()
	}
	for _, layout := range reportAtLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return fallback.UTC()
}

// CoerceAmount converts a form amount to a finite non-negative number.
// Non-numeric, NaN, infinite, and negative inputs all yield 0.
func CoerceAmount(value string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}
