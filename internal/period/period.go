// Package period converts instants into billing-period keys.
//
// A period key is the "YYYY-MM" calendar month of an instant as observed in
// the application timezone. Storage and transport stay in UTC; the timezone
// is only used to decide which month an instant belongs to.
package period

import (
	"fmt"
	"time"

	"github.com/DukeRupert/draftline/internal/domain"
)

// KeyLayout is the time layout of a period key.
const KeyLayout = "2006-01"

// Calculator computes period keys in a fixed timezone. It is safe for
// concurrent use.
type Calculator struct {
	loc *time.Location
}

// NewCalculator loads the IANA timezone tz. A missing timezone database or an
// unknown zone is a configuration error; there is no UTC fallback because that
// would silently shift billing boundaries.
func NewCalculator(tz string) (*Calculator, error) {
	const op = "period.new_calculator"

	if tz == "" {
		return nil, domain.Config(nil, op, "application timezone is not configured")
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, domain.Config(err, op, fmt.Sprintf("failed to load timezone %q", tz))
	}
	return &Calculator{loc: loc}, nil
}

// MustCalculator is NewCalculator for tests and program initialization.
func MustCalculator(tz string) *Calculator {
	c, err := NewCalculator(tz)
	if err != nil {
		panic(err)
	}
	return c
}

// Location returns the calculator's timezone.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// Key returns the period key of t.
func (c *Calculator) Key(t time.Time) string {
	return t.In(c.loc).Format(KeyLayout)
}

// Parse validates a period key and returns the first instant of that month.
func (c *Calculator) Parse(key string) (time.Time, error) {
	t, err := time.ParseInLocation(KeyLayout, key, c.loc)
	if err != nil {
		return time.Time{}, domain.Invalid("period.parse", fmt.Sprintf("invalid period key %q", key))
	}
	return t, nil
}

// Bounds returns the half-open UTC interval [start, end) covered by key.
func (c *Calculator) Bounds(key string) (start, end time.Time, err error) {
	first, err := c.Parse(key)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	next := time.Date(first.Year(), first.Month()+1, 1, 0, 0, 0, 0, c.loc)
	return first.UTC(), next.UTC(), nil
}

// Next returns the key of the month following key.
func (c *Calculator) Next(key string) (string, error) {
	_, end, err := c.Bounds(key)
	if err != nil {
		return "", err
	}
	return c.Key(end), nil
}
