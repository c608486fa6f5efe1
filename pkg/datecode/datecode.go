// ABOUTME: Sortable integer encoding for calendar dates
// ABOUTME: Encodes YYYYMMDD with a far-future sentinel for open-ended ranges

package datecode

import (
	"errors"
	"fmt"
	"time"
)

// OpenEndedSentinel represents "no end date" to range-filtering consumers.
// It sorts strictly after every encodable calendar date.
const OpenEndedSentinel = int32(99991231)

// ErrInvalidDate indicates a value that does not encode a real calendar date.
var ErrInvalidDate = errors.New("datecode: invalid date")

// Encode maps a calendar date to its YYYYMMDD integer form.
// The mapping is monotonic with calendar order, so encoded values compare
// the same way the dates do.
func Encode(d time.Time) int32 {
	y, m, day := d.Date()
	return int32(y*10000 + int(m)*100 + day)
}

// EncodeOpenEnded returns the sentinel used for a null effective_to.
func EncodeOpenEnded() int32 {
	return OpenEndedSentinel
}

// Decode is the inverse of Encode. The sentinel decodes to nil.
// Values that do not name a real calendar date fail with ErrInvalidDate.
func Decode(v int32) (*time.Time, error) {
	if v == OpenEndedSentinel {
		return nil, nil
	}

	year := int(v / 10000)
	month := int(v/100) % 100
	day := int(v) % 100

	if year < 1 || month < 1 || month > 12 || day < 1 || day > 31 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDate, v)
	}

	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)

	// time.Date normalizes out-of-range days (e.g. Feb 30 -> Mar 2),
	// so a round-trip mismatch means the input was not a real date.
	if Encode(d) != v {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDate, v)
	}

	return &d, nil
}

// Normalize truncates a time to its UTC calendar date.
// Registry dates are day-granular; times of day are never significant.
func Normalize(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}
