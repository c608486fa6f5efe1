// ABOUTME: Tests for the policy data model
// ABOUTME: Covers status transitions, interval membership, and categories

package policy

import (
	"errors"
	"testing"
	"time"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		from  Status
		to    Status
		legal bool
	}{
		{StatusProcessing, StatusActive, true},
		{StatusProcessing, StatusFailed, true},
		{StatusActive, StatusSuperseded, true},
		{StatusProcessing, StatusSuperseded, false},
		{StatusActive, StatusProcessing, false},
		{StatusActive, StatusFailed, false},
		{StatusSuperseded, StatusActive, false},
		{StatusFailed, StatusActive, false},
		{StatusFailed, StatusProcessing, false},
	}

	for _, tt := range tests {
		err := Transition(tt.from, tt.to)
		if tt.legal && err != nil {
			t.Errorf("Transition %s -> %s should be legal, got %v", tt.from, tt.to, err)
		}
		if !tt.legal {
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Transition %s -> %s should fail with ErrInvalidTransition, got %v",
					tt.from, tt.to, err)
			}
		}
	}
}

func TestInForceOn(t *testing.T) {
	from := time.Date(2023, time.September, 5, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, time.December, 11, 0, 0, 0, 0, time.UTC)
	bounded := &Revision{EffectiveFrom: from, EffectiveTo: &to}
	open := &Revision{EffectiveFrom: from}

	tests := []struct {
		name string
		rev  *Revision
		date time.Time
		want bool
	}{
		{"before start", bounded, from.AddDate(0, 0, -1), false},
		{"first day inclusive", bounded, from, true},
		{"inside", bounded, time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC), true},
		{"last day inclusive", bounded, to, true},
		{"after end", bounded, to.AddDate(0, 0, 1), false},
		{"open-ended far future", open, time.Date(2100, time.January, 1, 0, 0, 0, 0, time.UTC), true},
		{"open-ended before start", open, from.AddDate(0, 0, -1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rev.InForceOn(tt.date); got != tt.want {
				t.Errorf("InForceOn(%v) = %v, want %v", tt.date, got, tt.want)
			}
		})
	}
}

func TestInterval(t *testing.T) {
	from := time.Date(2023, time.September, 5, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, time.December, 11, 0, 0, 0, 0, time.UTC)

	open := &Revision{EffectiveFrom: from}
	if got := open.Interval(); got != "[2023-09-05, open)" {
		t.Errorf("Open interval rendered as %q", got)
	}

	bounded := &Revision{EffectiveFrom: from, EffectiveTo: &to}
	if got := bounded.Interval(); got != "[2023-09-05, 2024-12-11]" {
		t.Errorf("Bounded interval rendered as %q", got)
	}
}

func TestCategoryValid(t *testing.T) {
	for _, c := range []Category{
		CategoryNationalPolicy, CategoryNationalGuidance,
		CategoryLocalPlan, CategoryLocalGuidance, CategoryCountyStrategy,
	} {
		if !c.Valid() {
			t.Errorf("Category %s should be valid", c)
		}
	}

	if Category("galactic_policy").Valid() {
		t.Error("Unknown category should be invalid")
	}
	if Category("").Valid() {
		t.Error("Empty category should be invalid")
	}
}

func TestErrorWrapping(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
	}{
		{&DuplicateSourceError{Source: "NPPF"}, ErrDuplicateSource},
		{&SourceNotFoundError{Source: "NPPF"}, ErrSourceNotFound},
		{&RevisionNotFoundError{Source: "NPPF", RevisionID: "r1"}, ErrRevisionNotFound},
		{&OverlapError{Source: "NPPF", Conflicting: &Revision{RevisionID: "r1"}}, ErrRevisionOverlap},
		{&SoleActiveRevisionError{Source: "NPPF", RevisionID: "r1"}, ErrSoleActiveRevision},
		{&InvalidTransitionError{From: StatusFailed, To: StatusActive}, ErrInvalidTransition},
	}

	for _, tt := range tests {
		if !errors.Is(tt.err, tt.sentinel) {
			t.Errorf("%T should unwrap to its sentinel", tt.err)
		}
		if tt.err.Error() == "" {
			t.Errorf("%T should render a message", tt.err)
		}
	}
}
