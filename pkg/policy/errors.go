// ABOUTME: Error taxonomy for the revision registry
// ABOUTME: Validation errors, invariant-protection errors, and sentinels

package policy

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks. The structured types below unwrap to
// these, carrying the detail a caller needs to adjust and retry by hand —
// the registry never coerces a conflicting request into a best guess.
var (
	ErrDuplicateSource      = errors.New("policy: source already exists")
	ErrSourceNotFound       = errors.New("policy: source not found")
	ErrRevisionNotFound     = errors.New("policy: revision not found")
	ErrRevisionOverlap      = errors.New("policy: revision overlap")
	ErrSoleActiveRevision   = errors.New("policy: sole active revision")
	ErrInvalidTransition    = errors.New("policy: invalid status transition")
	ErrInvalidCategory      = errors.New("policy: invalid category")
	ErrDocumentHasRevisions = errors.New("policy: document still has revisions")
)

// DuplicateSourceError is returned when creating a document whose source
// slug already exists.
type DuplicateSourceError struct {
	Source string
}

func (e *DuplicateSourceError) Error() string {
	return fmt.Sprintf("source %q already exists", e.Source)
}

func (e *DuplicateSourceError) Unwrap() error { return ErrDuplicateSource }

// SourceNotFoundError is returned when an operation names an unknown source.
type SourceNotFoundError struct {
	Source string
}

func (e *SourceNotFoundError) Error() string {
	return fmt.Sprintf("source %q not found", e.Source)
}

func (e *SourceNotFoundError) Unwrap() error { return ErrSourceNotFound }

// RevisionNotFoundError is returned when an operation names an unknown
// revision within a known source.
type RevisionNotFoundError struct {
	Source     string
	RevisionID string
}

func (e *RevisionNotFoundError) Error() string {
	return fmt.Sprintf("revision %q not found for source %q", e.RevisionID, e.Source)
}

func (e *RevisionNotFoundError) Unwrap() error { return ErrRevisionNotFound }

// OverlapError rejects a candidate revision whose interval intersects an
// existing revision. It names both revisions and their ranges so the caller
// can decide whether to adjust dates.
type OverlapError struct {
	Source            string
	CandidateInterval string
	Conflicting       *Revision
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("candidate revision %s for source %q overlaps revision %q %s",
		e.CandidateInterval, e.Source, e.Conflicting.RevisionID, e.Conflicting.Interval())
}

func (e *OverlapError) Unwrap() error { return ErrRevisionOverlap }

// SoleActiveRevisionError rejects deleting the only active revision of a
// source, which would leave the document without any in-force version.
type SoleActiveRevisionError struct {
	Source     string
	RevisionID string
}

func (e *SoleActiveRevisionError) Error() string {
	return fmt.Sprintf("revision %q is the sole active revision of source %q and cannot be deleted",
		e.RevisionID, e.Source)
}

func (e *SoleActiveRevisionError) Unwrap() error { return ErrSoleActiveRevision }

// InvalidTransitionError rejects an illegal status change.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
