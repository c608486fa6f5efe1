// ABOUTME: Data model for policy documents and their dated revisions
// ABOUTME: Defines categories, revision status, and the status transition rules

package policy

import (
	"fmt"
	"time"
)

// Category classifies a policy document. The set is closed.
type Category string

const (
	CategoryNationalPolicy   Category = "national_policy"
	CategoryNationalGuidance Category = "national_guidance"
	CategoryLocalPlan        Category = "local_plan"
	CategoryLocalGuidance    Category = "local_guidance"
	CategoryCountyStrategy   Category = "county_strategy"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryNationalPolicy, CategoryNationalGuidance,
		CategoryLocalPlan, CategoryLocalGuidance, CategoryCountyStrategy:
		return true
	}
	return false
}

// Status is the lifecycle state of a revision.
type Status string

const (
	// StatusProcessing marks a revision whose content ingestion is underway.
	StatusProcessing Status = "processing"

	// StatusActive marks a successfully ingested revision.
	StatusActive Status = "active"

	// StatusSuperseded marks a revision closed by a later revision's insertion.
	StatusSuperseded Status = "superseded"

	// StatusFailed marks a revision whose ingestion failed. Terminal except
	// for deletion.
	StatusFailed Status = "failed"
)

// Transition validates a status change. Legal transitions are
// processing->active, processing->failed, and active->superseded; everything
// else is rejected so the check lives in exactly one place.
func Transition(from, to Status) error {
	legal := false
	switch from {
	case StatusProcessing:
		legal = to == StatusActive || to == StatusFailed
	case StatusActive:
		legal = to == StatusSuperseded
	}

	if !legal {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// Document is a named policy source owning zero or more revisions.
// The Source slug is stable and human-assigned (e.g. "NPPF").
type Document struct {
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	Category  Category  `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Revision is one dated version of a policy document. EffectiveTo is nil
// for the revision currently in force with no known end date.
// EffectiveFrom is immutable after creation; correcting a mistaken date
// means deleting and recreating the revision.
type Revision struct {
	Source        string     `json:"source"`
	RevisionID    string     `json:"revision_id"`
	VersionLabel  string     `json:"version_label"`
	EffectiveFrom time.Time  `json:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	Status        Status     `json:"status"`
	ChunkCount    int        `json:"chunk_count"`
	SourceFile    string     `json:"source_file,omitempty"`
	ErrorDetail   string     `json:"error_detail,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// OpenEnded reports whether the revision has no known end date.
func (r *Revision) OpenEnded() bool {
	return r.EffectiveTo == nil
}

// InForceOn reports whether date falls inside the revision's interval.
// Both boundary dates are inclusive.
func (r *Revision) InForceOn(date time.Time) bool {
	if date.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo == nil {
		return true
	}
	return !date.After(*r.EffectiveTo)
}

// Interval renders the revision's date range for error messages.
func (r *Revision) Interval() string {
	from := r.EffectiveFrom.Format("2006-01-02")
	if r.EffectiveTo == nil {
		return fmt.Sprintf("[%s, open)", from)
	}
	return fmt.Sprintf("[%s, %s]", from, r.EffectiveTo.Format("2006-01-02"))
}
