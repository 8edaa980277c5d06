// Package profile defines the canonical church profile record and the
// normalizer that reconciles the authoring-side and read-side shapes.
package profile

import (
	"sort"
	"time"
)

// Status is the review status of a church profile.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusPending        Status = "pending"
	StatusHeritageReview Status = "heritage_review"
	StatusRevisions      Status = "revisions"
	StatusApproved       Status = "approved"
)

// ValidStatus reports whether s is one of the five review statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusPending, StatusHeritageReview, StatusRevisions, StatusApproved:
		return true
	}
	return false
}

// Classification is the heritage classification of a church.
type Classification string

const (
	ClassificationNone Classification = "none"
	ClassificationICP  Classification = "important_cultural_property"
	ClassificationNCT  Classification = "national_cultural_treasure"
)

// IsHeritage reports whether the classification requires museum review.
func (c Classification) IsHeritage() bool {
	return c == ClassificationICP || c == ClassificationNCT
}

// PendingChange is the staged edit set on an already-approved profile.
// The overlay exists iff the profile's Pending field is non-nil.
type PendingChange struct {
	ChangedFields     []string       `json:"changedFields"`
	ProposedValues    map[string]any `json:"proposedValues"`
	SubmittedAt       time.Time      `json:"submittedAt"`
	SubmittedBy       string         `json:"submittedBy"`
	ForwardedToMuseum bool           `json:"forwardedToMuseum"`
	ReviewNotes       string         `json:"reviewNotes,omitempty"`
}

// Profile is the canonical in-memory church record.
type Profile struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Diocese        string         `json:"diocese"`
	Town           string         `json:"town"`
	Province       string         `json:"province"`
	Patron         string         `json:"patron,omitempty"`
	Description    string         `json:"description,omitempty"`
	FoundingYear   int            `json:"foundingYear,omitempty"`
	Classification Classification `json:"heritageClassification"`
	Heritage       bool           `json:"isHeritage"`
	Images         []string       `json:"images"`
	Latitude       *float64       `json:"latitude,omitempty"`
	Longitude      *float64       `json:"longitude,omitempty"`
	DataConsent    bool           `json:"dataConsent"`
	PhotoConsent   bool           `json:"photoConsent"`

	Status  Status         `json:"status"`
	Pending *PendingChange `json:"pendingChanges,omitempty"`
	Version int64          `json:"version"`

	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasPendingChanges reports whether a staged edit set exists. The flag is
// derived from the overlay itself so the two can never disagree.
func (p *Profile) HasPendingChanges() bool {
	return p.Pending != nil
}

// Published reports whether the profile is visible to the public feed.
func (p *Profile) Published() bool {
	return p.Status == StatusApproved
}

// EditableFields lists the field names the overlay may stage, in canonical
// order. Unknown field names in a staged edit are ignored.
var EditableFields = []string{
	"name",
	"diocese",
	"town",
	"province",
	"patron",
	"description",
	"foundingYear",
	"heritageClassification",
	"images",
	"latitude",
	"longitude",
}

// FieldValue returns the current value of a named editable field, and
// whether the name is known.
func (p *Profile) FieldValue(name string) (any, bool) {
	switch name {
	case "name":
		return p.Name, true
	case "diocese":
		return p.Diocese, true
	case "town":
		return p.Town, true
	case "province":
		return p.Province, true
	case "patron":
		return p.Patron, true
	case "description":
		return p.Description, true
	case "foundingYear":
		return p.FoundingYear, true
	case "heritageClassification":
		return p.Classification, true
	case "images":
		return p.Images, true
	case "latitude":
		return p.Latitude, true
	case "longitude":
		return p.Longitude, true
	}
	return nil, false
}

// SetField assigns a named editable field from an untyped value, using the
// same tolerant coercions as the normalizer. Unknown names are ignored.
func (p *Profile) SetField(name string, value any) {
	switch name {
	case "name":
		p.Name = asString(value)
	case "diocese":
		p.Diocese = asString(value)
	case "town":
		p.Town = asString(value)
	case "province":
		p.Province = asString(value)
	case "patron":
		p.Patron = asString(value)
	case "description":
		p.Description = asString(value)
	case "foundingYear":
		p.FoundingYear = asInt(value)
	case "heritageClassification":
		p.Classification = normalizeClassification(asString(value))
		p.Heritage = p.Classification.IsHeritage()
	case "images":
		p.Images = flattenImages(value)
	case "latitude":
		p.Latitude = asFloatPtr(value)
	case "longitude":
		p.Longitude = asFloatPtr(value)
	}
}

// requiredFields are the fields counted toward submission completeness.
var requiredFields = []string{
	"name",
	"diocese",
	"town",
	"province",
	"patron",
	"description",
	"foundingYear",
	"images",
	"latitude",
	"longitude",
}

// Completeness returns the filled fraction of the required fields, in [0, 1].
func (p *Profile) Completeness() float64 {
	filled := 0
	for _, name := range requiredFields {
		v, _ := p.FieldValue(name)
		if fieldFilled(v) {
			filled++
		}
	}
	return float64(filled) / float64(len(requiredFields))
}

// ConsentGiven reports whether both consent flags are set.
func (p *Profile) ConsentGiven() bool {
	return p.DataConsent && p.PhotoConsent
}

func fieldFilled(v any) bool {
	switch t := v.(type) {
	case string:
		return t != ""
	case int:
		return t != 0
	case []string:
		return len(t) > 0
	case *float64:
		return t != nil
	case Classification:
		return t != ""
	}
	return v != nil
}

// Clone returns a deep copy. Workflow operations mutate a clone and persist
// it with a compare-and-set, leaving the caller's copy untouched on failure.
func (p *Profile) Clone() *Profile {
	out := *p
	if p.Images != nil {
		out.Images = append([]string(nil), p.Images...)
	}
	if p.Latitude != nil {
		v := *p.Latitude
		out.Latitude = &v
	}
	if p.Longitude != nil {
		v := *p.Longitude
		out.Longitude = &v
	}
	if p.Pending != nil {
		pc := *p.Pending
		pc.ChangedFields = append([]string(nil), p.Pending.ChangedFields...)
		pc.ProposedValues = make(map[string]any, len(p.Pending.ProposedValues))
		for k, v := range p.Pending.ProposedValues {
			pc.ProposedValues[k] = v
		}
		out.Pending = &pc
	}
	return &out
}

// SortedFields returns a sorted copy of a field-name set, for stable
// changedFields output.
func SortedFields(names map[string]struct{}) []string {
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
