package waste

import (
	"errors"
	"time"
)

// Type is the closed set of waste categories a record can carry.
type Type string

const (
	TypeOrganic    Type = "organic"
	TypePlastic    Type = "plastic"
	TypePaper      Type = "paper"
	TypeGlass      Type = "glass"
	TypeMetal      Type = "metal"
	TypeElectronic Type = "electronic"
	TypeHazardous  Type = "hazardous"
	TypeTextile    Type = "textile"
	TypeOther      Type = "other"
)

// Types lists every valid waste type in declaration order.
var Types = []Type{
	TypeOrganic, TypePlastic, TypePaper, TypeGlass, TypeMetal,
	TypeElectronic, TypeHazardous, TypeTextile, TypeOther,
}

// Valid reports whether t is a member of the closed enumeration.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a record. Transitions between statuses
// are restricted to the edges in the transitions table; see machine.go.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCollected Status = "collected"
	StatusProcessed Status = "processed"
	StatusRecycled  Status = "recycled"
	StatusDisposed  Status = "disposed"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusRecycled || s == StatusDisposed || s == StatusRejected
}

// Disposition is the terminal outcome chosen when a processed record is
// closed out.
type Disposition string

const (
	DispositionRecycled Disposition = "recycled"
	DispositionDisposed Disposition = "disposed"
)

// Location is a free-text place plus optional geocoordinates.
type Location struct {
	Label     string   `json:"label,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Address   string   `json:"address,omitempty"`
}

// Record is a single waste-disposal submission and its full audit trail.
// Score fields are computed exactly once, at the processed -> terminal
// transition, and are never user-settable.
type Record struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	Type        Type     `json:"waste_type"`
	Description string   `json:"description,omitempty"`
	Quantity    float64  `json:"quantity"` // kilograms
	Unit        string   `json:"unit"`
	Location    Location `json:"location"`
	ImagePaths  []string `json:"image_paths,omitempty"` // insertion order significant

	Status Status `json:"status"`

	EnvironmentalScore float64 `json:"environmental_score"`
	PointsAwarded      int     `json:"points_awarded"`

	IsValidated     bool       `json:"is_validated"`
	ValidatedBy     string     `json:"validated_by,omitempty"`
	ValidationDate  *time.Time `json:"validation_date,omitempty"`
	ValidationNotes string     `json:"validation_notes,omitempty"`

	ProcessorID     string `json:"processor_id,omitempty"`
	ProcessingNotes string `json:"processing_notes,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CollectionDate *time.Time `json:"collection_date,omitempty"`
	ProcessingDate *time.Time `json:"processing_date,omitempty"`
	CompletionDate *time.Time `json:"completion_date,omitempty"`
}

// Completed reports whether the record reached a scored terminal state.
// Rejected records are terminal but never completed.
func (r *Record) Completed() bool {
	return r.Status == StatusRecycled || r.Status == StatusDisposed
}

// Clone returns a deep copy so callers can hand records across goroutines
// without sharing the image path slice.
func (r *Record) Clone() Record {
	out := *r
	if r.ImagePaths != nil {
		out.ImagePaths = append([]string(nil), r.ImagePaths...)
	}
	return out
}

var (
	ErrNotFound          = errors.New("waste: record not found")
	ErrInvalidTransition = errors.New("waste: invalid transition")
	ErrAlreadyValidated  = errors.New("waste: record already validated")
	ErrNotYetCollectable = errors.New("waste: record has not left pending")
	ErrNotesRequired     = errors.New("waste: notes are required")
	ErrNotOwner          = errors.New("waste: record belongs to another user")
	ErrInvalidQuantity   = errors.New("waste: quantity must be > 0")
	ErrInvalidType       = errors.New("waste: unknown waste type")
	ErrRecordLocked      = errors.New("waste: record can no longer be edited")
)
