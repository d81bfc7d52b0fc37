package waste

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// transitions is the full edge set of the record lifecycle. Anything not
// listed here is an invalid transition, never a no-op.
var transitions = map[Status][]Status{
	StatusPending:   {StatusCollected, StatusRejected},
	StatusCollected: {StatusProcessed, StatusRejected},
	StatusProcessed: {StatusRecycled, StatusDisposed},
	StatusRecycled:  nil,
	StatusDisposed:  nil,
	StatusRejected:  nil,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Details carries the owner-editable fields of a record.
type Details struct {
	Type        Type
	Description string
	Quantity    float64
	Unit        string
	Location    Location
	ImagePaths  []string
}

func (d *Details) validate() error {
	if !d.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, d.Type)
	}
	if d.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// NewRecord creates a pending record owned by ownerID. All precondition
// checks run before any field is written.
func NewRecord(id, ownerID string, d Details, now time.Time) (Record, error) {
	if err := d.validate(); err != nil {
		return Record{}, err
	}
	unit := d.Unit
	if unit == "" {
		unit = "kg"
	}
	r := Record{
		ID:          id,
		OwnerID:     ownerID,
		Type:        d.Type,
		Description: d.Description,
		Quantity:    d.Quantity,
		Unit:        unit,
		Location:    d.Location,
		Status:      StatusPending,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	if len(d.ImagePaths) > 0 {
		r.ImagePaths = append([]string(nil), d.ImagePaths...)
	}
	return r, nil
}

// UpdateDetails replaces the free-form fields. Only the owner may edit, and
// only while the record is still pending.
func (r *Record) UpdateDetails(ownerID string, d Details, now time.Time) error {
	if r.OwnerID != ownerID {
		return ErrNotOwner
	}
	if r.Status != StatusPending {
		return fmt.Errorf("%w: status is %s", ErrRecordLocked, r.Status)
	}
	if err := d.validate(); err != nil {
		return err
	}
	r.Type = d.Type
	r.Description = d.Description
	r.Quantity = d.Quantity
	if d.Unit != "" {
		r.Unit = d.Unit
	}
	r.Location = d.Location
	r.ImagePaths = append([]string(nil), d.ImagePaths...)
	r.UpdatedAt = now.UTC()
	return nil
}

// Collect marks a pending record as picked up by an administrator.
func (r *Record) Collect(adminID string, now time.Time) error {
	if !CanTransition(r.Status, StatusCollected) {
		return invalidTransition(r.Status, StatusCollected)
	}
	ts := now.UTC()
	r.Status = StatusCollected
	r.CollectionDate = &ts
	r.UpdatedAt = ts
	return nil
}

// Process moves a collected record through processing and straight to its
// terminal disposition, computing the write-once score fields. Notes are
// mandatory; the category supplies base points and multiplier.
func (r *Record) Process(adminID, notes string, disposition Disposition, cat Category, now time.Time) error {
	target := StatusRecycled
	if disposition == DispositionDisposed {
		target = StatusDisposed
	}
	if !CanTransition(r.Status, StatusProcessed) && !CanTransition(r.Status, target) {
		return invalidTransition(r.Status, target)
	}
	if strings.TrimSpace(notes) == "" {
		return ErrNotesRequired
	}

	ts := now.UTC()
	if r.Status == StatusCollected {
		r.Status = StatusProcessed
		r.ProcessingDate = &ts
	}
	if !CanTransition(r.Status, target) {
		return invalidTransition(r.Status, target)
	}
	r.ProcessorID = adminID
	r.ProcessingNotes = notes

	mult := cat.EnvironmentalMultiplier
	if mult <= 0 {
		mult = defaultMultiplier
	}
	base := cat.BasePoints
	if base <= 0 {
		base = defaultBasePoints
	}
	r.EnvironmentalScore = math.Round(r.Quantity*mult*100) / 100
	if disposition == DispositionRecycled {
		r.PointsAwarded = int(math.Round(float64(base) * r.Quantity))
	} else {
		r.PointsAwarded = 0
	}

	r.Status = target
	r.CompletionDate = &ts
	r.UpdatedAt = ts
	return nil
}

// Validate records an administrative sign-off. It may run once the record
// has left pending, and only once: re-validation is an error, never a
// silent overwrite.
func (r *Record) Validate(adminID, notes string, now time.Time) error {
	if r.Status == StatusPending {
		return ErrNotYetCollectable
	}
	if r.IsValidated {
		return ErrAlreadyValidated
	}
	ts := now.UTC()
	r.IsValidated = true
	r.ValidatedBy = adminID
	r.ValidationDate = &ts
	r.ValidationNotes = notes
	r.UpdatedAt = ts
	return nil
}

// Reject is the administrative shortcut out of pending or collected. It is
// terminal and deliberately leaves CompletionDate unset.
func (r *Record) Reject(adminID, notes string, now time.Time) error {
	if !CanTransition(r.Status, StatusRejected) {
		return invalidTransition(r.Status, StatusRejected)
	}
	if strings.TrimSpace(notes) == "" {
		return ErrNotesRequired
	}
	ts := now.UTC()
	r.Status = StatusRejected
	r.ProcessorID = adminID
	r.ProcessingNotes = notes
	r.UpdatedAt = ts
	return nil
}
