package catalog

import (
	"time"
	"unicode"

	"gorm.io/gorm"

	"toker/token-portal/token-portal-backend/pkg/geospatial"
)

// CodeLength is the fixed length of a claim code.
const CodeLength = 6

// ConstraintEvaluator validates claim attempts against the constraints
// configured for a collection. Constraints of different kinds are
// conjunctive; instances of the same kind are disjunctive. An empty
// constraint set of a kind is vacuously satisfied; a non-empty set with
// a missing submitted value fails closed.
type ConstraintEvaluator struct {
	db *gorm.DB
}

// NewConstraintEvaluator creates an evaluator over the given session.
func NewConstraintEvaluator(db *gorm.DB) *ConstraintEvaluator {
	return &ConstraintEvaluator{db: db}
}

// ValidCodeFormat reports whether code is alphanumeric of the fixed
// length.
func ValidCodeFormat(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, r := range code {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// ValidateUniqueCode checks the submitted code against the collection's
// code constraints.
func (e *ConstraintEvaluator) ValidateUniqueCode(collectionID uint, code string) bool {
	var constraints []CodeConstraint
	if err := e.db.Where("collection_id = ?", collectionID).Find(&constraints).Error; err != nil {
		return false
	}
	if len(constraints) == 0 {
		return true
	}
	if !ValidCodeFormat(code) {
		return false
	}
	for _, c := range constraints {
		if c.Code == code {
			return true
		}
	}
	return false
}

// ValidateTime checks the submitted time against the collection's time
// windows. The time must fall strictly inside a window.
func (e *ConstraintEvaluator) ValidateTime(collectionID uint, submitted *time.Time) bool {
	var constraints []TimeConstraint
	if err := e.db.Where("collection_id = ?", collectionID).Find(&constraints).Error; err != nil {
		return false
	}
	if len(constraints) == 0 {
		return true
	}
	if submitted == nil {
		return false
	}
	for _, c := range constraints {
		if submitted.After(c.Start) && submitted.Before(c.End) {
			return true
		}
	}
	return false
}

// ValidateLocation checks the submitted point against the collection's
// geofences. Radius and distance are both meters.
func (e *ConstraintEvaluator) ValidateLocation(collectionID uint, submitted *geospatial.Point) bool {
	var constraints []LocationConstraint
	if err := e.db.Where("collection_id = ?", collectionID).Find(&constraints).Error; err != nil {
		return false
	}
	if len(constraints) == 0 {
		return true
	}
	if submitted == nil {
		return false
	}
	for _, c := range constraints {
		center := geospatial.Point{Latitude: c.Latitude, Longitude: c.Longitude}
		if geospatial.WithinRadius(center, *submitted, c.RadiusMeters) {
			return true
		}
	}
	return false
}
