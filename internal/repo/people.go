package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/cohort-sms/internal/model"
)

var (
	// ErrAlreadyEnrolled is returned by Create when an active record already
	// exists for the same (phone_number, cohort) pair.
	ErrAlreadyEnrolled = errors.New("person already enrolled in cohort")
	ErrNotFound        = errors.New("person not found")
)

// Scope selects the records a query or delete applies to.
type Scope struct {
	cohort string
	all    bool
}

// AllCohorts is the unscoped selection.
func AllCohorts() Scope {
	return Scope{all: true}
}

// InCohort selects records whose cohort equals cohort exactly.
func InCohort(cohort string) Scope {
	return Scope{cohort: cohort}
}

func (s Scope) All() bool      { return s.all }
func (s Scope) Cohort() string { return s.cohort }

func (s Scope) String() string {
	if s.all {
		return "all"
	}
	return s.cohort
}

// PeopleRepository persists enrolled people. Implementations enforce the
// (phone_number, cohort) uniqueness of active records in storage.
type PeopleRepository interface {
	Create(ctx context.Context, p model.Person) (model.Person, error)
	FindOne(ctx context.Context, phoneNumber, cohort string) (model.Person, error)
	FindAllByCohort(ctx context.Context, scope Scope) ([]model.Person, error)
	DeleteByCohort(ctx context.Context, scope Scope) (int64, error)
}

// Purger removes soft-deleted records for good.
type Purger interface {
	PurgeDeleted(ctx context.Context, deletedBefore time.Time) (int64, error)
}

// DeleteMode controls how DeleteByCohort removes records.
type DeleteMode string

const (
	SoftDelete DeleteMode = "soft"
	HardDelete DeleteMode = "hard"
)

func ParseDeleteMode(raw string) (DeleteMode, error) {
	switch DeleteMode(raw) {
	case SoftDelete, HardDelete:
		return DeleteMode(raw), nil
	}
	return "", errors.New("delete mode must be \"soft\" or \"hard\"")
}

func countActive(removed []bool) int64 {
	var n int64
	for _, active := range removed {
		if active {
			n++
		}
	}
	return n
}
