package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Person is one phone number enrolled in one cohort.
type Person struct {
	ID          string
	PhoneNumber string
	Cohort      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// NewPerson returns a person with a freshly generated id.
func NewPerson(phoneNumber, cohort string) Person {
	return Person{
		ID:          uuid.New().String(),
		PhoneNumber: phoneNumber,
		Cohort:      cohort,
	}
}

func (p Person) Deleted() bool {
	return p.DeletedAt != nil
}

// PhoneNumbers returns the unique phone numbers of people, sorted ascending.
func PhoneNumbers(people []Person) []string {
	seen := make(map[string]struct{}, len(people))
	out := make([]string, 0, len(people))
	for _, p := range people {
		if _, ok := seen[p.PhoneNumber]; ok {
			continue
		}
		seen[p.PhoneNumber] = struct{}{}
		out = append(out, p.PhoneNumber)
	}
	slices.Sort(out)
	return out
}
