package command

import (
	"fmt"
	"regexp"
	"time"

	"github.com/LeventeLantos/cohort-sms/internal/repo"
)

// CohortLayout is the canonical cohort token format.
const CohortLayout = "2006-01-02"

const allCohorts = "all"

var cohortPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// TodaysCohort returns the cohort token for now in loc.
func TodaysCohort(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).Format(CohortLayout)
}

// ParseCohort turns an admin cohort selector into a repository scope.
// "all" is matched case-insensitively.
func ParseCohort(token string) (repo.Scope, error) {
	if fold(token) == allCohorts {
		return repo.AllCohorts(), nil
	}
	if !cohortPattern.MatchString(token) {
		return repo.Scope{}, fmt.Errorf("invalid cohort %q", token)
	}
	return repo.InCohort(token), nil
}

func cohortLabel(scope repo.Scope) string {
	if scope.All() {
		return "ALL"
	}
	return scope.Cohort()
}
