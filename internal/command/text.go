package command

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// fold case-folds s for comparisons. A Caser keeps state, so one is made per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

// normalizePhrase trims, collapses inner whitespace and case-folds s.
func normalizePhrase(s string) string {
	return fold(strings.Join(strings.Fields(s), " "))
}

func personCount(n int) string {
	if n == 1 {
		return "1 person"
	}
	return strconv.Itoa(n) + " people"
}

func thereAre(n int) string {
	if n == 1 {
		return "There is 1 person"
	}
	return "There are " + strconv.Itoa(n) + " people"
}
