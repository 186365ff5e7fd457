// Package banner talks to an Ellucian Banner instance: it scrapes
// seat counts from the class details page, probes candidate base
// URLs, and autodiscovers Banner installations through the Google
// Custom Search API.
package banner

import (
	"fmt"
	"time"
)

// Term codes follow Banner's year*100+month convention: spring
// starts in February, summer in May, fall in August.
const (
	monthSpring = 2
	monthSummer = 5
	monthFall   = 8
)

var seasonMonths = map[string]int{
	"spring": monthSpring,
	"summer": monthSummer,
	"fall":   monthFall,
	"autumn": monthFall,
}

var seasonNames = map[int]string{
	monthSpring: "spring",
	monthSummer: "summer",
	monthFall:   "fall",
}

// TermForSeason converts a season word and year into a term code.
// The boolean reports whether the season word is known.
func TermForSeason(season string, year int) (int, bool) {
	m, ok := seasonMonths[season]
	if !ok {
		return 0, false
	}
	return year*100 + m, true
}

// HumanTerm renders a term code for display, e.g. "fall 2024".
func HumanTerm(term int) string {
	season, ok := seasonNames[term%100]
	if !ok {
		season = "(invalid term)"
	}
	return fmt.Sprintf("%s %d", season, term/100)
}

// DefaultTerm guesses the term a user most likely means: the
// nearest of February this year, August this year, or February
// next year that is not already in the past, relative to now in
// UTC.
func DefaultTerm(now time.Time) int {
	now = now.UTC()
	candidates := []time.Time{
		time.Date(now.Year(), time.February, 1, 0, 0, 0, 0, time.UTC),
		time.Date(now.Year(), time.August, 1, 0, 0, 0, 0, time.UTC),
		time.Date(now.Year()+1, time.February, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, t := range candidates {
		if !t.Before(now) {
			return t.Year()*100 + int(t.Month())
		}
	}
	// Unreachable: next February is always ahead of now.
	return candidates[2].Year()*100 + int(candidates[2].Month())
}
