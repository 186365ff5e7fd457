package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/course-seat-watch/internal/banner"
)

// courseRef matches a CRN optionally qualified with a term:
// "fall 2024 81234", "2024/fall/81234", "202408/81234" or a bare
// "81234". Separators are whitespace or slashes.
const courseRef = `(?:(fall|autumn|spring|summer)(?:\s+|/)(\d{4,})(?:\s+|/)|` +
	`(\d{4,})(?:\s+|/)(fall|autumn|spring|summer)(?:\s+|/)|(\d{6,})/)?(\d{5})`

// capture group indexes within courseRef
const (
	groupSeasonFirst = 1
	groupYearSecond  = 2
	groupYearFirst   = 3
	groupSeasonLast  = 4
	groupTermCode    = 5
	groupCRN         = 6
)

func command(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^` + pattern + `$`)
}

var (
	cmdLookup     = command(courseRef)
	cmdWatch      = command(`(?:add|watch|start\s+watch(?:ing)?)\s+` + courseRef)
	cmdUnwatch    = command(`(?:remove|delete|unwatch|stop\s+watch(?:ing)?)\s+` + courseRef)
	cmdWatchlist  = command(`(?:my\s+)?(?:watches|watch\s*list|list)`)
	cmdHelp       = command(`(?:help|\?)`)
	cmdDisclaimer = command(`disclaimer`)
	cmdHello      = command(`(?:hello|hi|hey|yo)`)
)

// CommandKind identifies which Normal-state command a message is.
type CommandKind int

const (
	KindInvalid CommandKind = iota
	KindLookup
	KindWatch
	KindUnwatch
	KindWatchlist
	KindHelp
	KindDisclaimer
	KindHello
)

// Command is one parsed Normal-state message. Term and CRN are
// only meaningful for the course-reference kinds; Term is already
// defaulted when the message did not specify one.
type Command struct {
	Kind CommandKind
	Term int
	CRN  int
}

// ParseCommand classifies a trimmed message against the command
// grammar. now anchors the default-term heuristic.
func ParseCommand(text string, now time.Time) Command {
	text = strings.TrimSpace(text)
	switch {
	case cmdHello.MatchString(text):
		return Command{Kind: KindHello}
	case cmdHelp.MatchString(text):
		return Command{Kind: KindHelp}
	case cmdDisclaimer.MatchString(text):
		return Command{Kind: KindDisclaimer}
	case cmdWatchlist.MatchString(text):
		return Command{Kind: KindWatchlist}
	}
	for _, c := range []struct {
		kind CommandKind
		re   *regexp.Regexp
	}{
		{KindWatch, cmdWatch},
		{KindUnwatch, cmdUnwatch},
		{KindLookup, cmdLookup},
	} {
		if m := c.re.FindStringSubmatch(text); m != nil {
			term, crn, ok := courseRefFromMatch(m, now)
			if !ok {
				break
			}
			return Command{Kind: c.kind, Term: term, CRN: crn}
		}
	}
	return Command{Kind: KindInvalid}
}

// courseRefFromMatch extracts (term, crn) from a courseRef match.
// The capture groups sit at the end of every command pattern, so
// they are addressed from the back of the match.
func courseRefFromMatch(m []string, now time.Time) (int, int, bool) {
	base := len(m) - groupCRN - 1
	group := func(i int) string { return m[base+i] }

	crn, err := strconv.Atoi(group(groupCRN))
	if err != nil {
		return 0, 0, false
	}

	if code := group(groupTermCode); code != "" {
		term, err := strconv.Atoi(code)
		if err != nil {
			return 0, 0, false
		}
		return term, crn, true
	}

	season := group(groupSeasonFirst)
	yearStr := group(groupYearSecond)
	if season == "" {
		season = group(groupSeasonLast)
		yearStr = group(groupYearFirst)
	}
	if season == "" || yearStr == "" {
		return banner.DefaultTerm(now), crn, true
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return 0, 0, false
	}
	term, ok := banner.TermForSeason(strings.ToLower(season), year)
	if !ok {
		return 0, 0, false
	}
	return term, crn, true
}
