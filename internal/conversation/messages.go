package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iliyamo/course-seat-watch/internal/banner"
	"github.com/iliyamo/course-seat-watch/internal/model"
	"github.com/iliyamo/course-seat-watch/internal/notify"
)

const msgDisclaimer = "The operator of this bot is not liable for any consequences of using it. " +
	"Your school may not allow automated scripts to watch course availability; " +
	"it is up to you to make sure you are allowed to use such a tool.\n\n" +
	"THE SOFTWARE IS PROVIDED \"AS IS\", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED."

const msgIntroduction = "Hello! I track course seat availability and let you know when to register.\n\n" +
	"First, a disclaimer:\n\n" + msgDisclaimer + "\n\n" +
	"If at any time you'd like to restart the setup process, type `reset`.\n\n" +
	"Let's jump right in. What's your school's website?"

const msgResetConfirmation = "Are you sure you want to reset my state? This clears everything I know " +
	"about you, including every course you're watching; you won't be notified about new seats " +
	"until you finish setup again.\n\nType `reset` again to confirm."

const msgResetDone = "All your records have been cleared. Say anything to start over."

const msgResetCancelled = "You didn't type `reset`. Returning to the previous state."

const msgInvalidSchoolWebsite = "Hmm, that doesn't look like a valid website. I'm looking for " +
	"something like `http://www.gatech.edu/` or just `uga.edu`. Check what your school's " +
	"website is and let me know."

const msgAutodiscoverSuccess = "Awesome! You're all set. Say `watch <CRN>` to start watching a " +
	"course. (Type `help` for a list of commands.)"

const msgBannerAlreadyKnown = "Looks like someone else at your school already entered a valid URL. " +
	"You're ready to go: say `watch <CRN>` to start watching a course. (Type `help` for a list " +
	"of commands.)"

const msgInvalidURL = "Hmm, that URL doesn't look valid. Try again."

const msgURLTestInProgress = "All right, thanks! Give me a moment to test that URL."

const msgURLTestSuccess = "Awesome! I checked that URL and it looks good. Say `watch <CRN>` to " +
	"start watching a course. (Type `help` for a list of commands.)"

const msgURLTestFailed = "Hmm, I checked that URL and didn't find what I expected. Try a different URL."

const msgInvalidCommand = "Sorry, I don't understand what you want me to do.\n\nType `help` for a " +
	"list of commands."

const msgHello = "Hello!\n\nType `help` for a list of commands."

const msgHelp = "Here are the commands you can give me:\n\n" +
	"`<CRN>` fetches the current seating information for that course.\n" +
	"`watch <CRN>`, `add <CRN>`, or `start watching <CRN>` adds the course to your watchlist.\n" +
	"`remove <CRN>`, `delete <CRN>`, `unwatch <CRN>`, or `stop watching <CRN>` removes it.\n" +
	"`list` or `watchlist` shows your current watchlist.\n" +
	"`disclaimer` shows the disclaimer message.\n" +
	"`help` shows this message.\n\n" +
	"The CRN (course reference number) is the five-digit number your school's registration " +
	"system assigns to each section.\n\n" +
	"You can also pin a semester to the CRN. I guess the semester from the current date, but " +
	"`fall 2025 <CRN>`, `202508/<CRN>`, or `2025/fall/<CRN>` all override the guess.\n\n" +
	"To check that notifications work, watch CRN 00000: a test course whose availability " +
	"changes every minute."

const msgCourseNotFound = "Sorry, I couldn't find that course. Please check that the CRN is correct."

const msgLookupFailed = "Sorry, I couldn't reach your school's registration system just now. " +
	"Please try again in a moment."

const msgWatchlistEmpty = "You are not watching any courses.\n\nType `watch <CRN>` to start " +
	"watching a course, or `help` for a list of commands."

const msgCrash = "Sorry! Something went wrong while processing that. If you just entered a " +
	"command it may not have been applied; please try again in a few seconds."

const msgRateLimited = "Easy there! You're sending messages faster than I can handle. Give me a " +
	"few seconds and try again."

const (
	suffixOnWatchlist      = "This course is on your watchlist. You will be notified when its availability changes."
	suffixNotOnWatchlist   = "This course is not on your watchlist. You will not be notified when its availability changes."
	suffixAddedToWatchlist = "This course has been added to your watchlist. I will let you know when its availability changes."
	suffixAlreadyWatching  = "This course is already on your watchlist. I will let you know when its availability changes."
	suffixRemovedFromWatch = "This course has been removed from your watchlist. You will no longer be notified about it."
)

func msgAutodiscoverFailed(domain string, year int) string {
	return fmt.Sprintf("Hmm, unfortunately I haven't heard of `%s`, so I need a little more "+
		"information from you.\n\n"+
		"Your school must be running Ellucian Banner for me to check its courses. Find a page "+
		"on your school's website that lets you `Search by Term`; it will usually say "+
		"`© %d Ellucian Company L.P. and its affiliates.` at the bottom, and its URL will "+
		"contain `bwckschd.p_disp_dyn_sched`. Paste that page's URL into this chat.\n\n"+
		"If you can't find such a page, your school doesn't use Banner and I can't watch your "+
		"courses. My deepest apologies.", domain, year)
}

func msgURLDomainMismatch(got, want string) string {
	return fmt.Sprintf("Hmm, that URL's domain `%s` doesn't match your school `%s`. Try again, "+
		"or type `reset` to start over if you mistyped your school's name.", got, want)
}

// courseInfo renders the seating table shown for every lookup,
// watch and unwatch reply.
func courseInfo(c model.Course, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here is the current seating information for **%s %s** *%s* (CRN %05d, %s):\n\n",
		c.Code, c.Section, c.Name, c.CRN, banner.HumanTerm(c.Term))
	fmt.Fprintf(&b, "*Last updated %s*\n\n", humanize.RelTime(c.UpdatedAt, now, "ago", "from now"))
	b.WriteString("```\n")
	b.WriteString("         |  Capacity  |   Filled   | Available  \n")
	b.WriteString("---------+------------+------------+------------\n")
	fmt.Fprintf(&b, "Seats    | %10d | %10d | %10d \n",
		c.Seats.SeatCap, c.Seats.SeatFilled, c.Seats.SeatRemaining)
	fmt.Fprintf(&b, "Waitlist | %10d | %10d | %10d \n",
		c.Seats.WaitCap, c.Seats.WaitFilled, c.Seats.WaitRemaining)
	b.WriteString("```")
	return b.String()
}

// watchlistEntry renders one line of the `list` reply, switching
// to waitlist numbers when the seats are gone.
func watchlistEntry(c model.Course) string {
	capCount, rem, noun := c.Seats.SeatCap, c.Seats.SeatRemaining, "seat"
	if rem <= 0 && c.Seats.WaitCap > 0 {
		capCount, rem, noun = c.Seats.WaitCap, c.Seats.WaitRemaining, "waitlist spot"
	}
	return fmt.Sprintf("**%s %s** *%s* (CRN %05d, %s): %d/%d %s available",
		c.Code, c.Section, c.Name, c.CRN, banner.HumanTerm(c.Term),
		rem, capCount, notify.Pluralize(noun, capCount))
}

func msgWatchlist(courses []model.Course) string {
	lines := make([]string, 0, len(courses)+1)
	lines = append(lines, fmt.Sprintf("You are currently watching the following %d %s:",
		len(courses), notify.Pluralize("course", len(courses))))
	for _, c := range courses {
		lines = append(lines, watchlistEntry(c))
	}
	return strings.Join(lines, "\n")
}
