package banner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/iliyamo/course-seat-watch/internal/model"
)

const (
	// testPath exists on every Banner installation; its presence is
	// how both Probe and Discover recognize one.
	testPath    = "bwckschd.p_disp_dyn_sched"
	detailsPath = "bwckschd.p_disp_detail_sched"

	customSearchURL = "https://www.googleapis.com/customsearch/v1"

	defaultTimeout = 20 * time.Second
)

// ErrNotFound is returned when Banner has no section for the
// requested CRN and term.
var ErrNotFound = errors.New("course not found")

// TestCRN is a reserved CRN answered synthetically, with seat
// counts derived from the current minute. Watching it exercises
// the whole notification path without touching a real school.
const TestCRN = 0

const (
	testCourseName    = "Test Course (changes every minute)"
	testCourseCode    = "TEST 0000"
	testCourseSection = "0"
)

// ClassInfo is one scraped seat-count record.
type ClassInfo struct {
	Name    string
	CRN     int
	Code    string
	Section string
	Seats   model.SeatCount
}

// Client fetches seat data over HTTP. The zero value is not
// usable; construct with NewClient.
type Client struct {
	http   *http.Client
	apiKey string
	cseID  string
	now    func() time.Time
}

// NewClient returns a Client. apiKey and cseID credential the
// Google Custom Search API used by Discover; they may be empty, in
// which case Discover always reports absence.
func NewClient(apiKey, cseID string) *Client {
	return &Client{
		http:   &http.Client{Timeout: defaultTimeout},
		apiKey: apiKey,
		cseID:  cseID,
		now:    time.Now,
	}
}

// Fetch retrieves and parses the class details page for one CRN.
// Returns ErrNotFound when Banner does not know the section; any
// other error is a transient fetch or parse failure and the caller
// keeps whatever it had cached.
func (c *Client) Fetch(ctx context.Context, baseURL string, crn, term int) (ClassInfo, error) {
	if crn == TestCRN {
		minute := c.now().Minute()
		return ClassInfo{
			Name:    testCourseName,
			CRN:     TestCRN,
			Code:    testCourseCode,
			Section: testCourseSection,
			Seats: model.SeatCount{
				SeatCap:       60,
				SeatFilled:    minute,
				SeatRemaining: 60 - minute,
				WaitCap:       60,
				WaitFilled:    60 - minute,
				WaitRemaining: minute,
			},
		}, nil
	}

	u, err := joinPath(baseURL, detailsPath)
	if err != nil {
		return ClassInfo{}, fmt.Errorf("bad banner base URL %q: %w", baseURL, err)
	}
	q := url.Values{}
	q.Set("term_in", strconv.Itoa(term))
	q.Set("crn_in", fmt.Sprintf("%05d", crn))
	u += "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return ClassInfo{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return ClassInfo{}, fmt.Errorf("fetch class details: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ClassInfo{}, fmt.Errorf("fetch class details: unexpected status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return ClassInfo{}, fmt.Errorf("parse class details: %w", err)
	}
	return parseDetails(doc)
}

// parseDetails pulls the section header and the six seat counters
// out of the details page. The header cell (class "ddlabel") reads
// "Title - CRN - Code - Section"; the title itself may contain
// " - ", so it is split from the right. The first six "dddefault"
// cells after the header hold capacity/actual/remaining for seats
// and then the waitlist.
func parseDetails(doc *html.Node) (ClassInfo, error) {
	label := findByClass(doc, "ddlabel")
	if label == nil {
		return ClassInfo{}, ErrNotFound
	}
	parts := rsplitN(strings.TrimSpace(text(label)), " - ", 4)
	if len(parts) != 4 {
		return ClassInfo{}, fmt.Errorf("unexpected section header %q", text(label))
	}
	crn, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return ClassInfo{}, fmt.Errorf("bad CRN in section header: %w", err)
	}

	cells := findAllByClass(doc, "dddefault")
	if len(cells) < 7 {
		return ClassInfo{}, fmt.Errorf("expected at least 7 seat cells, found %d", len(cells))
	}
	var counts [6]int
	for i := 0; i < 6; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(text(cells[i+1])))
		if err != nil {
			return ClassInfo{}, fmt.Errorf("bad seat counter: %w", err)
		}
		counts[i] = n
	}

	return ClassInfo{
		Name:    parts[0],
		CRN:     crn,
		Code:    parts[2],
		Section: parts[3],
		Seats: model.SeatCount{
			SeatCap:       counts[0],
			SeatFilled:    counts[1],
			SeatRemaining: counts[2],
			WaitCap:       counts[3],
			WaitFilled:    counts[4],
			WaitRemaining: counts[5],
		},
	}, nil
}

// Probe reports whether the URL behaves like a Banner base URL:
// the dynamic schedule page must answer 200 without redirecting.
func (c *Client) Probe(ctx context.Context, baseURL string) bool {
	u, err := joinPath(baseURL, testPath)
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}
	client := &http.Client{
		Timeout: c.http.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Discover asks Google Custom Search for a Banner page on the
// school's domain and derives the base URL from the first hit.
// Best effort: any failure is reported as absence, never an error.
func (c *Client) Discover(ctx context.Context, schoolDomain string) (string, bool) {
	if c.apiKey == "" || c.cseID == "" {
		return "", false
	}
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("cx", c.cseID)
	q.Set("q", "inurl:"+testPath)
	q.Set("siteSearch", schoolDomain)
	q.Set("num", "1")
	q.Set("fields", "items/link")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, customSearchURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var result struct {
		Items []struct {
			Link string `json:"link"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", false
	}
	if len(result.Items) == 0 || result.Items[0].Link == "" {
		return "", false
	}
	base, err := BaseOf(result.Items[0].Link)
	if err != nil {
		return "", false
	}
	return base, true
}

// BaseOf strips a URL down to the directory containing its path,
// dropping query and fragment: the Banner base URL of any page on
// the instance.
func BaseOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.RawQuery = ""
	u.Fragment = ""
	if i := strings.LastIndex(u.Path, "/"); i >= 0 {
		u.Path = u.Path[:i+1]
	} else {
		u.Path = "/"
	}
	return u.String(), nil
}

func joinPath(base, p string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(p)
	if err != nil {
		return "", err
	}
	return u.ResolveReference(ref).String(), nil
}

// text returns the concatenated text content of a node.
func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func hasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func findByClass(n *html.Node, class string) *html.Node {
	if hasClass(n, class) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByClass(c, class); found != nil {
			return found
		}
	}
	return nil
}

func findAllByClass(n *html.Node, class string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if hasClass(n, class) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// rsplitN splits from the right into at most n parts.
func rsplitN(s, sep string, n int) []string {
	var tail []string
	for len(tail) < n-1 {
		i := strings.LastIndex(s, sep)
		if i < 0 {
			break
		}
		tail = append([]string{s[i+len(sep):]}, tail...)
		s = s[:i]
	}
	return append([]string{s}, tail...)
}
