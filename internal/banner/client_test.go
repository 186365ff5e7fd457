package banner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/iliyamo/course-seat-watch/internal/model"
)

const detailsPage = `<html><body><table>
<tr><th class="ddlabel" scope="row">Data Structures - Honors - 81234 - CS 1332 - A01</th></tr>
<tr><td class="dddefault">Associated Term: Fall 2024</td></tr>
<tr>
<td class="dddefault">60</td>
<td class="dddefault">58</td>
<td class="dddefault">2</td>
<td class="dddefault">10</td>
<td class="dddefault">3</td>
<td class="dddefault">7</td>
</tr>
</table></body></html>`

func TestFetchParsesDetailsPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+detailsPath {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("crn_in"); got != "81234" {
			t.Errorf("crn_in = %q, want %q", got, "81234")
		}
		if got := r.URL.Query().Get("term_in"); got != "202408" {
			t.Errorf("term_in = %q, want %q", got, "202408")
		}
		fmt.Fprint(w, detailsPage)
	}))
	defer srv.Close()

	c := NewClient("", "")
	info, err := c.Fetch(context.Background(), srv.URL+"/", 81234, 202408)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	want := ClassInfo{
		Name:    "Data Structures - Honors",
		CRN:     81234,
		Code:    "CS 1332",
		Section: "A01",
		Seats: model.SeatCount{
			SeatCap:       60,
			SeatFilled:    58,
			SeatRemaining: 2,
			WaitCap:       10,
			WaitFilled:    3,
			WaitRemaining: 7,
		},
	}
	if !reflect.DeepEqual(info, want) {
		t.Errorf("Fetch = %+v, want %+v", info, want)
	}
}

func TestFetchUnknownCRN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><table><tr><td class="dddefault">No classes were found.</td></tr></table></body></html>`)
	}))
	defer srv.Close()

	c := NewClient("", "")
	_, err := c.Fetch(context.Background(), srv.URL+"/", 99999, 202408)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch = %v, want ErrNotFound", err)
	}
}

func TestFetchTestCRN(t *testing.T) {
	c := NewClient("", "")
	c.now = func() time.Time {
		return time.Date(2024, time.October, 1, 12, 37, 0, 0, time.UTC)
	}
	info, err := c.Fetch(context.Background(), "", TestCRN, 202408)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	want := model.SeatCount{
		SeatCap:       60,
		SeatFilled:    37,
		SeatRemaining: 23,
		WaitCap:       60,
		WaitFilled:    23,
		WaitRemaining: 37,
	}
	if info.Seats != want {
		t.Errorf("test course seats = %+v, want %+v", info.Seats, want)
	}
	if info.CRN != TestCRN {
		t.Errorf("test course CRN = %d, want %d", info.CRN, TestCRN)
	}
}

func TestProbe(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+testPath {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "<html>Dynamic Schedule</html>")
	}))
	defer ok.Close()

	redirecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer redirecting.Close()

	c := NewClient("", "")
	if !c.Probe(context.Background(), ok.URL+"/") {
		t.Error("Probe should accept a page answering 200")
	}
	if c.Probe(context.Background(), redirecting.URL+"/") {
		t.Error("Probe should reject a redirecting page")
	}
	if c.Probe(context.Background(), "http://127.0.0.1:1/") {
		t.Error("Probe should reject an unreachable host")
	}
}

func TestDiscoverWithoutCredentials(t *testing.T) {
	c := NewClient("", "")
	if base, found := c.Discover(context.Background(), "gatech.edu"); found {
		t.Errorf("Discover without credentials returned %q", base)
	}
}

func TestBaseOf(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://oscar.gatech.edu/pls/bprod/bwckschd.p_disp_dyn_sched?term=202408",
			"https://oscar.gatech.edu/pls/bprod/"},
		{"https://example.edu/banner/bwckschd.p_disp_dyn_sched#top",
			"https://example.edu/banner/"},
		{"https://example.edu", "https://example.edu/"},
	}
	for _, c := range cases {
		got, err := BaseOf(c.in)
		if err != nil {
			t.Errorf("BaseOf(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("BaseOf(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRSplitN(t *testing.T) {
	got := rsplitN("A - B - C - D - E", " - ", 4)
	want := []string{"A - B", "C", "D", "E"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("rsplitN = %v, want %v", got, want)
	}

	got = rsplitN("no separator", " - ", 4)
	if !reflect.DeepEqual(got, []string{"no separator"}) {
		t.Errorf("rsplitN = %v, want single part", got)
	}
}
