package conversation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/course-seat-watch/internal/banner"
	"github.com/iliyamo/course-seat-watch/internal/model"
	"github.com/iliyamo/course-seat-watch/internal/repository"
	"github.com/iliyamo/course-seat-watch/internal/seatcache"
)

// The fakes below share an event log so tests can assert ordering,
// in particular that state changes are persisted before replies go
// out.

type fixture struct {
	mu     sync.Mutex
	events []string

	users    map[string]*model.User
	schools  map[uint64]*model.School
	watches  map[uint64]map[uint64]bool // userID -> courseID set
	courses  map[uint64][]model.Course  // per user, for list replies
	nextID   uint64
	course   model.Course
	fetchErr error

	discoverURL   string
	discoverFound bool
	probeOK       bool

	allow bool
}

func newFixture() *fixture {
	return &fixture{
		users:   make(map[string]*model.User),
		schools: make(map[uint64]*model.School),
		watches: make(map[uint64]map[uint64]bool),
		courses: make(map[uint64][]model.Course),
		probeOK: true,
		allow:   true,
		course: model.Course{
			ID: 7, SchoolID: 1, Term: 202408, CRN: 81234,
			Name: "Data Structures", Code: "CS 1332", Section: "A01",
			Seats:     model.SeatCount{SeatCap: 60, SeatFilled: 58, SeatRemaining: 2, WaitCap: 10, WaitFilled: 3, WaitRemaining: 7},
			UpdatedAt: time.Date(2024, time.March, 15, 9, 59, 0, 0, time.UTC),
		},
	}
}

func (f *fixture) log(ev string) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fixture) logged() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// UserStore

func (f *fixture) GetByExternalID(ctx context.Context, externalID string) (repository.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[externalID]
	if !ok {
		return repository.Profile{}, repository.ErrNotFound
	}
	p := repository.Profile{User: *u}
	if u.SchoolID != nil {
		if s, ok := f.schools[*u.SchoolID]; ok {
			p.SchoolName = &s.Name
			p.BannerBaseURL = s.BannerBaseURL
		}
	}
	return p, nil
}

func (f *fixture) Create(ctx context.Context, externalID string, state int) (uint64, error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.users[externalID] = &model.User{ID: id, ExternalID: externalID, State: state}
	f.mu.Unlock()
	f.log(fmt.Sprintf("create:%d", state))
	return id, nil
}

func (f *fixture) SetSchool(ctx context.Context, userID, schoolID uint64) error {
	f.mu.Lock()
	for _, u := range f.users {
		if u.ID == userID {
			id := schoolID
			u.SchoolID = &id
		}
	}
	f.mu.Unlock()
	f.log(fmt.Sprintf("setschool:%d", schoolID))
	return nil
}

func (f *fixture) SetState(ctx context.Context, userID uint64, state int) error {
	f.mu.Lock()
	for _, u := range f.users {
		if u.ID == userID {
			u.State = state
		}
	}
	f.mu.Unlock()
	f.log(fmt.Sprintf("setstate:%d", state))
	return nil
}

func (f *fixture) Reset(ctx context.Context, userID uint64) error {
	f.mu.Lock()
	for ext, u := range f.users {
		if u.ID == userID {
			delete(f.users, ext)
		}
	}
	delete(f.watches, userID)
	f.mu.Unlock()
	f.log("reset")
	return nil
}

// SchoolStore

func (f *fixture) Ensure(ctx context.Context, name string) (model.School, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.schools {
		if s.Name == name {
			return *s, nil
		}
	}
	f.nextID++
	s := &model.School{ID: f.nextID, Name: name}
	f.schools[s.ID] = s
	return *s, nil
}

func (f *fixture) Get(ctx context.Context, id uint64) (model.School, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schools[id]
	if !ok {
		return model.School{}, repository.ErrNotFound
	}
	return *s, nil
}

func (f *fixture) SetBannerURL(ctx context.Context, id uint64, url string) error {
	f.mu.Lock()
	if s, ok := f.schools[id]; ok {
		s.BannerBaseURL = &url
	}
	f.mu.Unlock()
	f.log("setbannerurl:" + url)
	return nil
}

func (f *fixture) MarkAutodetectFailed(ctx context.Context, id uint64) error {
	f.mu.Lock()
	if s, ok := f.schools[id]; ok {
		s.AutodetectFailed = true
	}
	f.mu.Unlock()
	f.log("autodetectfailed")
	return nil
}

// WatchStore

func (f *fixture) watchGet(userID, courseID uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watches[userID][courseID]
}

func (f *fixture) GetWatch(ctx context.Context, userID, courseID uint64) (model.WatchEntry, error) {
	if !f.watchGet(userID, courseID) {
		return model.WatchEntry{}, repository.ErrNotFound
	}
	return model.WatchEntry{UserID: userID, CourseID: courseID}, nil
}

func (f *fixture) Add(ctx context.Context, userID, courseID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watches[userID] == nil {
		f.watches[userID] = make(map[uint64]bool)
	}
	if f.watches[userID][courseID] {
		return false, nil
	}
	f.watches[userID][courseID] = true
	return true, nil
}

func (f *fixture) Remove(ctx context.Context, userID, courseID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.watches[userID][courseID] {
		return false, nil
	}
	delete(f.watches[userID], courseID)
	return true, nil
}

func (f *fixture) ListCoursesByUser(ctx context.Context, userID uint64) ([]model.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.courses[userID], nil
}

// SeatSource

func (f *fixture) GetOrRefresh(ctx context.Context, ref seatcache.Ref, maxAge time.Duration, force bool) (seatcache.Result, error) {
	if f.fetchErr != nil {
		return seatcache.Result{}, f.fetchErr
	}
	return seatcache.Result{Course: f.course, Status: seatcache.Unchanged}, nil
}

// BannerService

func (f *fixture) Discover(ctx context.Context, schoolDomain string) (string, bool) {
	f.log("discover:" + schoolDomain)
	return f.discoverURL, f.discoverFound
}

func (f *fixture) Probe(ctx context.Context, baseURL string) bool {
	f.log("probe:" + baseURL)
	return f.probeOK
}

// Limiter

func (f *fixture) Allow(ctx context.Context, key string) (bool, error) {
	return f.allow, nil
}

// Sender

type sentMessage struct {
	ID   string
	Text string
}

type fakeSender struct {
	mu    sync.Mutex
	f     *fixture
	sent  []sentMessage
	edits map[string]string
}

func (s *fakeSender) Send(ctx context.Context, externalID, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("m%d", len(s.sent)+1)
	s.sent = append(s.sent, sentMessage{ID: id, Text: text})
	s.f.log("send")
	return id, nil
}

func (s *fakeSender) Edit(ctx context.Context, externalID, messageID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edits == nil {
		s.edits = make(map[string]string)
	}
	s.edits[messageID] = text
	s.f.log("edit")
	return nil
}

func (s *fakeSender) last(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("no message was sent")
	}
	return s.sent[len(s.sent)-1].Text
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// watchAdapter maps the fixture's GetWatch onto the WatchStore
// interface, whose Get collides with SchoolStore's.
type watchAdapter struct{ *fixture }

func (w watchAdapter) Get(ctx context.Context, userID, courseID uint64) (model.WatchEntry, error) {
	return w.GetWatch(ctx, userID, courseID)
}

func newTestEngine(f *fixture) (*Engine, *fakeSender) {
	sender := &fakeSender{f: f}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(f, f, watchAdapter{f}, f, f, sender, f, 30*time.Second, logger)
	e.now = func() time.Time { return time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC) }
	return e, sender
}

// step feeds one message through a session synchronously.
func step(t *testing.T, e *Engine, externalID, text string) {
	t.Helper()
	s := &session{engine: e, externalID: externalID}
	if err := s.process(context.Background(), text); err != nil {
		t.Fatalf("process(%q): %v", text, err)
	}
}

func userState(t *testing.T, f *fixture, externalID string) State {
	t.Helper()
	f.mu.Lock()
	u, ok := f.users[externalID]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("user %q does not exist", externalID)
	}
	st, err := DecodeState(u.State)
	if err != nil {
		t.Fatalf("stored state invalid: %v", err)
	}
	return st
}

func TestFirstMessageCreatesUserAndIntroduces(t *testing.T) {
	f := newFixture()
	e, sender := newTestEngine(f)

	step(t, e, "u1", "hey there")

	if got := userState(t, f, "u1"); got.Base != SchoolNameRequest {
		t.Errorf("state = %+v, want SchoolNameRequest", got)
	}
	if sender.last(t) != msgIntroduction {
		t.Errorf("reply = %q, want introduction", sender.last(t))
	}
	// The row must exist before the introduction goes out.
	events := f.logged()
	if len(events) < 2 || events[0] != fmt.Sprintf("create:%d", State{Base: SchoolNameRequest}.Encode()) || events[1] != "send" {
		t.Errorf("event order = %v", events)
	}
}

func TestSchoolSetupWithAutodiscovery(t *testing.T) {
	f := newFixture()
	f.discoverURL = "https://oscar.gatech.edu/pls/bprod/"
	f.discoverFound = true
	e, sender := newTestEngine(f)

	step(t, e, "u1", "hi")
	step(t, e, "u1", "http://www.gatech.edu/")

	if got := userState(t, f, "u1"); got.Base != Normal {
		t.Errorf("state = %+v, want Normal", got)
	}
	if sender.last(t) != msgAutodiscoverSuccess {
		t.Errorf("reply = %q", sender.last(t))
	}

	events := f.logged()
	var sawDiscover, sawURL bool
	for _, ev := range events {
		if ev == "discover:gatech.edu" {
			sawDiscover = true
		}
		if ev == "setbannerurl:https://oscar.gatech.edu/pls/bprod/" {
			sawURL = true
		}
	}
	if !sawDiscover || !sawURL {
		t.Errorf("events = %v", events)
	}
}

func TestSchoolSetupAutodiscoveryFails(t *testing.T) {
	f := newFixture()
	e, sender := newTestEngine(f)

	step(t, e, "u1", "hi")
	step(t, e, "u1", "gatech.edu")

	if got := userState(t, f, "u1"); got.Base != BannerURLRequest {
		t.Errorf("state = %+v, want BannerURLRequest", got)
	}
	if !strings.Contains(sender.last(t), "I haven't heard of `gatech.edu`") {
		t.Errorf("reply = %q", sender.last(t))
	}

	f.mu.Lock()
	var latched bool
	for _, s := range f.schools {
		if s.Name == "gatech.edu" && s.AutodetectFailed {
			latched = true
		}
	}
	f.mu.Unlock()
	if !latched {
		t.Error("school should be marked autodetect-failed")
	}
}

func TestAutodiscoveryNotRepeatedOnceLatched(t *testing.T) {
	f := newFixture()
	e, _ := newTestEngine(f)

	step(t, e, "u1", "hi")
	step(t, e, "u1", "gatech.edu")
	// A second user of the same school must not trigger another
	// discovery call.
	step(t, e, "u2", "hi")
	step(t, e, "u2", "gatech.edu")

	var discoveries int
	for _, ev := range f.logged() {
		if strings.HasPrefix(ev, "discover:") {
			discoveries++
		}
	}
	if discoveries != 1 {
		t.Errorf("discovery ran %d times, want 1", discoveries)
	}
	if got := userState(t, f, "u2"); got.Base != BannerURLRequest {
		t.Errorf("u2 state = %+v, want BannerURLRequest", got)
	}
}

func TestInvalidSchoolWebsite(t *testing.T) {
	f := newFixture()
	e, sender := newTestEngine(f)

	step(t, e, "u1", "hi")
	step(t, e, "u1", "not a website")

	if sender.last(t) != msgInvalidSchoolWebsite {
		t.Errorf("reply = %q", sender.last(t))
	}
	if got := userState(t, f, "u1"); got.Base != SchoolNameRequest {
		t.Errorf("state = %+v, want SchoolNameRequest", got)
	}
}

func TestManualBannerURL(t *testing.T) {
	f := newFixture()
	e, sender := newTestEngine(f)

	step(t, e, "u1", "hi")
	step(t, e, "u1", "gatech.edu")
	step(t, e, "u1", "https://oscar.gatech.edu/pls/bprod/bwckschd.p_disp_dyn_sched")

	if got := userState(t, f, "u1"); got.Base != Normal {
		t.Errorf("state = %+v, want Normal", got)
	}
	// The progress message is edited in place with the result.
	sender.mu.Lock()
	progress := sender.sent[len(sender.sent)-1]
	edit := sender.edits[progress.ID]
	sender.mu.Unlock()
	if progress.Text != msgURLTestInProgress {
		t.Errorf("progress message = %q", progress.Text)
	}
	if edit != msgURLTestSuccess {
		t.Errorf("edited result = %q, want success", edit)
	}
}

func TestManualBannerURLProbeFails(t *testing.T) {
	f := newFixture()
	f.probeOK = false
	e, sender := newTestEngine(f)

	step(t, e, "u1", "hi")
	step(t, e, "u1", "gatech.edu")
	step(t, e, "u1", "https://oscar.gatech.edu/pls/bprod/somepage")

	if got := userState(t, f, "u1"); got.Base != BannerURLRequest {
		t.Errorf("state = %+v, want BannerURLRequest", got)
	}
	sender.mu.Lock()
	progress := sender.sent[len(sender.sent)-1]
	edit := sender.edits[progress.ID]
	sender.mu.Unlock()
	if edit != msgURLTestFailed {
		t.Errorf("edited result = %q, want failure", edit)
	}
}

func TestManualBannerURLDomainMismatch(t *testing.T) {
	f := newFixture()
	e, sender := newTestEngine(f)

	step(t, e, "u1", "hi")
	step(t, e, "u1", "gatech.edu")
	step(t, e, "u1", "https://banner.uga.edu/pls/bprod/page")

	if !strings.Contains(sender.last(t), "`uga.edu`") {
		t.Errorf("reply = %q", sender.last(t))
	}
	if got := userState(t, f, "u1"); got.Base != BannerURLRequest {
		t.Errorf("state = %+v, want BannerURLRequest", got)
	}
}

func TestBannerURLAdoptedFromAnotherUser(t *testing.T) {
	f := newFixture()
	e, sender := newTestEngine(f)

	step(t, e, "u1", "hi")
	step(t, e, "u1", "gatech.edu")
	// Someone else resolves the URL while u1 waits in the URL state.
	f.mu.Lock()
	for _, s := range f.schools {
		url := "https://oscar.gatech.edu/pls/bprod/"
		s.BannerBaseURL = &url
	}
	f.mu.Unlock()

	step(t, e, "u1", "anything")

	if got := userState(t, f, "u1"); got.Base != Normal {
		t.Errorf("state = %+v, want Normal", got)
	}
	if sender.last(t) != msgBannerAlreadyKnown {
		t.Errorf("reply = %q", sender.last(t))
	}
}

func setupNormalUser(t *testing.T, f *fixture, e *Engine, externalID string) {
	t.Helper()
	f.discoverURL = "https://oscar.gatech.edu/pls/bprod/"
	f.discoverFound = true
	step(t, e, externalID, "hi")
	step(t, e, externalID, "gatech.edu")
	if got := userState(t, f, externalID); got.Base != Normal {
		t.Fatalf("setup left state %+v", got)
	}
}

func TestLookupCommand(t *testing.T) {
	f := newFixture()
	e, sender := newTestEngine(f)
	setupNormalUser(t, f, e, "u1")

	step(t, e, "u1", "81234")

	reply := sender.last(t)
	if !strings.Contains(reply, "CS 1332") || !strings.Contains(reply, "CRN 81234") {
		t.Errorf("reply = %q", reply)
	}
	if !strings.HasSuffix(reply, suffixNotOnWatchlist) {
		t.Errorf("reply should end with the not-watching suffix, got %q", reply)
	}
}

func TestWatchAndUnwatch(t *testing.T) {
	f := newFixture()
	e, sender := newTestEngine(f)
	setupNormalUser(t, f, e, "u1")

	step(t, e, "u1", "watch 81234")
	if !strings.HasSuffix(sender.last(t), suffixAddedToWatchlist) {
		t.Errorf("reply = %q", sender.last(t))
	}

	// Watching again is a no-op with a distinct reply.
	step(t, e, "u1", "watch 81234")
	if !strings.HasSuffix(sender.last(t), suffixAlreadyWatching) {
		t.Errorf("reply = %q", sender.last(t))
	}

	step(t, e, "u1", "81234")
	if !strings.HasSuffix(sender.last(t), suffixOnWatchlist) {
		t.Errorf("reply = %q", sender.last(t))
	}

	step(t, e, "u1", "unwatch 81234")
	if !strings.HasSuffix(sender.last(t), suffixRemovedFromWatch) {
		t.Errorf("reply = %q", sender.last(t))
	}

	step(t, e, "u1", "unwatch 81234")
	if !strings.HasSuffix(sender.last(t), suffixNotOnWatchlist) {
		t.Errorf("reply = %q", sender.last(t))
	}
}

func TestCourseNotFound(t *testing.T) {
	f := newFixture()
	e, sender := newTestEngine(f)
	setupNormalUser(t, f, e, "u1")

	f.fetchErr = banner.ErrNotFound
	step(t, e, "u1", "99999")
	if sender.last(t) != msgCourseNotFound {
		t.Errorf("reply = %q", sender.last(t))
	}
}

func TestTransientLookupFailure(t *testing.T) {
	f := newFixture()
	e, sender := newTestEngine(f)
	setupNormalUser(t, f, e, "u1")

	f.fetchErr = fmt.Errorf("connection refused")
	step(t, e, "u1", "81234")
	if sender.last(t) != msgLookupFailed {
		t.Errorf("reply = %q", sender.last(t))
	}
}

func TestEmptyWatchlist(t *testing.T) {
	f := newFixture()
	e, sender := newTestEngine(f)
	setupNormalUser(t, f, e, "u1")

	step(t, e, "u1", "list")
	if sender.last(t) != msgWatchlistEmpty {
		t.Errorf("reply = %q", sender.last(t))
	}
}

func TestResetConfirmAndCancel(t *testing.T) {
	f := newFixture()
	e, sender := newTestEngine(f)
	setupNormalUser(t, f, e, "u1")

	step(t, e, "u1", "reset")
	if sender.last(t) != msgResetConfirmation {
		t.Errorf("reply = %q", sender.last(t))
	}
	if got := userState(t, f, "u1"); !got.ResetPending || got.Base != Normal {
		t.Errorf("state = %+v, want Normal with reset pending", got)
	}

	// Anything but the keyword cancels and is not treated as a
	// command.
	step(t, e, "u1", "watch 81234")
	if sender.last(t) != msgResetCancelled {
		t.Errorf("reply = %q", sender.last(t))
	}
	if got := userState(t, f, "u1"); got.ResetPending {
		t.Errorf("reset still pending after cancel")
	}
	if f.watchGet(1, 7) {
		t.Error("cancelling message must not run as a command")
	}

	// Confirming deletes everything.
	step(t, e, "u1", "reset")
	step(t, e, "u1", "RESET")
	if sender.last(t) != msgResetDone {
		t.Errorf("reply = %q", sender.last(t))
	}
	f.mu.Lock()
	_, exists := f.users["u1"]
	f.mu.Unlock()
	if exists {
		t.Error("user row should be gone after reset")
	}
}

func TestRateLimitedMessage(t *testing.T) {
	f := newFixture()
	f.allow = false
	e, sender := newTestEngine(f)

	step(t, e, "u1", "hi")
	if sender.last(t) != msgRateLimited {
		t.Errorf("reply = %q", sender.last(t))
	}
	f.mu.Lock()
	_, created := f.users["u1"]
	f.mu.Unlock()
	if created {
		t.Error("rate-limited message must not create a user")
	}
}

func TestHandleMessageProcessesInOrder(t *testing.T) {
	f := newFixture()
	f.discoverURL = "https://oscar.gatech.edu/pls/bprod/"
	f.discoverFound = true
	e, sender := newTestEngine(f)

	e.HandleMessage("u1", "hi")
	e.HandleMessage("u1", "gatech.edu")
	e.HandleMessage("u1", "watch 81234")

	deadline := time.Now().Add(5 * time.Second)
	for sender.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d replies arrived", sender.count())
		}
		time.Sleep(10 * time.Millisecond)
	}

	sender.mu.Lock()
	texts := []string{sender.sent[0].Text, sender.sent[1].Text, sender.sent[2].Text}
	sender.mu.Unlock()
	if texts[0] != msgIntroduction {
		t.Errorf("first reply = %q", texts[0])
	}
	if texts[1] != msgAutodiscoverSuccess {
		t.Errorf("second reply = %q", texts[1])
	}
	if !strings.HasSuffix(texts[2], suffixAddedToWatchlist) {
		t.Errorf("third reply = %q", texts[2])
	}
}

func TestSchoolDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"www.gatech.edu", "gatech.edu", true},
		{"http://www.gatech.edu/", "gatech.edu", true},
		{"https://oscar.gatech.edu/pls/bprod/page?x=1", "gatech.edu", true},
		{"UGA.EDU", "uga.edu", true},
		{"gatech.edu:8080", "gatech.edu", true},
		{"gatech.edu.", "gatech.edu", true},
		{"edu", "", false},
		{"not a website", "", false},
		{"", "", false},
		{"localhost", "", false},
	}
	for _, c := range cases {
		got, ok := schoolDomain(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("schoolDomain(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}
