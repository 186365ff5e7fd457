// Package conversation runs the per-user state machine that turns
// chat messages into lookups, watch-list changes and setup steps.
// Messages from one user are processed strictly one at a time;
// different users run fully concurrently.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/iliyamo/course-seat-watch/internal/banner"
	"github.com/iliyamo/course-seat-watch/internal/model"
	"github.com/iliyamo/course-seat-watch/internal/repository"
	"github.com/iliyamo/course-seat-watch/internal/seatcache"
)

const resetKeyword = "reset"

const (
	sessionQueueSize = 32
	sessionIdleAfter = 10 * time.Minute
	messageTimeout   = 45 * time.Second
)

// UserStore is the slice of the user repository the engine needs.
type UserStore interface {
	GetByExternalID(ctx context.Context, externalID string) (repository.Profile, error)
	Create(ctx context.Context, externalID string, state int) (uint64, error)
	SetSchool(ctx context.Context, userID, schoolID uint64) error
	SetState(ctx context.Context, userID uint64, state int) error
	Reset(ctx context.Context, userID uint64) error
}

// SchoolStore manages school rows and their Banner URLs.
type SchoolStore interface {
	Ensure(ctx context.Context, name string) (model.School, error)
	Get(ctx context.Context, id uint64) (model.School, error)
	SetBannerURL(ctx context.Context, id uint64, url string) error
	MarkAutodetectFailed(ctx context.Context, id uint64) error
}

// WatchStore manages the user's watch entries.
type WatchStore interface {
	Get(ctx context.Context, userID, courseID uint64) (model.WatchEntry, error)
	Add(ctx context.Context, userID, courseID uint64) (bool, error)
	Remove(ctx context.Context, userID, courseID uint64) (bool, error)
	ListCoursesByUser(ctx context.Context, userID uint64) ([]model.Course, error)
}

// SeatSource serves seat snapshots, refreshing stale ones.
type SeatSource interface {
	GetOrRefresh(ctx context.Context, ref seatcache.Ref, maxAge time.Duration, force bool) (seatcache.Result, error)
}

// BannerService covers URL autodiscovery and probing during setup.
type BannerService interface {
	Discover(ctx context.Context, schoolDomain string) (string, bool)
	Probe(ctx context.Context, baseURL string) bool
}

// Sender delivers replies. Send returns a message handle usable
// with Edit.
type Sender interface {
	Send(ctx context.Context, externalID, text string) (string, error)
	Edit(ctx context.Context, externalID, messageID, text string) error
}

// Limiter throttles inbound messages per user. Nil disables
// throttling.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Engine owns one session per active user. Sessions are created
// on first message and reaped after a period of inactivity; all
// durable state lives in the stores, so reaping a session loses
// nothing.
type Engine struct {
	users   UserStore
	schools SchoolStore
	watches WatchStore
	cache   SeatSource
	banner  BannerService
	sender  Sender
	limiter Limiter
	maxAge  time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewEngine wires the engine. maxAge is how stale a cached seat
// snapshot may be before a user-initiated lookup refreshes it.
func NewEngine(users UserStore, schools SchoolStore, watches WatchStore, cache SeatSource,
	bannerSvc BannerService, sender Sender, limiter Limiter, maxAge time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		users:    users,
		schools:  schools,
		watches:  watches,
		cache:    cache,
		banner:   bannerSvc,
		sender:   sender,
		limiter:  limiter,
		maxAge:   maxAge,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// HandleMessage enqueues one inbound message for its user's
// session, creating the session if needed. It never blocks: when
// a user floods their queue faster than their messages can be
// processed, the overflow is dropped and logged.
func (e *Engine) HandleMessage(externalID, content string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessions[externalID]
	if s == nil || s.closed {
		s = &session{
			engine:     e,
			externalID: externalID,
			inbox:      make(chan string, sessionQueueSize),
		}
		e.sessions[externalID] = s
		go s.run()
	}
	select {
	case s.inbox <- content:
	default:
		e.logger.Warn("conversation: inbox full, dropping message", "user", externalID)
	}
}

type session struct {
	engine     *Engine
	externalID string
	inbox      chan string
	closed     bool // guarded by engine.mu
}

func (s *session) run() {
	idle := time.NewTimer(sessionIdleAfter)
	defer idle.Stop()
	for {
		select {
		case msg := <-s.inbox:
			s.handle(msg)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(sessionIdleAfter)
		case <-idle.C:
			s.engine.mu.Lock()
			if len(s.inbox) > 0 {
				s.engine.mu.Unlock()
				idle.Reset(sessionIdleAfter)
				continue
			}
			s.closed = true
			delete(s.engine.sessions, s.externalID)
			s.engine.mu.Unlock()
			return
		}
	}
}

// handle is the per-conversation failure boundary: whatever goes
// wrong while processing one message is logged with context and
// answered with a generic failure, and never reaches another
// user's session or the scheduler.
func (s *session) handle(content string) {
	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.engine.logger.Error("conversation: panic", "user", s.externalID, "panic", r)
			s.send(ctx, msgCrash)
		}
	}()
	if err := s.process(ctx, content); err != nil {
		s.engine.logger.Error("conversation: message failed", "user", s.externalID, "error", err)
		s.send(ctx, msgCrash)
	}
}

func (s *session) send(ctx context.Context, text string) {
	if _, err := s.engine.sender.Send(ctx, s.externalID, text); err != nil {
		s.engine.logger.Warn("conversation: reply failed", "user", s.externalID, "error", err)
	}
}

// process runs one FSM step. State transitions are persisted
// before the reply goes out, so the stored state never lags behind
// what the user was told.
func (s *session) process(ctx context.Context, content string) error {
	e := s.engine
	trimmed := strings.TrimSpace(content)
	lc := strings.ToLower(trimmed)

	if e.limiter != nil {
		allowed, err := e.limiter.Allow(ctx, s.externalID)
		if err != nil {
			// Degrade to unlimited rather than blocking the user.
			e.logger.Warn("conversation: rate limiter unavailable", "error", err)
		} else if !allowed {
			s.send(ctx, msgRateLimited)
			return nil
		}
	}

	p, err := e.users.GetByExternalID(ctx, s.externalID)
	if errors.Is(err, repository.ErrNotFound) {
		if _, err := e.users.Create(ctx, s.externalID, State{Base: SchoolNameRequest}.Encode()); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		s.send(ctx, msgIntroduction)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	state, err := DecodeState(p.User.State)
	if err != nil {
		return err
	}

	if state.ResetPending {
		if lc == resetKeyword {
			if err := e.users.Reset(ctx, p.User.ID); err != nil {
				return fmt.Errorf("reset user: %w", err)
			}
			s.send(ctx, msgResetDone)
			return nil
		}
		state.ResetPending = false
		if err := e.users.SetState(ctx, p.User.ID, state.Encode()); err != nil {
			return fmt.Errorf("persist state: %w", err)
		}
		// The message that cancelled the reset is not processed as a
		// command.
		s.send(ctx, msgResetCancelled)
		return nil
	}

	if lc == resetKeyword {
		state.ResetPending = true
		if err := e.users.SetState(ctx, p.User.ID, state.Encode()); err != nil {
			return fmt.Errorf("persist state: %w", err)
		}
		s.send(ctx, msgResetConfirmation)
		return nil
	}

	switch state.Base {
	case Hello:
		// Row exists but the introduction never completed; greet and
		// restart setup.
		if err := e.users.SetState(ctx, p.User.ID, State{Base: SchoolNameRequest}.Encode()); err != nil {
			return fmt.Errorf("persist state: %w", err)
		}
		s.send(ctx, msgIntroduction)
		return nil
	case SchoolNameRequest:
		return s.schoolNameState(ctx, p, trimmed)
	case BannerURLRequest:
		return s.bannerURLState(ctx, p, trimmed)
	default:
		return s.normalState(ctx, p, trimmed)
	}
}

func (s *session) schoolNameState(ctx context.Context, p repository.Profile, input string) error {
	e := s.engine
	domain, ok := schoolDomain(input)
	if !ok {
		s.send(ctx, msgInvalidSchoolWebsite)
		return nil
	}

	school, err := e.schools.Ensure(ctx, domain)
	if err != nil {
		return fmt.Errorf("ensure school %q: %w", domain, err)
	}
	if err := e.users.SetSchool(ctx, p.User.ID, school.ID); err != nil {
		return fmt.Errorf("set school: %w", err)
	}

	if school.BannerBaseURL != nil {
		if err := e.users.SetState(ctx, p.User.ID, State{Base: Normal}.Encode()); err != nil {
			return fmt.Errorf("persist state: %w", err)
		}
		s.send(ctx, msgAutodiscoverSuccess)
		return nil
	}

	if !school.AutodetectFailed {
		if baseURL, found := e.banner.Discover(ctx, domain); found {
			if err := e.schools.SetBannerURL(ctx, school.ID, baseURL); err != nil {
				return fmt.Errorf("save banner URL: %w", err)
			}
			e.logger.Info("banner URL autodiscovered", "school", domain, "url", baseURL)
			if err := e.users.SetState(ctx, p.User.ID, State{Base: Normal}.Encode()); err != nil {
				return fmt.Errorf("persist state: %w", err)
			}
			s.send(ctx, msgAutodiscoverSuccess)
			return nil
		}
		if err := e.schools.MarkAutodetectFailed(ctx, school.ID); err != nil {
			return fmt.Errorf("mark autodetect failed: %w", err)
		}
	}

	if err := e.users.SetState(ctx, p.User.ID, State{Base: BannerURLRequest}.Encode()); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	s.send(ctx, msgAutodiscoverFailed(domain, e.now().UTC().Year()))
	return nil
}

func (s *session) bannerURLState(ctx context.Context, p repository.Profile, input string) error {
	e := s.engine
	if p.User.SchoolID == nil {
		return errors.New("user awaiting banner URL has no school")
	}
	school, err := e.schools.Get(ctx, *p.User.SchoolID)
	if err != nil {
		return fmt.Errorf("load school: %w", err)
	}

	// Another user of the same school may have supplied the URL
	// since this user entered the state.
	if school.BannerBaseURL != nil {
		if err := e.users.SetState(ctx, p.User.ID, State{Base: Normal}.Encode()); err != nil {
			return fmt.Errorf("persist state: %w", err)
		}
		s.send(ctx, msgBannerAlreadyKnown)
		return nil
	}

	u, err := url.Parse(input)
	if err != nil || u.Host == "" ||
		(!strings.EqualFold(u.Scheme, "http") && !strings.EqualFold(u.Scheme, "https")) {
		s.send(ctx, msgInvalidURL)
		return nil
	}
	domain, ok := schoolDomain(input)
	if !ok || domain != school.Name {
		s.send(ctx, msgURLDomainMismatch(domain, school.Name))
		return nil
	}

	progressID, err := e.sender.Send(ctx, s.externalID, msgURLTestInProgress)
	if err != nil {
		e.logger.Warn("conversation: reply failed", "user", s.externalID, "error", err)
	}

	baseURL, err := banner.BaseOf(input)
	if err != nil {
		s.send(ctx, msgInvalidURL)
		return nil
	}
	if !e.banner.Probe(ctx, baseURL) {
		s.edit(ctx, progressID, msgURLTestFailed)
		return nil
	}

	if err := e.schools.SetBannerURL(ctx, school.ID, baseURL); err != nil {
		return fmt.Errorf("save banner URL: %w", err)
	}
	e.logger.Info("banner URL entered manually", "school", school.Name, "url", baseURL)
	if err := e.users.SetState(ctx, p.User.ID, State{Base: Normal}.Encode()); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	s.edit(ctx, progressID, msgURLTestSuccess)
	return nil
}

func (s *session) normalState(ctx context.Context, p repository.Profile, input string) error {
	e := s.engine
	cmd := ParseCommand(input, e.now())
	switch cmd.Kind {
	case KindHello:
		s.send(ctx, msgHello)
	case KindHelp:
		s.send(ctx, msgHelp)
	case KindDisclaimer:
		s.send(ctx, msgDisclaimer)
	case KindWatchlist:
		courses, err := e.watches.ListCoursesByUser(ctx, p.User.ID)
		if err != nil {
			return fmt.Errorf("load watchlist: %w", err)
		}
		if len(courses) == 0 {
			s.send(ctx, msgWatchlistEmpty)
		} else {
			s.send(ctx, msgWatchlist(courses))
		}
	case KindLookup, KindWatch, KindUnwatch:
		return s.courseCommand(ctx, p, cmd)
	default:
		s.send(ctx, msgInvalidCommand)
	}
	return nil
}

func (s *session) courseCommand(ctx context.Context, p repository.Profile, cmd Command) error {
	e := s.engine
	if p.User.SchoolID == nil {
		return errors.New("user in normal state has no school")
	}

	res, err := e.cache.GetOrRefresh(ctx, seatcache.Ref{
		SchoolID: *p.User.SchoolID,
		Term:     cmd.Term,
		CRN:      cmd.CRN,
	}, e.maxAge, false)
	switch {
	case errors.Is(err, banner.ErrNotFound):
		s.send(ctx, msgCourseNotFound)
		return nil
	case err != nil:
		// Transient fetch or store trouble: surfaced to the user
		// rather than silently serving stale data.
		e.logger.Warn("conversation: course lookup failed",
			"user", s.externalID, "crn", cmd.CRN, "term", cmd.Term, "error", err)
		s.send(ctx, msgLookupFailed)
		return nil
	}

	course := res.Course
	var suffix string
	switch cmd.Kind {
	case KindLookup:
		_, err := e.watches.Get(ctx, p.User.ID, course.ID)
		switch {
		case err == nil:
			suffix = suffixOnWatchlist
		case errors.Is(err, repository.ErrNotFound):
			suffix = suffixNotOnWatchlist
		default:
			return fmt.Errorf("check watchlist: %w", err)
		}
	case KindWatch:
		added, err := e.watches.Add(ctx, p.User.ID, course.ID)
		if err != nil {
			return fmt.Errorf("add watch entry: %w", err)
		}
		if added {
			suffix = suffixAddedToWatchlist
		} else {
			suffix = suffixAlreadyWatching
		}
	case KindUnwatch:
		removed, err := e.watches.Remove(ctx, p.User.ID, course.ID)
		if err != nil {
			return fmt.Errorf("remove watch entry: %w", err)
		}
		if removed {
			suffix = suffixRemovedFromWatch
		} else {
			suffix = suffixNotOnWatchlist
		}
	}

	s.send(ctx, courseInfo(course, e.now())+"\n"+suffix)
	return nil
}

func (s *session) edit(ctx context.Context, messageID, text string) {
	if messageID == "" {
		s.send(ctx, text)
		return
	}
	if err := s.engine.sender.Edit(ctx, s.externalID, messageID, text); err != nil {
		s.engine.logger.Warn("conversation: edit failed", "user", s.externalID, "error", err)
	}
}

// schoolDomain reduces free-form input (a bare domain, a hostname
// or a full URL) to its registrable domain, e.g. "www.gatech.edu"
// -> "gatech.edu". Inputs without a recognized public suffix are
// rejected.
func schoolDomain(input string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(input))
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return "", false
		}
		s = u.Host
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return "", false
	}
	suffix, icann := publicsuffix.PublicSuffix(s)
	if !icann || suffix == s {
		return "", false
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(s)
	if err != nil {
		return "", false
	}
	return domain, true
}
