// Package matchmaker is the calling layer around the pure decision procedure.
// It takes a snapshot of the pool, asks the finder for a partner, claims that
// partner exclusively, persists the match and notifies both people.
package matchmaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adlib/coffee-chat/internal/matching"
	"github.com/adlib/coffee-chat/internal/metrics"
	"github.com/adlib/coffee-chat/internal/notify"
	"github.com/adlib/coffee-chat/internal/pool"
	"github.com/adlib/coffee-chat/internal/store"
	"github.com/adlib/coffee-chat/pkg/logger"
)

const (
	defaultClaimRetries    = 3
	defaultCleanupInterval = time.Minute

	// MaxDuration is the longest meeting a participant may ask for.
	MaxDuration = 8 * time.Hour
)

// Request is a participant asking to be matched.
type Request struct {
	Username       string
	Duration       time.Duration
	AvailableUntil time.Time
	Role           string
	ProductArea    string
	Interests      []string
	Preference     string
	SavePreference bool
}

// Outcome describes where a participant stands. Match is nil while the
// participant is still waiting.
type Outcome struct {
	Participant matching.Participant `json:"participant"`
	Match       *matching.Match      `json:"match,omitempty"`
}

// Matched reports whether the outcome carries a match.
func (o *Outcome) Matched() bool { return o.Match != nil }

// EventPublisher receives pool lifecycle events.
type EventPublisher interface {
	PublishMatchWithdrawn(data []byte) error
}

// Withdrawal is the payload published when a participant leaves the pool.
type Withdrawal struct {
	Username string `json:"username"`
	Reason   string `json:"reason"` // "left" or "expired"
}

// Service owns the join, leave and sweep operations.
type Service struct {
	pool     pool.Pool
	matches  store.MatchStore
	users    store.UserStore
	notifier notify.Notifier
	events   EventPublisher
	finder   *matching.Finder
	log      logger.Logger
	now      func() time.Time

	claimRetries    int
	cleanupInterval time.Duration

	locks  *keyedMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithFinder sets the decision procedure. The default uses matching.DefaultRules.
func WithFinder(f *matching.Finder) Option {
	return func(s *Service) { s.finder = f }
}

// WithNotifier sets where match notifications go. The default drops them.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithEvents publishes withdrawals to p.
func WithEvents(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithClaimRetries bounds how many fresh snapshots a join may take after
// losing a claim.
func WithClaimRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.claimRetries = n
		}
	}
}

// WithCleanupInterval sets how often Start sweeps lapsed entries.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cleanupInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New creates a matchmaker over the given pool and stores.
func New(p pool.Pool, matches store.MatchStore, users store.UserStore, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		pool:            p,
		matches:         matches,
		users:           users,
		notifier:        notify.Nop{},
		finder:          matching.NewFinder(matching.DefaultRules()),
		log:             logger.Nop(),
		now:             time.Now,
		claimRetries:    defaultClaimRetries,
		cleanupInterval: defaultCleanupInterval,
		locks:           newKeyedMutex(),
		ctx:             ctx,
		cancel:          cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background cleanup loop.
func (s *Service) Start() {
	go s.RunCleanup(s.ctx, s.cleanupInterval)
	s.log.Info(s.ctx, "matchmaker started", logger.Duration("cleanup_interval", s.cleanupInterval))
}

// Stop ends the background loop.
func (s *Service) Stop() {
	s.cancel()
	s.log.Info(context.Background(), "matchmaker stopped")
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}

func (s *Service) participantFrom(req Request, now time.Time) (matching.Participant, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return matching.Participant{}, invalid("Could not retrieve email.")
	}
	if req.Duration <= 0 || req.Duration > MaxDuration || req.Duration%time.Minute != 0 {
		return matching.Participant{}, invalid("Invalid duration.")
	}
	if !req.AvailableUntil.After(now) {
		return matching.Participant{}, invalid("Availability must end in the future.")
	}
	pref, err := matching.ParsePreference(req.Preference)
	if err != nil {
		return matching.Participant{}, invalid("Invalid match preference.")
	}
	role := strings.TrimSpace(req.Role)
	if err := validateText("Role", role); err != nil {
		return matching.Participant{}, err
	}
	area := strings.TrimSpace(req.ProductArea)
	if err := validateText("Product area", area); err != nil {
		return matching.Participant{}, err
	}
	interests, err := cleanInterests(req.Interests)
	if err != nil {
		return matching.Participant{}, err
	}
	return matching.Participant{
		Username:       username,
		Duration:       req.Duration,
		AvailableUntil: req.AvailableUntil,
		Role:           role,
		ProductArea:    area,
		Interests:      interests,
		Preference:     pref,
		Status:         matching.StatusUnmatched,
		JoinedAt:       now,
	}, nil
}

// Join places a participant: matched with the first acceptable waiting
// candidate, or enrolled in the pool to wait for one.
func (s *Service) Join(ctx context.Context, req Request) (*Outcome, error) {
	now := s.now()
	p, err := s.participantFrom(req, now)
	if err != nil {
		metrics.JoinsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	unlock := s.locks.Lock(p.Username)
	defer unlock()

	if req.SavePreference {
		if err := s.users.Save(ctx, &store.User{
			Username:    p.Username,
			Role:        p.Role,
			ProductArea: p.ProductArea,
			Interests:   p.Interests,
			Preference:  p.Preference,
			UpdatedAt:   now,
		}); err != nil {
			return nil, fmt.Errorf("matchmaker: save user %s: %w", p.Username, err)
		}
	}

	// A repeated join replaces a waiting entry. A matched one is kept and its
	// match returned, so nobody ends up in two matches at once.
	withdrawn, err := s.pool.Withdraw(ctx, p.Username)
	if err != nil {
		return nil, fmt.Errorf("matchmaker: replace %s: %w", p.Username, err)
	}
	if !withdrawn {
		return s.existingMatch(ctx, p.Username)
	}

	rules := s.finder.Rules()
	for attempt := 1; attempt <= s.claimRetries; attempt++ {
		candidates, err := s.pool.Candidates(ctx, p.Duration, rules.DurationTolerance)
		if err != nil {
			return nil, fmt.Errorf("matchmaker: candidates: %w", err)
		}

		start := time.Now()
		match, err := s.finder.FindMatch(p, candidates, now)
		metrics.DecisionLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, fmt.Errorf("matchmaker: find match for %s: %w", p.Username, err)
		}
		if match == nil {
			return s.enroll(ctx, p)
		}

		out, claimed, err := s.claimAndCommit(ctx, p, match, candidates)
		if err != nil {
			return nil, err
		}
		if !claimed {
			metrics.ClaimConflicts.Inc()
			s.log.Debug(ctx, "lost claim, retrying",
				logger.String("username", p.Username),
				logger.String("partner", match.SecondUsername),
				logger.Int("attempt", attempt),
			)
			continue
		}
		return out, nil
	}

	metrics.JoinsTotal.WithLabelValues("rejected").Inc()
	return nil, fmt.Errorf("matchmaker: join %s: %w after %d attempts", p.Username, ErrClaimConflict, s.claimRetries)
}

// claimAndCommit holds the partner's lock from the claim until the match is
// saved, so the partner cannot re-join or leave in between. The lock is only
// tried: a busy partner counts as a lost claim.
func (s *Service) claimAndCommit(ctx context.Context, p matching.Participant, match *matching.Match, candidates []matching.Participant) (*Outcome, bool, error) {
	partner := match.SecondUsername
	unlock, ok := s.locks.TryLock(partner)
	if !ok {
		return nil, false, nil
	}
	defer unlock()

	ok, err := s.pool.Claim(ctx, partner, match.ID)
	if err != nil {
		return nil, false, fmt.Errorf("matchmaker: claim %s: %w", partner, err)
	}
	if !ok {
		return nil, false, nil
	}
	out, err := s.commit(ctx, p, match, candidates)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// existingMatch answers a join from someone who is already matched. Between
// another instance's claim and its save the match is not readable yet; that
// window is reported as a conflict so the caller retries.
func (s *Service) existingMatch(ctx context.Context, username string) (*Outcome, error) {
	p, err := s.pool.Get(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("matchmaker: join %s: %w", username, err)
	}
	if p == nil || p.Status != matching.StatusMatched {
		return nil, fmt.Errorf("matchmaker: join %s: %w", username, ErrClaimConflict)
	}
	m, err := s.matches.Get(ctx, p.MatchID)
	if err != nil {
		return nil, fmt.Errorf("matchmaker: join %s: %w", username, err)
	}
	if m == nil {
		return nil, fmt.Errorf("matchmaker: join %s: match %s in progress: %w", username, p.MatchID, ErrClaimConflict)
	}
	metrics.JoinsTotal.WithLabelValues("already_matched").Inc()
	return &Outcome{Participant: *p, Match: m}, nil
}

func (s *Service) enroll(ctx context.Context, p matching.Participant) (*Outcome, error) {
	if err := s.pool.Add(ctx, p); err != nil {
		return nil, fmt.Errorf("matchmaker: enroll %s: %w", p.Username, err)
	}
	metrics.JoinsTotal.WithLabelValues("enrolled").Inc()
	s.updatePoolSize(ctx)
	s.log.Info(ctx, "participant enrolled",
		logger.String("username", p.Username),
		logger.Duration("duration", p.Duration),
		logger.String("preference", p.Preference.String()),
	)
	return &Outcome{Participant: p}, nil
}

// commit runs once the partner is claimed. A failure to persist releases the
// partner again so that they stay available.
func (s *Service) commit(ctx context.Context, p matching.Participant, match *matching.Match, candidates []matching.Participant) (*Outcome, error) {
	partner := match.SecondUsername

	if err := s.matches.Create(ctx, match); err != nil {
		if rerr := s.pool.Release(ctx, partner, match.ID); rerr != nil {
			s.log.Error(ctx, "release after failed persist",
				logger.String("partner", partner), logger.Error(rerr))
		}
		return nil, fmt.Errorf("matchmaker: persist match %s: %w", match.ID, err)
	}

	p.Status = matching.StatusMatched
	p.MatchID = match.ID
	if err := s.pool.Add(ctx, p); err != nil {
		// The match is already durable; only the status lookup suffers.
		s.log.Warn(ctx, "record matched participant", logger.String("username", p.Username), logger.Error(err))
	}

	metrics.JoinsTotal.WithLabelValues("matched").Inc()
	metrics.MatchesTotal.WithLabelValues(match.Preference.String()).Inc()
	for _, c := range candidates {
		if c.Username == partner {
			metrics.WaitDuration.Observe(match.CreatedAt.Sub(c.JoinedAt).Seconds())
			break
		}
	}
	s.updatePoolSize(ctx)

	s.log.Info(ctx, "match created",
		logger.String("match_id", match.ID),
		logger.String("first", match.FirstUsername),
		logger.String("second", match.SecondUsername),
		logger.Duration("duration", match.Duration),
		logger.String("preference", match.Preference.String()),
		logger.Int("same_fields", match.SameFields),
	)

	s.notifyBoth(ctx, match)
	return &Outcome{Participant: p, Match: match}, nil
}

func (s *Service) notifyBoth(ctx context.Context, m *matching.Match) {
	for _, who := range []string{m.FirstUsername, m.SecondUsername} {
		if err := s.notifier.Notify(ctx, who, notify.MatchContent(m, who)); err != nil {
			metrics.NotifyFailures.Inc()
			s.log.Warn(ctx, "notify participant",
				logger.String("username", who),
				logger.String("match_id", m.ID),
				logger.Error(err),
			)
		}
	}
}

// Leave withdraws a participant from the pool.
func (s *Service) Leave(ctx context.Context, username string) error {
	unlock := s.locks.Lock(username)
	defer unlock()

	p, err := s.pool.Get(ctx, username)
	if err != nil {
		return fmt.Errorf("matchmaker: leave %s: %w", username, err)
	}
	if p == nil {
		return fmt.Errorf("matchmaker: leave %s: %w", username, ErrNotFound)
	}
	if err := s.pool.Remove(ctx, username); err != nil {
		return fmt.Errorf("matchmaker: leave %s: %w", username, err)
	}
	s.updatePoolSize(ctx)
	s.publishWithdrawal(ctx, username, "left")
	s.log.Info(ctx, "participant left", logger.String("username", username))
	return nil
}

// Status returns the participant's pool record and, once matched, the match.
func (s *Service) Status(ctx context.Context, username string) (*Outcome, error) {
	p, err := s.pool.Get(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("matchmaker: status %s: %w", username, err)
	}
	if p == nil {
		return nil, fmt.Errorf("matchmaker: status %s: %w", username, ErrNotFound)
	}
	out := &Outcome{Participant: *p}
	if p.MatchID != "" {
		m, err := s.matches.Get(ctx, p.MatchID)
		if err != nil {
			return nil, fmt.Errorf("matchmaker: status %s: %w", username, err)
		}
		out.Match = m
	}
	return out, nil
}

// Match returns a match the given user takes part in. Matches of other
// people are reported as not found.
func (s *Service) Match(ctx context.Context, username, id string) (*matching.Match, error) {
	m, err := s.matches.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("matchmaker: match %s: %w", id, err)
	}
	if m == nil || !m.Involves(username) {
		return nil, fmt.Errorf("matchmaker: match %s: %w", id, ErrNotFound)
	}
	return m, nil
}

// Profile returns the saved profile for username, or ErrNotFound.
func (s *Service) Profile(ctx context.Context, username string) (*store.User, error) {
	u, err := s.users.Get(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("matchmaker: profile %s: %w", username, err)
	}
	if u == nil {
		return nil, fmt.Errorf("matchmaker: profile %s: %w", username, ErrNotFound)
	}
	return u, nil
}

// Sweep drops participants whose availability has ended and returns how many
// were removed.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	removed, err := s.pool.Expire(ctx, s.now())
	for _, name := range removed {
		s.publishWithdrawal(ctx, name, "expired")
	}
	if n := len(removed); n > 0 {
		metrics.ExpiredTotal.Add(float64(n))
		s.log.Info(ctx, "cleanup removed lapsed participants", logger.Int("count", n))
	}
	s.updatePoolSize(ctx)
	if err != nil {
		return len(removed), fmt.Errorf("matchmaker: sweep: %w", err)
	}
	return len(removed), nil
}

// RunCleanup sweeps the pool every interval until ctx is cancelled.
func (s *Service) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info(context.Background(), "cleanup loop stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error(ctx, "cleanup sweep", logger.Error(err))
			}
		}
	}
}

func (s *Service) publishWithdrawal(ctx context.Context, username, reason string) {
	if s.events == nil {
		return
	}
	data, err := json.Marshal(Withdrawal{Username: username, Reason: reason})
	if err != nil {
		return
	}
	if err := s.events.PublishMatchWithdrawn(data); err != nil {
		s.log.Warn(ctx, "publish withdrawal", logger.String("username", username), logger.Error(err))
	}
}

func (s *Service) updatePoolSize(ctx context.Context) {
	n, err := s.pool.Size(ctx)
	if err != nil {
		s.log.Debug(ctx, "pool size", logger.Error(err))
		return
	}
	metrics.PoolSize.Set(float64(n))
}
