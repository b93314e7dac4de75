package buyback

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-buyback/internal/currency"
	"github.com/noah-isme/backend-buyback/internal/events"
	"github.com/noah-isme/backend-buyback/internal/persist"
)

// ErrNoSession is returned when a request carries no shopper session.
var ErrNoSession = errors.New("buyback: session id is required")

// Locker serialises work on one key across requests.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Metrics receives store health signals.
type Metrics interface {
	PersistFailed(op string, err error)
	Skipped(market string, n int)
	Stale(market string)
}

// ManagerConfig groups Manager dependencies.
type ManagerConfig struct {
	Policies currency.Table
	// Slot returns the persistence adapter for a storage key.
	Slot        func(key string) Persistence
	Locker      Locker
	LockTTL     time.Duration
	MaxQuantity int
	Bus         *events.Bus
	Metrics     Metrics
	Logger      zerolog.Logger
	NewID       func() string
	// Now seeds list revision stamps; defaults to time.Now.
	Now func() time.Time
}

// Manager opens the Store of a (session, market) pair for the length of one
// operation. Each market keeps its own list for a session.
type Manager struct {
	cfg ManagerConfig
}

// NewManager validates the configuration.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Slot == nil {
		return nil, errors.New("buyback: slot factory is required")
	}
	if cfg.Locker == nil {
		return nil, errors.New("buyback: locker is required")
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Second
	}
	return &Manager{cfg: cfg}, nil
}

// Policies returns the supported markets.
func (m *Manager) Policies() currency.Table { return m.cfg.Policies }

// Do runs fn against the session's store while holding its lock, then
// publishes the changes fn made.
func (m *Manager) Do(ctx context.Context, sessionID, market string, fn func(*Store) error) error {
	policy, key, err := m.resolve(sessionID, market)
	if err != nil {
		return err
	}
	var changes []Change
	err = m.cfg.Locker.WithLock(ctx, key, m.cfg.LockTTL, func(ctx context.Context) error {
		store := m.open(ctx, policy, key, func(_ context.Context, c Change) { changes = append(changes, c) })
		return fn(store)
	})
	for _, c := range changes {
		m.publish(ctx, sessionID, c)
	}
	return err
}

// View runs fn against a freshly loaded store without taking the lock.
// Mutations made by fn are not published.
func (m *Manager) View(ctx context.Context, sessionID, market string, fn func(*Store) error) error {
	policy, key, err := m.resolve(sessionID, market)
	if err != nil {
		return err
	}
	return fn(m.open(ctx, policy, key, nil))
}

// CheckRevision compares a client's revision with the store's. A mismatch
// means the client rendered an outdated list; the newest write still wins.
func (m *Manager) CheckRevision(s *Store, clientRevision int64) bool {
	if clientRevision < 0 || clientRevision == s.Revision() {
		return false
	}
	m.cfg.Logger.Warn().
		Str("market", s.Policy().Market).
		Int64("client_revision", clientRevision).
		Int64("revision", s.Revision()).
		Msg("client holds a stale buyback list")
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.Stale(s.Policy().Market)
	}
	return true
}

func (m *Manager) resolve(sessionID, market string) (currency.Policy, string, error) {
	if sessionID == "" {
		return currency.Policy{}, "", ErrNoSession
	}
	policy, err := m.cfg.Policies.PolicyFor(market)
	if err != nil {
		return currency.Policy{}, "", err
	}
	return policy, persist.Key(policy.Market, sessionID), nil
}

func (m *Manager) open(ctx context.Context, policy currency.Policy, key string, onChange func(context.Context, Change)) *Store {
	logger := m.cfg.Logger.With().Str("market", policy.Market).Logger()
	opts := Options{
		Policy:      policy,
		Persistence: m.cfg.Slot(key),
		Logger:      &logger,
		NewID:       m.cfg.NewID,
		MaxQuantity: m.cfg.MaxQuantity,
		OnChange:    onChange,
		Now:         m.cfg.Now,
	}
	if m.cfg.Metrics != nil {
		opts.OnPersistError = m.cfg.Metrics.PersistFailed
		opts.OnSkipped = func(n int) { m.cfg.Metrics.Skipped(policy.Market, n) }
	}
	return Open(ctx, opts)
}

func (m *Manager) publish(ctx context.Context, sessionID string, c Change) {
	if m.cfg.Bus == nil {
		return
	}
	if _, err := m.cfg.Bus.Emit(ctx, events.TopicFor(string(c.Kind)), sessionID, c.Market, c); err != nil {
		m.cfg.Logger.Warn().Err(err).Str("kind", string(c.Kind)).Msg("publish buyback change failed")
	}
}

// SlotFactory returns a Slot builder over kv with the given quota.
func SlotFactory(kv persist.KV, maxBytes int) func(key string) Persistence {
	return func(key string) Persistence {
		return persist.Slot{KV: kv, Key: key, MaxBytes: maxBytes}
	}
}

