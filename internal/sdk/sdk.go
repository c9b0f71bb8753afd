// Package sdk is the entry point for library users: a Session owns the cache
// directory and the query engine and serializes every call through one
// mutex, so a Session may be shared between goroutines.
package sdk

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mtgjson/mtgjson-go/internal/booster"
	"github.com/mtgjson/mtgjson-go/internal/cache"
	"github.com/mtgjson/mtgjson-go/internal/connection"
	"github.com/mtgjson/mtgjson-go/internal/core/config"
	"github.com/mtgjson/mtgjson-go/internal/core/db"
	"github.com/mtgjson/mtgjson-go/internal/logging"
	"github.com/mtgjson/mtgjson-go/internal/types"
	"github.com/mtgjson/mtgjson-go/internal/value"
)

// ErrClosed is returned by every operation on a closed Session.
var ErrClosed = &types.Error{Kind: types.ErrInvalidArgument, Msg: "session is closed"}

// Options configures a Session. Zero values use config.Default().
type Options struct {
	CacheDir   string
	Offline    bool
	Timeout    time.Duration
	BaseURL    string
	MetaURL    string
	HTTPClient *http.Client

	// Rand drives booster sampling. nil uses the process-wide generator.
	Rand   booster.RNG
	Policy value.Policy
	Logger *slog.Logger

	// Restricted confines the engine to the cache directory so queries
	// cannot read or write other files. Set it when SQL comes from the
	// network.
	Restricted bool
}

// OptionsFromConfig maps loaded configuration onto session options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		CacheDir: cfg.ResolvedCacheDir(),
		Offline:  cfg.Offline,
		Timeout:  cfg.Timeout,
		BaseURL:  cfg.BaseURL,
		MetaURL:  cfg.MetaURL,
	}
}

// Session is an open SDK handle.
type Session struct {
	mu      sync.Mutex
	id      types.SessionID
	cache   *cache.Manager
	conn    *connection.Conn
	queries *db.Queries
	rng     booster.RNG
	log     *slog.Logger
	closed  bool
}

// Open creates the cache directory and starts the engine. Nothing is
// downloaded until a view or document is first needed.
func Open(opts Options) (*Session, error) {
	id := types.NewSessionID()
	log := opts.Logger
	if log == nil {
		log = logging.WithComponent("sdk")
	}
	log = log.With("session", string(id))

	mgr, err := cache.New(cache.Options{
		Dir:        opts.CacheDir,
		Offline:    opts.Offline,
		Timeout:    opts.Timeout,
		BaseURL:    opts.BaseURL,
		MetaURL:    opts.MetaURL,
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, err
	}

	conn, err := connection.Open(mgr, connection.Options{Policy: opts.Policy})
	if err != nil {
		mgr.Close()
		return nil, err
	}

	if opts.Restricted {
		if err := conn.Restrict(context.Background(), mgr.Dir()); err != nil {
			conn.Close()
			mgr.Close()
			return nil, err
		}
	}

	queries, err := db.LoadQueries(conn.Raw())
	if err != nil {
		conn.Close()
		mgr.Close()
		return nil, types.Wrap(types.ErrQuery, err, "load named queries")
	}

	rng := opts.Rand
	if rng != nil {
		rng = &lockedRNG{rng: rng}
	}

	log.Debug("session opened", "cache_dir", mgr.Dir(), "offline", mgr.Offline(), "started", types.SessionStarted(id))
	return &Session{
		id:      id,
		cache:   mgr,
		conn:    conn,
		queries: queries,
		rng:     rng,
		log:     log,
	}, nil
}

// ID identifies the session in logs.
func (s *Session) ID() types.SessionID { return s.id }

func (s *Session) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// Meta returns the metadata document (version and release date).
func (s *Session) Meta(ctx context.Context) (any, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.cache.LoadJSON(ctx, "meta")
}

// LoadJSON returns a JSON dataset (keywords, card_types, deck_list,
// enum_values, meta).
func (s *Session) LoadJSON(ctx context.Context, name string) (any, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.cache.LoadJSON(ctx, name)
}

// Views lists the materialized views, sorted.
func (s *Session) Views() []string {
	if err := s.lock(); err != nil {
		return nil
	}
	defer s.mu.Unlock()
	return s.conn.Views()
}

// EnsureViews materializes the named datasets.
func (s *Session) EnsureViews(ctx context.Context, names ...string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.conn.EnsureViews(ctx, names...)
}

// SQL runs a raw query with positional ? parameters. Views it reads must
// already be materialized (see EnsureViews).
func (s *Session) SQL(ctx context.Context, query string, params ...any) ([]types.Row, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.conn.Execute(ctx, query, params...)
}

// Describe returns the columns of dataset name as stored in its cached
// file, downloading it if needed. No view is registered and the list and
// JSON rewrites are not applied.
func (s *Session) Describe(ctx context.Context, name string) ([]connection.Column, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.conn.Describe(ctx, name)
}

// Set returns the sets row for code.
func (s *Session) Set(ctx context.Context, code string) (types.Row, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if err := s.conn.EnsureViews(ctx, "sets"); err != nil {
		return nil, err
	}
	rows, err := s.conn.Execute(ctx, `SELECT * FROM sets WHERE code = ? LIMIT 1`, strings.ToUpper(code))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, types.NotFound("set %q", code)
	}
	return rows[0], nil
}

// Fetch makes sure each named dataset is cached and returns the local paths.
func (s *Session) Fetch(ctx context.Context, names ...string) ([]string, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	paths := make([]string, 0, len(names))
	for _, name := range names {
		p, err := s.cache.EnsureFile(ctx, name)
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// VersionStatus reports the cached and published version tokens.
type VersionStatus struct {
	Local  string `json:"local"`
	Remote string `json:"remote"`
	// Reachable is false when the remote token could not be fetched
	// (offline, or a network failure).
	Reachable bool `json:"reachable"`
	Stale     bool `json:"stale"`
}

// Version compares the local version marker against the CDN.
func (s *Session) Version(ctx context.Context) (VersionStatus, error) {
	if err := s.lock(); err != nil {
		return VersionStatus{}, err
	}
	defer s.mu.Unlock()

	st := VersionStatus{Local: s.cache.LocalVersion()}
	st.Remote, st.Reachable = s.cache.RemoteVersion(ctx)
	st.Stale = s.cache.IsStale(ctx)
	return st, nil
}

// Refresh clears the cache and forgets every view when the cached data is
// stale. It reports whether that happened.
func (s *Session) Refresh(ctx context.Context) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	if !s.cache.IsStale(ctx) {
		return false, nil
	}
	if err := s.cache.Clear(); err != nil {
		return true, err
	}
	s.conn.ResetViews()
	s.log.Info("data was stale; cache cleared and views reset")
	return true, nil
}

// Booster returns a simulator whose queries go through the session lock.
func (s *Session) Booster() *booster.Simulator {
	return booster.New(sessionQuerier{s}, s.queries, s.rng)
}

// Close releases the engine and idle HTTP connections. Closing twice is a
// no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cache.Close()
	return s.conn.Close()
}

func (s *Session) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "Session(closed)"
	}
	return fmt.Sprintf("Session(cache_dir=%s, views=[%s], offline=%t)",
		s.cache.Dir(), strings.Join(s.conn.Views(), ", "), s.cache.Offline())
}

// sessionQuerier takes the session lock per call.
type sessionQuerier struct{ s *Session }

func (q sessionQuerier) EnsureViews(ctx context.Context, names ...string) error {
	return q.s.EnsureViews(ctx, names...)
}

func (q sessionQuerier) Execute(ctx context.Context, query string, params ...any) ([]types.Row, error) {
	return q.s.SQL(ctx, query, params...)
}

func (q sessionQuerier) ExecuteInto(ctx context.Context, dest any, query string, params ...any) error {
	if err := q.s.lock(); err != nil {
		return err
	}
	defer q.s.mu.Unlock()
	return q.s.conn.ExecuteInto(ctx, dest, query, params...)
}

// lockedRNG makes a caller-supplied generator safe to share between the
// simulators handed out by one session.
type lockedRNG struct {
	mu  sync.Mutex
	rng booster.RNG
}

func (l *lockedRNG) Int64N(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Int64N(n)
}
