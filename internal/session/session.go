package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"offerworker/logger"
	"offerworker/pkg/errors"
)

// Cookie is one browser cookie captured by the external login tool
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Session is an authenticated browsing context captured by the external
// login tool. It is read-only to the pipeline.
type Session struct {
	Cookies    []Cookie  `json:"cookies"`
	CapturedAt time.Time `json:"captured_at"`
}

// Age returns how long ago the session was captured
func (s *Session) Age() time.Duration {
	return time.Since(s.CapturedAt)
}

// Store loads persisted sessions keyed by account name
type Store struct {
	dir    string
	maxAge time.Duration
	log    *logger.Logger
}

// NewStore creates a session store over the given directory.
// Sessions older than maxAge are rejected as expired.
func NewStore(dir string, maxAge time.Duration) *Store {
	return &Store{
		dir:    dir,
		maxAge: maxAge,
		log:    logger.ForSession(),
	}
}

// Load reads the session for the account. It fails with a fatal error when
// the artifact is missing or older than the freshness threshold; it never
// mutates the artifact.
func (st *Store) Load(account string) (*Session, error) {
	path := filepath.Join(st.dir, fmt.Sprintf("%s.json", account))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewSessionNotFound(account)
		}
		return nil, errors.New(errors.ErrorTypeSessionNotFound, "session",
			fmt.Sprintf("cannot read session file %q", path), err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.New(errors.ErrorTypeSessionNotFound, "session",
			fmt.Sprintf("cannot parse session file %q", path), err)
	}
	if len(s.Cookies) == 0 {
		return nil, errors.NewSessionNotFound(account)
	}

	if age := s.Age(); age >= st.maxAge {
		return nil, errors.NewSessionExpired(account, age, st.maxAge)
	}

	st.log.Info().
		Str("account", account).
		Int("cookies", len(s.Cookies)).
		Time("captured_at", s.CapturedAt).
		Msg("Session loaded")

	return &s, nil
}
