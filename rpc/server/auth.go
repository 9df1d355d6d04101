package server

import (
	"os"
	"time"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// --------------------------------------------------------------------------
// Users file
// --------------------------------------------------------------------------

// UsersConfig is the content of a users file:
//
//	users:
//	  - username: admin
//	    password: $2a$10$...   # bcrypt hash
type UsersConfig struct {
	Users []User `yaml:"users"`
}

// User is a single user with its bcrypt password hash
type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoadUsers reads a users file
func LoadUsers(path string) (*UsersConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read users file")
	}
	cfg := new(UsersConfig)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse users file %s", path)
	}
	for _, u := range cfg.Users {
		if _, err := bcrypt.Cost([]byte(u.Password)); err != nil {
			return nil, errors.Errorf("password of user %q is not a bcrypt hash", u.Username)
		}
	}
	return cfg, nil
}

// WriteUsers writes a users file
func WriteUsers(path string, cfg *UsersConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// HashPassword returns the bcrypt hash of a password for the users file
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// --------------------------------------------------------------------------
// Sessions
// --------------------------------------------------------------------------

type session struct {
	user     string
	lastSeen time.Time
}

// authenticator checks credentials and keeps the sessions of a node.
// Without users every request is accepted.
type authenticator struct {
	users    map[string][]byte // username -> bcrypt hash
	sessions *xsync.MapOf[string, session]
	ttl      time.Duration
	now      func() time.Time
}

func newAuthenticator(cfg *UsersConfig, ttl time.Duration) *authenticator {
	a := &authenticator{
		sessions: xsync.NewMapOf[string, session](),
		ttl:      ttl,
		now:      time.Now,
	}
	if cfg != nil {
		a.users = make(map[string][]byte, len(cfg.Users))
		for _, u := range cfg.Users {
			a.users[u.Username] = []byte(u.Password)
		}
	}
	return a
}

func (a *authenticator) required() bool {
	return a.users != nil
}

// login checks the credentials and opens a session. The token is empty if no
// authentication is required.
func (a *authenticator) login(user, password string) (string, error) {
	if !a.required() {
		return "", nil
	}
	if user == "" {
		return "", store.NewError(store.ResultInvalidCredential, "user credentials required")
	}
	hash, ok := a.users[user]
	if !ok {
		return "", store.NewError(store.ResultInvalidCredential, "invalid user or password")
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", store.NewError(store.ResultInvalidCredential, "invalid user or password")
	}

	token := uuid.NewString()
	a.sessions.Store(token, session{user: user, lastSeen: a.now()})
	Logger.Debugf("Opened session for user %s", user)
	return token, nil
}

// check validates a session token and refreshes the session
func (a *authenticator) check(token string) error {
	if !a.required() {
		return nil
	}
	if token == "" {
		return store.NewError(store.ResultNotAuthenticated, "not authenticated")
	}
	expired := false
	_, ok := a.sessions.Compute(token, func(s session, loaded bool) (session, bool) {
		if !loaded {
			return s, true
		}
		if a.ttl > 0 && a.now().Sub(s.lastSeen) > a.ttl {
			expired = true
			return s, true
		}
		s.lastSeen = a.now()
		return s, false
	})
	if !ok || expired {
		return store.NewError(store.ResultNotAuthenticated, "session expired or unknown")
	}
	return nil
}

// expire removes idle sessions
func (a *authenticator) expire() {
	if a.ttl <= 0 {
		return
	}
	now := a.now()
	a.sessions.Range(func(token string, s session) bool {
		if now.Sub(s.lastSeen) > a.ttl {
			a.sessions.Delete(token)
		}
		return true
	})
}
