package auth

import (
	"os"
	"strings"
	"time"
)

// EnvironmentStore reads sessions from SNSGRAB_<PLATFORM>_COOKIES, a
// Cookie header copied from the browser, and SNSGRAB_<PLATFORM>_ACCOUNT.
// It is read-only.
type EnvironmentStore struct {
	platforms []string
}

// NewEnvironmentStore creates a store for every platform with required cookies
func NewEnvironmentStore() *EnvironmentStore {
	platforms := make([]string, 0, len(RequiredCookies))
	for p := range RequiredCookies {
		platforms = append(platforms, p)
	}
	return &EnvironmentStore{platforms: platforms}
}

func envName(platform, suffix string) string {
	return "SNSGRAB_" + strings.ToUpper(platform) + "_" + suffix
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(session *Session) error {
	return ErrStoreUnavailable
}

// Retrieve builds a session from the environment. An empty account matches
// whatever account the environment names.
func (e *EnvironmentStore) Retrieve(platform, account string) (*Session, error) {
	header := os.Getenv(envName(platform, "COOKIES"))
	if header == "" {
		return nil, ErrCredentialsNotFound
	}
	cookies, err := ParseCookieHeader(header)
	if err != nil {
		return nil, err
	}

	envAccount := os.Getenv(envName(platform, "ACCOUNT"))
	if envAccount == "" {
		envAccount = "default"
	}
	if account != "" && account != envAccount {
		return nil, ErrCredentialsNotFound
	}

	s := &Session{
		Platform:  platform,
		Account:   envAccount,
		Cookies:   cookies,
		UserAgent: os.Getenv(envName(platform, "USER_AGENT")),
		// environment values win over stored ones of the same key
		LastModified: time.Now(),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// List returns the sessions present in the environment
func (e *EnvironmentStore) List() ([]*Session, error) {
	var sessions []*Session
	for _, p := range e.platforms {
		if s, err := e.Retrieve(p, ""); err == nil {
			sessions = append(sessions, s)
		}
	}
	return sessions, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(platform, account string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(platform, account string) bool {
	_, err := e.Retrieve(platform, account)
	return err == nil
}
