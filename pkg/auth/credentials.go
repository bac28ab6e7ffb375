package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// Session holds the browser cookies of one logged-in account on a platform
type Session struct {
	Platform     string            `json:"platform"`
	Account      string            `json:"account"`
	Cookies      map[string]string `json:"cookies"`
	UserAgent    string            `json:"user_agent,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Key identifies a session across stores
func (s *Session) Key() string {
	return Key(s.Platform, s.Account)
}

// Key joins platform and account into a store key
func Key(platform, account string) string {
	return platform + "/" + account
}

// HTTPCookies returns the cookies in name order for an HTTP client
func (s *Session) HTTPCookies() []*http.Cookie {
	names := make([]string, 0, len(s.Cookies))
	for name := range s.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	cookies := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		cookies = append(cookies, &http.Cookie{Name: name, Value: s.Cookies[name]})
	}
	return cookies
}

// RequiredCookies lists the cookies a session needs per platform
var RequiredCookies = map[string][]string{
	"instagram": {"sessionid", "csrftoken"},
	"twitter":   {"auth_token", "ct0"},
}

// CookieDomains is where session cookies are installed in the browser
var CookieDomains = map[string]string{
	"instagram": ".instagram.com",
	"twitter":   ".twitter.com",
}

// Validate checks that the session names an account and carries the
// platform's required cookies
func (s *Session) Validate() error {
	if s.Platform == "" {
		return errors.New("platform is required")
	}
	if s.Account == "" {
		return errors.New("account is required")
	}
	for _, name := range RequiredCookies[s.Platform] {
		if s.Cookies[name] == "" {
			return fmt.Errorf("%w: cookie %s is required for %s", ErrInvalidCredentials, name, s.Platform)
		}
	}
	return nil
}

// CredentialStore is the interface for storing and retrieving sessions
type CredentialStore interface {
	Store(session *Session) error
	Retrieve(platform, account string) (*Session, error)
	List() ([]*Session, error)
	Delete(platform, account string) error
	Exists(platform, account string) bool
}

// Manager handles session storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a manager backed by the system keychain when available,
// an encrypted file under configDir and the environment
func NewManager(configDir string) (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	if configDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
		configDir = dir
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over explicit stores, first wins
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves the session using the first store that accepts it
func (m *Manager) Store(session *Session) error {
	if session == nil {
		return ErrInvalidCredentials
	}
	if err := session.Validate(); err != nil {
		return err
	}
	session.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(session)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve gets a session from the first store that has it
func (m *Manager) Retrieve(platform, account string) (*Session, error) {
	for _, store := range m.stores {
		if session, err := store.Retrieve(platform, account); err == nil && session != nil {
			return session, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, Key(platform, account))
}

// RetrieveDefault returns the session for account, or the most recently
// modified session of the platform when account is empty
func (m *Manager) RetrieveDefault(platform, account string) (*Session, error) {
	if account != "" {
		return m.Retrieve(platform, account)
	}

	sessions, err := m.List()
	if err != nil {
		return nil, err
	}
	var best *Session
	for _, s := range sessions {
		if s.Platform != platform {
			continue
		}
		if best == nil || s.LastModified.After(best.LastModified) {
			best = s
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no session for %s", ErrCredentialsNotFound, platform)
	}
	return best, nil
}

// List returns all sessions from all stores, newest version of each key
func (m *Manager) List() ([]*Session, error) {
	byKey := make(map[string]*Session)

	for _, store := range m.stores {
		sessions, err := store.List()
		if err != nil {
			continue
		}
		for _, s := range sessions {
			if existing, ok := byKey[s.Key()]; !ok || s.LastModified.After(existing.LastModified) {
				byKey[s.Key()] = s
			}
		}
	}

	result := make([]*Session, 0, len(byKey))
	for _, s := range byKey {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key() < result[j].Key() })
	return result, nil
}

// Delete removes a session from all stores
func (m *Manager) Delete(platform, account string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(platform, account); err == nil {
			deleted = true
		} else if !errors.Is(err, ErrCredentialsNotFound) {
			lastErr = err
		}
	}

	if deleted {
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	return fmt.Errorf("%w: %s", ErrCredentialsNotFound, Key(platform, account))
}

// ConfigDir returns the per-user configuration directory, creating it
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "snsgrab")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "snsgrab")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "snsgrab")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "snsgrab")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// ParseCookieHeader parses "name=value; name2=value2" as copied from a
// browser's Cookie request header
func ParseCookieHeader(header string) (map[string]string, error) {
	header = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(header), "Cookie:"))
	cookies, err := http.ParseCookie(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out, nil
}

// SanitizeSession returns a copy with cookie values masked
func SanitizeSession(s *Session) *Session {
	if s == nil {
		return nil
	}

	masked := make(map[string]string, len(s.Cookies))
	for name, value := range s.Cookies {
		masked[name] = maskString(value)
	}
	out := *s
	out.Cookies = masked
	return &out
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
