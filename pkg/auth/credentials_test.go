package auth

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func igSession(account string) *Session {
	return &Session{
		Platform: "instagram",
		Account:  account,
		Cookies: map[string]string{
			"sessionid": "test_session_id_12345",
			"csrftoken": "test_csrf_token_67890",
		},
		UserAgent: "TestAgent/1.0",
	}
}

func TestCredentialManager(t *testing.T) {
	mockStore := NewMockStore()
	manager := NewManagerWithStores(mockStore)

	session := igSession("testuser")
	require.NoError(t, manager.Store(session))
	assert.False(t, session.LastModified.IsZero())

	retrieved, err := manager.Retrieve("instagram", "testuser")
	require.NoError(t, err)
	assert.Equal(t, session.Cookies, retrieved.Cookies)

	_, err = manager.Retrieve("twitter", "testuser")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	sessions, err := manager.List()
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	require.NoError(t, manager.Delete("instagram", "testuser"))
	assert.Equal(t, 0, mockStore.Count())
	assert.ErrorIs(t, manager.Delete("instagram", "testuser"), ErrCredentialsNotFound)
}

func TestStoreValidatesCookies(t *testing.T) {
	manager := NewManagerWithStores(NewMockStore())

	s := igSession("u")
	delete(s.Cookies, "csrftoken")
	err := manager.Store(s)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.ErrorContains(t, err, "csrftoken")

	assert.Error(t, manager.Store(&Session{Platform: "instagram"}))
	assert.ErrorIs(t, manager.Store(nil), ErrInvalidCredentials)
}

func TestStoreFallsBack(t *testing.T) {
	failing := NewMockStore()
	failing.StoreError = errors.New("locked")
	second := NewMockStore()

	manager := NewManagerWithStores(failing, second)
	require.NoError(t, manager.Store(igSession("u")))
	assert.Equal(t, 0, failing.Count())
	assert.Equal(t, 1, second.Count())

	second.StoreError = errors.New("full")
	err := manager.Store(igSession("v"))
	assert.ErrorContains(t, err, "full")
}

func TestRetrieveDefault(t *testing.T) {
	store := NewMockStore()
	manager := NewManagerWithStores(store)

	older := igSession("old")
	older.LastModified = time.Now().Add(-time.Hour)
	newer := igSession("new")
	newer.LastModified = time.Now()
	require.NoError(t, store.Store(older))
	require.NoError(t, store.Store(newer))

	s, err := manager.RetrieveDefault("instagram", "")
	require.NoError(t, err)
	assert.Equal(t, "new", s.Account)

	s, err = manager.RetrieveDefault("instagram", "old")
	require.NoError(t, err)
	assert.Equal(t, "old", s.Account)

	_, err = manager.RetrieveDefault("twitter", "")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
}

func TestSessionCookies(t *testing.T) {
	s := igSession("u")
	cookies := s.HTTPCookies()
	require.Len(t, cookies, 2)
	assert.Equal(t, "csrftoken", cookies[0].Name)
	assert.Equal(t, "sessionid", cookies[1].Name)

	masked := SanitizeSession(s)
	assert.Equal(t, "test...2345", masked.Cookies["sessionid"])
	assert.Equal(t, "test_session_id_12345", s.Cookies["sessionid"])
	assert.Nil(t, SanitizeSession(nil))
	assert.Equal(t, "********", maskString("short"))
}

func TestParseCookieHeader(t *testing.T) {
	cookies, err := ParseCookieHeader("Cookie: auth_token=abc; ct0=def; lang=en")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"auth_token": "abc", "ct0": "def", "lang": "en"}, cookies)

	_, err = ParseCookieHeader("")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv(PassphraseEnv, "test_passphrase_123")
	path := filepath.Join(t.TempDir(), "creds.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)

	s := igSession("encrypted_user")
	require.NoError(t, store.Store(s))
	assert.True(t, store.Exists("instagram", "encrypted_user"))

	retrieved, err := store.Retrieve("instagram", "encrypted_user")
	require.NoError(t, err)
	assert.Equal(t, s.Cookies, retrieved.Cookies)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "test_session_id_12345")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// a store with another passphrase cannot read the file
	t.Setenv(PassphraseEnv, "other")
	other, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	_, err = other.Retrieve("instagram", "encrypted_user")
	assert.ErrorContains(t, err, "decrypt")

	t.Setenv(PassphraseEnv, "test_passphrase_123")
	require.NoError(t, store.Delete("instagram", "encrypted_user"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.ErrorIs(t, store.Delete("instagram", "encrypted_user"), ErrCredentialsNotFound)
}

func TestEncryptedFileStoreGeneratesPassphrase(t *testing.T) {
	t.Setenv(PassphraseEnv, "")
	dir := t.TempDir()

	store, err := NewEncryptedFileStore(filepath.Join(dir, "creds.enc"))
	require.NoError(t, err)
	require.NoError(t, store.Store(igSession("u")))

	pass, err := os.ReadFile(filepath.Join(dir, ".passphrase"))
	require.NoError(t, err)
	assert.NotEmpty(t, pass)

	reopened, err := NewEncryptedFileStore(filepath.Join(dir, "creds.enc"))
	require.NoError(t, err)
	sessions, err := reopened.List()
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv("SNSGRAB_TWITTER_COOKIES", "auth_token=env_token; ct0=env_ct0")
	t.Setenv("SNSGRAB_TWITTER_ACCOUNT", "bird")
	t.Setenv("SNSGRAB_INSTAGRAM_COOKIES", "")

	store := NewEnvironmentStore()

	s, err := store.Retrieve("twitter", "")
	require.NoError(t, err)
	assert.Equal(t, "bird", s.Account)
	assert.Equal(t, "env_ct0", s.Cookies["ct0"])

	_, err = store.Retrieve("twitter", "someone-else")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	_, err = store.Retrieve("instagram", "")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	sessions, err := store.List()
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	assert.ErrorIs(t, store.Store(igSession("u")), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete("twitter", "bird"), ErrStoreUnavailable)
}

func TestEnvironmentStoreMissingCookie(t *testing.T) {
	t.Setenv("SNSGRAB_TWITTER_COOKIES", "auth_token=only")
	_, err := NewEnvironmentStore().Retrieve("twitter", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestManagerListPrefersNewest(t *testing.T) {
	a, b := NewMockStore(), NewMockStore()
	stale := igSession("u")
	stale.LastModified = time.Now().Add(-time.Hour)
	stale.UserAgent = "stale"
	fresh := igSession("u")
	fresh.LastModified = time.Now()
	fresh.UserAgent = "fresh"
	require.NoError(t, a.Store(stale))
	require.NoError(t, b.Store(fresh))

	sessions, err := NewManagerWithStores(a, b).List()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "fresh", sessions[0].UserAgent)
}

func TestGuides(t *testing.T) {
	var buf bytes.Buffer
	ShowCookieExtractionGuide(&buf, "twitter")
	assert.Contains(t, buf.String(), "auth_token, ct0")
	assert.Contains(t, buf.String(), "https://twitter.com")

	buf.Reset()
	ShowQuickExtractGuide(&buf, "instagram")
	assert.Contains(t, buf.String(), "sessionid, csrftoken")
}
