package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rtrss/worker/models"
	"github.com/rtrss/worker/services/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

const testAccountID = 1001

type fakeTracker struct {
	mu           sync.Mutex
	loginHits    int
	topicHits    int
	neverSigned  bool
	quota        bool
	maintenance  bool
	lastDLCookie string
}

func cp1251(s string) []byte {
	b, _ := charmap.Windows1251.NewEncoder().Bytes([]byte(s))
	return b
}

func signedInHTML(body string) string {
	return fmt.Sprintf(`<html><body><a href="./profile.php?mode=viewprofile&amp;u=%d"><b class="med">user</b></a>%s</body></html>`, testAccountID, body)
}

func (f *fakeTracker) handler(t *testing.T) http.Handler {
	writeHTML := func(w http.ResponseWriter, code int, s string) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1251")
		w.WriteHeader(code)
		_, _ = w.Write(cp1251(s))
	}
	valid := func(r *http.Request) bool {
		c, err := r.Cookie("bb_session")
		return err == nil && c.Value == "fresh"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/forum/login.php", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.loginHits++
		f.mu.Unlock()
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, string(cp1251("Вход")), r.PostForm.Get("login"))
		switch r.PostForm.Get("login_username") {
		case "captcha":
			writeHTML(w, http.StatusOK, `<form><input type="hidden" name="cap_sid" value="x"></form>`)
		case "user":
			if r.PostForm.Get("login_password") != "secret" {
				writeHTML(w, http.StatusOK, `<html>Неверный пароль</html>`)
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "bb_session", Value: "fresh", Path: "/"})
			writeHTML(w, http.StatusOK, signedInHTML(""))
		}
	})
	mux.HandleFunc("/forum/viewtopic.php", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.topicHits++
		f.mu.Unlock()
		if f.maintenance {
			writeHTML(w, http.StatusServiceUnavailable, `<h1>Форум временно отключен</h1>`)
			return
		}
		if r.URL.Query().Get("t") == "404" {
			writeHTML(w, http.StatusNotFound, "not found")
			return
		}
		if valid(r) && !f.neverSigned {
			writeHTML(w, http.StatusOK, signedInHTML(`<span id="tor-hash">ABC</span> Раздача `+r.URL.Query().Get("t")))
			return
		}
		writeHTML(w, http.StatusOK, `<html>guest</html>`)
	})
	mux.HandleFunc("/forum/dl.php", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if c, err := r.Cookie("bb_dl"); err == nil {
			f.lastDLCookie = c.Value
		}
		if !valid(r) {
			writeHTML(w, http.StatusOK, `<html>guest</html>`)
			return
		}
		if f.quota {
			writeHTML(w, http.StatusOK, signedInHTML(`Вы уже исчерпали суточный лимит скачиваний торрент-файлов`))
			return
		}
		w.Header().Set("Content-Type", "application/x-bittorrent")
		_, _ = w.Write([]byte("d4:infode"))
	})
	mux.HandleFunc("/feed.atom", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(`<feed xmlns="http://www.w3.org/2005/Atom"></feed>`))
	})
	return mux
}

type savedCookies struct {
	calls []map[string]string
}

func (s *savedCookies) SaveCookies(_ context.Context, a *models.Account) error {
	s.calls = append(s.calls, a.Cookies)
	return nil
}

func newTestFactory(t *testing.T, f *fakeTracker, saver CookieSaver) *Factory {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	fac, err := NewFactory(&Config{
		BaseURL: srv.URL,
		FeedURL: srv.URL + "/feed.atom",
	}, saver)
	require.NoError(t, err)
	return fac
}

func testAccount(username string, cookies map[string]string) *models.Account {
	return &models.Account{
		AccountID: testAccountID,
		Enabled:   true,
		Username:  username,
		Password:  "secret",
		Cookies:   cookies,
	}
}

func TestSignInPersistsCookies(t *testing.T) {
	saver := &savedCookies{}
	fac := newTestFactory(t, &fakeTracker{}, saver)
	cl := fac.For(testAccount("user", nil))
	assert.Equal(t, Anonymous, cl.State())
	require.NoError(t, cl.SignIn(context.Background()))
	assert.Equal(t, Authenticated, cl.State())
	require.Len(t, saver.calls, 1)
	assert.Equal(t, "fresh", saver.calls[0]["bb_session"])
}

func TestSignInCaptcha(t *testing.T) {
	fac := newTestFactory(t, &fakeTracker{}, nil)
	cl := fac.For(testAccount("captcha", nil))
	err := cl.SignIn(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Captcha))
	assert.Equal(t, Anonymous, cl.State())
}

func TestSignInFailure(t *testing.T) {
	fac := newTestFactory(t, &fakeTracker{}, nil)
	a := testAccount("user", nil)
	a.Password = "wrong"
	err := fac.For(a).SignIn(context.Background())
	assert.True(t, errs.Is(err, errs.Auth))
}

func TestExpiredSessionSignsInOnce(t *testing.T) {
	ft := &fakeTracker{}
	saver := &savedCookies{}
	fac := newTestFactory(t, ft, saver)
	cl := fac.For(testAccount("user", map[string]string{"bb_session": "stale"}))
	assert.Equal(t, Authenticated, cl.State())

	html, err := cl.Topic(context.Background(), 42)
	require.NoError(t, err)
	assert.Contains(t, html, "Раздача 42")
	assert.Equal(t, 1, ft.loginHits)
	assert.Equal(t, 2, ft.topicHits)
	assert.Len(t, saver.calls, 1)
}

func TestAuthFailsAfterSingleRetry(t *testing.T) {
	ft := &fakeTracker{neverSigned: true}
	fac := newTestFactory(t, ft, nil)
	cl := fac.For(testAccount("user", nil))
	_, err := cl.Topic(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Auth))
	assert.Equal(t, 2, ft.loginHits)
	assert.Equal(t, 2, ft.topicHits)
}

func TestTorrentDownload(t *testing.T) {
	ft := &fakeTracker{}
	fac := newTestFactory(t, ft, nil)
	data, err := fac.For(testAccount("user", nil)).Torrent(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []byte("d4:infode"), data)
	assert.Equal(t, "42", ft.lastDLCookie)
}

func TestTorrentQuota(t *testing.T) {
	fac := newTestFactory(t, &fakeTracker{quota: true}, nil)
	_, err := fac.For(testAccount("user", nil)).Torrent(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Quota))
}

func TestMaintenance(t *testing.T) {
	fac := newTestFactory(t, &fakeTracker{maintenance: true}, nil)
	_, err := fac.For(testAccount("user", map[string]string{"bb_session": "fresh"})).Topic(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Maintenance))
}

func TestNonSuccessStatusIsTransport(t *testing.T) {
	fac := newTestFactory(t, &fakeTracker{}, nil)
	_, err := fac.For(testAccount("user", map[string]string{"bb_session": "fresh"})).Topic(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Transport))
}

func TestFeedAnonymous(t *testing.T) {
	fac := newTestFactory(t, &fakeTracker{}, nil)
	data, err := fac.Anonymous().Feed(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(data), "<feed")
}

func TestAnonymousCannotFetchPages(t *testing.T) {
	fac := newTestFactory(t, &fakeTracker{}, nil)
	_, err := fac.Anonymous().Topic(context.Background(), 1)
	assert.True(t, errs.Is(err, errs.Auth))
}
