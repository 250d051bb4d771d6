package tracker

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rtrss/worker/models"
	"github.com/rtrss/worker/services/errs"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/charmap"
)

type State int

const (
	Anonymous State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

const loginSubmit = "Вход"

// Client is a session with the tracker on behalf of one account. It is not
// safe for concurrent use.
type Client struct {
	f       *Factory
	account *models.Account
	jar     *cookiejar.Jar
	cl      *http.Client
	state   State
}

type response struct {
	status      int
	contentType string
	body        []byte
	html        string
}

func newClient(f *Factory, a *models.Account) *Client {
	jar, _ := cookiejar.New(nil)
	cl := *f.cl
	cl.Jar = jar
	c := &Client{
		f:       f,
		account: a,
		jar:     jar,
		cl:      &cl,
		state:   Anonymous,
	}
	if a != nil && len(a.Cookies) > 0 {
		var cookies []*http.Cookie
		for k, v := range a.Cookies {
			cookies = append(cookies, &http.Cookie{Name: k, Value: v})
		}
		jar.SetCookies(f.base, cookies)
		c.state = Authenticated
	}
	return c
}

func (s *Client) State() State {
	return s.state
}

func (s *Client) Account() *models.Account {
	return s.account
}

func (s *Client) url(path string, q url.Values) string {
	u := *s.f.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/forum/" + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (s *Client) do(ctx context.Context, rc requestClass, req *http.Request) (*response, error) {
	if err := s.f.throttle.Wait(ctx, rc); err != nil {
		return nil, errors.Wrap(err, "throttle wait interrupted")
	}
	if s.f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.f.cfg.UserAgent)
	}
	res, err := s.cl.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errs.Wrap(errs.Transport, err, "request failed")
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(res.Body)
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errs.Wrap(errs.Transport, err, "failed to read response")
	}
	r := &response{
		status:      res.StatusCode,
		contentType: res.Header.Get("Content-Type"),
		body:        body,
	}
	if r.isHTML() {
		r.html = decodeHTML(body, r.contentType)
		if inMaintenance(r.html) {
			return nil, errs.New(errs.Maintenance, "tracker is in maintenance mode")
		}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, errs.New(errs.Transport, "unexpected status %d for %v", res.StatusCode, req.URL)
	}
	return r, nil
}

func (r *response) isHTML() bool {
	return strings.Contains(r.contentType, "html") ||
		(r.contentType == "" && bytes.HasPrefix(bytes.TrimSpace(r.body), []byte("<")))
}

func decodeHTML(body []byte, contentType string) string {
	rd, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(body)
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		return string(body)
	}
	return string(b)
}

func (s *Client) get(ctx context.Context, rc requestClass, u string) (*response, error) {
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	return s.do(ctx, rc, req)
}

// authed performs request built by mk. A response without the signed-in
// marker leads to one sign in and exactly one retry.
func (s *Client) authed(ctx context.Context, rc requestClass, mk func() (*http.Request, error), ok func(r *response) bool) (*response, error) {
	if s.account == nil {
		return nil, errs.New(errs.Auth, "account required")
	}
	if s.state != Authenticated {
		if err := s.SignIn(ctx); err != nil {
			return nil, err
		}
	}
	req, err := mk()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	r, err := s.do(ctx, rc, req)
	if err != nil {
		return nil, err
	}
	if ok(r) {
		return r, nil
	}
	log.WithField("account", s.account.AccountID).Info("session expired, signing in")
	s.state = Authenticating
	if err := s.SignIn(ctx); err != nil {
		return nil, err
	}
	req, err = mk()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	r, err = s.do(ctx, rc, req)
	if err != nil {
		return nil, err
	}
	if !ok(r) {
		s.state = Anonymous
		return nil, errs.New(errs.Auth, "account %d is not signed in after sign in", s.account.AccountID)
	}
	return r, nil
}

func (s *Client) page(ctx context.Context, rc requestClass, u string) (string, error) {
	r, err := s.authed(ctx, rc, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, u, nil)
	}, func(r *response) bool {
		return signedIn(r.html, s.account.AccountID)
	})
	if err != nil {
		return "", err
	}
	return r.html, nil
}

func encodeCP1251(v string) string {
	e, err := charmap.Windows1251.NewEncoder().String(v)
	if err != nil {
		return v
	}
	return e
}

// SignIn posts account credentials. The session cookies are persisted on
// success.
func (s *Client) SignIn(ctx context.Context) error {
	if s.account == nil {
		return errs.New(errs.Auth, "account required")
	}
	s.state = Authenticating
	form := url.Values{
		"login_username": {encodeCP1251(s.account.Username)},
		"login_password": {encodeCP1251(s.account.Password)},
		"login":          {encodeCP1251(loginSubmit)},
	}
	req, err := http.NewRequest(http.MethodPost, s.url("login.php", nil), strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r, err := s.do(ctx, pageRequest, req)
	if err != nil {
		s.state = Anonymous
		return err
	}
	l := log.WithField("account", s.account.AccountID)
	switch {
	case signedIn(r.html, s.account.AccountID):
		s.state = Authenticated
		s.account.Cookies = s.cookies()
		l.Info("signed in")
		if s.f.saver != nil {
			if err := s.f.saver.SaveCookies(ctx, s.account); err != nil {
				l.WithError(err).Warn("failed to save cookies")
			}
		}
		return nil
	case strings.Contains(r.html, captchaMarker):
		s.state = Anonymous
		return errs.New(errs.Captcha, "captcha required for account %d", s.account.AccountID)
	default:
		s.state = Anonymous
		return errs.New(errs.Auth, "account %d failed to sign in", s.account.AccountID)
	}
}

func (s *Client) cookies() map[string]string {
	res := map[string]string{}
	for _, c := range s.jar.Cookies(s.f.base) {
		res[c.Name] = c.Value
	}
	return res
}

// Feed returns raw latest activity feed. It requires no account.
func (s *Client) Feed(ctx context.Context) ([]byte, error) {
	r, err := s.get(ctx, pageRequest, s.f.cfg.FeedURL)
	if err != nil {
		return nil, err
	}
	return r.body, nil
}

func (s *Client) Topic(ctx context.Context, id int) (string, error) {
	return s.page(ctx, pageRequest, s.url("viewtopic.php", url.Values{"t": {strconv.Itoa(id)}}))
}

func (s *Client) CategoryMap(ctx context.Context) (string, error) {
	return s.page(ctx, pageRequest, s.url("index.php", url.Values{"map": {"1"}}))
}

func (s *Client) ForumPage(ctx context.Context, id int) (string, error) {
	return s.page(ctx, pageRequest, s.url("viewforum.php", url.Values{"f": {strconv.Itoa(id)}}))
}

func (s *Client) Search(ctx context.Context, forumID int) (string, error) {
	return s.page(ctx, searchRequest, s.url("tracker.php", url.Values{"f": {strconv.Itoa(forumID)}}))
}

// Torrent downloads torrent file of the topic.
func (s *Client) Torrent(ctx context.Context, topicID int) ([]byte, error) {
	id := strconv.Itoa(topicID)
	u := s.url("dl.php", url.Values{"t": {id}})
	mk := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, u, nil)
		if err != nil {
			return nil, err
		}
		req.AddCookie(&http.Cookie{Name: "bb_dl", Value: id})
		return req, nil
	}
	var quota bool
	r, err := s.authed(ctx, downloadRequest, mk, func(r *response) bool {
		if !r.isHTML() {
			return true
		}
		if strings.Contains(r.html, quotaMarker) {
			quota = true
			return true
		}
		return signedIn(r.html, s.account.AccountID)
	})
	if err != nil {
		return nil, err
	}
	if quota {
		return nil, errs.New(errs.Quota, "download limit reached for account %d", s.account.AccountID)
	}
	if r.isHTML() {
		return nil, errs.New(errs.Unprocessable, "no torrent file for topic %d", topicID)
	}
	return r.body, nil
}
