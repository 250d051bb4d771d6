package tracker

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rtrss/worker/models"
	"github.com/urfave/cli"
)

const (
	trackerURLFlag           = "tracker-url"
	trackerFeedURLFlag       = "tracker-feed-url"
	trackerTimeoutFlag       = "tracker-timeout"
	trackerPageDelayFlag     = "tracker-page-delay"
	trackerSearchDelayFlag   = "tracker-search-delay"
	trackerDownloadDelayFlag = "tracker-download-delay"
	trackerUserAgentFlag     = "tracker-user-agent"
)

func RegisterFlags(f []cli.Flag) []cli.Flag {
	return append(f,
		cli.StringFlag{
			Name:   trackerURLFlag,
			Usage:  "tracker base url",
			Value:  "https://rutracker.org",
			EnvVar: "TRACKER_URL",
		},
		cli.StringFlag{
			Name:   trackerFeedURLFlag,
			Usage:  "latest activity atom feed url",
			Value:  "https://feed.rutracker.cc/atom/f/0.atom",
			EnvVar: "TRACKER_FEED_URL",
		},
		cli.DurationFlag{
			Name:   trackerTimeoutFlag,
			Usage:  "tracker request timeout",
			Value:  60 * time.Second,
			EnvVar: "TRACKER_TIMEOUT",
		},
		cli.DurationFlag{
			Name:   trackerPageDelayFlag,
			Usage:  "minimum delay between page requests",
			Value:  500 * time.Millisecond,
			EnvVar: "TRACKER_PAGE_DELAY",
		},
		cli.DurationFlag{
			Name:   trackerSearchDelayFlag,
			Usage:  "minimum delay between search requests",
			Value:  time.Second,
			EnvVar: "TRACKER_SEARCH_DELAY",
		},
		cli.DurationFlag{
			Name:   trackerDownloadDelayFlag,
			Usage:  "minimum delay between torrent downloads",
			Value:  2 * time.Second,
			EnvVar: "TRACKER_DOWNLOAD_DELAY",
		},
		cli.StringFlag{
			Name:   trackerUserAgentFlag,
			Usage:  "user agent sent to tracker",
			Value:  "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
			EnvVar: "TRACKER_USER_AGENT",
		},
	)
}

type Config struct {
	BaseURL       string
	FeedURL       string
	Timeout       time.Duration
	PageDelay     time.Duration
	SearchDelay   time.Duration
	DownloadDelay time.Duration
	UserAgent     string
}

func ConfigFromCLI(c *cli.Context) *Config {
	return &Config{
		BaseURL:       c.String(trackerURLFlag),
		FeedURL:       c.String(trackerFeedURLFlag),
		Timeout:       c.Duration(trackerTimeoutFlag),
		PageDelay:     c.Duration(trackerPageDelayFlag),
		SearchDelay:   c.Duration(trackerSearchDelayFlag),
		DownloadDelay: c.Duration(trackerDownloadDelayFlag),
		UserAgent:     c.String(trackerUserAgentFlag),
	}
}

// CookieSaver persists account session cookies after a successful sign in.
type CookieSaver interface {
	SaveCookies(ctx context.Context, a *models.Account) error
}

// Factory builds clients sharing transport and pacing.
type Factory struct {
	cfg      *Config
	base     *url.URL
	cl       *http.Client
	throttle *Throttle
	saver    CookieSaver
}

func NewFactory(cfg *Config, saver CookieSaver) (*Factory, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse tracker url %v", cfg.BaseURL)
	}
	return &Factory{
		cfg:      cfg,
		base:     base,
		cl:       &http.Client{Timeout: cfg.Timeout},
		throttle: NewThrottle(cfg.PageDelay, cfg.SearchDelay, cfg.DownloadDelay),
		saver:    saver,
	}, nil
}

// Anonymous returns a client for requests that need no account, like the feed.
func (s *Factory) Anonymous() *Client {
	return newClient(s, nil)
}

func (s *Factory) For(a *models.Account) *Client {
	return newClient(s, a)
}
