package storage

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rtrss/worker/services/retry"
	"github.com/urfave/cli"
)

const (
	storageURLFlag            = "storage-url"
	storageCredentialsURLFlag = "storage-credentials-url"
	dataDirFlag               = "data-dir"
	storageLockTimeoutFlag    = "storage-lock-timeout"
)

func RegisterFlags(f []cli.Flag) []cli.Flag {
	return append(f,
		cli.StringFlag{
			Name:   storageURLFlag,
			Usage:  "torrent storage url (file:///path or s3://bucket/prefix?region=...)",
			Value:  "file://./data/torrents",
			EnvVar: "STORAGE_URL",
		},
		cli.StringFlag{
			Name:   storageCredentialsURLFlag,
			Usage:  "url of the storage credentials file, downloaded once into data dir",
			EnvVar: "STORAGE_CREDENTIALS_URL",
		},
		cli.StringFlag{
			Name:   dataDirFlag,
			Usage:  "directory for local worker state",
			Value:  "./data",
			EnvVar: "DATA_DIR",
		},
		cli.DurationFlag{
			Name:   storageLockTimeoutFlag,
			Usage:  "file lock acquisition timeout",
			Value:  5 * time.Second,
			EnvVar: "STORAGE_LOCK_TIMEOUT",
		},
	)
}

// Storage keeps torrent artifacts by key.
type Storage interface {
	// Get returns nil data and nil error when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Delete succeeds when the key is absent.
	Delete(ctx context.Context, key string) error
	// BulkDelete logs per-key failures instead of returning them.
	BulkDelete(ctx context.Context, keys []string) error
}

type Options struct {
	DataDir        string
	CredentialsURL string
	LockTimeout    time.Duration
	LockPoll       time.Duration
	HTTPClient     *http.Client
	Retry          *retry.Policy
}

func (o *Options) withDefaults() *Options {
	r := *o
	if r.LockTimeout == 0 {
		r.LockTimeout = 5 * time.Second
	}
	if r.LockPoll == 0 {
		r.LockPoll = 50 * time.Millisecond
	}
	if r.HTTPClient == nil {
		r.HTTPClient = http.DefaultClient
	}
	if r.Retry == nil {
		r.Retry = DefaultRetryPolicy()
	}
	return &r
}

// New selects a backend by url scheme.
func New(ctx context.Context, rawURL string, o *Options) (Storage, error) {
	if o == nil {
		o = &Options{}
	}
	o = o.withDefaults()
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse storage url %v", rawURL)
	}
	switch u.Scheme {
	case "file", "":
		dir := u.Path
		if u.Host != "" {
			dir = u.Host + u.Path
		}
		if dir == "" {
			return nil, errors.Errorf("empty directory in storage url %v", rawURL)
		}
		return NewLocalDirectory(dir, o), nil
	case "s3":
		return NewS3(ctx, u, o)
	default:
		return nil, errors.Errorf("unsupported storage scheme %q", u.Scheme)
	}
}

func NewFromCLI(ctx context.Context, c *cli.Context, cl *http.Client) (Storage, error) {
	return New(ctx, c.String(storageURLFlag), &Options{
		DataDir:        c.String(dataDirFlag),
		CredentialsURL: c.String(storageCredentialsURLFlag),
		LockTimeout:    c.Duration(storageLockTimeoutFlag),
		HTTPClient:     cl,
	})
}
