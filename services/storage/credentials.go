package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/rtrss/worker/services/errs"
	"github.com/rtrss/worker/services/retry"
	log "github.com/sirupsen/logrus"
	"github.com/webtor-io/lazymap"
)

// CredentialStore downloads the storage credentials file once and keeps it
// in the data dir, so that restarts and sibling processes reuse it.
type CredentialStore struct {
	dataDir     string
	url         string
	cl          *http.Client
	policy      *retry.Policy
	lockTimeout time.Duration
	lockPoll    time.Duration
}

func NewCredentialStore(dataDir string, url string, o *Options) *CredentialStore {
	o = o.withDefaults()
	return &CredentialStore{
		dataDir:     dataDir,
		url:         url,
		cl:          o.HTTPClient,
		policy:      o.Retry,
		lockTimeout: o.LockTimeout,
		lockPoll:    o.LockPoll,
	}
}

func (s *CredentialStore) path() string {
	sum := md5.Sum([]byte(s.url))
	return filepath.Join(s.dataDir, hex.EncodeToString(sum[:])+"-credentials.json")
}

// Path returns local path of the credentials file, downloading it first if
// missing.
func (s *CredentialStore) Path(ctx context.Context) (string, error) {
	p := s.path()
	if err := os.MkdirAll(s.dataDir, 0o700); err != nil {
		return "", errors.Wrap(err, "failed to create data dir")
	}
	fl := flock.New(p + ".lock")
	lctx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(lctx, s.lockPoll)
	if err != nil || !locked {
		return "", errs.Wrap(errs.Storage, errors.Errorf("lock %v not acquired: %v", fl.Path(), err), "failed to lock credentials file")
	}
	defer unlock(fl)
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}
	var data []byte
	err = s.policy.Do(ctx, "credentials download", func(ctx context.Context) error {
		data, err = s.fetch(ctx)
		return err
	})
	if err != nil {
		return "", errs.Wrap(errs.Storage, err, "failed to download credentials")
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", errors.Wrap(err, "failed to save credentials")
	}
	log.WithField("path", p).Info("storage credentials saved")
	return p, nil
}

func (s *CredentialStore) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	res, err := s.cl.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch credentials")
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(res.Body)
	if res.StatusCode != http.StatusOK {
		return nil, &statusError{code: res.StatusCode}
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read credentials")
	}
	return data, nil
}

type credentialsFile struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token,omitempty"`
}

// FileProvider reads static credentials from a JSON file under a shared
// lock. Reads are memoized.
type FileProvider struct {
	path        string
	lockTimeout time.Duration
	lockPoll    time.Duration
	cache       *lazymap.LazyMap[credentials.Value]
}

var _ credentials.Provider = (*FileProvider)(nil)

func NewFileProvider(path string, o *Options) *FileProvider {
	o = o.withDefaults()
	return &FileProvider{
		path:        path,
		lockTimeout: o.LockTimeout,
		lockPoll:    o.LockPoll,
		cache: lazymap.New[credentials.Value](&lazymap.Config{
			Expire:      time.Hour,
			ErrorExpire: 10 * time.Second,
		}),
	}
}

func (s *FileProvider) Retrieve() (credentials.Value, error) {
	return s.cache.Get(s.path, s.read)
}

func (s *FileProvider) IsExpired() bool {
	return false
}

func (s *FileProvider) read() (credentials.Value, error) {
	fl := flock.New(s.path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()
	locked, err := fl.TryRLockContext(ctx, s.lockPoll)
	if err != nil || !locked {
		return credentials.Value{}, errors.Errorf("failed to lock credentials file %v: %v", s.path, err)
	}
	defer unlock(fl)
	data, err := os.ReadFile(s.path)
	if err != nil {
		return credentials.Value{}, errors.Wrap(err, "failed to read credentials file")
	}
	var cf credentialsFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return credentials.Value{}, errors.Wrap(err, "failed to parse credentials file")
	}
	if cf.AccessKeyID == "" || cf.SecretAccessKey == "" {
		return credentials.Value{}, errors.New("credentials file misses access key")
	}
	return credentials.Value{
		AccessKeyID:     cf.AccessKeyID,
		SecretAccessKey: cf.SecretAccessKey,
		SessionToken:    cf.SessionToken,
		ProviderName:    "CredentialsFile",
	}, nil
}
