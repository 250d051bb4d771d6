package storage

import (
	"bytes"
	"context"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rtrss/worker/services/errs"
	"github.com/rtrss/worker/services/retry"
	log "github.com/sirupsen/logrus"
)

const (
	downloadPartSize = 1 << 20
	deleteBatchSize  = 1000
)

type S3 struct {
	cl     s3iface.S3API
	up     *s3manager.Uploader
	down   *s3manager.Downloader
	bucket string
	prefix string
	policy *retry.Policy
}

// NewS3 builds the backend from s3://bucket/prefix?region=&endpoint=&path_style=&credentials=
func NewS3(ctx context.Context, u *url.URL, o *Options) (*S3, error) {
	o = o.withDefaults()
	q := u.Query()
	cfg := &aws.Config{
		HTTPClient: o.HTTPClient,
		MaxRetries: aws.Int(0),
	}
	if r := q.Get("region"); r != "" {
		cfg.Region = aws.String(r)
	} else {
		cfg.Region = aws.String("us-east-1")
	}
	if e := q.Get("endpoint"); e != "" {
		cfg.Endpoint = aws.String(e)
	}
	if ps := q.Get("path_style"); ps != "" {
		v, err := strconv.ParseBool(ps)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid path_style value %v", ps)
		}
		cfg.S3ForcePathStyle = aws.Bool(v)
	}
	credPath := q.Get("credentials")
	if credPath == "" && o.CredentialsURL != "" {
		cs := NewCredentialStore(o.DataDir, o.CredentialsURL, o)
		p, err := cs.Path(ctx)
		if err != nil {
			return nil, err
		}
		credPath = p
	}
	if credPath != "" {
		cfg.Credentials = credentials.NewCredentials(NewFileProvider(credPath, o))
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create aws session")
	}
	return NewS3WithClient(s3.New(sess), u.Host, u.Path, o), nil
}

func NewS3WithClient(cl s3iface.S3API, bucket string, prefix string, o *Options) *S3 {
	o = o.withDefaults()
	return &S3{
		cl: cl,
		up: s3manager.NewUploaderWithClient(cl, func(u *s3manager.Uploader) {
			u.PartSize = s3manager.MinUploadPartSize
		}),
		down: s3manager.NewDownloaderWithClient(cl, func(d *s3manager.Downloader) {
			d.PartSize = downloadPartSize
		}),
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		policy: o.Retry,
	}
}

func (s *S3) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return path.Join(s.prefix, k)
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.policy.Do(ctx, "s3 get", func(ctx context.Context) error {
		buf := aws.NewWriteAtBuffer([]byte{})
		_, err := s.down.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(key)),
		})
		if awsCode(err) == s3.ErrCodeNoSuchKey {
			data = nil
			return nil
		} else if err != nil {
			return err
		}
		data = buf.Bytes()
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "failed to get object")
	}
	return data, nil
}

func (s *S3) Put(ctx context.Context, key string, data []byte, contentType string) error {
	err := s.policy.Do(ctx, "s3 put", func(ctx context.Context) error {
		_, err := s.up.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.key(key)),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Storage, err, "failed to put object")
	}
	log.WithField("key", key).
		WithField("size", humanize.Bytes(uint64(len(data)))).
		Debug("object stored")
	return nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	err := s.policy.Do(ctx, "s3 delete", func(ctx context.Context) error {
		_, err := s.cl.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(key)),
		})
		if awsCode(err) == s3.ErrCodeNoSuchKey {
			return nil
		}
		return err
	})
	if err != nil {
		return errs.Wrap(errs.Storage, err, "failed to delete object")
	}
	return nil
}

func (s *S3) BulkDelete(ctx context.Context, keys []string) error {
	for i := 0; i < len(keys); i += deleteBatchSize {
		end := min(i+deleteBatchSize, len(keys))
		objs := make([]*s3.ObjectIdentifier, 0, end-i)
		for _, k := range keys[i:end] {
			objs = append(objs, &s3.ObjectIdentifier{Key: aws.String(s.key(k))})
		}
		var out *s3.DeleteObjectsOutput
		err := s.policy.Do(ctx, "s3 bulk delete", func(ctx context.Context) error {
			var err error
			out, err = s.cl.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(s.bucket),
				Delete: &s3.Delete{
					Objects: objs,
					Quiet:   aws.Bool(true),
				},
			})
			return err
		})
		if err != nil {
			return errs.Wrap(errs.Storage, err, "failed to delete objects")
		}
		for _, e := range out.Errors {
			log.WithFields(log.Fields{
				"key":     aws.StringValue(e.Key),
				"code":    aws.StringValue(e.Code),
				"message": aws.StringValue(e.Message),
			}).Warn("failed to delete object")
		}
	}
	return nil
}

func (s *S3) String() string {
	return "s3://" + path.Join(s.bucket, s.prefix)
}
