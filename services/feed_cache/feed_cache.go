package feed_cache

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const (
	feedCacheRedisURLFlag = "feed-cache-redis-url"
	feedCachePrefixFlag   = "feed-cache-prefix"
)

func RegisterFlags(f []cli.Flag) []cli.Flag {
	return append(f,
		cli.StringFlag{
			Name:   feedCacheRedisURLFlag,
			Usage:  "redis url of rendered feed cache, invalidation is disabled if empty",
			EnvVar: "FEED_CACHE_REDIS_URL",
		},
		cli.StringFlag{
			Name:   feedCachePrefixFlag,
			Usage:  "key prefix of rendered feeds",
			Value:  "feed",
			EnvVar: "FEED_CACHE_PREFIX",
		},
	)
}

// FeedCache drops rendered category feeds once their torrents change.
type FeedCache struct {
	cl     redis.UniversalClient
	prefix string
}

func New(c *cli.Context) (*FeedCache, error) {
	u := c.String(feedCacheRedisURLFlag)
	if u == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(u)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse feed cache redis url")
	}
	return NewWithClient(redis.NewClient(opts), c.String(feedCachePrefixFlag)), nil
}

func NewWithClient(cl redis.UniversalClient, prefix string) *FeedCache {
	return &FeedCache{
		cl:     cl,
		prefix: prefix,
	}
}

func (s *FeedCache) keys(categoryIDs []int) []string {
	seen := map[int]bool{}
	res := []string{s.prefix + ":all"}
	for _, id := range categoryIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		res = append(res, s.prefix+":"+strconv.Itoa(id))
	}
	return res
}

func (s *FeedCache) Invalidate(ctx context.Context, categoryIDs []int) error {
	if len(categoryIDs) == 0 {
		return nil
	}
	keys := s.keys(categoryIDs)
	n, err := s.cl.Del(ctx, keys...).Result()
	if err != nil {
		return errors.Wrap(err, "failed to invalidate feeds")
	}
	log.WithField("keys", len(keys)).WithField("deleted", n).Debug("feeds invalidated")
	return nil
}

func (s *FeedCache) Close() error {
	return s.cl.Close()
}
