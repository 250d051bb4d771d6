package scraper

import (
	"context"

	"github.com/rtrss/worker/services/torrentfile"
	"github.com/rtrss/worker/services/tracker"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const passkeyParamFlag = "tracker-passkey-param"

func RegisterFlags(f []cli.Flag) []cli.Flag {
	return append(f,
		cli.StringFlag{
			Name:   passkeyParamFlag,
			Usage:  "announce url query parameter carrying account passkey",
			Value:  "uk",
			EnvVar: "TRACKER_PASSKEY_PARAM",
		},
	)
}

func PasskeyParam(c *cli.Context) string {
	return c.String(passkeyParamFlag)
}

// Scraper turns tracker responses into domain values.
type Scraper struct {
	cl           *tracker.Client
	passkeyParam string
}

func New(cl *tracker.Client, passkeyParam string) *Scraper {
	return &Scraper{
		cl:           cl,
		passkeyParam: passkeyParam,
	}
}

func (s *Scraper) LatestTopics(ctx context.Context) ([]FeedEntry, error) {
	data, err := s.cl.Feed(ctx)
	if err != nil {
		return nil, err
	}
	return ParseFeed(data)
}

func (s *Scraper) Topic(ctx context.Context, id int) (*TopicDetail, error) {
	html, err := s.cl.Topic(ctx, id)
	if err != nil {
		return nil, err
	}
	return ParseTopic(html)
}

type Torrent struct {
	// Data is the artifact with passkey announces stripped.
	Data     []byte
	Infohash string
	Size     int64
}

// Torrent downloads and validates the torrent file of the topic.
func (s *Scraper) Torrent(ctx context.Context, id int) (*Torrent, error) {
	data, err := s.cl.Torrent(ctx, id)
	if err != nil {
		return nil, err
	}
	return ProcessTorrent(data, s.passkeyParam)
}

func ProcessTorrent(data []byte, passkeyParam string) (*Torrent, error) {
	f, err := torrentfile.Decode(data)
	if err != nil {
		return nil, err
	}
	n, err := f.RemovePasskeys(passkeyParam)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		log.WithField("infohash", f.Infohash()).WithField("removed", n).Debug("passkey announces removed")
	}
	enc, err := f.Encode()
	if err != nil {
		return nil, err
	}
	return &Torrent{
		Data:     enc,
		Infohash: f.Infohash(),
		Size:     f.Size(),
	}, nil
}

func (s *Scraper) FindTorrents(ctx context.Context, forumID int) ([]SearchResult, error) {
	html, err := s.cl.Search(ctx, forumID)
	if err != nil {
		return nil, err
	}
	return ParseSearch(html)
}

func (s *Scraper) CategoryIDs(ctx context.Context) ([]int, error) {
	html, err := s.cl.CategoryMap(ctx)
	if err != nil {
		return nil, err
	}
	return ParseCategoryMap(html)
}

func (s *Scraper) ForumCategories(ctx context.Context, forumID int) ([]CategoryRef, error) {
	html, err := s.cl.ForumPage(ctx, forumID)
	if err != nil {
		return nil, err
	}
	return ParseForumPage(html)
}
