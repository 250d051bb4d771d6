package scraper

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rtrss/worker/services/errs"
	log "github.com/sirupsen/logrus"
)

// Feed timestamps lag behind real activity by one hour.
const feedTimeFix = time.Hour

const updatedMarker = "[Обновлено]"

type FeedEntry struct {
	TopicID   int
	Title     string
	UpdatedAt time.Time
	Changed   bool
}

func ParseFeed(data []byte) ([]FeedEntry, error) {
	f, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.Unprocessable, err, "failed to parse feed")
	}
	res := make([]FeedEntry, 0, len(f.Items))
	seen := map[int]bool{}
	for _, item := range f.Items {
		e, err := parseFeedItem(item)
		if err != nil {
			log.WithError(err).WithField("link", item.Link).Warn("skipping feed entry")
			continue
		}
		if seen[e.TopicID] {
			continue
		}
		seen[e.TopicID] = true
		res = append(res, *e)
	}
	return res, nil
}

func parseFeedItem(item *gofeed.Item) (*FeedEntry, error) {
	id, err := topicIDFromLink(item.Link)
	if err != nil {
		return nil, err
	}
	ts := item.UpdatedParsed
	if ts == nil {
		ts = item.PublishedParsed
	}
	if ts == nil {
		return nil, errs.New(errs.Unprocessable, "feed entry %d has no timestamp", id)
	}
	title := strings.TrimSpace(item.Title)
	changed := false
	if strings.HasPrefix(title, updatedMarker) {
		title = strings.TrimSpace(strings.TrimPrefix(title, updatedMarker))
		changed = true
	}
	return &FeedEntry{
		TopicID:   id,
		Title:     title,
		UpdatedAt: ts.Add(feedTimeFix).UTC(),
		Changed:   changed,
	}, nil
}

func topicIDFromLink(link string) (int, error) {
	u, err := url.Parse(link)
	if err != nil {
		return 0, errs.Wrap(errs.Unprocessable, err, "bad topic link")
	}
	t := u.Query().Get("t")
	id, err := strconv.Atoi(t)
	if err != nil {
		return 0, errs.Wrap(errs.Unprocessable, err, "bad topic id in link")
	}
	return id, nil
}
