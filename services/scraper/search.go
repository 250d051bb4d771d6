package scraper

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rtrss/worker/services/errs"
)

type SearchResult struct {
	TopicID    int
	CategoryID int
	Title      string
	AuthorID   int
	AuthorName string
	Size       int64
	UpdatedAt  time.Time
}

func queryInt(href string, key string) (int, bool) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return 0, false
	}
	v, err := strconv.Atoi(u.Query().Get(key))
	if err != nil {
		return 0, false
	}
	return v, true
}

func ParseSearch(html string) ([]SearchResult, error) {
	doc, err := newDocument(html)
	if err != nil {
		return nil, err
	}
	var res []SearchResult
	doc.Find("#tor-tbl tbody tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		// "nothing found" placeholder
		if tr.Children().Length() <= 1 {
			return true
		}
		var r *SearchResult
		r, err = parseSearchRow(tr)
		if err != nil {
			return false
		}
		res = append(res, *r)
		return true
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func parseSearchRow(tr *goquery.Selection) (*SearchResult, error) {
	link := tr.Find("a.tLink").First()
	if link.Length() == 0 {
		return nil, errs.New(errs.Unprocessable, "search row has no topic link")
	}
	id, ok := queryInt(link.AttrOr("href", ""), "t")
	if !ok {
		return nil, errs.New(errs.Unprocessable, "search row has malformed topic link")
	}
	r := &SearchResult{
		TopicID: id,
		Title:   strings.TrimSpace(link.Text()),
	}
	if cid, ok := queryInt(tr.Find("a.gen.f").First().AttrOr("href", ""), "f"); ok {
		r.CategoryID = cid
	}
	author := tr.Find(".u-name a").First()
	if aid, ok := queryInt(author.AttrOr("href", ""), "pid"); ok {
		r.AuthorID = aid
	}
	r.AuthorName = strings.TrimSpace(author.Text())
	if v, ok := tr.Find("td.tor-size").First().Attr("data-ts_text"); ok {
		r.Size, _ = strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	}
	if v, ok := tr.Children().Last().Attr("data-ts_text"); ok {
		if ts, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			r.UpdatedAt = time.Unix(ts, 0).UTC()
		}
	}
	return r, nil
}
