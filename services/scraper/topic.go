package scraper

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rtrss/worker/models"
	"github.com/rtrss/worker/services/errs"
)

var unprocessableMarkers = []string{
	"Тема не найдена",
	"Тема находится в мусорке",
	"Раздача закрыта правообладателем",
}

// CategoryRef is one breadcrumb element. The all-categories root has
// TrackerID 0.
type CategoryRef struct {
	TrackerID  int
	Title      string
	IsSubforum bool
}

type TopicDetail struct {
	Infohash   string
	Categories []CategoryRef
}

func newDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errs.Wrap(errs.Unprocessable, err, "failed to parse html")
	}
	return doc, nil
}

func ParseTopic(html string) (*TopicDetail, error) {
	for _, m := range unprocessableMarkers {
		if strings.Contains(html, m) {
			return nil, errs.New(errs.Unprocessable, "topic flagged: %v", m)
		}
	}
	doc, err := newDocument(html)
	if err != nil {
		return nil, err
	}
	cats, err := parseBreadcrumb(withExactClass(doc.Selection, "nav w100 pad_2"))
	if err != nil {
		return nil, err
	}
	return &TopicDetail{
		Infohash:   strings.ToLower(strings.TrimSpace(doc.Find("span#tor-hash").First().Text())),
		Categories: cats,
	}, nil
}

// ParseForumPage returns breadcrumb of a forum index page.
func ParseForumPage(html string) ([]CategoryRef, error) {
	doc, err := newDocument(html)
	if err != nil {
		return nil, err
	}
	return parseBreadcrumb(withExactClass(doc.Selection, "nav nav-top w100 pad_2"))
}

func withExactClass(s *goquery.Selection, class string) *goquery.Selection {
	sel := "." + strings.ReplaceAll(class, " ", ".")
	return s.Find(sel).FilterFunction(func(_ int, n *goquery.Selection) bool {
		c, _ := n.Attr("class")
		return strings.Join(strings.Fields(c), " ") == class
	}).First()
}

func parseBreadcrumb(nav *goquery.Selection) ([]CategoryRef, error) {
	var res []CategoryRef
	var err error
	nav.ChildrenFiltered("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		var c *CategoryRef
		c, err = parseCategoryLink(a)
		if err != nil {
			return false
		}
		if c != nil {
			res = append(res, *c)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func parseCategoryLink(a *goquery.Selection) (*CategoryRef, error) {
	href := strings.TrimLeft(strings.TrimSpace(a.AttrOr("href", "")), "./")
	if href == "index.php" {
		return &CategoryRef{TrackerID: 0, Title: models.RootCategoryTitle}, nil
	}
	u, err := url.Parse(href)
	if err != nil || u.RawQuery == "" {
		return nil, nil
	}
	q := u.Query()
	param := "f"
	v := q.Get(param)
	if v == "" {
		param = "c"
		v = q.Get(param)
	}
	if v == "" {
		return nil, nil
	}
	id, err := strconv.Atoi(v)
	if err != nil {
		return nil, errs.Wrap(errs.Unprocessable, err, "malformed breadcrumb link")
	}
	return &CategoryRef{
		TrackerID:  id,
		Title:      strings.TrimSpace(a.Text()),
		IsSubforum: param == "f",
	}, nil
}
