package scraper

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rtrss/worker/services/errs"
)

const privateSection = "Приватные форумы"

// ParseCategoryMap returns ids of all public forums listed on the site map.
func ParseCategoryMap(html string) ([]int, error) {
	doc, err := newDocument(html)
	if err != nil {
		return nil, err
	}
	root := doc.Find("div#f-map").First()
	if root.Length() == 0 {
		return nil, errs.New(errs.Unprocessable, "category map not found")
	}
	var ids []int
	seen := map[int]bool{}
	root.Find("a").Each(func(_ int, a *goquery.Selection) {
		if inPrivateSection(a) {
			return
		}
		id, ok := forumID(a.AttrOr("href", ""))
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	})
	return ids, nil
}

func forumID(href string) (int, bool) {
	href = strings.TrimSpace(href)
	if id, err := strconv.Atoi(href); err == nil {
		return id, true
	}
	if !strings.Contains(href, "viewforum.php") {
		return 0, false
	}
	return queryInt(href, "f")
}

func inPrivateSection(a *goquery.Selection) bool {
	private := false
	a.ParentsFiltered("li").Each(func(_ int, li *goquery.Selection) {
		t := li.ChildrenFiltered("span.c-title").First()
		if strings.Contains(t.AttrOr("title", ""), privateSection) || strings.Contains(t.Text(), privateSection) {
			private = true
		}
	})
	return private
}
