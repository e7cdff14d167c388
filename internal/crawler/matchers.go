package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Matcher extracts one value from a DOM selection.
type Matcher interface {
	Match(sel *goquery.Selection) (string, bool)
}

// TextMatcher returns the normalized text of the first non-empty descendant
// matching Selector.
type TextMatcher struct {
	Selector string
}

func (m TextMatcher) Match(sel *goquery.Selection) (string, bool) {
	var found string
	sel.Find(m.Selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = squash(s.Text())
		return found == ""
	})
	return found, found != ""
}

// OwnTextMatcher returns the normalized text of the selection itself.
type OwnTextMatcher struct{}

func (OwnTextMatcher) Match(sel *goquery.Selection) (string, bool) {
	text := squash(sel.Text())
	return text, text != ""
}

// AttrMatcher returns the first non-empty attribute of the selection itself.
type AttrMatcher struct {
	Attrs []string
}

func (m AttrMatcher) Match(sel *goquery.Selection) (string, bool) {
	for _, attr := range m.Attrs {
		if v, ok := sel.Attr(attr); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// Matchers are tried in order and the first success wins.
type Matchers []Matcher

func (ms Matchers) First(sel *goquery.Selection) (string, bool) {
	for _, m := range ms {
		if v, ok := m.Match(sel); ok {
			return v, true
		}
	}
	return "", false
}

func textMatchers(selectors ...string) Matchers {
	ms := make(Matchers, 0, len(selectors))
	for _, s := range selectors {
		ms = append(ms, TextMatcher{Selector: s})
	}
	return ms
}

// Item selectors run in order and all of them contribute; the merged result
// is deduplicated afterwards.
var (
	reviewItemSelectors = []string{
		"li[data-review-id]",
		"li[class*='review']",
		"article[class*='review']",
		"div[class*='review']",
		"li:has(time)",
	}
	photoItemSelectors = []string{
		"img[src*='pstatic.net']",
		"img[src*='naver.net']",
		"div[class*='photo'] img[src]",
		"figure img[src]",
	}
	searchAnchorSelectors = []string{
		"a[href*='m.place.naver.com/place/']",
		"a[href*='pcmap.place.naver.com/restaurant/']",
		"a[href*='entry/place/']",
		"a[href*='/place/']",
	}
)

var (
	reviewIDMatchers = Matchers{AttrMatcher{Attrs: []string{"data-review-id", "data-id", "id"}}}

	reviewContentMatchers = append(textMatchers(
		"span[class*='review']",
		"div[class*='review']",
		"p[class*='review']",
		"span[class*='text']",
		"p",
	), OwnTextMatcher{})

	reviewAuthorMatchers = textMatchers(
		"span[class*='nick']",
		"span[class*='author']",
		"a[class*='nick']",
		"span[class*='name']",
	)

	reviewDateMatchers = textMatchers(
		"time",
		"span[class*='date']",
		"span[class*='time']",
		"span[class*='day']",
	)

	photoURLMatchers = Matchers{AttrMatcher{Attrs: []string{
		"src", "data-src", "data-original", "data-lazy-src", "data-image-src",
	}}}

	anchorNameMatchers = append(textMatchers("span", "strong", "em"),
		OwnTextMatcher{},
		AttrMatcher{Attrs: []string{"title", "aria-label"}},
	)
)

var (
	reviewTabLabels  = []string{"리뷰"}
	photoTabLabels   = []string{"사진"}
	reviewMoreLabels = []string{"더보기", "리뷰 더보기"}
)

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
