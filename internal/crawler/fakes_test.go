package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/serene416/friend/config"
	"github.com/serene416/friend/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCrawlerConfig() config.CrawlerConfig {
	return config.CrawlerConfig{
		Headless:           true,
		TimeoutMS:          1000,
		RequestDelayMS:     350,
		ReviewMaxClicks:    20,
		PhotoMaxScrolls:    30,
		NoGrowthLimit:      3,
		RetryCount:         3,
		CandidateLimit:     3,
		MapMinConfidence:   0.5,
		MaxPhotosPerPlace:  120,
		MaxReviewsPerPlace: 300,
	}
}

// quiet removes real waiting from a driver.
func quiet(d *driver) {
	d.sleep = func(context.Context, time.Duration) error { return nil }
	d.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
}

// fakePage serves HTML per URL. expansions counts clicks on "더보기" and
// scrolls since the last navigation.
type fakePage struct {
	html        func(url string, expansions, call int) (string, error)
	navigateErr func(url string) error
	noMore      bool

	current    string
	expansions int
	visited    []string
	htmlCalls  map[string]int
	moreClicks int
	tabClicks  int
	scrolls    int
}

func (p *fakePage) Navigate(_ context.Context, u string) error {
	p.visited = append(p.visited, u)
	if p.navigateErr != nil {
		if err := p.navigateErr(u); err != nil {
			return err
		}
	}
	p.current = u
	p.expansions = 0
	return nil
}

func (p *fakePage) HTML(context.Context) (string, error) {
	if p.htmlCalls == nil {
		p.htmlCalls = map[string]int{}
	}
	p.htmlCalls[p.current]++
	return p.html(p.current, p.expansions, p.htmlCalls[p.current])
}

func (p *fakePage) ClickText(_ context.Context, labels []string) (bool, error) {
	if labels[0] == "더보기" {
		if p.noMore {
			return false, nil
		}
		p.moreClicks++
		p.expansions++
		return true, nil
	}
	p.tabClicks++
	return true, nil
}

func (p *fakePage) ScrollBy(context.Context, int) error {
	p.scrolls++
	p.expansions++
	return nil
}

type fakeLauncher struct {
	page     Page
	err      error
	launches int
	closed   int
}

func (f *fakeLauncher) Launch(context.Context) (*Session, error) {
	f.launches++
	if f.err != nil {
		return nil, f.err
	}
	return NewSession(f.page, testLogger(), Closer{Name: "page", Close: func() error {
		f.closed++
		return nil
	}}), nil
}

type fakeDirectory struct {
	docs    []types.DirectoryDocument
	err     error
	queries []string
}

func (f *fakeDirectory) SearchAnchors(context.Context, float64, float64, int, int) ([]types.DirectoryDocument, error) {
	return nil, errors.New("not used")
}

func (f *fakeDirectory) SearchKeyword(_ context.Context, query string, _, _ float64, _, _, _ int) ([]types.DirectoryDocument, error) {
	f.queries = append(f.queries, query)
	return f.docs, f.err
}

// interactive pads a fixture past the thin-content threshold.
const interactive = `<a href="#home">홈</a><a href="#menu">메뉴</a><a href="#review">리뷰</a><a href="#photo">사진</a><a href="#info">정보</a>`

func reviewPage(n int) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="place_section">` + interactive)
	b.WriteString(`<span>별점 4.42</span><span>평점 참여 1,234명</span><ul>`)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<li data-review-id="r%d"><span class="review_text">리뷰 내용 %d 분위기가 좋아요</span>`+
			`<span class="nickname">user%d</span><time>2025.01.%02d.</time></li>`, i, i, i, i%28+1)
	}
	b.WriteString(`</ul><button>더보기</button></div></body></html>`)
	return b.String()
}

func photoOrigin(i int) string {
	return fmt.Sprintf("https://ldb-phinf.pstatic.net/place/img%d.jpg", i)
}

func photoPage(n int) string {
	var b strings.Builder
	b.WriteString(`<html><body>` + interactive)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<div class="photo_area"><img src="https://search.pstatic.net/common/?src=%s&amp;type=w560" alt="사진 %d"></div>`,
			url.QueryEscape(photoOrigin(i)), i)
	}
	if n > 0 {
		fmt.Fprintf(&b, `<figure><img src="%s?type=f300"></figure>`, photoOrigin(1))
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

const thinPage = `<html><body><p>잠시 후 다시 시도해 주세요</p></body></html>`

// placePages serves growing review and photo pages for any place id.
func placePages(reviews, photos func(expansions int) int) func(string, int, int) (string, error) {
	return func(u string, expansions, _ int) (string, error) {
		switch {
		case strings.Contains(u, "/review/"):
			return reviewPage(reviews(expansions)), nil
		case strings.HasSuffix(u, "/photo"):
			return photoPage(photos(expansions)), nil
		default:
			return thinPage, nil
		}
	}
}

func constant(n int) func(int) int {
	return func(int) int { return n }
}
