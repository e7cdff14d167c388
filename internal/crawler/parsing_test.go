package crawler

import (
	"bytes"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serene416/friend/internal/types"
)

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestParseRatingSummary(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		html      string
		wantScore *float64
		wantCount *int
	}{
		{
			name:      "visible text",
			text:      "별점 4.42 평점 참여 1,234명",
			wantScore: fptr(4.42),
			wantCount: iptr(1234),
		},
		{
			name:      "embedded json fallback",
			html:      `{"visitorReviewsScore":"4.5","foo":1,"visitorReviewsTotal":"321"}`,
			wantScore: fptr(4.5),
			wantCount: iptr(321),
		},
		{
			name:      "text score overrides embedded score",
			text:      "평점 4.1",
			html:      `{"avgRating":3.9,"totalCount":10}`,
			wantScore: fptr(4.1),
			wantCount: iptr(10),
		},
		{
			name: "out of range score",
			text: "별점 7.5",
		},
		{
			name: "nothing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseRatingSummary(tt.text, tt.html)
			assert.Equal(t, tt.wantScore, got.AverageRating)
			assert.Equal(t, tt.wantCount, got.RatingCount)
		})
	}
}

func TestParseRatingSummary_IgnoresScriptText(t *testing.T) {
	html := `<html><head><style>.score::after{content:"평점 2.0"}</style></head><body>
<script>window.__APOLLO_STATE__={"label":"평점 1.5","avgRating":4.3,"totalCount":12}</script>
<div class="place_section">방문자 리뷰</div>
</body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	text := VisibleText(doc)
	assert.Contains(t, text, "방문자 리뷰")
	assert.NotContains(t, text, "평점 1.5")
	assert.Equal(t, 1, doc.Find("script").Length())

	got := ParseRatingSummary(text, html)
	assert.Equal(t, fptr(4.3), got.AverageRating)
	assert.Equal(t, iptr(12), got.RatingCount)
}

func iptr(v int) *int { return &v }

func TestParsePostedAt(t *testing.T) {
	at := func(y int, m time.Month, d, h int) *time.Time {
		v := time.Date(y, m, d, h, 0, 0, 0, time.UTC)
		return &v
	}

	tests := []struct {
		raw  string
		want *time.Time
	}{
		{"오늘", at(2025, 3, 10, 12)},
		{"방금 전", at(2025, 3, 10, 12)},
		{"어제", at(2025, 3, 9, 12)},
		{"3시간 전", at(2025, 3, 10, 9)},
		{"2주 전", at(2025, 2, 24, 12)},
		{"1개월 전", at(2025, 2, 8, 12)},
		{"24.12.31.", at(2024, 12, 31, 0)},
		{"방문일 2025-01-05", at(2025, 1, 5, 0)},
		{"2025-02-30", nil},
		{"방문일 미상", nil},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePostedAt(tt.raw, fixedNow))
		})
	}
}

func TestDedupeReviews(t *testing.T) {
	reviews := []types.Review{
		{ReviewID: "r1", Content: "첫 리뷰"},
		{ReviewID: "r1", Content: "같은 아이디"},
		{Content: " 맛있어요 ", Author: "x", PostedAtRaw: "어제"},
		{Content: "맛있어요", Author: "x", PostedAtRaw: "어제"},
		{ReviewID: "r9", Content: "   "},
	}

	got := DedupeReviews(reviews, fixedNow)

	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].ReviewID)
	assert.Equal(t, "첫 리뷰", got[0].Content)
	assert.True(t, strings.HasPrefix(got[1].ReviewID, "review-"))
	assert.Equal(t, "맛있어요", got[1].Content)
	require.NotNil(t, got[1].PostedAt)
	assert.Equal(t, time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC), *got[1].PostedAt)
}

func TestDedupePhotos(t *testing.T) {
	origin := "https://ldb-phinf.pstatic.net/place/a.jpg"
	photos := []types.Photo{
		{ImageURL: "https://cdn.example.com/a.jpg?type=w400"},
		{ImageURL: "https://cdn.example.com/a.jpg?type=w800"},
		{ImageURL: "https://cdn.example.com/b.jpg#frag"},
		{ImageURL: "https://search.pstatic.net/common/?src=" + url.QueryEscape(origin) + "&type=w1"},
		{ImageURL: "https://search.pstatic.net/common?src=" + url.QueryEscape(origin) + "&type=w2"},
		{ImageURL: "  "},
	}

	got := DedupePhotos(photos)

	require.Len(t, got, 3)
	assert.Equal(t, "https://cdn.example.com/a.jpg", got[0].ImageURL)
	assert.Equal(t, "https://cdn.example.com/b.jpg", got[1].ImageURL)
	assert.Equal(t, origin, got[2].ImageURL)
	for _, p := range got {
		assert.Len(t, p.PhotoID, len("photo-")+16)
		assert.NotNil(t, p.Metadata)
	}
}

func TestSessionClose(t *testing.T) {
	var (
		buf   bytes.Buffer
		order []string
	)
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	step := func(name string, err error) Closer {
		return Closer{Name: name, Close: func() error {
			order = append(order, name)
			return err
		}}
	}
	s := NewSession(nil, logger,
		step("page", nil),
		step("context", errors.New("already closed")),
		step("browser", nil),
	)

	s.Close()
	s.Close()

	assert.Equal(t, []string{"page", "context", "browser"}, order, "steps run once and in order")
	assert.Contains(t, buf.String(), "context:already closed")

	var nilSession *Session
	assert.NotPanics(t, nilSession.Close)
}

func TestMatchersFirst(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<li data-id="7"><span class="nickname">  </span><span class="user_name">민지</span>본문</li>`))
	require.NoError(t, err)
	item := doc.Find("li").First()

	author, ok := reviewAuthorMatchers.First(item)
	assert.True(t, ok)
	assert.Equal(t, "민지", author, "empty matches fall through to the next matcher")

	id, ok := reviewIDMatchers.First(item)
	assert.True(t, ok)
	assert.Equal(t, "7", id)

	_, ok = reviewDateMatchers.First(item)
	assert.False(t, ok)
}
