package crawler

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	absoluteDatePattern = regexp.MustCompile(`(\d{2,4})[./-](\d{1,2})[./-](\d{1,2})`)
	relativeDatePattern = regexp.MustCompile(`(\d+)\s*(분|시간|일|주|개월|달|년)\s*전`)
)

// ParsePostedAt turns the date label of a review into a timestamp. It
// understands "오늘", "어제", "방금", "N분 전" style offsets and y.m.d dates.
// Labels that carry no date yield nil.
func ParsePostedAt(raw string, now time.Time) *time.Time {
	text := squash(raw)
	if text == "" {
		return nil
	}
	now = now.UTC().Truncate(time.Second)

	switch {
	case strings.Contains(text, "오늘"), strings.Contains(text, "방금"):
		return &now
	case strings.Contains(text, "어제"):
		t := now.AddDate(0, 0, -1)
		return &t
	}

	if m := relativeDatePattern.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil
		}
		var t time.Time
		switch m[2] {
		case "분":
			t = now.Add(-time.Duration(n) * time.Minute)
		case "시간":
			t = now.Add(-time.Duration(n) * time.Hour)
		case "일":
			t = now.AddDate(0, 0, -n)
		case "주":
			t = now.AddDate(0, 0, -7*n)
		case "개월", "달":
			t = now.AddDate(0, 0, -30*n)
		default:
			t = now.AddDate(0, 0, -365*n)
		}
		return &t
	}

	m := absoluteDatePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	if year < 100 {
		year += 2000
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow, so an invalid date shows up as a
	// different month or day.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return nil
	}
	return &t
}
