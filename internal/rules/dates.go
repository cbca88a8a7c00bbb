package rules

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ISODate is the canonical date layout of refined fields.
const ISODate = "2006-01-02"

var polishMonths = map[string]time.Month{
	"stycznia": time.January, "styczeń": time.January, "styczen": time.January, "sty": time.January,
	"lutego": time.February, "luty": time.February, "lut": time.February,
	"marca": time.March, "marzec": time.March, "mar": time.March,
	"kwietnia": time.April, "kwiecień": time.April, "kwiecien": time.April, "kwi": time.April,
	"maja": time.May, "maj": time.May,
	"czerwca": time.June, "czerwiec": time.June, "cze": time.June,
	"lipca": time.July, "lipiec": time.July, "lip": time.July,
	"sierpnia": time.August, "sierpień": time.August, "sierpien": time.August, "sie": time.August,
	"września": time.September, "wrzesień": time.September, "wrzesnia": time.September, "wrz": time.September,
	"października": time.October, "październik": time.October, "pazdziernika": time.October, "paź": time.October,
	"listopada": time.November, "listopad": time.November, "lis": time.November,
	"grudnia": time.December, "grudzień": time.December, "grudzien": time.December, "gru": time.December,
}

var (
	reDMY      = regexp.MustCompile(`^(\d{1,2})[./-](\d{1,2})[./-](\d{4})$`)
	reYMD      = regexp.MustCompile(`^(\d{4})[./-](\d{1,2})[./-](\d{1,2})$`)
	reDayMonth = regexp.MustCompile(`^(\d{1,2})\s+(\p{L}+)\.?\s+(\d{4})$`)
	reYearTail = regexp.MustCompile(`(?i)\s*(r\.|rok|roku)$`)
)

// ParseDate reads the date notations used on Polish invoices. The second
// result tells whether s matched a known notation and is a real calendar day.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(reYearTail.ReplaceAllString(strings.TrimSpace(s), ""))
	if m := reDMY.FindStringSubmatch(s); m != nil {
		return mkDate(m[3], m[2], m[1])
	}
	if m := reYMD.FindStringSubmatch(s); m != nil {
		return mkDate(m[1], m[2], m[3])
	}
	if m := reDayMonth.FindStringSubmatch(s); m != nil {
		month, ok := polishMonths[strings.ToLower(m[2])]
		if !ok {
			return time.Time{}, false
		}
		return mkDate(m[3], strconv.Itoa(int(month)), m[1])
	}
	return time.Time{}, false
}

// ParseISODate accepts only the canonical yyyy-mm-dd layout.
func ParseISODate(s string) (time.Time, bool) {
	t, err := time.Parse(ISODate, strings.TrimSpace(s))
	return t, err == nil
}

func mkDate(y, m, d string) (time.Time, bool) {
	yy, err1 := strconv.Atoi(y)
	mm, err2 := strconv.Atoi(m)
	dd, err3 := strconv.Atoi(d)
	if err1 != nil || err2 != nil || err3 != nil || mm < 1 || mm > 12 || dd < 1 || yy < 1900 || yy > 2200 {
		return time.Time{}, false
	}
	t := time.Date(yy, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
	if t.Day() != dd {
		return time.Time{}, false
	}
	return t, true
}
