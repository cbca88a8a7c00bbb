package rules

import (
	"strings"
	"time"
)

var nipWeights = [9]int{6, 5, 7, 2, 3, 4, 5, 6, 7}

var peselWeights = [10]int{1, 3, 7, 9, 1, 3, 7, 9, 1, 3}

// digitsOnly drops separators and an optional PL prefix. It returns "" if any
// other character is present.
func digitsOnly(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "NIP")
	s = strings.TrimLeft(s, " :")
	s = strings.TrimPrefix(s, "PL")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == ' ' || r == '\u00a0' || r == '.':
		default:
			return ""
		}
	}
	return b.String()
}

// NormalizeNIP returns the 10 digits of a Polish NIP and whether the checksum holds.
func NormalizeNIP(s string) (string, bool) {
	d := digitsOnly(s)
	if len(d) != 10 || d == "0000000000" {
		return d, false
	}
	sum := 0
	for i, w := range nipWeights {
		sum += int(d[i]-'0') * w
	}
	check := sum % 11
	if check == 10 {
		return d, false
	}
	return d, check == int(d[9]-'0')
}

// ValidNIP reports whether s is a checksum-valid NIP.
func ValidNIP(s string) bool {
	_, ok := NormalizeNIP(s)
	return ok
}

// NormalizePESEL returns the 11 digits of a PESEL and whether both the
// checksum and the encoded birth date hold.
func NormalizePESEL(s string) (string, bool) {
	d := digitsOnly(s)
	if len(d) != 11 {
		return d, false
	}
	sum := 0
	for i, w := range peselWeights {
		sum += int(d[i]-'0') * w
	}
	if (10-sum%10)%10 != int(d[10]-'0') {
		return d, false
	}
	return d, peselBirthDateValid(d)
}

func peselBirthDateValid(d string) bool {
	yy := int(d[0]-'0')*10 + int(d[1]-'0')
	mm := int(d[2]-'0')*10 + int(d[3]-'0')
	dd := int(d[4]-'0')*10 + int(d[5]-'0')
	century := 1900
	switch {
	case mm > 80:
		century, mm = 1800, mm-80
	case mm > 60:
		century, mm = 2200, mm-60
	case mm > 40:
		century, mm = 2100, mm-40
	case mm > 20:
		century, mm = 2000, mm-20
	}
	if mm < 1 || mm > 12 || dd < 1 {
		return false
	}
	t := time.Date(century+yy, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
	return t.Day() == dd && int(t.Month()) == mm
}
