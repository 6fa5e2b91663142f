package ics

import (
	"errors"
	"strings"
	"time"

	"calclock/internal/model"
)

// ErrUndecodable is returned for date tokens that are neither YYYYMMDD nor
// YYYYMMDDTHHMM[SS][Z].
var ErrUndecodable = errors.New("ics: undecodable date token")

// Decode parses the value part of a DTSTART/DTEND property (parameters
// already stripped) into an Instant.
//
//   - YYYYMMDD             -> midnight in loc, all-day
//   - YYYYMMDDTHHMMSSZ     -> UTC
//   - YYYYMMDDTHHMMSS      -> wall clock in loc
//
// Seconds are optional. A nil loc means time.Local.
func Decode(token string, loc *time.Location) (model.Instant, error) {
	if loc == nil {
		loc = time.Local
	}
	token = strings.TrimSpace(token)

	if len(token) <= 8 {
		if len(token) != 8 || !allDigits(token) {
			return model.Instant{}, ErrUndecodable
		}
		y, m, d := num(token[0:4]), num(token[4:6]), num(token[6:8])
		if !validDate(y, m, d) {
			return model.Instant{}, ErrUndecodable
		}
		return model.Instant{
			Time:   time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc),
			AllDay: true,
		}, nil
	}

	body, utc := strings.CutSuffix(token, "Z")
	if len(body) != 13 && len(body) != 15 {
		return model.Instant{}, ErrUndecodable
	}
	if body[8] != 'T' || !allDigits(body[:8]) || !allDigits(body[9:]) {
		return model.Instant{}, ErrUndecodable
	}

	y, m, d := num(body[0:4]), num(body[4:6]), num(body[6:8])
	hh, mm, ss := num(body[9:11]), num(body[11:13]), 0
	if len(body) == 15 {
		ss = num(body[13:15])
	}
	if !validDate(y, m, d) || hh > 23 || mm > 59 || ss > 59 {
		return model.Instant{}, ErrUndecodable
	}

	if utc {
		loc = time.UTC
	}
	return model.Instant{
		Time: time.Date(y, time.Month(m), d, hh, mm, ss, 0, loc),
	}, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// num converts a digit-only string; callers validate with allDigits first.
func num(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}

func validDate(y, m, d int) bool {
	if m < 1 || m > 12 || d < 1 {
		return false
	}
	// Day 0 of the following month is the last day of m.
	last := time.Date(y, time.Month(m)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	return d <= last
}
