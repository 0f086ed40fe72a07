// Package serial formats and parses grant and workplan serial numbers.
//
//	grant serial:    {DONOR_CODE}-{STATE_CODE}-{MMYY}-{NNNN}
//	workplan serial: {GRANT_SERIAL}-{NNN}
package serial

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	ErrInvalidGrantSerial    = errors.New("invalid grant serial")
	ErrInvalidWorkplanSerial = errors.New("invalid workplan serial")
	ErrInvalidDonorCode      = errors.New("invalid donor code")
	ErrInvalidState          = errors.New("state name has no latin letters")
	ErrInvalidSequence       = errors.New("sequence must be positive")
)

var (
	donorPattern    = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)
	grantPattern    = regexp.MustCompile(`^([A-Z0-9]{2,10})-([A-Z]{1,3})-(0[1-9]|1[0-2])(\d{2})-(\d{4,})$`)
	workplanPattern = regexp.MustCompile(`^(.+)-(\d{3,})$`)
)

// StateCode is the first three latin letters of the state name, upper-cased,
// with everything else removed. Names without latin letters have no code.
func StateCode(state string) (string, error) {
	var b strings.Builder
	for _, r := range state {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		if b.Len() == 3 {
			break
		}
	}
	if b.Len() == 0 {
		return "", ErrInvalidState
	}
	return b.String(), nil
}

// Period renders the MMYY part for t.
func Period(t time.Time) string {
	return t.Format("0106")
}

// GrantScope is the counter key the NNNN sequence is allocated under.
func GrantScope(donorCode, stateCode, period string) string {
	return "grant:" + donorCode + "-" + stateCode + "-" + period
}

// WorkplanScope is the counter key the NNN sequence is allocated under.
func WorkplanScope(grantSerial string) string {
	return "workplan:" + grantSerial
}

type Grant struct {
	DonorCode string
	StateCode string
	Month     time.Month
	Year      int // two digits
	Sequence  int
}

func (g Grant) String() string {
	return fmt.Sprintf("%s-%s-%02d%02d-%04d", g.DonorCode, g.StateCode, int(g.Month), g.Year, g.Sequence)
}

// Period returns the MMYY part of the serial.
func (g Grant) Period() string {
	return fmt.Sprintf("%02d%02d", int(g.Month), g.Year)
}

// NewGrant builds a grant serial issued at t for the given donor and state.
func NewGrant(donorCode, state string, at time.Time, seq int) (Grant, error) {
	donorCode = strings.ToUpper(strings.TrimSpace(donorCode))
	if !donorPattern.MatchString(donorCode) {
		return Grant{}, ErrInvalidDonorCode
	}
	code, err := StateCode(state)
	if err != nil {
		return Grant{}, err
	}
	if seq <= 0 {
		return Grant{}, ErrInvalidSequence
	}
	return Grant{
		DonorCode: donorCode,
		StateCode: code,
		Month:     at.Month(),
		Year:      at.Year() % 100,
		Sequence:  seq,
	}, nil
}

func ParseGrant(s string) (Grant, error) {
	m := grantPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Grant{}, fmt.Errorf("%w: %q", ErrInvalidGrantSerial, s)
	}
	month, _ := strconv.Atoi(m[3])
	year, _ := strconv.Atoi(m[4])
	seq, _ := strconv.Atoi(m[5])
	if seq <= 0 {
		return Grant{}, fmt.Errorf("%w: %q", ErrInvalidGrantSerial, s)
	}
	return Grant{
		DonorCode: m[1],
		StateCode: m[2],
		Month:     time.Month(month),
		Year:      year,
		Sequence:  seq,
	}, nil
}

type Workplan struct {
	Grant    Grant
	Sequence int
}

func (w Workplan) String() string {
	return fmt.Sprintf("%s-%03d", w.Grant, w.Sequence)
}

func NewWorkplan(grantSerial string, seq int) (Workplan, error) {
	g, err := ParseGrant(grantSerial)
	if err != nil {
		return Workplan{}, err
	}
	if seq <= 0 {
		return Workplan{}, ErrInvalidSequence
	}
	return Workplan{Grant: g, Sequence: seq}, nil
}

func ParseWorkplan(s string) (Workplan, error) {
	m := workplanPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Workplan{}, fmt.Errorf("%w: %q", ErrInvalidWorkplanSerial, s)
	}
	g, err := ParseGrant(m[1])
	if err != nil {
		return Workplan{}, fmt.Errorf("%w: %q", ErrInvalidWorkplanSerial, s)
	}
	seq, _ := strconv.Atoi(m[2])
	if seq <= 0 {
		return Workplan{}, fmt.Errorf("%w: %q", ErrInvalidWorkplanSerial, s)
	}
	return Workplan{Grant: g, Sequence: seq}, nil
}
