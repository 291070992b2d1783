// Package temporal extracts calendar-month ranges from free-text questions.
//
// The extractor recognizes explicit months, quarters, bare years, relative
// phrases, month ranges and a small table of named events. It returns
// normalized YYYYMM tokens, sorted and deduplicated, or nil when the query
// carries no temporal constraint.
package temporal

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rhuss/kgquery/pkg/api"
	"github.com/rhuss/kgquery/pkg/debug"
)

// maxRelativeMonths caps "last N months" so absurd inputs stay cheap.
const maxRelativeMonths = 120

const monthAlternation = `january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|oct|nov|dec`

var monthNumbers = map[string]int{
	"january": 1, "jan": 1, "february": 2, "feb": 2, "march": 3, "mar": 3,
	"april": 4, "apr": 4, "may": 5, "june": 6, "jun": 6, "july": 7, "jul": 7,
	"august": 8, "aug": 8, "september": 9, "sep": 9, "october": 10, "oct": 10,
	"november": 11, "nov": 11, "december": 12, "dec": 12,
}

var quarterStart = map[string]int{
	"q1": 1, "first quarter": 1,
	"q2": 4, "second quarter": 4,
	"q3": 7, "third quarter": 7,
	"q4": 10, "fourth quarter": 10,
}

var (
	monthYearRe   = regexp.MustCompile(`\b(` + monthAlternation + `)\s+(\d{4})\b`)
	quarterYearRe = regexp.MustCompile(`\b(q[1-4]|first quarter|second quarter|third quarter|fourth quarter)\s+(\d{4})\b`)
	yearRe        = regexp.MustCompile(`\b(\d{4})\b`)
	lastMonthsRe  = regexp.MustCompile(`\blast\s+(\d+)\s+months?\b`)
	lastQuarterRe = regexp.MustCompile(`\blast\s+quarter\b`)
	lastYearRe    = regexp.MustCompile(`\blast\s+year\b`)
	monthRangeRe  = regexp.MustCompile(`\b(` + monthAlternation + `)\s+to\s+(` + monthAlternation + `)(?:\s+(\d{4}))?\b`)
)

// Event is a named occurrence mapped to the month it happened and the month
// before it, so before/after comparisons have both partitions.
type Event struct {
	Phrase string
	Dates  []string
}

// DefaultEvents is the built-in named-event table, checked in order.
var DefaultEvents = []Event{
	{Phrase: "hurricane ian", Dates: []string{"202209", "202208"}},
	{Phrase: "hurricane ida", Dates: []string{"202108", "202107"}},
	{Phrase: "hurricane laura", Dates: []string{"202008", "202007"}},
	{Phrase: "hurricane harvey", Dates: []string{"201708", "201707"}},
}

// Extractor turns query text into date tokens. The zero value is not usable;
// construct with New.
type Extractor struct {
	// Now supplies the reference date for relative phrases.
	Now    func() time.Time
	events []eventMatcher
}

type eventMatcher struct {
	re    *regexp.Regexp
	dates []string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock overrides the reference clock.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.Now = now }
}

// WithEvents replaces the named-event table.
func WithEvents(events []Event) Option {
	return func(e *Extractor) { e.events = compileEvents(events) }
}

// New creates an Extractor using the wall clock and DefaultEvents.
func New(opts ...Option) *Extractor {
	e := &Extractor{Now: time.Now, events: compileEvents(DefaultEvents)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func compileEvents(events []Event) []eventMatcher {
	out := make([]eventMatcher, 0, len(events))
	for _, ev := range events {
		phrase := strings.Join(strings.Fields(strings.ToLower(ev.Phrase)), `\s+`)
		out = append(out, eventMatcher{
			re:    regexp.MustCompile(`\b` + phrase + `\b`),
			dates: ev.Dates,
		})
	}
	return out
}

// Extract returns the sorted, deduplicated tokens found in query, or nil.
//
// Explicit months and quarters suppress bare-year expansion. Relative phrases,
// named events and month ranges always add to whatever else matched.
func (e *Extractor) Extract(query string) []string {
	q := strings.ToLower(query)
	now := e.Now()

	var found []string
	found = append(found, monthYears(q)...)
	found = append(found, quarters(q)...)
	if len(found) == 0 {
		found = append(found, bareYears(q, now)...)
	}
	found = append(found, relative(q, now)...)
	found = append(found, e.namedEvent(q)...)
	found = append(found, monthRanges(q, now)...)

	tokens := api.NormalizeDateTokens(found)
	debug.Log("classify", "dates extracted", "query", debug.Truncate(query, 80), "raw", len(found), "tokens", tokens)
	return tokens
}

func monthYears(q string) []string {
	var out []string
	for _, m := range monthYearRe.FindAllStringSubmatch(q, -1) {
		year, _ := strconv.Atoi(m[2])
		out = append(out, api.FormatDateToken(year, monthNumbers[m[1]]))
	}
	return out
}

func quarters(q string) []string {
	var out []string
	for _, m := range quarterYearRe.FindAllStringSubmatch(q, -1) {
		year, _ := strconv.Atoi(m[2])
		start := quarterStart[m[1]]
		for month := start; month < start+3; month++ {
			out = append(out, api.FormatDateToken(year, month))
		}
	}
	return out
}

// bareYears expands every plausible year mention to its twelve months.
// Years after next year are ignored as likely non-date numbers.
func bareYears(q string, now time.Time) []string {
	var out []string
	for _, m := range yearRe.FindAllStringSubmatch(q, -1) {
		year, _ := strconv.Atoi(m[1])
		if year < api.MinTokenYear || year > now.Year()+1 {
			continue
		}
		out = append(out, wholeYear(year)...)
	}
	return out
}

// relative handles "last N months", "last quarter" and "last year". Only the
// first matching phrase applies.
func relative(q string, now time.Time) []string {
	if m := lastMonthsRe.FindStringSubmatch(q); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil
		}
		n = min(n, maxRelativeMonths)
		anchor := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		out := make([]string, 0, n)
		for i := 0; i < n; i++ {
			d := anchor.AddDate(0, -i, 0)
			out = append(out, api.FormatDateToken(d.Year(), int(d.Month())))
		}
		return out
	}

	if lastQuarterRe.MatchString(q) {
		current := (int(now.Month())-1)/3 + 1
		year, start := now.Year(), (current-2)*3+1
		if current == 1 {
			year, start = now.Year()-1, 10
		}
		out := make([]string, 0, 3)
		for month := start; month < start+3; month++ {
			out = append(out, api.FormatDateToken(year, month))
		}
		return out
	}

	if lastYearRe.MatchString(q) {
		return wholeYear(now.Year() - 1)
	}
	return nil
}

// namedEvent returns the dates of the first event mentioned in q.
func (e *Extractor) namedEvent(q string) []string {
	for _, ev := range e.events {
		if ev.re.MatchString(q) {
			return ev.dates
		}
	}
	return nil
}

func monthRanges(q string, now time.Time) []string {
	var out []string
	for _, m := range monthRangeRe.FindAllStringSubmatch(q, -1) {
		year := now.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		start, end := monthNumbers[m[1]], monthNumbers[m[2]]
		if start > end {
			continue
		}
		for month := start; month <= end; month++ {
			out = append(out, api.FormatDateToken(year, month))
		}
	}
	return out
}

func wholeYear(year int) []string {
	out := make([]string, 0, 12)
	for month := 1; month <= 12; month++ {
		out = append(out, api.FormatDateToken(year, month))
	}
	return out
}
