package reminder

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"unibot/internal/commands"
)

const (
	msgNoTime      = `Could not find a time in that. Try something like "2h do the dishes" or "tomorrow at 5pm call mom".`
	msgPast        = "This time is in the past."
	msgMisplaced   = "Time is either in an inappropriate location, which must be either at the end or beginning of your input, or I just flat out did not understand what you meant. Sorry."
	msgBadDuration = `Duration could not be parsed, sorry. Try something like "5 minutes" or "1 hour"`
)

// Parsed is a point in time pulled out of free text plus whatever text remained.
type Parsed struct {
	When time.Time
	Text string
}

// Parser understands compact offsets ("2d4h", "in 10 minutes") and, failing that,
// natural language dates ("tomorrow at 5pm", "next friday").
type Parser struct {
	w   *when.Parser
	loc *time.Location
}

func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Parser{w: w, loc: loc}
}

// Parse extracts a future time from s. The time must lead or trail the text.
func (p *Parser) Parse(s string, now time.Time) (Parsed, error) {
	s = strings.TrimSpace(s)
	if at, rest, ok := parseOffset(s, now); ok {
		if !at.After(now) {
			return Parsed{}, commands.Fail(msgPast)
		}
		return Parsed{When: at, Text: rest}, nil
	}

	r, err := p.w.Parse(s, now.In(p.loc))
	if err != nil || r == nil {
		return Parsed{}, commands.Fail(msgNoTime)
	}
	before := strings.TrimSpace(s[:r.Index])
	after := strings.TrimSpace(s[r.Index+len(r.Text):])
	if before != "" && after != "" {
		return Parsed{}, commands.Fail(msgMisplaced)
	}
	if !r.Time.After(now) {
		return Parsed{}, commands.Fail(msgPast)
	}
	return Parsed{When: r.Time, Text: strings.TrimSpace(before + " " + after)}, nil
}

// ParseDuration accepts only an offset such as "10 minutes" or "1h30m".
func (p *Parser) ParseDuration(s string, now time.Time) (time.Time, error) {
	at, rest, ok := parseOffset(s, now)
	if !ok || rest != "" || !at.After(now) {
		return time.Time{}, commands.Fail(msgBadDuration)
	}
	return at, nil
}

var offsetTerm = regexp.MustCompile(`^(\d{1,6})\s*([A-Za-z]+)`)

// parseOffset consumes leading "<n><unit>" terms. Years and months use calendar arithmetic.
func parseOffset(s string, now time.Time) (time.Time, string, bool) {
	rest := strings.TrimSpace(s)
	if len(rest) > 3 && strings.EqualFold(rest[:3], "in ") {
		rest = strings.TrimSpace(rest[3:])
	}
	at := now
	terms := 0
	for {
		m := offsetTerm.FindStringSubmatch(rest)
		if m == nil {
			break
		}
		n, _ := strconv.Atoi(m[1])
		next, ok := addUnit(at, n, strings.ToLower(m[2]))
		if !ok {
			break
		}
		at = next
		terms++
		rest = strings.TrimLeft(rest[len(m[0]):], " ,")
		if len(rest) > 4 && strings.EqualFold(rest[:4], "and ") && offsetTerm.MatchString(rest[4:]) {
			rest = rest[4:]
		}
	}
	if terms == 0 {
		return time.Time{}, "", false
	}
	return at, strings.TrimSpace(rest), true
}

func addUnit(t time.Time, n int, unit string) (time.Time, bool) {
	switch unit {
	case "y", "yr", "yrs", "year", "years":
		return t.AddDate(n, 0, 0), true
	case "mo", "month", "months":
		return t.AddDate(0, n, 0), true
	case "w", "wk", "wks", "week", "weeks":
		return t.AddDate(0, 0, 7*n), true
	case "d", "day", "days":
		return t.AddDate(0, 0, n), true
	case "h", "hr", "hrs", "hour", "hours":
		return t.Add(time.Duration(n) * time.Hour), true
	case "m", "min", "mins", "minute", "minutes":
		return t.Add(time.Duration(n) * time.Minute), true
	case "s", "sec", "secs", "second", "seconds":
		return t.Add(time.Duration(n) * time.Second), true
	default:
		return t, false
	}
}
