package application

import (
	"fmt"
	"regexp"
	"time"
)

// GroundingGate classifies whether a prompt needs real-time external
// information before the model's unaided output can be trusted. Models
// fabricate plausible answers for fast-changing facts, so the gate is tuned
// to prefer an unnecessary search over an ungrounded guess.
//
// The gate is advisory: adapters decide how to ground (native retrieval vs.
// tool calls) from their own capability flags.
type GroundingGate struct {
	temporal   *regexp.Regexp
	sports     *regexp.Regexp
	outcome    *regexp.Regexp
	weather    *regexp.Regexp
	financial  *regexp.Regexp
	recentYear *regexp.Regexp
}

// Decision carries the gate verdict plus the matched category for the
// pipeline monitor.
type Decision struct {
	Ground   bool   `json:"ground"`
	Category string `json:"category,omitempty"`
}

// NewGroundingGate compiles the classifier patterns. The recent-year pattern
// covers the current and previous calendar year at construction time.
func NewGroundingGate() *GroundingGate {
	year := time.Now().Year()
	return &GroundingGate{
		temporal:   regexp.MustCompile(`(?i)\b(today|tonight|tomorrow|yesterday|right now|now|currently|latest|recent|recently|this (week|month|year|morning|season)|last (night|week|month))\b`),
		sports:     regexp.MustCompile(`(?i)\b(nba|nfl|mlb|nhl|ncaa|f1|premier league|champions league|world cup|super bowl|world series|finals|playoffs|grand prix|match|game|race|tournament)\b`),
		outcome:    regexp.MustCompile(`(?i)\b(won|win|winner|wins|winning|lost|lose|score|scores|scored|result|results|beat|defeated|standings|champion)\b`),
		weather:    regexp.MustCompile(`(?i)\b(weather|forecast|temperature|raining|snowing|humidity|heatwave)\b`),
		financial:  regexp.MustCompile(`(?i)\b(stock|stocks|share price|market cap|bitcoin|ethereum|crypto|exchange rate|interest rate|inflation)\b`),
		recentYear: regexp.MustCompile(fmt.Sprintf(`\b(%d|%d)\b`, year, year-1)),
	}
}

// Decide classifies a prompt. A match in any category triggers grounding;
// sports vocabulary only counts when paired with an outcome word.
func (g *GroundingGate) Decide(text string) Decision {
	switch {
	case g.temporal.MatchString(text):
		return Decision{Ground: true, Category: "temporal"}
	case g.sports.MatchString(text) && g.outcome.MatchString(text):
		return Decision{Ground: true, Category: "sports"}
	case g.weather.MatchString(text):
		return Decision{Ground: true, Category: "weather"}
	case g.financial.MatchString(text):
		return Decision{Ground: true, Category: "financial"}
	case g.recentYear.MatchString(text):
		return Decision{Ground: true, Category: "recent_year"}
	}
	return Decision{}
}

// ShouldGround reports whether the prompt requires external retrieval.
func (g *GroundingGate) ShouldGround(text string) bool {
	return g.Decide(text).Ground
}
