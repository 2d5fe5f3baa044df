// Package firewall re-validates compiled statement text before it reaches the
// store. It is deliberately independent of the compiler: even a statement the
// compiler could never emit is rejected here, so a compiler defect or an
// alternate compilation path cannot smuggle anything past the gate.
package firewall

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule names reported inside a Violation.
const (
	RuleVerb        = "verb"
	RuleForbidden   = "forbidden-keyword"
	RuleUnion       = "union"
	RuleSelectInto  = "select-into"
	RuleOrderByRand = "order-by-rand"
	RuleStarSelect  = "star-select"
	RuleMissingCap  = "missing-row-cap"
)

// Violation reports which rule a statement broke. It is always a server
// defect: statements are machine-compiled, so a rejection here means the
// pipeline produced something it never should have.
type Violation struct {
	Rule   string
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("firewall violation (%s): %s", v.Rule, v.Detail)
}

// Config controls which rules the gate enforces. The zero value is the
// strictest posture: every toggle blocked and row caps required. Allow flags
// exist for test harnesses and controlled migrations, not routine use.
type Config struct {
	// AllowedVerb is the single statement verb accepted. Empty means SELECT.
	AllowedVerb string `mapstructure:"allowed_verb"`
	// ForbiddenKeywords rejects the statement when any entry appears as a
	// whole word anywhere in the text.
	ForbiddenKeywords []string `mapstructure:"forbidden_keywords"`
	AllowUnion        bool     `mapstructure:"allow_union"`
	AllowSelectInto   bool     `mapstructure:"allow_select_into"`
	AllowOrderByRand  bool     `mapstructure:"allow_order_by_rand"`
	AllowStarSelect   bool     `mapstructure:"allow_star_select"`
	// SkipRowCapCheck disables the explicit LIMIT requirement on row-set
	// statements.
	SkipRowCapCheck bool `mapstructure:"skip_row_cap_check"`
}

// DefaultForbiddenKeywords is the stock deny list applied when the
// configuration does not supply its own.
var DefaultForbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "TRUNCATE",
	"CREATE", "GRANT", "REVOKE", "CALL", "LOAD_FILE", "OUTFILE",
	"SLEEP", "BENCHMARK",
}

var (
	unionPattern      = regexp.MustCompile(`\bUNION\b`)
	intoPattern       = regexp.MustCompile(`\bINTO\b`)
	orderRandPattern  = regexp.MustCompile(`ORDER\s+BY\s+RAND\s*\(`)
	starSelectPattern = regexp.MustCompile(`SELECT\s+(?:DISTINCT\s+)?\*`)
	limitPattern      = regexp.MustCompile(`\bLIMIT\b`)
)

// Firewall is a pure text gate. Check never touches the network.
type Firewall struct {
	cfg       Config
	forbidden []*regexp.Regexp
}

// New compiles the keyword deny list once. A nil keyword list falls back to
// DefaultForbiddenKeywords; an explicitly empty list disables the check.
func New(cfg Config) *Firewall {
	if cfg.AllowedVerb == "" {
		cfg.AllowedVerb = "SELECT"
	}
	keywords := cfg.ForbiddenKeywords
	if keywords == nil {
		keywords = DefaultForbiddenKeywords
	}
	fw := &Firewall{cfg: cfg}
	for _, kw := range keywords {
		kw = strings.ToUpper(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		fw.forbidden = append(fw.forbidden, regexp.MustCompile(`\b`+regexp.QuoteMeta(kw)+`\b`))
	}
	return fw
}

// Check validates one statement. rowSet marks statements expected to return
// many rows, which must carry an explicit row cap. The first broken rule is
// reported; nil means the statement passed every enabled rule.
func (f *Firewall) Check(sqlText string, rowSet bool) error {
	s := strings.ToUpper(strings.TrimSpace(sqlText))

	if !hasVerb(s, f.cfg.AllowedVerb) {
		return &Violation{
			Rule:   RuleVerb,
			Detail: fmt.Sprintf("statement must start with %s", f.cfg.AllowedVerb),
		}
	}
	for _, pattern := range f.forbidden {
		if loc := pattern.FindString(s); loc != "" {
			return &Violation{
				Rule:   RuleForbidden,
				Detail: fmt.Sprintf("forbidden keyword %s", loc),
			}
		}
	}
	if !f.cfg.AllowUnion && unionPattern.MatchString(s) {
		return &Violation{Rule: RuleUnion, Detail: "result-set combination is not allowed"}
	}
	if !f.cfg.AllowSelectInto && intoPattern.MatchString(s) {
		return &Violation{Rule: RuleSelectInto, Detail: "SELECT ... INTO is not allowed"}
	}
	if !f.cfg.AllowOrderByRand && orderRandPattern.MatchString(s) {
		return &Violation{Rule: RuleOrderByRand, Detail: "non-deterministic ordering is not allowed"}
	}
	if !f.cfg.AllowStarSelect && starSelectPattern.MatchString(s) {
		return &Violation{Rule: RuleStarSelect, Detail: "wildcard projection is not allowed"}
	}
	if rowSet && !f.cfg.SkipRowCapCheck && !limitPattern.MatchString(s) {
		return &Violation{Rule: RuleMissingCap, Detail: "row-set statements must carry an explicit LIMIT"}
	}
	return nil
}

// hasVerb requires the verb as the leading whole word. A hint comment between
// the verb and the projection is tolerated since the executor injects one.
func hasVerb(upper, verb string) bool {
	if upper == verb {
		return true
	}
	return strings.HasPrefix(upper, verb+" ") || strings.HasPrefix(upper, verb+"\t") || strings.HasPrefix(upper, verb+"\n")
}
