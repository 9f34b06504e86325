package value

import (
	"fmt"

	"github.com/dlclark/regexp2"
)

// Regex is a compiled regular expression value. regexp2 gives the language
// backreferences and lookaround, which the standard library engine lacks.
type Regex struct {
	re *regexp2.Regexp
}

// RegexMatch is one match. Start and End are rune offsets into the input.
type RegexMatch struct {
	Text   string
	Start  int
	End    int
	Groups []string
}

// CompileRegex compiles pattern into a regex value.
func CompileRegex(pattern string) (Value, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return Null(), fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	return Value{kind: KindRegex, ref: &Regex{re: re}}, nil
}

// Pattern returns the source pattern.
func (r *Regex) Pattern() string { return r.re.String() }

// MatchString reports whether s contains a match.
func (r *Regex) MatchString(s string) (bool, error) {
	return r.re.MatchString(s)
}

// Find returns the first match in s.
func (r *Regex) Find(s string) (RegexMatch, bool, error) {
	m, err := r.re.FindStringMatch(s)
	if err != nil || m == nil {
		return RegexMatch{}, false, err
	}
	return toMatch(m), true, nil
}

// FindAll returns up to limit matches (all when limit < 0).
func (r *Regex) FindAll(s string, limit int) ([]RegexMatch, error) {
	var out []RegexMatch
	m, err := r.re.FindStringMatch(s)
	for m != nil && err == nil {
		if limit >= 0 && len(out) >= limit {
			break
		}
		out = append(out, toMatch(m))
		m, err = r.re.FindNextMatch(m)
	}
	return out, err
}

func toMatch(m *regexp2.Match) RegexMatch {
	groups := m.Groups()
	texts := make([]string, 0, len(groups))
	for _, g := range groups[1:] {
		texts = append(texts, g.String())
	}
	return RegexMatch{
		Text:   m.String(),
		Start:  m.Index,
		End:    m.Index + m.Length,
		Groups: texts,
	}
}
