package classify

import (
	"strings"

	docerrors "github.com/conneroisu/docrelay/internal/errors"
)

// Kind is the result class of a classification.
type Kind int

const (
	NoMatch Kind = iota
	Matched
	Ambiguous
)

func (k Kind) String() string {
	switch k {
	case Matched:
		return "matched"
	case Ambiguous:
		return "ambiguous"
	default:
		return "no_match"
	}
}

// Classification is the outcome of matching one filename.
type Classification struct {
	Kind Kind
	// Template and Groups are set when Kind is Matched.
	Template Template
	Groups   []string
	// Candidates names every matching template when Kind is Ambiguous.
	Candidates []string
}

// Err converts an unroutable classification into a validation error.
func (c Classification) Err() error {
	switch c.Kind {
	case NoMatch:
		return docerrors.NewValidationError(docerrors.ErrCodeNoTemplate, "no template matches")
	case Ambiguous:
		return docerrors.NewValidationError(docerrors.ErrCodeAmbiguousTemplate,
			"multiple templates match: "+strings.Join(c.Candidates, ", "))
	default:
		return nil
	}
}

// Matcher evaluates every template against a filename.
type Matcher struct {
	templates []Template
}

// NewMatcher creates a matcher over templates, evaluated in order.
func NewMatcher(templates []Template) *Matcher {
	return &Matcher{templates: append([]Template(nil), templates...)}
}

// Templates returns a copy of the configured templates.
func (m *Matcher) Templates() []Template {
	return append([]Template(nil), m.templates...)
}

// Classify searches filename with every pattern. Patterns are unanchored.
// Exactly one match is required for a route.
func (m *Matcher) Classify(filename string) Classification {
	var (
		hits   []Template
		groups []string
	)
	for _, t := range m.templates {
		sub := t.Pattern.FindStringSubmatch(filename)
		if sub == nil {
			continue
		}
		if len(hits) == 0 {
			groups = sub[1:]
		}
		hits = append(hits, t)
	}

	switch len(hits) {
	case 0:
		return Classification{Kind: NoMatch}
	case 1:
		return Classification{Kind: Matched, Template: hits[0], Groups: groups}
	default:
		names := make([]string, len(hits))
		for i, t := range hits {
			names[i] = t.Name
		}
		return Classification{Kind: Ambiguous, Candidates: names}
	}
}
