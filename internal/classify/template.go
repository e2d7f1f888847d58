// Package classify routes a filename to exactly one document template.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	docerrors "github.com/conneroisu/docrelay/internal/errors"
)

// OverlapProbe is the synthetic filename used to detect templates whose
// patterns obviously overlap.
const OverlapProbe = "sample_filename.pdf"

// Template pairs a filename pattern with notification recipients and
// message formatting.
type Template struct {
	Name          string
	Pattern       *regexp.Regexp
	Recipients    []string
	SubjectFormat string
	Body          string
}

// NewTemplate compiles pattern and checks the subject format.
func NewTemplate(name, pattern string, recipients []string, subjectFormat, body string) (Template, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Template{}, docerrors.Wrap(err, docerrors.ErrorTypeConfig, docerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid pattern for template %s", name))
	}
	if _, err := FormatSubject(subjectFormat, nil); err != nil {
		return Template{}, docerrors.Wrap(err, docerrors.ErrorTypeConfig, docerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid subject format for template %s", name))
	}
	return Template{
		Name:          name,
		Pattern:       re,
		Recipients:    recipients,
		SubjectFormat: subjectFormat,
		Body:          body,
	}, nil
}

// Subject renders the template's subject from captured groups.
func (t Template) Subject(groups []string) string {
	s, err := FormatSubject(t.SubjectFormat, groups)
	if err != nil {
		// NewTemplate rejected malformed formats already
		return t.SubjectFormat
	}
	return s
}

// FormatSubject substitutes groups into format. "{}" takes the next group,
// "{N}" takes group N, "{{" and "}}" are literal braces. Groups are HTML
// escaped first. Missing groups render empty. The dispatcher escapes the
// finished subject again, so a group's "&" is delivered as "&amp;amp;".
func FormatSubject(format string, groups []string) (string, error) {
	escaped := make([]string, len(groups))
	for i, g := range groups {
		escaped[i] = html.EscapeString(g)
	}

	var b strings.Builder
	next := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		switch {
		case c == '{' && i+1 < len(format) && format[i+1] == '{':
			b.WriteByte('{')
			i++
		case c == '}' && i+1 < len(format) && format[i+1] == '}':
			b.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(format[i:], '}')
			if end < 0 {
				return "", fmt.Errorf("unterminated placeholder at offset %d", i)
			}
			field := format[i+1 : i+end]
			idx := next
			if field == "" {
				next++
			} else {
				n, err := parseIndex(field)
				if err != nil {
					return "", fmt.Errorf("placeholder {%s}: %w", field, err)
				}
				idx = n
			}
			if idx < len(escaped) {
				b.WriteString(escaped[idx])
			}
			i += end
		case c == '}':
			return "", fmt.Errorf("single '}' at offset %d", i)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func parseIndex(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("only positional indexes are supported")
		}
		n = n*10 + int(r-'0')
		if n > 1<<16 {
			return 0, fmt.Errorf("index out of range")
		}
	}
	return n, nil
}

// Overlap names two templates that both match a probe.
type Overlap struct {
	First  string
	Second string
}

// CheckOverlaps returns every pair of templates that both match probe.
// Overlaps are a configuration smell, not an error.
func CheckOverlaps(templates []Template, probe string) []Overlap {
	var out []Overlap
	for i := range templates {
		for j := i + 1; j < len(templates); j++ {
			if templates[i].Pattern.MatchString(probe) && templates[j].Pattern.MatchString(probe) {
				out = append(out, Overlap{First: templates[i].Name, Second: templates[j].Name})
			}
		}
	}
	return out
}
