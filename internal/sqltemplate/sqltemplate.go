// Package sqltemplate implements the small text templater shared by
// every SQL string the middle backend adapter issues. It substitutes
// %p (table prefix), %t (table tablespace), %i (index tablespace) and
// %m (UNLOGGED marker), and elides {...}-delimited optional segments
// that produced no non-empty substitution.
package sqltemplate

import "strings"

// Vars holds the substitution values for one Expand call. Empty string
// fields are treated as "unset": a %-substitution that resolves to an
// empty string never counts as "something was copied" for the purposes
// of deciding whether to keep an enclosing {...} segment.
type Vars struct {
	Prefix         string // %p
	TableTablespace string // %t
	IndexTablespace string // %i
	Unlogged       bool   // %m -> "UNLOGGED" or ""
}

// Expand rewrites tmpl according to Vars. Unmatched '%' characters (not
// followed by p, t, i, or m) are emitted verbatim, including the '%'
// itself. A '{' opens an optional segment; if no substitution inside it
// produced non-empty output before the matching '}', the whole segment
// is dropped. Segments do not nest.
func Expand(tmpl string, vars Vars) string {
	var out strings.Builder
	var segment strings.Builder
	var inSegment bool
	var segmentCopied bool

	emit := func(s string) {
		if inSegment {
			segment.WriteString(s)
		} else {
			out.WriteString(s)
		}
	}

	n := len(tmpl)
	for i := 0; i < n; i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if inSegment {
				// No nesting support: treat as a literal brace.
				emit("{")
				continue
			}
			inSegment = true
			segmentCopied = false
			segment.Reset()
		case '}':
			if !inSegment {
				continue
			}
			inSegment = false
			if segmentCopied {
				out.WriteString(segment.String())
			}
		case '%':
			if i+1 < n {
				switch tmpl[i+1] {
				case 'p':
					if vars.Prefix != "" {
						emit(vars.Prefix)
						segmentCopied = true
					}
					i++
					continue
				case 't':
					if vars.TableTablespace != "" {
						emit(vars.TableTablespace)
						segmentCopied = true
					}
					i++
					continue
				case 'i':
					if vars.IndexTablespace != "" {
						emit(vars.IndexTablespace)
						segmentCopied = true
					}
					i++
					continue
				case 'm':
					if vars.Unlogged {
						emit("UNLOGGED")
						segmentCopied = true
					}
					i++
					continue
				}
			}
			emit("%")
		default:
			emit(string(c))
		}
	}
	// Unterminated segment: flush whatever was accumulated, matching
	// the "copy to output as-is" behavior for malformed templates.
	if inSegment {
		out.WriteString(segment.String())
	}
	return out.String()
}
