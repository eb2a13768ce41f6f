// Package render colors code blocks for terminal display. Highlighting is
// regex-based over a fixed palette; it is cosmetic, and any pattern that
// fails to compile is skipped so rendering never fails outright.
package render

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
)

var (
	keywordStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	stringStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	commentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	numberStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("215"))
)

const (
	cStyleCommentPattern = `//[^\n]*|/\*[\s\S]*?\*/`
	hashCommentPattern   = `#[^\n]*`
	stringPattern        = `"(?:\\.|[^"\\\n])*"|'(?:\\.|[^'\\\n])*'`
	rawStringPattern     = "`[^`]*`"
	numberPattern        = `\b\d+(?:\.\d+)?\b`
)

var keywordsByLanguage = map[string][]string{
	"go": {
		"break", "case", "chan", "const", "continue", "default", "defer",
		"else", "fallthrough", "for", "func", "go", "goto", "if", "import",
		"interface", "map", "package", "range", "return", "select", "struct",
		"switch", "type", "var",
	},
	"python": {
		"and", "as", "assert", "async", "await", "break", "class", "continue",
		"def", "del", "elif", "else", "except", "finally", "for", "from",
		"global", "if", "import", "in", "is", "lambda", "not", "or", "pass",
		"raise", "return", "try", "while", "with", "yield",
	},
	"swift": {
		"class", "deinit", "enum", "extension", "func", "guard", "if",
		"import", "init", "let", "protocol", "return", "self", "static",
		"struct", "switch", "throws", "try", "var", "while",
	},
	"javascript": {
		"async", "await", "break", "case", "catch", "class", "const",
		"continue", "default", "else", "export", "extends", "finally", "for",
		"function", "if", "import", "let", "new", "return", "switch", "throw",
		"try", "typeof", "var", "while",
	},
	"rust": {
		"as", "break", "const", "continue", "else", "enum", "fn", "for",
		"if", "impl", "let", "loop", "match", "mod", "mut", "pub", "return",
		"self", "struct", "trait", "type", "use", "while",
	},
}

var languageAliases = map[string]string{
	"js":     "javascript",
	"ts":     "javascript",
	"py":     "python",
	"rs":     "rust",
	"golang": "go",
}

// patternClass binds one regex to the style it paints. Classes are applied
// in order; a span claimed by an earlier class is never repainted.
type patternClass struct {
	pattern string
	style   lipgloss.Style
}

type Highlighter struct {
	regexps *regexpStore
}

func NewHighlighter() *Highlighter {
	return &Highlighter{regexps: newRegexpStore()}
}

func classesFor(language string) []patternClass {
	language = strings.ToLower(language)
	if alias, ok := languageAliases[language]; ok {
		language = alias
	}

	commentPattern := cStyleCommentPattern
	if language == "python" {
		commentPattern = hashCommentPattern
	}

	classes := []patternClass{
		{commentPattern, commentStyle},
		{stringPattern, stringStyle},
	}
	if language == "go" || language == "javascript" {
		classes = append(classes, patternClass{rawStringPattern, stringStyle})
	}
	if keywords, ok := keywordsByLanguage[language]; ok {
		classes = append(classes, patternClass{keywordClassPattern(keywords), keywordStyle})
	}
	classes = append(classes, patternClass{numberPattern, numberStyle})
	return classes
}

func keywordClassPattern(keywords []string) string {
	escaped := make([]string, len(keywords))
	for i, kw := range keywords {
		escaped[i] = regexp.QuoteMeta(kw)
	}
	return fmt.Sprintf(`\b(?:%s)\b`, strings.Join(escaped, "|"))
}

type span struct {
	start, end int
	style      lipgloss.Style
}

// Highlight returns source with ANSI styling applied. An empty or unknown
// language tag still gets string/comment/number coloring, just no keywords.
func (h *Highlighter) Highlight(source, language string) string {
	var spans []span

	for _, class := range classesFor(language) {
		re, err := h.regexps.get(class.pattern)
		if err != nil {
			log.Debug().Err(err).Str("pattern", class.pattern).Msg("skipping highlight pattern that failed to compile")
			continue
		}
		for _, loc := range re.FindAllStringIndex(source, -1) {
			if overlapsAny(spans, loc[0], loc[1]) {
				continue
			}
			spans = append(spans, span{start: loc[0], end: loc[1], style: class.style})
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	cursor := 0
	for _, s := range spans {
		b.WriteString(source[cursor:s.start])
		b.WriteString(s.style.Render(source[s.start:s.end]))
		cursor = s.end
	}
	b.WriteString(source[cursor:])
	return b.String()
}

func overlapsAny(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && end > s.start {
			return true
		}
	}
	return false
}
