package notify

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Style is the formatting applied to one run of text.
type Style struct {
	Color     string // hex, empty for default
	Bold      bool
	Italic    bool
	Underline bool
	Strike    bool
}

// Span is a run of text with a single style.
type Span struct {
	Text  string
	Style Style
}

var colors = map[string]string{
	"black":        "#000000",
	"dark_blue":    "#0000AA",
	"dark_green":   "#00AA00",
	"dark_aqua":    "#00AAAA",
	"dark_red":     "#AA0000",
	"dark_purple":  "#AA00AA",
	"gold":         "#FFAA00",
	"gray":         "#AAAAAA",
	"grey":         "#AAAAAA",
	"dark_gray":    "#555555",
	"dark_grey":    "#555555",
	"blue":         "#5555FF",
	"green":        "#55FF55",
	"aqua":         "#55FFFF",
	"red":          "#FF5555",
	"light_purple": "#FF55FF",
	"yellow":       "#FFFF55",
	"white":        "#FFFFFF",
}

var decorations = map[string]func(*Style){
	"bold":          func(s *Style) { s.Bold = true },
	"b":             func(s *Style) { s.Bold = true },
	"italic":        func(s *Style) { s.Italic = true },
	"i":             func(s *Style) { s.Italic = true },
	"em":            func(s *Style) { s.Italic = true },
	"underlined":    func(s *Style) { s.Underline = true },
	"u":             func(s *Style) { s.Underline = true },
	"strikethrough": func(s *Style) { s.Strike = true },
	"st":            func(s *Style) { s.Strike = true },
}

func knownTag(name string) bool {
	if name == "reset" {
		return true
	}
	if strings.HasPrefix(name, "#") && len(name) == 7 {
		return strings.Trim(name[1:], "0123456789abcdef") == ""
	}
	_, c := colors[name]
	_, d := decorations[name]
	return c || d
}

// Parse splits markup into styled spans. Tags nest; a closing tag pops the
// innermost open tag of that name and <reset> closes everything. Unknown tags
// are kept as literal text.
func Parse(s string) []Span {
	var (
		out   []Span
		stack []string
		buf   strings.Builder
	)
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		st := styleOf(stack)
		if n := len(out); n > 0 && out[n-1].Style == st {
			out[n-1].Text += buf.String()
		} else {
			out = append(out, Span{Text: buf.String(), Style: st})
		}
		buf.Reset()
	}

	for len(s) > 0 {
		i := strings.IndexByte(s, '<')
		if i < 0 {
			buf.WriteString(s)
			break
		}
		buf.WriteString(s[:i])
		s = s[i:]
		j := strings.IndexByte(s, '>')
		if j < 0 {
			buf.WriteString(s)
			break
		}
		raw := s[1:j]
		closing := strings.HasPrefix(raw, "/")
		name := strings.ToLower(strings.TrimPrefix(raw, "/"))
		if !knownTag(name) {
			buf.WriteByte('<')
			s = s[1:]
			continue
		}
		flush()
		switch {
		case name == "reset":
			stack = stack[:0]
		case closing:
			for k := len(stack) - 1; k >= 0; k-- {
				if stack[k] == name {
					stack = append(stack[:k], stack[k+1:]...)
					break
				}
			}
		default:
			stack = append(stack, name)
		}
		s = s[j+1:]
	}
	flush()
	return out
}

func styleOf(stack []string) Style {
	var st Style
	for _, name := range stack {
		if hex, ok := colors[name]; ok {
			st.Color = hex
			continue
		}
		if strings.HasPrefix(name, "#") {
			st.Color = strings.ToUpper(name)
			continue
		}
		if fn, ok := decorations[name]; ok {
			fn(&st)
		}
	}
	return st
}

// Strip returns the text of s without markup.
func Strip(s string) string {
	var b strings.Builder
	for _, sp := range Parse(s) {
		b.WriteString(sp.Text)
	}
	return b.String()
}

// Render formats markup for a terminal using r's color profile.
func Render(r *lipgloss.Renderer, s string) string {
	var b strings.Builder
	for _, sp := range Parse(s) {
		if sp.Style == (Style{}) {
			b.WriteString(sp.Text)
			continue
		}
		st := r.NewStyle().
			Bold(sp.Style.Bold).
			Italic(sp.Style.Italic).
			Underline(sp.Style.Underline).
			Strikethrough(sp.Style.Strike)
		if sp.Style.Color != "" {
			st = st.Foreground(lipgloss.Color(sp.Style.Color))
		}
		b.WriteString(st.Render(sp.Text))
	}
	return b.String()
}
