package console

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/term"
)

var markerPattern = regexp.MustCompile(`<([A-Za-z0-9_]+)>`)

// Formatter converts marker-tagged text into styled terminal output and its plain
// counterpart. The style table is fixed at construction.
type Formatter struct {
	styles Styles
	reset  string
	color  bool

	mu  sync.Mutex
	out io.Writer
}

// Option customises a Formatter.
type Option func(*Formatter)

// WithColor forces styled output on or off regardless of the writer.
func WithColor(enabled bool) Option {
	return func(f *Formatter) { f.color = enabled }
}

// New builds a formatter writing to out. Styled output is enabled when out is a
// terminal unless overridden with WithColor.
func New(styles Styles, out io.Writer, opts ...Option) *Formatter {
	if styles == nil {
		styles = DefaultStyles()
	}
	if out == nil {
		out = io.Discard
	}
	f := &Formatter{
		styles: styles.clone(),
		out:    out,
		color:  isTerminal(out),
	}
	f.reset = f.styles["clr"]
	if f.reset == "" {
		f.reset = Reset
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

// Render replaces every known marker with its style code and appends a reset.
// Unknown markers are kept verbatim.
func (f *Formatter) Render(text string) string {
	return f.replace(text, true) + f.reset
}

// Plain removes every known marker. Unknown markers are kept verbatim.
func (f *Formatter) Plain(text string) string {
	return f.replace(text, false)
}

func (f *Formatter) replace(text string, styled bool) string {
	return markerPattern.ReplaceAllStringFunc(text, func(marker string) string {
		code, ok := f.styles[marker[1:len(marker)-1]]
		if !ok {
			return marker
		}
		if styled {
			return code
		}
		return ""
	})
}

// Announce writes every value on its own line and returns the plain forms.
func (f *Formatter) Announce(values ...string) []string {
	plain := make([]string, len(values))
	var b strings.Builder
	for i, value := range values {
		plain[i] = f.Plain(value)
		if f.color {
			b.WriteString(f.Render(value))
		} else {
			b.WriteString(plain[i])
		}
		b.WriteByte('\n')
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, _ = io.WriteString(f.out, b.String())
	return plain
}

// Announcef formats a single value and announces it.
func (f *Formatter) Announcef(format string, args ...any) string {
	return f.Announce(fmt.Sprintf(format, args...))[0]
}

// Failure announces err followed by msg, both in red.
func (f *Formatter) Failure(err error, msg string) []string {
	values := make([]string, 0, 2)
	if err != nil {
		values = append(values, "<r>"+err.Error())
	}
	return f.Announce(append(values, "<r>"+msg)...)
}
