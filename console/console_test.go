package console

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func stripCodes(f *Formatter, rendered string) string {
	out := strings.TrimSuffix(rendered, f.reset)
	for _, code := range f.styles {
		out = strings.ReplaceAll(out, code, "")
	}
	return out
}

func TestRenderAndPlain(t *testing.T) {
	f := New(DefaultStyles(), nil)
	text := "<g>Token deployed at <b>0xabc"
	if got := f.Plain(text); got != "Token deployed at 0xabc" {
		t.Fatalf("unexpected plain output %q", got)
	}
	want := "\x1b[32mToken deployed at \x1b[34m0xabc" + Reset
	if got := f.Render(text); got != want {
		t.Fatalf("unexpected rendered output %q", got)
	}
}

func TestAliasesShareCodes(t *testing.T) {
	f := New(DefaultStyles(), nil)
	if f.Render("<red>x") != f.Render("<r>x") {
		t.Fatalf("expected <red> and <r> to render identically")
	}
	if f.Render("<trq_f>x") != f.Render("<cf>x") {
		t.Fatalf("expected <trq_f> and <cf> to render identically")
	}
}

func TestUnknownMarkersKeptVerbatim(t *testing.T) {
	f := New(DefaultStyles(), nil)
	text := "<nope>value <g>ok</g> <R>"
	if got := f.Plain(text); got != "<nope>value ok</g> <R>" {
		t.Fatalf("unexpected plain output %q", got)
	}
	rendered := f.Render(text)
	for _, marker := range []string{"<nope>", "</g>", "<R>"} {
		if !strings.Contains(rendered, marker) {
			t.Fatalf("expected %s to survive rendering: %q", marker, rendered)
		}
	}
}

func TestMarkersFormedBySubstitutionStayLiteral(t *testing.T) {
	f := New(DefaultStyles(), nil)
	if got := f.Plain("<<r>g>x"); got != "<g>x" {
		t.Fatalf("unexpected plain output %q", got)
	}
}

func TestInjectedStyleTable(t *testing.T) {
	f := New(Styles{"hi": "[HI]", "clr": "[/]"}, nil)
	if got := f.Render("<hi>x<g>"); got != "[HI]x<g>[/]" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestStyleTableIsCopied(t *testing.T) {
	styles := Styles{"hi": "[HI]"}
	f := New(styles, nil)
	styles["hi"] = "[CHANGED]"
	if got := f.Plain("<hi>x"); got != "x" {
		t.Fatalf("unexpected plain %q", got)
	}
	if got := f.Render("<hi>x"); !strings.HasPrefix(got, "[HI]") {
		t.Fatalf("caller mutation leaked into formatter: %q", got)
	}
}

func TestAnnounceWritesAndReturnsPlain(t *testing.T) {
	var buf bytes.Buffer
	f := New(DefaultStyles(), &buf, WithColor(true))
	plain := f.Announce("<g>one", "<r>two")
	if len(plain) != 2 || plain[0] != "one" || plain[1] != "two" {
		t.Fatalf("unexpected plain forms %#v", plain)
	}
	if !strings.Contains(buf.String(), "\x1b[32mone"+Reset+"\n") {
		t.Fatalf("expected rendered line in output, got %q", buf.String())
	}
}

func TestAnnounceWithoutColorWritesPlain(t *testing.T) {
	var buf bytes.Buffer
	f := New(DefaultStyles(), &buf)
	f.Announce("<g>plain")
	if buf.String() != "plain\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestFailureUsesRed(t *testing.T) {
	var buf bytes.Buffer
	f := New(DefaultStyles(), &buf, WithColor(true))
	plain := f.Failure(errors.New("execution reverted"), "Failed to return tokens")
	if len(plain) != 2 || plain[0] != "execution reverted" {
		t.Fatalf("unexpected plain forms %#v", plain)
	}
	if strings.Count(buf.String(), "\x1b[31m") != 2 {
		t.Fatalf("expected two red lines, got %q", buf.String())
	}
}

func FuzzRenderStripsToPlain(f *testing.F) {
	for _, seed := range []string{
		"",
		"<g>Done\n",
		"<g>Minting <b>10000 eth <g>tokens",
		"<<r>g>nested",
		"<unknown><bld><und>x<wf>",
		"a<b",
	} {
		f.Add(seed)
	}
	formatter := New(DefaultStyles(), nil)
	f.Fuzz(func(t *testing.T, text string) {
		if strings.Contains(text, "\x1b") {
			t.Skip()
		}
		plain := formatter.Plain(text)
		if got := stripCodes(formatter, formatter.Render(text)); got != plain {
			t.Fatalf("render/plain mismatch: %q vs %q", got, plain)
		}
	})
}
