package moderation

import (
	"reflect"
	"testing"
)

func collect(text string) []Span {
	var out []Span
	for s := range Scan(text) {
		out = append(out, s)
	}
	return out
}

func TestScan_Windows(t *testing.T) {
	spans := collect("you are dead")

	want := []string{"you", "you are", "you are dead", "are", "are dead", "dead"}
	if len(spans) != len(want) {
		t.Fatalf("Scan yielded %d spans, want %d", len(spans), len(want))
	}
	for i, s := range spans {
		if s.Plain != want[i] {
			t.Errorf("span[%d].Plain = %q, want %q", i, s.Plain, want[i])
		}
	}
	if spans[2].Tokens != 3 || spans[2].Start != 0 || spans[2].End != 12 {
		t.Errorf("three-token window = %+v", spans[2])
	}
}

func TestScan_EmptyAndPunctuation(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"spaces only", "   "},
		{"punctuation only", "... !!! ---"},
		{"symbols only", "@ $ | +"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if spans := collect(tt.input); len(spans) != 0 {
				t.Errorf("Scan(%q) yielded %d spans, want 0", tt.input, len(spans))
			}
		})
	}
}

func TestScan_ShortInput(t *testing.T) {
	spans := collect("hello")
	if len(spans) != 1 {
		t.Fatalf("Scan yielded %d spans, want 1", len(spans))
	}
	if spans[0].Text != "hello" || spans[0].Start != 0 || spans[0].End != 5 {
		t.Errorf("span = %+v", spans[0])
	}
}

func TestScan_TokenBoundaries(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"hello, world!", []string{"hello", "world"}},
		{"  spaced  out  ", []string{"spaced", "out"}},
		{"hello---world", []string{"hello", "world"}},
		{"hello $h!t bye", []string{"hello", "$h!t", "bye"}},
		{"b@dw0rd", []string{"b@dw0rd"}},
		{"you're dead", []string{"you're", "dead"}},
		{"'quoted'", []string{"quoted"}},
		{"wow!!! ok", []string{"wow", "ok"}},
		{"it costs $5.99", []string{"it", "costs", "$5", "99"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var got []string
			for s := range Scan(tt.input) {
				if s.Tokens == 1 {
					got = append(got, s.Text)
				}
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("tokens(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestScan_Normalization(t *testing.T) {
	tests := []struct {
		input     string
		plain     string
		norm      string
		elongated bool
	}{
		{"hello", "hello", "hello", false},
		{"HeLLo", "hello", "hello", false},
		{"h3ll0", "h3ll0", "hello", false},
		{"@ss", "@ss", "ass", false},
		{"$h!t", "$h!t", "shit", false},
		{"ch@ng3", "ch@ng3", "change", false},
		{"shït", "shït", "shit", false},
		{"sooooo", "sooooo", "soo", true},
		{"shiiiit", "shiiiit", "shiit", true},
		{"100", "100", "100", false},
		{"ｓｈｉｔ", "shit", "shit", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			spans := collect(tt.input)
			if len(spans) != 1 {
				t.Fatalf("Scan(%q) yielded %d spans, want 1", tt.input, len(spans))
			}
			s := spans[0]
			if s.Plain != tt.plain {
				t.Errorf("Plain = %q, want %q", s.Plain, tt.plain)
			}
			if s.Norm != tt.norm {
				t.Errorf("Norm = %q, want %q", s.Norm, tt.norm)
			}
			if s.Elongated != tt.elongated {
				t.Errorf("Elongated = %v, want %v", s.Elongated, tt.elongated)
			}
			if s.Text != tt.input {
				t.Errorf("Text = %q, want original %q", s.Text, tt.input)
			}
		})
	}
}

func TestScan_RuneOffsets(t *testing.T) {
	spans := collect("héllo wörld 日本語")

	var singles []Span
	for _, s := range spans {
		if s.Tokens == 1 {
			singles = append(singles, s)
		}
	}
	if len(singles) != 3 {
		t.Fatalf("got %d tokens, want 3", len(singles))
	}
	offsets := [][2]int{{0, 5}, {6, 11}, {12, 15}}
	for i, s := range singles {
		if s.Start != offsets[i][0] || s.End != offsets[i][1] {
			t.Errorf("token %q at [%d,%d), want %v", s.Text, s.Start, s.End, offsets[i])
		}
	}
	if singles[2].Text != "日本語" {
		t.Errorf("multi-byte token = %q", singles[2].Text)
	}
}

func TestScan_Deterministic(t *testing.T) {
	text := "Th1s is $0 much sh!t, you are dead"
	seq := Scan(text)

	var first, second []Span
	for s := range seq {
		first = append(first, s)
	}
	for s := range seq {
		second = append(second, s)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("ranging over the same sequence twice produced different spans")
	}
}

func TestScan_StopsEarly(t *testing.T) {
	n := 0
	for range Scan("one two three four five") {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("iterated %d spans after break, want 2", n)
	}
}

func TestCollapseElongation(t *testing.T) {
	tests := []struct {
		input     string
		want      string
		collapsed bool
	}{
		{"", "", false},
		{"good", "good", false},
		{"gooood", "good", true},
		{"aaabbbccc", "aabbcc", true},
	}
	for _, tt := range tests {
		got, collapsed := collapseElongation(tt.input)
		if got != tt.want || collapsed != tt.collapsed {
			t.Errorf("collapseElongation(%q) = %q, %v; want %q, %v", tt.input, got, collapsed, tt.want, tt.collapsed)
		}
	}
}

func TestSqueeze(t *testing.T) {
	tests := map[string]string{
		"":       "",
		"shiit":  "shit",
		"fuuuck": "fuck",
		"abc":    "abc",
	}
	for in, want := range tests {
		if got := squeeze(in); got != want {
			t.Errorf("squeeze(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStretches(t *testing.T) {
	tests := []struct {
		token, term string
		want        bool
	}{
		{"fuuck", "fuck", true},
		{"shiit", "shit", true},
		{"asss", "ass", true},
		{"ass", "ass", true},
		{"aas", "ass", false},
		{"as", "ass", false},
		{"fuk", "fuck", false},
		{"shiit", "shot", false},
	}
	for _, tt := range tests {
		if got := stretches(tt.token, tt.term); got != tt.want {
			t.Errorf("stretches(%q, %q) = %v, want %v", tt.token, tt.term, got, tt.want)
		}
	}
}
