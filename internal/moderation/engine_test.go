package moderation

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	return New(mustDefault(t), opts...)
}

func analyze(t *testing.T, e *Engine, text string) *Result {
	t.Helper()
	res, err := e.Analyze(text)
	if err != nil {
		t.Fatalf("Analyze(%q): %v", text, err)
	}
	return res
}

func flagFor(res *Result, c Category) (Flag, bool) {
	for _, f := range res.Flags {
		if f.Type == c {
			return f, true
		}
	}
	return Flag{}, false
}

// sampleTexts mixes clean, toxic and obfuscated inputs for property checks.
var sampleTexts = []string{
	"",
	"   ",
	"have a nice day",
	"shit",
	"this is sh1t honestly",
	"you are an idiot and a loser",
	"i'll kill you, watch your back",
	"heil hitler",
	"FUUUUUCK THIS STUPID GAME RIGHT NOW",
	"buy now buy now buy now http://spam.xyz/win call 555-123-4567",
	"cunt cunt CUNT c u n t",
	"日本語のテキスト with some $h!t in it",
	"i want to die, everything is hopeless",
}

func TestAnalyze_Scenarios(t *testing.T) {
	e := newTestEngine(t)

	t.Run("empty input", func(t *testing.T) {
		res := analyze(t, e, "")
		if res.Text != "" || len(res.Flags) != 0 || res.OverallToxicity != 0 {
			t.Errorf("Analyze(\"\") = %+v", res)
		}
		if res.Flags == nil {
			t.Error("Flags is nil, want empty slice")
		}
	})

	t.Run("clean text", func(t *testing.T) {
		res := analyze(t, e, "have a nice day")
		if len(res.Flags) != 0 || res.OverallToxicity != 0 {
			t.Errorf("flags = %+v, toxicity = %v", res.Flags, res.OverallToxicity)
		}
	})

	exact := analyze(t, e, "well this is shit")
	t.Run("exact profanity", func(t *testing.T) {
		if len(exact.Flags) != 1 {
			t.Fatalf("got %d flags, want 1: %+v", len(exact.Flags), exact.Flags)
		}
		f := exact.Flags[0]
		if f.Type != Profanity || f.Word != "shit" {
			t.Errorf("flag = %+v", f)
		}
		if f.Confidence != 0.9 {
			t.Errorf("confidence = %v, want base weight 0.9", f.Confidence)
		}
		if exact.OverallToxicity <= 0 || exact.OverallToxicity >= 1 {
			t.Errorf("toxicity = %v, want within (0,1)", exact.OverallToxicity)
		}
	})

	t.Run("obfuscated profanity", func(t *testing.T) {
		for _, text := range []string{"well this is sh1t", "well this is $hit", "well this is shïïïït"} {
			res := analyze(t, e, text)
			f, ok := flagFor(res, Profanity)
			if !ok {
				t.Errorf("Analyze(%q) produced no profanity flag", text)
				continue
			}
			if f.Confidence >= exact.Flags[0].Confidence {
				t.Errorf("Analyze(%q) confidence %v not below exact %v", text, f.Confidence, exact.Flags[0].Confidence)
			}
		}
	})

	t.Run("severe categories compound", func(t *testing.T) {
		threat := analyze(t, e, "kill yourself")
		hate := analyze(t, e, "heil hitler")
		both := analyze(t, e, "kill yourself heil hitler")

		if _, ok := flagFor(both, Threat); !ok {
			t.Fatal("missing threat flag")
		}
		if _, ok := flagFor(both, HateSpeech); !ok {
			t.Fatal("missing hate_speech flag")
		}
		if both.OverallToxicity <= threat.OverallToxicity || both.OverallToxicity <= hate.OverallToxicity {
			t.Errorf("combined %v does not exceed threat %v and hate %v",
				both.OverallToxicity, threat.OverallToxicity, hate.OverallToxicity)
		}
	})
}

func TestAnalyze_OnePhraseOneFlag(t *testing.T) {
	res := analyze(t, newTestEngine(t), "i'll kill you")
	if len(res.Flags) != 1 {
		t.Fatalf("got %d flags, want 1: %+v", len(res.Flags), res.Flags)
	}
	if f := res.Flags[0]; f.Type != Threat || f.Word != "i'll kill you" || !approxEqual(f.Confidence, 0.95) {
		t.Errorf("flag = %+v", f)
	}
	if !approxEqual(res.OverallToxicity, 0.95) {
		t.Errorf("toxicity = %v, want 0.95", res.OverallToxicity)
	}

	res = analyze(t, newTestEngine(t), "you are an idiot")
	if len(res.Flags) != 1 || res.Flags[0].Word != "are an idiot" {
		t.Errorf("flags = %+v, want only the insult phrase", res.Flags)
	}
}

func TestAnalyze_MaxLength(t *testing.T) {
	e := newTestEngine(t, WithMaxLength(10))

	if _, err := e.Analyze(strings.Repeat("a", 10)); err != nil {
		t.Errorf("input at the limit failed: %v", err)
	}
	if _, err := e.Analyze(strings.Repeat("é", 10)); err != nil {
		t.Errorf("multi-byte input at the limit failed: %v", err)
	}

	_, err := e.Analyze(strings.Repeat("a", 11))
	if !errors.Is(err, ErrTextTooLong) {
		t.Fatalf("err = %v, want ErrTextTooLong", err)
	}
	var tl *TextTooLongError
	if !errors.As(err, &tl) {
		t.Fatalf("err %T is not *TextTooLongError", err)
	}
	if tl.Length != 11 || tl.Max != 10 {
		t.Errorf("TextTooLongError = %+v", tl)
	}
}

func TestAnalyze_DefaultMaxLength(t *testing.T) {
	e := newTestEngine(t)
	if e.MaxLength() != DefaultMaxLength {
		t.Errorf("MaxLength = %d, want %d", e.MaxLength(), DefaultMaxLength)
	}
	if _, err := e.Analyze(strings.Repeat("x", DefaultMaxLength)); err != nil {
		t.Errorf("input at default limit failed: %v", err)
	}
	if _, err := e.Analyze(strings.Repeat("x", DefaultMaxLength+1)); !errors.Is(err, ErrTextTooLong) {
		t.Errorf("err = %v, want ErrTextTooLong", err)
	}
}

func TestAnalyze_Properties(t *testing.T) {
	e := newTestEngine(t)

	for _, text := range sampleTexts {
		first := analyze(t, e, text)
		second := analyze(t, e, text)

		if !reflect.DeepEqual(first, second) {
			t.Errorf("Analyze(%q) is not deterministic", text)
		}
		if first.Text != text {
			t.Errorf("Analyze(%q).Text = %q", text, first.Text)
		}
		if first.OverallToxicity < 0 || first.OverallToxicity > 1 {
			t.Errorf("Analyze(%q) toxicity %v out of bounds", text, first.OverallToxicity)
		}
		if len(first.Flags) == 0 && first.OverallToxicity != 0 {
			t.Errorf("Analyze(%q) has no flags but toxicity %v", text, first.OverallToxicity)
		}

		seen := make(map[string]bool)
		for _, f := range first.Flags {
			if f.Confidence < 0 || f.Confidence > 1 {
				t.Errorf("Analyze(%q) flag %q confidence %v out of bounds", text, f.Word, f.Confidence)
			}
			key := f.Type.String() + "\x00" + f.Word
			if seen[key] {
				t.Errorf("Analyze(%q) has duplicate flag %s/%q", text, f.Type, f.Word)
			}
			seen[key] = true
		}
	}
}

func TestAnalyze_Monotonic(t *testing.T) {
	e := newTestEngine(t)

	for _, base := range sampleTexts {
		before := analyze(t, e, base)
		for _, extra := range sampleTexts {
			after := analyze(t, e, base+" "+extra)
			if after.OverallToxicity < before.OverallToxicity {
				t.Errorf("appending %q to %q lowered toxicity from %v to %v",
					extra, base, before.OverallToxicity, after.OverallToxicity)
			}
		}
	}
}

func TestAnalyze_FlagOrder(t *testing.T) {
	res := analyze(t, newTestEngine(t), "what an idiot, that is shit")
	if len(res.Flags) < 2 {
		t.Fatalf("got %d flags, want at least 2", len(res.Flags))
	}
	if res.Flags[0].Word != "idiot" || res.Flags[len(res.Flags)-1].Word != "shit" {
		t.Errorf("flags out of input order: %+v", res.Flags)
	}
}

func TestAnalyze_Context(t *testing.T) {
	text := "we walked down to the lake and then shit happened near the old mill"

	res := analyze(t, newTestEngine(t, WithContextWidth(10)), text)
	if len(res.Flags) != 1 {
		t.Fatalf("got %d flags, want 1: %+v", len(res.Flags), res.Flags)
	}
	if got, want := res.Flags[0].Context, "and then shit happened"; got != want {
		t.Errorf("context = %q, want %q", got, want)
	}

	res = analyze(t, newTestEngine(t, WithContextWidth(0)), text)
	if res.Flags[0].Context != "" {
		t.Errorf("context = %q with width 0, want empty", res.Flags[0].Context)
	}
}

func TestAnalyze_WorkersMatchSerial(t *testing.T) {
	text := strings.Repeat("hello shit world kill yourself ", 200)

	serial := analyze(t, newTestEngine(t), text)
	sharded := analyze(t, newTestEngine(t, WithWorkers(4)), text)
	if !reflect.DeepEqual(serial, sharded) {
		t.Error("sharded matching produced a different result than serial")
	}
}

func TestAnalyze_Concurrent(t *testing.T) {
	e := newTestEngine(t)
	want := make([]*Result, len(sampleTexts))
	for i, text := range sampleTexts {
		want[i] = analyze(t, e, text)
	}

	var wg sync.WaitGroup
	errs := make(chan string, len(sampleTexts)*8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, text := range sampleTexts {
				res, err := e.Analyze(text)
				if err != nil || !reflect.DeepEqual(res, want[i]) {
					errs <- text
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for text := range errs {
		t.Errorf("concurrent Analyze(%q) diverged", text)
	}
}
