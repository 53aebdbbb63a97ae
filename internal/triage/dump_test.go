package triage

import (
	"strings"
	"testing"

	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
)

func TestValidateDump(t *testing.T) {
	t.Run("plain text accepted", func(t *testing.T) {
		if err := ValidateDump("Call the bank about the mortgage", 10000); err != nil {
			t.Fatalf("ValidateDump() error = %v", err)
		}
	})

	t.Run("empty rejected", func(t *testing.T) {
		err := ValidateDump("", 10000)
		if !cozyerrors.Is(err, cozyerrors.ErrInvalidInput) {
			t.Fatalf("error = %v, want INVALID_INPUT", err)
		}
		if !strings.Contains(err.Error(), "cannot be empty") {
			t.Errorf("error %q should mention cannot be empty", err.Error())
		}
	})

	t.Run("whitespace only rejected", func(t *testing.T) {
		err := ValidateDump("   \n\t  ", 10000)
		if !cozyerrors.Is(err, cozyerrors.ErrInvalidInput) {
			t.Fatalf("error = %v, want INVALID_INPUT", err)
		}
	})

	t.Run("oversized rejected", func(t *testing.T) {
		err := ValidateDump(strings.Repeat("a", 101), 100)
		if !cozyerrors.Is(err, cozyerrors.ErrInvalidInput) {
			t.Fatalf("error = %v, want INVALID_INPUT", err)
		}
	})

	t.Run("exactly max accepted", func(t *testing.T) {
		if err := ValidateDump(strings.Repeat("a", 100), 100); err != nil {
			t.Fatalf("ValidateDump() error = %v", err)
		}
	})

	t.Run("size measured in runes", func(t *testing.T) {
		// 100 three-byte runes: 300 bytes but exactly at the 100-char cap.
		if err := ValidateDump(strings.Repeat("語", 100), 100); err != nil {
			t.Fatalf("ValidateDump() error = %v", err)
		}
	})
}

func TestSegmentDump(t *testing.T) {
	dump := `# Monday

Call the bank about the mortgage.

- buy milk
- email Sam about the offsite
  - book the room

Also need to renew the passport
sometime soon.`

	fragments := SegmentDump(dump)

	bullets, paragraphs, headings := CountFragments(fragments)
	if headings != 1 {
		t.Errorf("headings = %d, want 1", headings)
	}
	if bullets != 3 {
		t.Errorf("bullets = %d, want 3 (nested bullet counts)", bullets)
	}
	if paragraphs != 2 {
		t.Errorf("paragraphs = %d, want 2", paragraphs)
	}

	var texts []string
	for _, f := range fragments {
		texts = append(texts, f.Text)
	}
	joined := strings.Join(texts, " | ")
	for _, want := range []string{"Monday", "Call the bank", "buy milk", "book the room", "renew the passport"} {
		if !strings.Contains(joined, want) {
			t.Errorf("fragments missing %q: %v", want, texts)
		}
	}
}

func TestSegmentDump_DocumentOrder(t *testing.T) {
	fragments := SegmentDump("first paragraph\n\n- first bullet\n- second bullet\n\nlast paragraph")

	if len(fragments) != 4 {
		t.Fatalf("len(fragments) = %d, want 4", len(fragments))
	}
	wantKinds := []string{FragmentParagraph, FragmentBullet, FragmentBullet, FragmentParagraph}
	for i, want := range wantKinds {
		if fragments[i].Kind != want {
			t.Errorf("fragments[%d].Kind = %q, want %q", i, fragments[i].Kind, want)
		}
	}
	if fragments[0].Text != "first paragraph" {
		t.Errorf("fragments[0].Text = %q, want %q", fragments[0].Text, "first paragraph")
	}
	if fragments[3].Text != "last paragraph" {
		t.Errorf("fragments[3].Text = %q, want %q", fragments[3].Text, "last paragraph")
	}
}

func TestSegmentDump_SoftWrapsCollapse(t *testing.T) {
	fragments := SegmentDump("renew the passport\nsometime soon")

	if len(fragments) != 1 {
		t.Fatalf("len(fragments) = %d, want 1", len(fragments))
	}
	if fragments[0].Text != "renew the passport sometime soon" {
		t.Errorf("Text = %q, want soft wrap collapsed", fragments[0].Text)
	}
}

func TestSegmentDump_PlainProse(t *testing.T) {
	fragments := SegmentDump("no markdown at all, just a sentence")

	if len(fragments) != 1 || fragments[0].Kind != FragmentParagraph {
		t.Fatalf("fragments = %v, want one paragraph", fragments)
	}
}
