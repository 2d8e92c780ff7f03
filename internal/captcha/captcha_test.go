package captcha

import (
	"strings"
	"testing"
)

func TestNewTextLengthAndCharset(t *testing.T) {
	svc := New(Config{Length: 6, NoiseCount: 3})

	for i := 0; i < 20; i++ {
		text, err := svc.NewText()
		if err != nil {
			t.Fatalf("NewText failed: %v", err)
		}
		if len(text) != 6 {
			t.Fatalf("expected 6 characters, got %q", text)
		}
		for _, r := range text {
			if !strings.ContainsRune(challengeCharset, r) {
				t.Fatalf("character %q outside challenge charset in %q", r, text)
			}
		}
	}
}

func TestRenderProducesDataURI(t *testing.T) {
	svc := New(Config{Length: 6, NoiseCount: 3})

	img, err := svc.Render("abc234")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.HasPrefix(img, "data:image/png;base64,") {
		t.Fatalf("expected base64 PNG data URI, got prefix %q", img[:min(32, len(img))])
	}
}

func TestVerify(t *testing.T) {
	svc := New(Config{})

	if !svc.Verify("abc234", "abc234") {
		t.Fatal("exact match must verify")
	}
	if svc.Verify("ABC234", "abc234") {
		t.Fatal("verification is case sensitive")
	}
	if svc.Verify("", "") {
		t.Fatal("empty expected text must never verify")
	}
	if svc.Verify("abc234", "") {
		t.Fatal("missing challenge must never verify")
	}
}
