package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/elga-io/corgi/internal/errx"
)

func TestValidateKeyword_Valid(t *testing.T) {
	valid := []string{
		"abcd",
		"my-link",
		"my_link",
		"MyLink123",
		"test-url-2024",
		"a-b-c",
		"123abc",
	}

	for _, kw := range valid {
		if err := ValidateKeyword(kw, 4, 32); err != nil {
			t.Errorf("expected %q to be valid, got error: %v", kw, err)
		}
	}
}

func TestValidateKeyword_Invalid(t *testing.T) {
	tests := []struct {
		keyword string
		want    error
	}{
		{"", ErrKeywordLength},
		{"abc", ErrKeywordLength},
		{strings.Repeat("a", 33), ErrKeywordLength},
		{"my link", ErrKeywordInvalidChars},
		{"my.link", ErrKeywordInvalidChars},
		{"my/link", ErrKeywordInvalidChars},
		{"my?link", ErrKeywordInvalidChars},
		{"héllo", ErrKeywordInvalidChars},
		{"-link", ErrKeywordEdge},
		{"link_", ErrKeywordEdge},
	}

	for _, tt := range tests {
		t.Run(tt.keyword, func(t *testing.T) {
			err := ValidateKeyword(tt.keyword, 4, 32)
			if !errors.Is(err, tt.want) {
				t.Fatalf("ValidateKeyword(%q) = %v, want %v", tt.keyword, err, tt.want)
			}
			if errx.KindOf(err) != errx.Invalid || errx.FieldOf(err) != "keyword" {
				t.Errorf("expected Invalid keyword field error, got kind=%v field=%q", errx.KindOf(err), errx.FieldOf(err))
			}
		})
	}
}

func TestCheckCustomKeyword(t *testing.T) {
	tests := []struct {
		keyword string
		want    error
	}{
		{"launch", nil},
		{"API", ErrKeywordReserved},
		{"health", ErrKeywordReserved},
		{"freeporn", ErrKeywordProfanity},
		{"SCAM-alert", ErrKeywordProfanity},
	}

	for _, tt := range tests {
		err := CheckCustomKeyword(tt.keyword)
		if tt.want == nil {
			if err != nil {
				t.Errorf("CheckCustomKeyword(%q) = %v, want nil", tt.keyword, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("CheckCustomKeyword(%q) = %v, want %v", tt.keyword, err, tt.want)
		}
	}
}

func TestSuggestAlternatives(t *testing.T) {
	got := SuggestAlternatives("launch", 3, 32)
	want := []string{"launch-1", "launch-2", "launch-3"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("SuggestAlternatives() = %v, want %v", got, want)
	}

	got = SuggestAlternatives("abcdefgh", 2, 8)
	for _, s := range got {
		if len(s) > 8 {
			t.Errorf("suggestion %q exceeds max length", s)
		}
	}
}

func TestValidateURL(t *testing.T) {
	short := []string{"elga.io"}
	tests := []struct {
		raw  string
		want error
	}{
		{"https://example.com/a", nil},
		{"http://example.com:8080/path?q=1#frag", nil},
		{"HTTPS://Example.com", nil},
		{"", ErrURLRequired},
		{"   ", ErrURLRequired},
		{"example.com/a", ErrURLMalformed},
		{"/relative/path", ErrURLMalformed},
		{"https://exa mple.com", ErrURLMalformed},
		{"ftp://example.com/file", ErrURLScheme},
		{"javascript:alert(1)", ErrURLScheme},
		{"https:///nohost", ErrURLHost},
		{"https://elga.io/abc123", ErrURLLoop},
		{"https://example.com/" + strings.Repeat("a", MaxURLLength), ErrURLTooLong},
	}

	for _, tt := range tests {
		err := ValidateURL(tt.raw, short)
		if tt.want == nil {
			if err != nil {
				t.Errorf("ValidateURL(%q) = %v, want nil", tt.raw, err)
			}
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Errorf("ValidateURL(%q) = %v, want %v", tt.raw, err, tt.want)
		}
		if errx.FieldOf(err) != "url" {
			t.Errorf("ValidateURL(%q) field = %q, want url", tt.raw, errx.FieldOf(err))
		}
	}
}

func TestRulesLink(t *testing.T) {
	r := Rules{Domains: []string{"elga.io", "corgi.to"}, KeywordMin: 4, KeywordMax: 32}

	if err := r.Link("elga.io", "abc123", "https://example.com", "Example"); err != nil {
		t.Errorf("expected valid link, got %v", err)
	}
	if err := r.Link("evil.io", "abc123", "https://example.com", ""); !errors.Is(err, ErrDomainNotAllowed) {
		t.Errorf("expected ErrDomainNotAllowed, got %v", err)
	}
	if err := r.Link("elga.io", "abc123", "https://example.com", strings.Repeat("t", 256)); !errors.Is(err, ErrTitleTooLong) {
		t.Errorf("expected ErrTitleTooLong, got %v", err)
	}
	if !IsInvalid(r.Link("elga.io", "a", "https://example.com", "")) {
		t.Error("short keyword should be invalid")
	}
}
