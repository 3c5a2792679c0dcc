package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/elga-io/corgi/internal/errx"
)

var (
	ErrKeywordLength       = errors.New("keyword length is out of bounds")
	ErrKeywordInvalidChars = errors.New("keyword can only contain letters, numbers, hyphens, and underscores")
	ErrKeywordEdge         = errors.New("keyword cannot start or end with a hyphen or underscore")
	ErrKeywordReserved     = errors.New("keyword is reserved and cannot be used")
	ErrKeywordProfanity    = errors.New("keyword contains inappropriate content")
)

// Reserved keywords collide with routes or are likely to confuse visitors.
var reservedWords = map[string]bool{
	"api":       true,
	"admin":     true,
	"health":    true,
	"status":    true,
	"metrics":   true,
	"dashboard": true,
	"login":     true,
	"logout":    true,
	"register":  true,
	"auth":      true,
	"static":    true,
	"assets":    true,
	"favicon":   true,
	"robots":    true,
	"sitemap":   true,
	"www":       true,
	"app":       true,
	"links":     true,
	"qrcode":    true,
}

var blockedWords = []string{
	"fuck", "shit", "bitch", "asshole", "porn", "xxx", "nsfw", "hentai",
	"phishing", "malware", "scam", "cocaine", "heroin", "casino", "suicide",
}

var keywordRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateKeyword checks the character set and length bounds every stored
// keyword must satisfy, generated or custom.
func ValidateKeyword(keyword string, min, max int) error {
	const op = "validation.Keyword"

	if len(keyword) < min || len(keyword) > max {
		return invalid(op, "keyword", fmt.Errorf("%w: must be %d to %d characters", ErrKeywordLength, min, max))
	}
	if !keywordRegex.MatchString(keyword) {
		return invalid(op, "keyword", ErrKeywordInvalidChars)
	}
	if strings.IndexAny(keyword[:1], "-_") == 0 || strings.IndexAny(keyword[len(keyword)-1:], "-_") == 0 {
		return invalid(op, "keyword", ErrKeywordEdge)
	}
	return nil
}

// CheckCustomKeyword applies the reserved and blocked word policy. Generated
// keywords that fail it are redrawn.
func CheckCustomKeyword(keyword string) error {
	const op = "validation.CustomKeyword"

	lower := strings.ToLower(keyword)
	if reservedWords[lower] {
		return invalid(op, "keyword", ErrKeywordReserved)
	}
	for _, w := range blockedWords {
		if strings.Contains(lower, w) {
			return invalid(op, "keyword", ErrKeywordProfanity)
		}
	}
	return nil
}

// SuggestAlternatives proposes keywords near a taken one. Callers should
// treat them as hints; availability is not checked.
func SuggestAlternatives(keyword string, count, max int) []string {
	suggestions := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		suffix := fmt.Sprintf("-%d", i)
		base := keyword
		if len(base)+len(suffix) > max {
			if max-len(suffix) < 1 {
				break
			}
			base = base[:max-len(suffix)]
		}
		suggestions = append(suggestions, base+suffix)
	}
	return suggestions
}

func invalid(op, field string, err error) error {
	return &errx.Error{Op: op, Kind: errx.Invalid, Field: field, Err: err}
}
