package validation

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/elga-io/corgi/internal/errx"
)

const (
	MaxURLLength   = 2048
	MaxTitleLength = 255
)

var (
	ErrURLRequired      = errors.New("url is required")
	ErrURLTooLong       = fmt.Errorf("url must be at most %d characters", MaxURLLength)
	ErrURLMalformed     = errors.New("url is not a valid absolute URL")
	ErrURLScheme        = errors.New("url must use http or https")
	ErrURLHost          = errors.New("url must include a host")
	ErrURLLoop          = errors.New("url cannot point at a short link domain")
	ErrDomainNotAllowed = errors.New("domain is not allowed")
	ErrTitleTooLong     = fmt.Errorf("title must be at most %d characters", MaxTitleLength)
)

// ValidateURL accepts absolute http and https URLs with a host. Destinations
// on one of the short domains are rejected so links cannot redirect to
// each other.
func ValidateURL(raw string, shortDomains []string) error {
	const op = "validation.URL"

	if strings.TrimSpace(raw) == "" {
		return invalid(op, "url", ErrURLRequired)
	}
	if len(raw) > MaxURLLength {
		return invalid(op, "url", ErrURLTooLong)
	}
	if strings.ContainsAny(raw, " \t\r\n") {
		return invalid(op, "url", ErrURLMalformed)
	}

	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return invalid(op, "url", ErrURLMalformed)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return invalid(op, "url", ErrURLScheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return invalid(op, "url", ErrURLHost)
	}
	if slices.Contains(shortDomains, host) {
		return invalid(op, "url", ErrURLLoop)
	}
	return nil
}

// ValidateDomain requires an exact, already lowercased, allow-list match.
func ValidateDomain(domain string, allowed []string) error {
	if !slices.Contains(allowed, domain) {
		return invalid("validation.Domain", "domain", fmt.Errorf("%w: %q", ErrDomainNotAllowed, domain))
	}
	return nil
}

func ValidateTitle(title string) error {
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return invalid("validation.Title", "title", ErrTitleTooLong)
	}
	return nil
}

// Rules bundles the per-deployment bounds used by the store and service.
type Rules struct {
	Domains    []string
	KeywordMin int
	KeywordMax int
}

// Link validates the fields the store persists.
func (r Rules) Link(domain, keyword, rawURL, title string) error {
	if err := ValidateDomain(domain, r.Domains); err != nil {
		return err
	}
	if err := ValidateKeyword(keyword, r.KeywordMin, r.KeywordMax); err != nil {
		return err
	}
	if err := ValidateURL(rawURL, r.Domains); err != nil {
		return err
	}
	return ValidateTitle(title)
}

// IsInvalid reports whether err came from this package.
func IsInvalid(err error) bool {
	return errx.KindOf(err) == errx.Invalid
}
