package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/elga-io/corgi/internal/clickhouse"
	"github.com/elga-io/corgi/internal/errx"
	"github.com/elga-io/corgi/internal/idgen"
	"github.com/elga-io/corgi/internal/logger"
	"github.com/elga-io/corgi/internal/models"
	"github.com/elga-io/corgi/internal/storage"
	"github.com/elga-io/corgi/internal/validation"
)

var (
	ErrKeywordSpaceExhausted = errors.New("could not find a free keyword, try again")
	ErrAnonymousDisabled     = errors.New("sign in to create links")
	ErrLoginRequired         = errors.New("sign in to manage links")
	ErrEmptyPatch            = errors.New("nothing to update")
)

const suggestionCount = 3

// KeywordTakenError is the Conflict cause for a custom keyword that is
// already in use.
type KeywordTakenError struct {
	Domain      string
	Keyword     string
	Suggestions []string
}

func (e *KeywordTakenError) Error() string {
	return fmt.Sprintf("keyword %q is already taken on %s", e.Keyword, e.Domain)
}

func (e *KeywordTakenError) SuggestedKeywords() []string { return e.Suggestions }

// Invalidator drops cached redirect state for a code.
type Invalidator interface {
	Invalidate(ctx context.Context, domain, keyword string) error
}

type LinkConfig struct {
	Domains          []string
	DefaultDomain    string
	KeywordMin       int
	KeywordMax       int
	GenerateAttempts int
	AllowAnonymous   bool
	PageLimitDefault int
	PageLimitMax     int
	// BaseURL prefixes short URLs in responses.
	BaseURL string
}

type LinkService struct {
	store  storage.LinkStore
	gen    idgen.Generator
	inval  Invalidator
	clicks clickhouse.ClickLog
	cfg    LinkConfig
	log    *logger.Logger
}

// NewLinkService wires the link operations. inval and clicks may be nil.
func NewLinkService(store storage.LinkStore, gen idgen.Generator, inval Invalidator, clicks clickhouse.ClickLog, cfg LinkConfig, log *logger.Logger) *LinkService {
	if cfg.GenerateAttempts <= 0 {
		cfg.GenerateAttempts = 5
	}
	if cfg.PageLimitDefault <= 0 {
		cfg.PageLimitDefault = 10
	}
	if cfg.PageLimitMax < cfg.PageLimitDefault {
		cfg.PageLimitMax = cfg.PageLimitDefault
	}
	if cfg.DefaultDomain == "" && len(cfg.Domains) > 0 {
		cfg.DefaultDomain = cfg.Domains[0]
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if log == nil {
		log = logger.Nop()
	}
	return &LinkService{
		store:  store,
		gen:    gen,
		inval:  inval,
		clicks: clicks,
		cfg:    cfg,
		log:    log,
	}
}

func (s *LinkService) ShortURL(l *models.Link) string {
	return s.cfg.BaseURL + "/" + l.Domain + "/" + l.Keyword
}

func (s *LinkService) present(l *models.Link) *models.Link {
	l.ShortURL = s.ShortURL(l)
	return l
}

// Create stores a new link for ownerID, or an anonymous one when ownerID is
// empty and anonymous creation is allowed. Without a custom keyword one is
// generated, retrying on collisions up to the configured attempts.
func (s *LinkService) Create(ctx context.Context, ownerID string, req models.CreateLinkRequest) (*models.Link, error) {
	const op = "service.CreateLink"

	if ownerID == "" && !s.cfg.AllowAnonymous {
		return nil, errx.E(op, errx.Unauthorized, ErrAnonymousDisabled)
	}

	domain := strings.ToLower(strings.TrimSpace(req.Domain))
	if domain == "" {
		domain = s.cfg.DefaultDomain
	}
	if err := validation.ValidateDomain(domain, s.cfg.Domains); err != nil {
		return nil, err
	}
	rawURL := strings.TrimSpace(req.URL)
	if err := validation.ValidateURL(rawURL, s.cfg.Domains); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if err := validation.ValidateTitle(title); err != nil {
		return nil, err
	}

	link := &models.Link{
		Domain:  domain,
		URL:     rawURL,
		Title:   title,
		Active:  true,
		OwnerID: ownerID,
	}

	var err error
	if keyword := strings.TrimSpace(req.Keyword); keyword != "" {
		err = s.createCustom(ctx, link, keyword)
	} else {
		err = s.createGenerated(ctx, link)
	}
	if err != nil {
		return nil, err
	}

	// A negative entry may be cached for this code.
	s.invalidate(ctx, link)
	s.log.With("link_id", link.ID).Debug("Created %s/%s", link.Domain, link.Keyword)
	return s.present(link), nil
}

func (s *LinkService) createCustom(ctx context.Context, link *models.Link, keyword string) error {
	const op = "service.CreateLink"

	if err := validation.ValidateKeyword(keyword, s.cfg.KeywordMin, s.cfg.KeywordMax); err != nil {
		return err
	}
	if err := validation.CheckCustomKeyword(keyword); err != nil {
		return err
	}

	link.Keyword = keyword
	err := s.store.Create(ctx, link)
	if errx.KindOf(err) == errx.Conflict {
		return &errx.Error{
			Op:    op,
			Kind:  errx.Conflict,
			Field: "keyword",
			Err: &KeywordTakenError{
				Domain:      link.Domain,
				Keyword:     keyword,
				Suggestions: s.suggest(ctx, link.Domain, keyword),
			},
		}
	}
	return err
}

func (s *LinkService) createGenerated(ctx context.Context, link *models.Link) error {
	const op = "service.CreateLink"

	for attempt := 1; attempt <= s.cfg.GenerateAttempts; attempt++ {
		keyword, err := s.gen.Generate(link.Domain)
		if err != nil {
			return errx.E(op, errx.Internal, err)
		}

		if validation.CheckCustomKeyword(keyword) != nil {
			s.log.Debug("Generated keyword %s/%s is blocked (attempt %d of %d)", link.Domain, keyword, attempt, s.cfg.GenerateAttempts)
			continue
		}

		link.Keyword = keyword
		err = s.store.Create(ctx, link)
		if err == nil {
			return nil
		}
		if errx.KindOf(err) != errx.Conflict {
			return err
		}
		s.log.Debug("Keyword %s/%s collided (attempt %d of %d)", link.Domain, keyword, attempt, s.cfg.GenerateAttempts)
	}

	s.log.Warn("Gave up generating a keyword on %s after %d collisions", link.Domain, s.cfg.GenerateAttempts)
	return errx.E(op, errx.ResourceExhausted, ErrKeywordSpaceExhausted)
}

// suggest keeps the alternatives that do not currently resolve.
func (s *LinkService) suggest(ctx context.Context, domain, keyword string) []string {
	out := make([]string, 0, suggestionCount)
	for _, kw := range validation.SuggestAlternatives(keyword, suggestionCount*2, s.cfg.KeywordMax) {
		if len(out) == suggestionCount {
			break
		}
		_, err := s.store.GetByCode(ctx, domain, kw)
		if errx.KindOf(err) == errx.NotFound {
			out = append(out, kw)
		}
	}
	return out
}

// invalidate runs before a write is acknowledged. Failures are logged: the
// local tier is always cleared and remote entries expire on their own.
func (s *LinkService) invalidate(ctx context.Context, l *models.Link) {
	if s.inval == nil {
		return
	}
	if err := s.inval.Invalidate(ctx, l.Domain, l.Keyword); err != nil {
		s.log.With("link_id", l.ID).Error("Cache invalidation for %s/%s failed: %v", l.Domain, l.Keyword, err)
	}
}

// Get returns a link visible to requester: their own links and anonymous
// ones. Other users' links read as not found.
func (s *LinkService) Get(ctx context.Context, requester, id string) (*models.Link, error) {
	const op = "service.GetLink"

	l, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, errx.Wrap(op, err)
	}
	if !l.Anonymous() && l.OwnerID != requester {
		return nil, errx.E(op, errx.NotFound, storage.ErrLinkNotFound)
	}
	return s.present(l), nil
}

type ListQuery struct {
	Page   int
	Limit  int
	Query  string
	Sort   string
	Active *bool
}

// List pages through the requester's links. Page is clamped to at least 1
// and limit to the configured maximum.
func (s *LinkService) List(ctx context.Context, requester string, q ListQuery) (*models.LinkPage, error) {
	const op = "service.ListLinks"

	if requester == "" {
		return nil, errx.E(op, errx.Unauthorized, ErrLoginRequired)
	}

	sort, err := models.ParseSort(q.Sort)
	if err != nil {
		return nil, errx.Field(op, "sort", err.Error())
	}

	page := models.Page{Number: q.Page, Limit: q.Limit}
	if page.Number < 1 {
		page.Number = 1
	}
	if page.Limit <= 0 {
		page.Limit = s.cfg.PageLimitDefault
	}
	if page.Limit > s.cfg.PageLimitMax {
		page.Limit = s.cfg.PageLimitMax
	}

	filter := models.LinkFilter{
		OwnerID: requester,
		Active:  q.Active,
		Query:   strings.TrimSpace(q.Query),
	}
	items, total, err := s.store.List(ctx, filter, page, sort)
	if err != nil {
		return nil, errx.Wrap(op, err)
	}
	for _, l := range items {
		s.present(l)
	}
	return models.NewLinkPage(items, total, page, sort), nil
}

// Update changes the mutable fields of a link owned by requester.
func (s *LinkService) Update(ctx context.Context, requester, id string, patch models.LinkPatch) (*models.Link, error) {
	const op = "service.UpdateLink"

	if requester == "" {
		return nil, errx.E(op, errx.Unauthorized, ErrLoginRequired)
	}
	if patch.Empty() {
		return nil, errx.E(op, errx.Invalid, ErrEmptyPatch)
	}
	if patch.URL != nil {
		u := strings.TrimSpace(*patch.URL)
		if err := validation.ValidateURL(u, s.cfg.Domains); err != nil {
			return nil, err
		}
		patch.URL = &u
	}
	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		if err := validation.ValidateTitle(t); err != nil {
			return nil, err
		}
		patch.Title = &t
	}

	l, err := s.store.Update(ctx, id, requester, patch)
	if err != nil {
		return nil, errx.Wrap(op, err)
	}
	s.invalidate(ctx, l)
	return s.present(l), nil
}

// Delete soft-deletes a link owned by requester. The keyword stays taken
// until the link is purged.
func (s *LinkService) Delete(ctx context.Context, requester, id string) error {
	const op = "service.DeleteLink"

	if requester == "" {
		return errx.E(op, errx.Unauthorized, ErrLoginRequired)
	}
	l, err := s.store.SoftDelete(ctx, id, requester)
	if err != nil {
		return errx.Wrap(op, err)
	}
	s.invalidate(ctx, l)
	return nil
}

// Clicks returns the most recent click log entries of an owned link. With
// no click log configured the list is empty.
func (s *LinkService) Clicks(ctx context.Context, requester, id string, limit int) ([]clickhouse.ClickEvent, error) {
	const op = "service.LinkClicks"

	l, err := s.owned(ctx, op, requester, id)
	if err != nil {
		return nil, err
	}
	if s.clicks == nil {
		return []clickhouse.ClickEvent{}, nil
	}
	if limit <= 0 || limit > s.cfg.PageLimitMax {
		limit = s.cfg.PageLimitMax
	}
	out, err := s.clicks.GetClickEvents(ctx, l.ID, limit)
	if err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}
	return out, nil
}

func (s *LinkService) Stats(ctx context.Context, requester, id string) (*clickhouse.LinkStats, error) {
	const op = "service.LinkStats"

	l, err := s.owned(ctx, op, requester, id)
	if err != nil {
		return nil, err
	}
	if s.clicks == nil {
		return &clickhouse.LinkStats{LinkID: l.ID, TotalClicks: uint64(l.Clicks), Devices: map[string]uint64{}}, nil
	}
	stats, err := s.clicks.GetLinkStats(ctx, l.ID)
	if err != nil {
		return nil, errx.E(op, errx.Unavailable, err)
	}
	return stats, nil
}

func (s *LinkService) owned(ctx context.Context, op, requester, id string) (*models.Link, error) {
	if requester == "" {
		return nil, errx.E(op, errx.Unauthorized, ErrLoginRequired)
	}
	l, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, errx.Wrap(op, err)
	}
	if l.OwnerID != requester {
		return nil, errx.E(op, errx.Forbidden, storage.ErrNotOwner)
	}
	return l, nil
}
