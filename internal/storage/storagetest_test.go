package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/elga-io/corgi/internal/errx"
	"github.com/elga-io/corgi/internal/models"
	usermodel "github.com/elga-io/corgi/internal/models/user"
)

// Shared behavioural checks run against every backend.

const (
	ownerA = "6f1c1c43-3b0f-4c2e-9d53-1f4c0a9f0a01"
	ownerB = "6f1c1c43-3b0f-4c2e-9d53-1f4c0a9f0a02"
)

type backend interface {
	LinkStore
	UserStore
}

func seedUsers(t *testing.T, s UserStore) {
	t.Helper()
	ctx := context.Background()
	for i, id := range []string{ownerA, ownerB} {
		u := &usermodel.User{ID: id, Email: fmt.Sprintf("user%d@example.com", i), PasswordHash: "x"}
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
	}
}

func newLink(keyword, owner string) *models.Link {
	return &models.Link{
		Domain:  "elga.io",
		Keyword: keyword,
		URL:     "https://example.com/" + keyword,
		Title:   "Title " + keyword,
		Active:  true,
		OwnerID: owner,
	}
}

func runStoreSuite(t *testing.T, s backend) {
	seedUsers(t, s)

	t.Run("create and lookup", func(t *testing.T) { testCreateAndLookup(t, s) })
	t.Run("conflict", func(t *testing.T) { testConflict(t, s) })
	t.Run("concurrent create", func(t *testing.T) { testConcurrentCreate(t, s) })
	t.Run("update ownership", func(t *testing.T) { testUpdateOwnership(t, s) })
	t.Run("soft delete", func(t *testing.T) { testSoftDelete(t, s) })
	t.Run("increment clicks", func(t *testing.T) { testIncrementClicks(t, s) })
	t.Run("list pagination", func(t *testing.T) { testListPagination(t, s) })
	t.Run("list filters", func(t *testing.T) { testListFilters(t, s) })
	t.Run("users", func(t *testing.T) { testUsers(t, s) })
}

func testCreateAndLookup(t *testing.T, s LinkStore) {
	ctx := context.Background()
	l := newLink("lookup1", ownerA)
	if err := s.Create(ctx, l); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if l.ID == "" || l.CreatedAt.IsZero() {
		t.Fatalf("Create() did not fill id/timestamps: %+v", l)
	}

	byCode, err := s.GetByCode(ctx, "elga.io", "lookup1")
	if err != nil {
		t.Fatalf("GetByCode() error = %v", err)
	}
	if byCode.ID != l.ID || byCode.URL != l.URL || byCode.OwnerID != ownerA || !byCode.Active {
		t.Errorf("GetByCode() = %+v, want %+v", byCode, l)
	}

	byID, err := s.GetByID(ctx, l.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if byID.Keyword != "lookup1" {
		t.Errorf("GetByID() keyword = %q", byID.Keyword)
	}

	if _, err := s.GetByCode(ctx, "elga.io", "missing"); errx.KindOf(err) != errx.NotFound {
		t.Errorf("GetByCode(missing) kind = %v, want NotFound", errx.KindOf(err))
	}
	if _, err := s.GetByID(ctx, "not-a-uuid"); errx.KindOf(err) != errx.NotFound {
		t.Errorf("GetByID(bad id) kind = %v, want NotFound", errx.KindOf(err))
	}

	// Keywords are case-sensitive.
	if _, err := s.GetByCode(ctx, "elga.io", "LOOKUP1"); errx.KindOf(err) != errx.NotFound {
		t.Errorf("GetByCode(upper) kind = %v, want NotFound", errx.KindOf(err))
	}
}

func testConflict(t *testing.T, s LinkStore) {
	ctx := context.Background()
	if err := s.Create(ctx, newLink("taken1", ownerA)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	err := s.Create(ctx, newLink("taken1", ownerB))
	if errx.KindOf(err) != errx.Conflict || !errors.Is(err, ErrLinkExists) {
		t.Fatalf("second Create() error = %v, want Conflict", err)
	}

	other := newLink("taken1", ownerB)
	other.Domain = "corgi.to"
	if err := s.Create(ctx, other); err != nil {
		t.Errorf("same keyword on another domain should succeed, got %v", err)
	}
}

func testConcurrentCreate(t *testing.T, s LinkStore) {
	ctx := context.Background()
	const n = 10

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Create(ctx, newLink("race1", ownerA))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errx.KindOf(err) == errx.Conflict:
				conflicts++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != n-1 {
		t.Errorf("successes = %d, conflicts = %d; want 1 and %d", successes, conflicts, n-1)
	}
}

func testUpdateOwnership(t *testing.T, s LinkStore) {
	ctx := context.Background()
	l := newLink("upd1", ownerA)
	if err := s.Create(ctx, l); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	newURL := "https://example.com/changed"
	inactive := false
	patch := models.LinkPatch{URL: &newURL, Active: &inactive}

	if _, err := s.Update(ctx, l.ID, ownerB, patch); errx.KindOf(err) != errx.Forbidden {
		t.Errorf("Update() by non-owner kind = %v, want Forbidden", errx.KindOf(err))
	}

	time.Sleep(2 * time.Millisecond)
	got, err := s.Update(ctx, l.ID, ownerA, patch)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.URL != newURL || got.Active || got.Title != l.Title {
		t.Errorf("Update() = %+v", got)
	}
	if !got.UpdatedAt.After(l.CreatedAt) {
		t.Errorf("UpdatedAt %v not after CreatedAt %v", got.UpdatedAt, l.CreatedAt)
	}

	// Inactive links are still found by code; resolving decides what to do.
	byCode, err := s.GetByCode(ctx, "elga.io", "upd1")
	if err != nil || byCode.Active {
		t.Errorf("GetByCode() after deactivate = %+v, %v", byCode, err)
	}

	anon := newLink("anon1", "")
	if err := s.Create(ctx, anon); err != nil {
		t.Fatalf("Create(anon) error = %v", err)
	}
	if _, err := s.Update(ctx, anon.ID, ownerA, patch); errx.KindOf(err) != errx.Forbidden {
		t.Errorf("Update(anonymous link) kind = %v, want Forbidden", errx.KindOf(err))
	}
	if _, err := s.Update(ctx, "6f1c1c43-3b0f-4c2e-9d53-000000000000", ownerA, patch); errx.KindOf(err) != errx.NotFound {
		t.Errorf("Update(missing) kind = %v, want NotFound", errx.KindOf(err))
	}
}

func testSoftDelete(t *testing.T, s LinkStore) {
	ctx := context.Background()
	l := newLink("del1", ownerA)
	if err := s.Create(ctx, l); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := s.SoftDelete(ctx, l.ID, ownerB); errx.KindOf(err) != errx.Forbidden {
		t.Errorf("SoftDelete() by non-owner kind = %v, want Forbidden", errx.KindOf(err))
	}

	before, err := s.SoftDelete(ctx, l.ID, ownerA)
	if err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}
	if before.Keyword != "del1" || before.Deleted() {
		t.Errorf("SoftDelete() returned %+v", before)
	}

	if _, err := s.GetByCode(ctx, "elga.io", "del1"); errx.KindOf(err) != errx.NotFound {
		t.Errorf("GetByCode(deleted) kind = %v, want NotFound", errx.KindOf(err))
	}
	if _, err := s.GetByID(ctx, l.ID); errx.KindOf(err) != errx.NotFound {
		t.Errorf("GetByID(deleted) kind = %v, want NotFound", errx.KindOf(err))
	}
	if _, err := s.SoftDelete(ctx, l.ID, ownerA); errx.KindOf(err) != errx.NotFound {
		t.Errorf("second SoftDelete() kind = %v, want NotFound", errx.KindOf(err))
	}

	// The keyword stays reserved until purged.
	if err := s.Create(ctx, newLink("del1", ownerB)); errx.KindOf(err) != errx.Conflict {
		t.Errorf("reusing deleted keyword kind = %v, want Conflict", errx.KindOf(err))
	}

	n, err := s.PurgeDeleted(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("PurgeDeleted() error = %v", err)
	}
	if n < 1 {
		t.Errorf("PurgeDeleted() = %d, want at least 1", n)
	}
	if err := s.Create(ctx, newLink("del1", ownerB)); err != nil {
		t.Errorf("Create() after purge error = %v", err)
	}
}

func testIncrementClicks(t *testing.T, s LinkStore) {
	ctx := context.Background()
	l := newLink("clk1", ownerA)
	if err := s.Create(ctx, l); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	at := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.IncrementClicks(ctx, l.ID, 3, at); err != nil {
		t.Fatalf("IncrementClicks() error = %v", err)
	}
	if err := s.IncrementClicks(ctx, l.ID, 2, at.Add(-time.Hour)); err != nil {
		t.Fatalf("IncrementClicks() error = %v", err)
	}

	got, err := s.GetByID(ctx, l.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Clicks != 5 {
		t.Errorf("Clicks = %d, want 5", got.Clicks)
	}
	if got.LastClickedAt == nil || !got.LastClickedAt.Equal(at) {
		t.Errorf("LastClickedAt = %v, want %v", got.LastClickedAt, at)
	}

	if err := s.IncrementClicks(ctx, "6f1c1c43-3b0f-4c2e-9d53-000000000000", 1, at); errx.KindOf(err) != errx.NotFound {
		t.Errorf("IncrementClicks(missing) kind = %v, want NotFound", errx.KindOf(err))
	}
}

func testListPagination(t *testing.T, s LinkStore) {
	ctx := context.Background()
	owner := ownerB
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	for i := 0; i < 25; i++ {
		l := newLink(fmt.Sprintf("page%02d", i), owner)
		// Pairs share a timestamp so the id tie-breaker matters.
		l.CreatedAt = base.Add(time.Duration(i/2) * time.Second)
		if err := s.Create(ctx, l); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	f := models.LinkFilter{OwnerID: owner, Query: "page"}
	seen := make(map[string]bool)
	for page := 1; page <= 3; page++ {
		items, total, err := s.List(ctx, f, models.Page{Number: page, Limit: 10}, models.DefaultSort)
		if err != nil {
			t.Fatalf("List(page %d) error = %v", page, err)
		}
		if total != 25 {
			t.Fatalf("total = %d, want 25", total)
		}
		if models.PageCount(total, 10) != 3 {
			t.Fatalf("pages = %d, want 3", models.PageCount(total, 10))
		}
		want := 10
		if page == 3 {
			want = 5
		}
		if len(items) != want {
			t.Fatalf("page %d has %d items, want %d", page, len(items), want)
		}
		for _, l := range items {
			if seen[l.ID] {
				t.Fatalf("duplicate id %s across pages", l.ID)
			}
			seen[l.ID] = true
		}
	}
	if len(seen) != 25 {
		t.Errorf("saw %d ids, want 25", len(seen))
	}

	items, _, err := s.List(ctx, f, models.Page{Number: 1, Limit: 3}, models.DefaultSort)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	for i := 1; i < len(items); i++ {
		if items[i].CreatedAt.After(items[i-1].CreatedAt) {
			t.Errorf("items not sorted newest first: %v then %v", items[i-1].CreatedAt, items[i].CreatedAt)
		}
	}

	items, total, err := s.List(ctx, f, models.Page{Number: 9, Limit: 10}, models.DefaultSort)
	if err != nil || len(items) != 0 || total != 25 {
		t.Errorf("List(past end) = %d items, total %d, err %v", len(items), total, err)
	}

	items, total, err = s.List(ctx, f, models.Page{Number: math.MaxInt, Limit: 10}, models.DefaultSort)
	if err != nil || len(items) != 0 || total != 25 {
		t.Errorf("List(MaxInt page) = %d items, total %d, err %v", len(items), total, err)
	}

	asc, _, err := s.List(ctx, f, models.Page{Number: 1, Limit: 25}, models.Sort{Field: models.SortKeyword})
	if err != nil {
		t.Fatalf("List(keyword asc) error = %v", err)
	}
	if asc[0].Keyword != "page00" || asc[24].Keyword != "page24" {
		t.Errorf("keyword order = %s..%s", asc[0].Keyword, asc[24].Keyword)
	}
}

func testListFilters(t *testing.T, s LinkStore) {
	ctx := context.Background()
	mk := func(keyword, url, title string, active bool) {
		l := newLink(keyword, ownerA)
		l.URL, l.Title, l.Active = url, title, active
		if err := s.Create(ctx, l); err != nil {
			t.Fatalf("Create(%s) error = %v", keyword, err)
		}
	}
	mk("flt-go", "https://go.dev/doc", "Go Docs", true)
	mk("flt-rust", "https://rust-lang.org", "Rust", false)
	mk("flt-pct", "https://example.com/100%25_off", "Sale", true)

	count := func(f models.LinkFilter) int64 {
		f.OwnerID = ownerA
		_, total, err := s.List(ctx, f, models.Page{Number: 1, Limit: 50}, models.DefaultSort)
		if err != nil {
			t.Fatalf("List(%+v) error = %v", f, err)
		}
		return total
	}

	if got := count(models.LinkFilter{Query: "GO DOCS"}); got != 1 {
		t.Errorf("title search = %d, want 1", got)
	}
	if got := count(models.LinkFilter{Query: "rust-lang"}); got != 1 {
		t.Errorf("url search = %d, want 1", got)
	}
	if got := count(models.LinkFilter{Query: "flt-"}); got != 3 {
		t.Errorf("keyword search = %d, want 3", got)
	}
	if got := count(models.LinkFilter{Query: "%"}); got != 1 {
		t.Errorf("literal %% search = %d, want 1", got)
	}
	inactive := false
	if got := count(models.LinkFilter{Query: "flt-", Active: &inactive}); got != 1 {
		t.Errorf("inactive filter = %d, want 1", got)
	}
}

func testUsers(t *testing.T, s UserStore) {
	ctx := context.Background()
	u := &usermodel.User{Email: "Ada@Example.com", Name: "Ada", PasswordHash: "hash"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if u.ID == "" {
		t.Fatal("CreateUser() did not assign an id")
	}

	dup := &usermodel.User{Email: "ada@example.com", PasswordHash: "hash"}
	if err := s.CreateUser(ctx, dup); errx.KindOf(err) != errx.Conflict {
		t.Errorf("duplicate email kind = %v, want Conflict", errx.KindOf(err))
	}

	got, err := s.GetUserByEmail(ctx, "ADA@example.com")
	if err != nil || got.ID != u.ID || got.PasswordHash != "hash" {
		t.Errorf("GetUserByEmail() = %+v, %v", got, err)
	}
	if _, err := s.GetUserByID(ctx, u.ID); err != nil {
		t.Errorf("GetUserByID() error = %v", err)
	}
	if _, err := s.GetUserByEmail(ctx, "nobody@example.com"); errx.KindOf(err) != errx.NotFound {
		t.Errorf("GetUserByEmail(missing) kind = %v, want NotFound", errx.KindOf(err))
	}

	upd := &usermodel.User{ID: u.ID, Name: "Ada L.", PasswordHash: "hash2"}
	if err := s.UpdateUser(ctx, upd); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}
	got, err = s.GetUserByID(ctx, u.ID)
	if err != nil || got.Name != "Ada L." || got.PasswordHash != "hash2" || got.Email != u.Email {
		t.Errorf("after UpdateUser() = %+v, %v", got, err)
	}
	if got.UpdatedAt.Before(u.UpdatedAt) {
		t.Errorf("UpdatedAt went backwards: %v < %v", got.UpdatedAt, u.UpdatedAt)
	}

	missing := &usermodel.User{ID: "6f1c1c43-3b0f-4c2e-9d53-ffffffffffff", Name: "x", PasswordHash: "x"}
	if err := s.UpdateUser(ctx, missing); errx.KindOf(err) != errx.NotFound {
		t.Errorf("UpdateUser(missing) kind = %v, want NotFound", errx.KindOf(err))
	}
}
