package links

import (
	"context"
	"errors"
	"testing"
	"time"

	"klips/internal/platform/database/testdb"
)

func newTestRepository(t *testing.T, orgs ...string) *Repository {
	t.Helper()

	db := testdb.New(t)
	for _, org := range orgs {
		testdb.SeedOrg(t, db, org)
	}
	return NewRepository(db)
}

func insertLink(t *testing.T, repo *Repository, id, tenant, code string, createdAt int64) *Link {
	t.Helper()

	link := &Link{
		ID:             id,
		TenantID:       tenant,
		ShortCode:      code,
		DestinationURL: "https://example.com/" + code,
		CreatedBy:      "usr_1",
		RedirectType:   RedirectTemporary,
		Status:         StatusActive,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	if err := repo.Create(context.Background(), link); err != nil {
		t.Fatalf("Failed to create link: %v", err)
	}
	return link
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepository(t, "org_1", "org_2")
	ctx := context.Background()
	insertLink(t, repo, "link1", "org_1", "abc", time.Now().Unix())

	fetched, err := repo.GetByID(ctx, "org_1", "link1")
	if err != nil {
		t.Fatalf("Failed to get link: %v", err)
	}
	if fetched.ShortCode != "abc" || fetched.TenantID != "org_1" {
		t.Errorf("unexpected link: %+v", fetched)
	}

	if _, err := repo.GetByID(ctx, "org_2", "link1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() from other tenant error = %v, want ErrNotFound", err)
	}

	byCode, err := repo.GetByShortCode(ctx, "abc")
	if err != nil || byCode.ID != "link1" {
		t.Errorf("GetByShortCode() = %v, %v", byCode, err)
	}
	if _, err := repo.GetByShortCode(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByShortCode(missing) error = %v, want ErrNotFound", err)
	}

	exists, err := repo.ExistsByShortCode(ctx, "abc")
	if err != nil || !exists {
		t.Errorf("ExistsByShortCode() = %v, %v", exists, err)
	}
}

func TestRepository_UpdateAndArchive(t *testing.T) {
	repo := newTestRepository(t, "org_1", "org_2")
	ctx := context.Background()
	link := insertLink(t, repo, "link1", "org_1", "abc", 1000)

	link.DestinationURL = "https://example.org/new"
	link.UpdatedAt = 2000
	if err := repo.Update(ctx, link); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	other := *link
	other.TenantID = "org_2"
	if err := repo.Update(ctx, &other); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() as other tenant error = %v, want ErrNotFound", err)
	}

	if err := repo.Archive(ctx, "org_1", "link1", 3000); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, "org_1", "link1")
	if got.Status != StatusArchived || got.DestinationURL != "https://example.org/new" {
		t.Errorf("unexpected link after archive: %+v", got)
	}
	if err := repo.Archive(ctx, "org_2", "link1", 3000); !errors.Is(err, ErrNotFound) {
		t.Errorf("Archive() as other tenant error = %v, want ErrNotFound", err)
	}
}

func TestRepository_IncrementClickCount(t *testing.T) {
	repo := newTestRepository(t, "org_1")
	ctx := context.Background()
	insertLink(t, repo, "link1", "org_1", "abc", 1000)

	for i := 0; i < 3; i++ {
		if err := repo.IncrementClickCount(ctx, "link1", int64(5000+i)); err != nil {
			t.Fatalf("IncrementClickCount() error = %v", err)
		}
	}

	got, _ := repo.GetByID(ctx, "org_1", "link1")
	if got.ClickCount != 3 || got.LastClickAt == nil || *got.LastClickAt != 5002 {
		t.Errorf("click_count = %d last_click_at = %v", got.ClickCount, got.LastClickAt)
	}
}

func TestRepository_ExpireDue(t *testing.T) {
	repo := newTestRepository(t, "org_1")
	ctx := context.Background()
	now := time.Unix(10_000, 0)

	past, future := int64(9_000), int64(20_000)
	due := insertLink(t, repo, "due", "org_1", "due1", 1000)
	due.ExpiresAt = &past
	repo.Update(ctx, due)
	later := insertLink(t, repo, "later", "org_1", "later1", 1000)
	later.ExpiresAt = &future
	repo.Update(ctx, later)
	insertLink(t, repo, "forever", "org_1", "forever1", 1000)

	n, err := repo.ExpireDue(ctx, now)
	if err != nil {
		t.Fatalf("ExpireDue() error = %v", err)
	}
	if n != 1 {
		t.Errorf("ExpireDue() = %d, want 1", n)
	}

	got, _ := repo.GetByID(ctx, "org_1", "due")
	if got.Status != StatusExpired {
		t.Errorf("status = %q, want expired", got.Status)
	}
	if n, _ := repo.ExpireDue(ctx, now); n != 0 {
		t.Errorf("second ExpireDue() = %d, want 0", n)
	}
}

func TestRepository_List(t *testing.T) {
	repo := newTestRepository(t, "org_1", "org_2")
	ctx := context.Background()

	for i, code := range []string{"aaa", "bbb", "ccc"} {
		insertLink(t, repo, "link_"+code, "org_1", code, int64(1000+i))
	}
	insertLink(t, repo, "link_ddd", "org_2", "ddd", 5000)

	list, err := repo.List(ctx, "org_1", 2, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ShortCode != "ccc" || list[1].ShortCode != "bbb" {
		t.Errorf("unexpected page: %v", list)
	}

	page2, _ := repo.List(ctx, "org_1", 2, 2)
	if len(page2) != 1 || page2[0].ShortCode != "aaa" {
		t.Errorf("unexpected second page: %v", page2)
	}
}
