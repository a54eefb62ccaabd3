package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"klips/internal/platform/database/testdb"
	"klips/internal/platform/models"
)

func TestOrganizationRepository(t *testing.T) {
	db := testdb.New(t)
	repo := NewOrganizationRepository(db)
	ctx := context.Background()

	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	now := time.Now().Unix()
	org := &models.Organization{ID: "org_1", Slug: "acme", Name: "Acme", PlanTier: "free", CreatedAt: now, UpdatedAt: now}
	if err := repo.CreateTx(ctx, tx, org); err != nil {
		t.Fatalf("CreateTx() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "org_1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Slug != "acme" || got.DeletedAt != nil {
		t.Errorf("unexpected org: %+v", got)
	}

	exists, err := repo.SlugExists(ctx, "acme")
	if err != nil || !exists {
		t.Errorf("SlugExists(acme) = %v, %v", exists, err)
	}

	if _, err := repo.GetByID(ctx, "org_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestAPIKeyRepository(t *testing.T) {
	db := testdb.New(t)
	testdb.SeedOrg(t, db, "org_1")
	testdb.SeedOrg(t, db, "org_2")
	repo := NewAPIKeyRepository(db)
	ctx := context.Background()

	key := &models.APIKey{OrganizationID: "org_1", UserID: "usr_1", Name: "ci", KeyHash: "hash-1", KeyPrefix: "klp_live_abcd...", Role: "admin"}
	if err := repo.Create(ctx, key); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if key.ID == "" {
		t.Fatal("Create() did not assign an id")
	}

	got, err := repo.GetByHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("GetByHash() error = %v", err)
	}
	if got.OrganizationID != "org_1" || got.Role != "admin" || len(got.Scopes) != 0 {
		t.Errorf("unexpected key: %+v", got)
	}
	if !got.Usable(time.Now().Unix()) {
		t.Error("fresh key should be usable")
	}

	if err := repo.Revoke(ctx, "org_2", key.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Revoke() from another org error = %v, want ErrNotFound", err)
	}
	if err := repo.Revoke(ctx, "org_1", key.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	got, _ = repo.GetByHash(ctx, "hash-1")
	if got.Usable(time.Now().Unix()) {
		t.Error("revoked key should not be usable")
	}

	keys, err := repo.ListByOrg(ctx, "org_1")
	if err != nil || len(keys) != 1 {
		t.Fatalf("ListByOrg() = %d keys, %v", len(keys), err)
	}

	if _, err := repo.GetByHash(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByHash(unknown) error = %v, want ErrNotFound", err)
	}
}
