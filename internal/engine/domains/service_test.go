package domains

import (
	"context"
	"errors"
	"strings"
	"testing"

	"klips/internal/engine/events"
	"klips/internal/pkg/validator"
	"klips/internal/platform/database/testdb"
)

type fakeResolver struct {
	records map[string][]string
	err     error
	lookups []string
}

func (f *fakeResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	f.lookups = append(f.lookups, name)
	if f.err != nil {
		return nil, f.err
	}
	return f.records[name], nil
}

func newTestService(t *testing.T) (*Service, *fakeResolver, *events.Recorder) {
	t.Helper()

	db := testdb.New(t)
	testdb.SeedOrg(t, db, "org_1")
	testdb.SeedOrg(t, db, "org_2")

	resolver := &fakeResolver{records: map[string][]string{}}
	rec := &events.Recorder{}
	return NewService(NewRepository(db), resolver, rec, "_klips-verify"), resolver, rec
}

func TestService_Add(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	d, err := svc.Add(ctx, "org_1", "  Go.Example.com. ")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if d.Hostname != "go.example.com" || d.Verified {
		t.Errorf("unexpected domain: %+v", d)
	}
	if d.RecordName != "_klips-verify.go.example.com" {
		t.Errorf("RecordName = %q", d.RecordName)
	}
	if !strings.HasPrefix(d.VerificationToken, "klips-verify=") {
		t.Errorf("VerificationToken = %q", d.VerificationToken)
	}

	if _, err := svc.Add(ctx, "org_2", "go.example.com"); !errors.Is(err, ErrTaken) {
		t.Errorf("Add() duplicate error = %v, want ErrTaken", err)
	}

	var fe *validator.FieldError
	for _, bad := range []string{"", "localhost", "not a host", "http://example.com"} {
		if _, err := svc.Add(ctx, "org_1", bad); !errors.As(err, &fe) {
			t.Errorf("Add(%q) error = %v, want validation error", bad, err)
		}
	}

	list, _ := svc.List(ctx, "org_1")
	if len(list) != 1 || list[0].RecordName == "" {
		t.Errorf("List() = %v", list)
	}
	other, _ := svc.List(ctx, "org_2")
	if len(other) != 0 {
		t.Errorf("other tenant sees %d domains", len(other))
	}
}

func TestService_Verify(t *testing.T) {
	svc, resolver, rec := newTestService(t)
	ctx := context.Background()

	d, err := svc.Add(ctx, "org_1", "go.example.com")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if _, err := svc.Verify(ctx, "org_1", d.ID); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("Verify() without record error = %v, want ErrNotVerified", err)
	}

	resolver.records[d.RecordName] = []string{"v=spf1 -all", d.VerificationToken}
	verified, err := svc.Verify(ctx, "org_1", d.ID)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !verified.Verified || verified.VerifiedAt == nil {
		t.Errorf("domain not marked verified: %+v", verified)
	}

	// A second verification is a no-op and raises no event.
	if _, err := svc.Verify(ctx, "org_1", d.ID); err != nil {
		t.Fatalf("second Verify() error = %v", err)
	}
	names := rec.Names()
	if len(names) != 1 || names[0] != events.DomainVerified || rec.Events[0].TenantID != "org_1" {
		t.Errorf("events = %v, want one domain.verified", names)
	}

	if _, err := svc.Verify(ctx, "org_2", d.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Verify() by other tenant error = %v, want ErrNotFound", err)
	}
}

func TestService_VerifyLookupFailure(t *testing.T) {
	svc, resolver, rec := newTestService(t)
	ctx := context.Background()

	d, _ := svc.Add(ctx, "org_1", "go.example.com")
	resolver.err = errors.New("no such host")

	if _, err := svc.Verify(ctx, "org_1", d.ID); !errors.Is(err, ErrNotVerified) {
		t.Errorf("Verify() error = %v, want ErrNotVerified", err)
	}
	if len(rec.Events) != 0 {
		t.Error("failed verification raised an event")
	}
}
