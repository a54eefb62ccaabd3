package domains

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"klips/internal/engine/events"
	"klips/internal/pkg/validator"
)

const tokenPrefix = "klips-verify="

// TXTResolver looks up DNS TXT records. *net.Resolver satisfies it.
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

type Service struct {
	repo         *Repository
	resolver     TXTResolver
	publisher    events.Publisher
	verifyPrefix string
	now          func() time.Time
}

func NewService(repo *Repository, resolver TXTResolver, publisher events.Publisher, verifyPrefix string) *Service {
	return &Service{
		repo:         repo,
		resolver:     resolver,
		publisher:    publisher,
		verifyPrefix: verifyPrefix,
		now:          time.Now,
	}
}

// Add registers hostname for the tenant, unverified, and returns the token to
// publish in DNS.
func (s *Service) Add(ctx context.Context, tenantID, hostname string) (*Domain, error) {
	hostname = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
	if err := validator.Var("hostname", hostname, "required,fqdn,max=253"); err != nil {
		return nil, err
	}

	exists, err := s.repo.HostnameExists(ctx, hostname)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrTaken
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	d := &Domain{
		ID:                "dom_" + uuid.New().String(),
		TenantID:          tenantID,
		Hostname:          hostname,
		VerificationToken: token,
		CreatedAt:         s.now().Unix(),
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	return s.decorate(d), nil
}

func (s *Service) List(ctx context.Context, tenantID string) ([]*Domain, error) {
	list, err := s.repo.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, d := range list {
		s.decorate(d)
	}
	return list, nil
}

// Verify checks the TXT record and marks the domain verified. domain.verified
// is raised only on the transition.
func (s *Service) Verify(ctx context.Context, tenantID, id string) (*Domain, error) {
	d, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	s.decorate(d)
	if d.Verified {
		return d, nil
	}

	records, err := s.resolver.LookupTXT(ctx, d.RecordName)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %s: %v", ErrNotVerified, d.RecordName, err)
	}
	if !containsToken(records, d.VerificationToken) {
		return nil, ErrNotVerified
	}

	at := s.now().Unix()
	changed, err := s.repo.MarkVerified(ctx, tenantID, id, at)
	if err != nil {
		return nil, err
	}
	d.Verified = true
	d.VerifiedAt = &at

	if changed {
		log.Info().Str("domain_id", d.ID).Str("hostname", d.Hostname).Str("tenant_id", tenantID).Msg("domain verified")
		events.Emit(ctx, s.publisher, tenantID, events.DomainVerified, map[string]any{
			"domain_id": d.ID,
			"hostname":  d.Hostname,
		})
	}
	return d, nil
}

func (s *Service) decorate(d *Domain) *Domain {
	d.RecordName = s.verifyPrefix + "." + d.Hostname
	return d
}

func containsToken(records []string, token string) bool {
	for _, r := range records {
		if strings.TrimSpace(r) == token {
			return true
		}
	}
	return false
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return tokenPrefix + hex.EncodeToString(b), nil
}
