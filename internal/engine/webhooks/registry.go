package webhooks

import (
	"context"
	"errors"
	"time"

	"klips/internal/pkg/validator"
)

const (
	DefaultDeliveryLimit = 50
	MaxDeliveryLimit     = 100
)

// Registry owns webhook definitions and the secret lifecycle.
type Registry struct {
	repo     *Repository
	executor *Executor
	now      func() time.Time
}

func NewRegistry(repo *Repository, executor *Executor) *Registry {
	return &Registry{repo: repo, executor: executor, now: time.Now}
}

// Register validates and stores a new active webhook. The returned record is
// the only time the secret is exposed.
func (r *Registry) Register(ctx context.Context, tenantID string, in RegisterInput) (*RevealedWebhook, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	now := r.now().Unix()
	hook := &Webhook{
		TenantID:  tenantID,
		Name:      in.Name,
		URL:       in.URL,
		Events:    in.Events,
		Active:    true,
		Secret:    secret,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.repo.Create(ctx, hook); err != nil {
		return nil, err
	}

	hook.Secret = ""
	return &RevealedWebhook{Webhook: hook, Secret: secret}, nil
}

func (r *Registry) Get(ctx context.Context, tenantID, id string) (*Webhook, error) {
	return r.repo.GetByID(ctx, tenantID, id)
}

func (r *Registry) List(ctx context.Context, tenantID string) ([]*Webhook, error) {
	return r.repo.List(ctx, tenantID)
}

// Update applies a partial patch. Reactivating a webhook clears its failure
// counter so it is not immediately disabled again.
func (r *Registry) Update(ctx context.Context, tenantID, id string, patch Patch) (*Webhook, error) {
	hook, err := r.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		hook.Name = *patch.Name
	}
	if patch.URL != nil {
		hook.URL = *patch.URL
	}
	if patch.Events != nil {
		hook.Events = *patch.Events
	}
	if patch.Active != nil {
		if *patch.Active && !hook.Active {
			hook.FailureCount = 0
		}
		hook.Active = *patch.Active
	}

	if err := validate(RegisterInput{Name: hook.Name, URL: hook.URL, Events: hook.Events}); err != nil {
		return nil, err
	}

	hook.UpdatedAt = r.now().Unix()
	if err := r.repo.Update(ctx, hook, patch.Active != nil); err != nil {
		return nil, err
	}
	if patch.Active == nil {
		// Return the stored state, which the executor may have changed.
		return r.repo.GetByID(ctx, tenantID, id)
	}
	return hook, nil
}

// RotateSecret replaces the signing secret with a hard cutover; signatures
// made with the previous secret stop verifying immediately.
func (r *Registry) RotateSecret(ctx context.Context, tenantID, id string) (*RevealedWebhook, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := r.repo.RotateSecret(ctx, tenantID, id, secret, r.now().Unix()); err != nil {
		return nil, err
	}

	hook, err := r.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return &RevealedWebhook{Webhook: hook, Secret: secret}, nil
}

func (r *Registry) Delete(ctx context.Context, tenantID, id string) error {
	return r.repo.Delete(ctx, tenantID, id)
}

// Deliveries returns the newest delivery records of a webhook owned by tenantID.
func (r *Registry) Deliveries(ctx context.Context, tenantID, id string, limit int) ([]*Delivery, error) {
	if _, err := r.repo.GetByID(ctx, tenantID, id); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultDeliveryLimit
	}
	if limit > MaxDeliveryLimit {
		limit = MaxDeliveryLimit
	}
	return r.repo.ListDeliveries(ctx, id, limit)
}

// Test sends one synchronous webhook.test delivery. Inactive webhooks can be
// tested so an endpoint can be checked before reactivation.
func (r *Registry) Test(ctx context.Context, tenantID, id string) (*TestResult, error) {
	hook, err := r.repo.GetWithSecret(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return r.executor.Test(ctx, hook)
}

func validate(in RegisterInput) error {
	err := validator.Struct(in)
	if err == nil {
		return nil
	}
	var fe *validator.FieldError
	if errors.As(err, &fe) {
		return &ValidationError{Field: fe.Field, Reason: fe.Reason}
	}
	return err
}
