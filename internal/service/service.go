package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"loja/backend/internal/cache"
	"loja/backend/internal/domain"
	"loja/backend/internal/pricing"
	"loja/backend/internal/store"
)

var ErrEmptyCart = errors.New("cart is empty")

const dateLayout = "2006-01-02"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// LegacyRentalFinish lets a rental be finished more than once, restoring stock every time.
	LegacyRentalFinish bool
	Now                func() time.Time
}

type Service struct {
	repo               store.Repository
	carts              cache.CartStore
	logger             *zap.Logger
	audit              *zap.Logger
	legacyRentalFinish bool
	now                func() time.Time
}

func New(repo store.Repository, carts cache.CartStore, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:               repo,
		carts:              carts,
		logger:             logger.Named("service"),
		audit:              logger.Named("audit"),
		legacyRentalFinish: opts.LegacyRentalFinish,
		now:                opts.Now,
	}
}

func (s *Service) Wipe(ctx context.Context) error {
	err := s.repo.WithinTx(ctx, func(tx store.Repository) error {
		return tx.Wipe(ctx)
	})
	if err != nil {
		return err
	}
	s.logAudit(ctx, "data_wipe", "dataset", "all", "")
	if err := s.ResetCarts(ctx); err != nil {
		s.logger.Warn("failed to drop carts after wipe", zap.Error(err))
	}
	return nil
}

// ResetCarts drops every session cart. Run it whenever the dataset is replaced:
// identities restart, so old entries would resolve to unrelated records.
func (s *Service) ResetCarts(ctx context.Context) error {
	if s.carts == nil {
		return nil
	}
	if err := s.carts.DeleteAll(ctx); err != nil {
		return fmt.Errorf("drop carts: %w", err)
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	s.audit.Info(action,
		zap.String("actor", actor.Username),
		zap.String("role", actor.Role),
		zap.String("entity_type", entityType),
		zap.String("entity_id", entityID),
		zap.String("detail", detail),
	)
}

func parseDate(field string, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, store.Invalid("%s must be YYYY-MM-DD", field)
	}
	return &parsed, nil
}

func parseDateRange(start string, end string) (*time.Time, *time.Time, error) {
	startDate, err := parseDate("start_date", start)
	if err != nil {
		return nil, nil, err
	}
	endDate, err := parseDate("end_date", end)
	if err != nil {
		return nil, nil, err
	}
	if startDate != nil && endDate != nil && endDate.Before(*startDate) {
		return nil, nil, store.Invalid("end_date is before start_date")
	}
	return startDate, endDate, nil
}

func validateFees(fees pricing.Fees) error {
	if !fees.Validate() {
		return store.Invalid("fees and discount must not be negative")
	}
	return nil
}

func requireSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return store.Invalid("session required")
	}
	return nil
}

func notFound(entity string, id int64) error {
	return fmt.Errorf("%s %d: %w", entity, id, store.ErrNotFound)
}

// lookup returns nil, nil when the record is gone.
func lookup[T any](record *T, err error) (*T, error) {
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return record, err
}
