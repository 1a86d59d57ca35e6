package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"branchpos/backend/internal/cache"
	"branchpos/backend/internal/domain"
	"branchpos/backend/internal/store"
)

var (
	ErrUnauthorized       = errors.New("authentication required")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrForbidden          = errors.New("not permitted")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// SessionTTL bounds how long an abandoned cart is kept.
	SessionTTL  time.Duration
	MetricsTTL  time.Duration
	PhoneRegion string
}

type Service struct {
	repo     store.Repository
	sessions cache.SessionStore
	metrics  cache.MetricsCache
	locker   cache.Locker
	logger   logrus.FieldLogger
	validate *validator.Validate
	flight   singleflight.Group
	opts     Options
	now      func() time.Time
}

func New(repo store.Repository, sessions cache.SessionStore, metrics cache.MetricsCache, locker cache.Locker, logger logrus.FieldLogger, opts Options) *Service {
	if sessions == nil {
		sessions = cache.NewMemorySessionStore()
	}
	if metrics == nil {
		metrics = cache.NoopMetricsCache{}
	}
	if locker == nil {
		locker = cache.NewLocalLocker()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 8 * time.Hour
	}
	if opts.PhoneRegion == "" {
		opts.PhoneRegion = "US"
	}

	return &Service{
		repo:     repo,
		sessions: sessions,
		metrics:  metrics,
		locker:   locker,
		logger:   logger.WithField("component", "service"),
		validate: newValidator(),
		opts:     opts,
		now:      time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// check runs struct-tag validation and reports failures as ErrValidation.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fields := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: invalid %s", store.ErrValidation, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", store.ErrValidation, err)
}

func currentActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.ID == 0 {
		return domain.Actor{}, ErrUnauthorized
	}
	return actor, nil
}

// ResolveActor reloads the account behind a token. A deleted user yields
// ErrUnauthorized; role and branch changes apply without a new login.
func (s *Service) ResolveActor(ctx context.Context, actor domain.Actor) (domain.Actor, error) {
	user, err := s.repo.GetUser(ctx, actor.ID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Actor{}, ErrUnauthorized
	}
	if err != nil {
		return domain.Actor{}, err
	}
	actor.Username = user.Username
	actor.Role = user.Role
	actor.BranchID = user.BranchID
	actor.BranchName = user.BranchName
	return actor, nil
}

// activeActor is currentActor for writes that record the actor as owner:
// the account must still exist.
func (s *Service) activeActor(ctx context.Context) (domain.Actor, error) {
	actor, err := currentActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if _, err := s.repo.GetUser(ctx, actor.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Actor{}, ErrUnauthorized
		}
		return domain.Actor{}, err
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := currentActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !actor.IsAdmin() {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

// actorScope limits reads to the actor's own rows unless they are an admin.
func actorScope(actor domain.Actor) store.Scope {
	if actor.IsAdmin() {
		return store.Scope{}
	}
	return store.Scope{UserID: store.Int64Ptr(actor.ID)}
}

func (s *Service) log(ctx context.Context) logrus.FieldLogger {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return s.logger
	}
	return s.logger.WithFields(logrus.Fields{"actor_id": actor.ID, "actor": actor.Username})
}

func notFoundAs(err error, what string, id int64) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s %d", store.ErrNotFound, what, id)
	}
	return err
}
