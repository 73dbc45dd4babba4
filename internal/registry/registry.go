// Package registry implements the consistency core of the unit registry:
// allocation, order confirmation, activation, reservation expiry and rarity
// commitment.
//
// A Registry holds no unit state between calls. Every read-then-write is
// reloaded inside a store transaction, so any number of Registry values (or
// processes) may share one store.
package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/erazemk/evidenca/internal/commerce"
	"github.com/erazemk/evidenca/internal/model"
	"github.com/erazemk/evidenca/internal/store"
)

// Defaults.
const (
	DefaultReservationTTL   = 20 * time.Minute
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 60 * time.Minute
	DefaultReaperInterval   = 2 * time.Minute
	DefaultReaperBatch      = 200 // also the most one sweep may expire
)

// Registry runs the registry's operations against a store.
type Registry struct {
	store    store.Store
	now      func() time.Time
	ttl      time.Duration
	notifier commerce.Notifier
	inviter  commerce.Inviter
	secret   string

	lockoutThreshold int
	lockoutDuration  time.Duration

	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithReservationTTL sets how long an allocation holds its unit.
func WithReservationTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithNotifier sets where confirmed assignments are reported.
func WithNotifier(n commerce.Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

// WithInviter sets who invites owners after activation.
func WithInviter(i commerce.Inviter) Option {
	return func(r *Registry) { r.inviter = i }
}

// WithWebhookSecret sets the key order deliveries are signed with.
func WithWebhookSecret(secret string) Option {
	return func(r *Registry) { r.secret = secret }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithLockoutPolicy sets how many wrong PINs lock a unit, and for how long.
func WithLockoutPolicy(threshold int, duration time.Duration) Option {
	return func(r *Registry) {
		r.lockoutThreshold = threshold
		r.lockoutDuration = duration
	}
}

// New creates a Registry.
func New(st store.Store, opts ...Option) *Registry {
	r := &Registry{
		store:            st,
		now:              time.Now,
		ttl:              DefaultReservationTTL,
		notifier:         commerce.Nop{},
		inviter:          commerce.Nop{},
		lockoutThreshold: DefaultLockoutThreshold,
		lockoutDuration:  DefaultLockoutDuration,
		logger:           slog.Default(),
		tracer:           otel.Tracer("github.com/erazemk/evidenca/internal/registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) clock() time.Time {
	return r.now().UTC()
}

func (r *Registry) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// finish ends span. Domain outcomes are recorded as an attribute, faults as
// span errors.
func finish(span trace.Span, err error) {
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case expected(err):
		span.SetAttributes(attribute.String("evidenca.outcome", err.Error()))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (r *Registry) appendEvent(ctx context.Context, unitID string, typ model.EventType, actor string, payload map[string]any, at time.Time) error {
	return r.store.AppendEvent(ctx, model.Event{
		ID:        uuid.NewString(),
		UnitID:    unitID,
		Type:      typ,
		Actor:     actor,
		Payload:   payload,
		CreatedAt: at,
	})
}
