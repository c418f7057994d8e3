package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"points_service/internal/domain"
	"points_service/internal/idgen"
	"points_service/internal/logger"
	"points_service/internal/metrics"
	"points_service/internal/ratelimit"
	"points_service/internal/repository"
)

// Strictness controls how the policy read and the ledger append interleave
// across concurrent requests for the same user.
type Strictness string

const (
	// StrictnessSerialized runs read and append under a per-user lock, so
	// cooldown and daily cap hold exactly.
	StrictnessSerialized Strictness = "serialized"
	// StrictnessBestEffort reads and appends independently. Concurrent
	// requests for one user may each pass the cooldown and daily cap checks,
	// and since callers pick the user id freely the overshoot is unbounded.
	StrictnessBestEffort Strictness = "best_effort"
)

const maxUserIDLen = 128

// Notifier is told about every accepted event.
type Notifier interface {
	PublishEvent(e *domain.PointEvent)
}

// SubmitRequest is one untrusted client event.
type SubmitRequest struct {
	UserID    string
	Type      domain.EarnType
	Amount    int64
	Meta      map[string]interface{}
	Signature string
	PublicKey string
}

// Caller identifies who is submitting. Key is the rate-limit identity.
type Caller struct {
	Key string
	IP  string
}

// SubmitResult is returned for an accepted event.
type SubmitResult struct {
	Event     *domain.PointEvent
	Limit     int
	Remaining int
}

type IngestorConfig struct {
	RateLimit  int
	RateWindow time.Duration
	Strictness Strictness
}

// EventIngestor is the only writer of ledger rows. Client events run
// signature check, rate limit, policy and append in that order; any failure
// stops the pipeline with nothing written.
type EventIngestor struct {
	ledger   repository.Ledger
	limiter  ratelimit.Limiter
	policy   *PolicyEngine
	ids      *idgen.Generator
	audit    *AuditService
	notifier Notifier
	cfg      IngestorConfig
	now      func() time.Time
}

func NewEventIngestor(ledger repository.Ledger, limiter ratelimit.Limiter, policy *PolicyEngine, ids *idgen.Generator, cfg IngestorConfig) *EventIngestor {
	if cfg.Strictness == "" {
		cfg.Strictness = StrictnessSerialized
	}
	return &EventIngestor{
		ledger:  ledger,
		limiter: limiter,
		policy:  policy,
		ids:     ids,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (s *EventIngestor) SetAudit(a *AuditService) { s.audit = a }

func (s *EventIngestor) SetNotifier(n Notifier) { s.notifier = n }

// SetClock replaces time.Now; used by tests.
func (s *EventIngestor) SetClock(now func() time.Time) { s.now = now }

// Policy exposes the engine for read endpoints.
func (s *EventIngestor) Policy() *PolicyEngine { return s.policy }

// Submit runs the full client pipeline.
func (s *EventIngestor) Submit(ctx context.Context, req SubmitRequest, caller Caller) (*SubmitResult, error) {
	log := logger.WithContext(ctx).With("user_id", req.UserID, "type", string(req.Type), "identity", caller.Key)

	if err := validate(req); err != nil {
		s.count(req.Type, err)
		return nil, err
	}

	if err := s.checkSignature(ctx, req, caller); err != nil {
		log.Warn("event signature rejected", "reason", err.Reason)
		s.count(req.Type, err)
		return nil, err
	}

	decision, err := s.limiter.Admit(ctx, caller.Key, s.cfg.RateLimit, s.cfg.RateWindow)
	if err != nil {
		log.Error("rate limiter unavailable", "error", err)
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	if !decision.Allowed {
		metrics.RLBlocked.WithLabelValues("ingest").Inc()
		r := reject(domain.ReasonRateLimited, "too many requests")
		r.RetryAfter = decision.RetryAfter
		r.Limit = int64(decision.Limit)
		log.Warn("event rate limited", "retry_after", decision.RetryAfter)
		s.count(req.Type, r)
		return nil, r
	}
	metrics.RLRequests.WithLabelValues("ingest").Inc()

	ev, err := s.authorizeAndAppend(ctx, req.UserID, req.Type, req.Amount, req.Meta, domain.SourceClient)
	if err != nil {
		if r, ok := AsRejection(err); ok {
			log.Info("event rejected by policy", "reason", r.Reason)
		} else {
			log.Error("event append failed", "error", err)
		}
		s.count(req.Type, err)
		return nil, err
	}

	return &SubmitResult{Event: ev, Limit: decision.Limit, Remaining: decision.Remaining}, nil
}

// SubmitSystem appends a scheduler-generated event. It skips the signature
// check and the caller rate limit but always runs policy.
func (s *EventIngestor) SubmitSystem(ctx context.Context, userID string, t domain.EarnType, amount int64, meta map[string]interface{}) (*domain.PointEvent, error) {
	req := SubmitRequest{UserID: userID, Type: t, Amount: amount, Meta: meta}
	if err := validate(req); err != nil {
		s.count(t, err)
		return nil, err
	}
	ev, err := s.authorizeAndAppend(ctx, userID, t, amount, meta, domain.SourceSystem)
	if err != nil {
		s.count(t, err)
		return nil, err
	}
	return ev, nil
}

func validate(req SubmitRequest) *Rejection {
	switch {
	case req.UserID == "":
		return reject(domain.ReasonMalformed, "user_id is required")
	case len(req.UserID) > maxUserIDLen:
		return reject(domain.ReasonMalformed, "user_id is too long")
	case req.Type == "":
		return reject(domain.ReasonMalformed, "type is required")
	case req.Amount < 0:
		return reject(domain.ReasonMalformed, "amount must be >= 0")
	}
	if req.Meta != nil {
		if _, err := json.Marshal(req.Meta); err != nil {
			return reject(domain.ReasonMalformed, "meta is not representable as JSON")
		}
	}
	return nil
}

func (s *EventIngestor) checkSignature(ctx context.Context, req SubmitRequest, caller Caller) *Rejection {
	pol, known := s.policy.Lookup(req.Type)
	required := known && pol.RequireSignature
	presented := req.Signature != "" || req.PublicKey != ""

	if !presented {
		if required {
			s.audit.LogSignatureFailure(ctx, req.UserID, caller.IP, req.Type, true)
			return reject(domain.ReasonUnauthenticated, "signature required for %s", req.Type)
		}
		return nil
	}

	if !VerifyEncoded(req.Signature, req.PublicKey, SignedMessage(req.UserID, req.Type, req.Amount)) {
		s.audit.LogSignatureFailure(ctx, req.UserID, caller.IP, req.Type, false)
		return reject(domain.ReasonUnauthenticated, "invalid signature")
	}
	return nil
}

func (s *EventIngestor) authorizeAndAppend(ctx context.Context, userID string, t domain.EarnType, amount int64, meta map[string]interface{}, source domain.Source) (*domain.PointEvent, error) {
	ev := &domain.PointEvent{
		UserID: userID,
		Type:   t,
		Amount: amount,
		Source: source,
		Meta:   meta,
	}

	run := func(store repository.EventStore) error {
		now := s.now().UTC()
		if err := s.policy.Authorize(ctx, store, userID, t, amount, now); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		ev.ID = s.ids.Next()
		ev.CreatedAt = now
		return store.Append(ctx, ev)
	}

	var err error
	if s.cfg.Strictness == StrictnessSerialized {
		err = s.ledger.WithUserLock(ctx, userID, run)
	} else {
		err = run(s.ledger)
	}
	if err != nil {
		return nil, err
	}

	metrics.Awarded.WithLabelValues(string(t)).Add(float64(amount))
	s.count(t, nil)
	if s.notifier != nil {
		s.notifier.PublishEvent(ev)
	}
	return ev, nil
}

func (s *EventIngestor) count(t domain.EarnType, err error) {
	outcome := "accepted"
	if err != nil {
		outcome = "error"
		if r, ok := AsRejection(err); ok {
			outcome = string(r.Reason)
		}
	}
	label := string(t)
	if _, known := s.policy.Lookup(t); !known {
		label = "unknown"
	}
	metrics.Events.WithLabelValues(label, outcome).Inc()
}

// RetryAfterSeconds renders a retry hint in whole seconds, rounded up.
func RetryAfterSeconds(d time.Duration) int {
	return max(int((d+time.Second-1)/time.Second), 1)
}
