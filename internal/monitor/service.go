// Package monitor implements the price-regulation control loop: it walks the
// subscription registry each scheduler tick, analyses competitor prices,
// gates every proposed change through the guardrails, and records the
// outcome of each attempt in the ledger.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketplace-repricer/internal/competitor"
	"marketplace-repricer/internal/gateway"
	"marketplace-repricer/internal/guardrail"
	"marketplace-repricer/internal/metrics"
	"marketplace-repricer/internal/pricing"
	"marketplace-repricer/internal/registry"
	"marketplace-repricer/internal/storage"
)

var (
	// ErrInvalidSubscription flags a malformed monitoring request.
	ErrInvalidSubscription = errors.New("monitor: invalid monitoring request")
	// ErrNoCompetitors rejects monitoring without at least one competitor.
	ErrNoCompetitors = errors.New("monitor: at least one competitor observation is required")
	// ErrNotMonitored indicates the product has no active subscription.
	ErrNotMonitored = errors.New("monitor: product is not monitored")
	// ErrNotPending indicates the attempt is not awaiting confirmation.
	ErrNotPending = errors.New("monitor: attempt is not pending")
)

// Defaults seed AutomationSettings for newly monitored products.
type Defaults struct {
	Mode                      storage.ApplyMode
	MaxPriceChangePercent     decimal.Decimal
	MaxDailyChanges           int
	MinMinutesBetweenChanges  int
	MonitoringIntervalMinutes int
}

// Options configure the control loop.
type Options struct {
	Stagger  time.Duration // delay between subscriptions within a tick
	Interval time.Duration // scheduler period, used for next-check stamps
	Defaults Defaults
	// HistoryWindow bounds how much ledger history feeds the guardrails.
	HistoryWindow int
}

// Service is the single control-loop instance for a deployment. Constructed
// once at process start and injected into the scheduler and the API server.
type Service struct {
	registry *registry.Registry
	source   competitor.Source
	updater  gateway.PriceUpdater
	attempts storage.AttemptStore
	settings storage.SettingsStore
	status   *Tracker
	logger   zerolog.Logger
	opts     Options

	// resolveMu serializes pending-attempt resolution so the gateway is
	// invoked at most once per attempt even under concurrent confirms.
	resolveMu sync.Mutex

	now func() time.Time
}

// New wires the control loop's collaborators together.
func New(reg *registry.Registry, source competitor.Source, updater gateway.PriceUpdater, attempts storage.AttemptStore, settings storage.SettingsStore, opts Options, logger zerolog.Logger) *Service {
	if opts.Stagger <= 0 {
		opts.Stagger = time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 200
	}
	if opts.Defaults.Mode == "" {
		opts.Defaults.Mode = storage.ModeAutoConfirm
	}

	svc := &Service{
		registry: reg,
		source:   source,
		updater:  updater,
		attempts: attempts,
		settings: settings,
		status:   NewTracker(nil),
		logger:   logger.With().Str("component", "monitor").Logger(),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
	return svc
}

// Registry exposes the subscription registry for read models.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Status returns a snapshot of the loop's counters.
func (s *Service) Status() Status {
	return s.status.Snapshot(s.registry.Len() > 0)
}

// StartMonitoring registers a product for automated repricing and runs one
// immediate check cycle. Missing competitors or an invalid strategy are
// configuration errors and are rejected here, never defaulted away.
func (s *Service) StartMonitoring(ctx context.Context, product registry.Product, observations []pricing.Observation, strategy pricing.Strategy) error {
	if product.ID == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidSubscription)
	}
	if len(observations) == 0 {
		return ErrNoCompetitors
	}
	if err := strategy.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}

	if err := s.activateSettings(ctx, product.ID); err != nil {
		return err
	}

	sub := registry.Subscription{
		Product:      product,
		Observations: observations,
		Strategy:     strategy,
		AddedAt:      s.now(),
	}
	s.registry.Add(sub)
	metrics.ActiveSubscriptions.Set(float64(s.registry.Len()))

	s.logger.Info().
		Str("product_id", product.ID).
		Str("strategy", string(strategy.Kind)).
		Int("competitors", len(observations)).
		Msg("monitoring started")

	// First check runs immediately rather than waiting for the next tick.
	if err := s.checkOne(ctx, product.ID, storage.TriggerStrategyRule); err != nil {
		s.logger.Error().Err(err).Str("product_id", product.ID).Msg("initial check failed")
	}
	return nil
}

// StopMonitoring removes the subscription and disables automatic price
// application for the product. An attempt already in flight completes and
// is recorded; no further cycles run for the product.
func (s *Service) StopMonitoring(ctx context.Context, productID string) error {
	if !s.registry.Remove(productID) {
		return ErrNotMonitored
	}
	metrics.ActiveSubscriptions.Set(float64(s.registry.Len()))

	settings, err := s.settings.GetSettings(ctx, productID)
	if err == nil {
		settings.Mode = storage.ModeManual
		settings.UpdatedAt = s.now()
		if err := s.settings.UpsertSettings(ctx, settings); err != nil {
			return fmt.Errorf("disable settings: %w", err)
		}
	} else if !errors.Is(err, storage.ErrSettingsNotFound) {
		return err
	}

	s.logger.Info().Str("product_id", productID).Msg("monitoring stopped")
	return nil
}

// Tick runs one full pass over the registry snapshot. Subscriptions are
// checked sequentially with a stagger delay to avoid bursting the gateway;
// one subscription's failure never aborts the remaining iterations.
func (s *Service) Tick(ctx context.Context, at time.Time) error {
	s.status.BeginTick(at, at.Add(s.opts.Interval))

	snapshot := s.registry.List()
	for i, sub := range snapshot {
		if i > 0 {
			if err := sleepCtx(ctx, s.opts.Stagger); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.safeCheck(ctx, sub.Product.ID)
	}
	return nil
}

// safeCheck isolates one subscription's check: errors and panics are logged
// and the loop proceeds to the next subscription.
func (s *Service) safeCheck(ctx context.Context, productID string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("product_id", productID).
				Interface("panic", r).
				Msg("subscription check panicked")
		}
	}()

	if err := s.checkOne(ctx, productID, storage.TriggerSchedule); err != nil {
		s.logger.Error().Err(err).Str("product_id", productID).Msg("subscription check failed")
	}
}

// checkOne drives one check-and-maybe-apply cycle for a product. A
// subscription removed since the tick snapshot is a skip, not an error.
func (s *Service) checkOne(ctx context.Context, productID string, trigger storage.Trigger) error {
	start := time.Now()

	sub, ok := s.registry.Get(productID)
	if !ok {
		s.logger.Debug().Str("product_id", productID).Msg("subscription gone, skipping")
		return nil
	}

	observations, err := s.source.Fetch(ctx, productID, sub.Observations)
	if err != nil {
		return fmt.Errorf("fetch competitor prices: %w", err)
	}
	// Replace wholesale; concurrent readers keep the previous snapshot.
	if !s.registry.UpdateObservations(productID, observations, s.now()) {
		return nil
	}

	// A scheduled check whose snapshot actually moved is attributed to the
	// competitor movement, not the timer.
	if trigger == storage.TriggerSchedule && observationsChanged(sub.Observations, observations) {
		trigger = storage.TriggerCompetitorPrice
	}

	recommendation := pricing.Analyze(sub.Product.CurrentPrice, observations, sub.Strategy)
	s.status.RecordCheck()
	defer metrics.ObserveCheck(start)

	if !recommendation.ShouldChange {
		s.logger.Debug().
			Str("product_id", productID).
			Str("reason", recommendation.Reason).
			Msg("no price change needed")
		return nil
	}

	_, err = s.propose(ctx, sub, recommendation.Recommended, recommendation.Reason, trigger)
	return err
}

// ApplyManual evaluates a user-initiated price change through the same
// guardrail gate as the scheduler path.
func (s *Service) ApplyManual(ctx context.Context, productID string, newPrice decimal.Decimal) (storage.Attempt, error) {
	sub, ok := s.registry.Get(productID)
	if !ok {
		return storage.Attempt{}, ErrNotMonitored
	}
	if !newPrice.IsPositive() {
		return storage.Attempt{}, fmt.Errorf("monitor: price must be positive")
	}
	return s.propose(ctx, sub, newPrice, "manual price change", storage.TriggerManual)
}

// propose gates a concrete (current → proposed) change and executes or
// records it. Exactly one ledger entry is written per proposal.
func (s *Service) propose(ctx context.Context, sub registry.Subscription, proposed decimal.Decimal, basis string, trigger storage.Trigger) (storage.Attempt, error) {
	productID := sub.Product.ID

	settings, err := s.settingsFor(ctx, productID)
	if err != nil {
		return storage.Attempt{}, err
	}

	history, err := s.attempts.ListAttemptsByProduct(ctx, productID, s.opts.HistoryWindow)
	if err != nil {
		return storage.Attempt{}, fmt.Errorf("load attempt history: %w", err)
	}

	now := s.now()
	decision := guardrail.Evaluate(settings, history, sub.Product.CurrentPrice, proposed, now)

	attempt := storage.Attempt{
		ID:            uuid.NewString(),
		ProductID:     productID,
		OldPrice:      sub.Product.CurrentPrice,
		NewPrice:      proposed,
		ChangePercent: decision.ChangePercent,
		Reason:        basis + "; " + decision.Reason,
		TriggeredBy:   trigger,
		AttemptedAt:   now,
	}

	switch decision.Outcome {
	case guardrail.Blocked:
		completed := now
		attempt.Status = storage.StatusBlocked
		attempt.CompletedAt = &completed

	case guardrail.Deferred:
		attempt.Status = storage.StatusPending
		s.status.RecordPending(1)

	default:
		requestID, applyErr := s.updater.UpdatePrice(ctx, productID, proposed)
		completed := s.now()
		attempt.CompletedAt = &completed
		if applyErr != nil {
			attempt.Status = storage.StatusFailed
			attempt.Reason += "; " + applyErr.Error()
			s.status.RecordFailure()
		} else {
			attempt.Status = storage.StatusSuccess
			attempt.GatewayRequestID = requestID
			s.registry.UpdatePrice(productID, proposed)
			s.status.RecordSuccess()
		}
	}

	// The terminal outcome (or the pending deferral) is known; write once.
	if err := s.attempts.InsertAttempt(ctx, attempt); err != nil {
		return storage.Attempt{}, fmt.Errorf("record attempt: %w", err)
	}
	metrics.AttemptsTotal.WithLabelValues(string(attempt.Status)).Inc()

	s.logger.Info().
		Str("product_id", productID).
		Str("attempt_id", attempt.ID).
		Str("status", string(attempt.Status)).
		Str("old_price", attempt.OldPrice.String()).
		Str("new_price", attempt.NewPrice.String()).
		Str("reason", attempt.Reason).
		Msg("price change attempt recorded")
	return attempt, nil
}

// ConfirmAttempt applies a pending attempt through the gateway and resolves
// it exactly once. The pending check and the gateway call happen under
// resolveMu: a concurrent confirm of the same attempt observes the terminal
// status instead of reaching the gateway a second time.
func (s *Service) ConfirmAttempt(ctx context.Context, attemptID string) (storage.Attempt, error) {
	s.resolveMu.Lock()
	defer s.resolveMu.Unlock()

	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return storage.Attempt{}, err
	}
	if attempt.Status != storage.StatusPending {
		return storage.Attempt{}, ErrNotPending
	}

	requestID, applyErr := s.updater.UpdatePrice(ctx, attempt.ProductID, attempt.NewPrice)
	now := s.now()

	status := storage.StatusSuccess
	reason := attempt.Reason + "; confirmed"
	if applyErr != nil {
		status = storage.StatusFailed
		reason = attempt.Reason + "; confirmed but failed: " + applyErr.Error()
	}

	if err := s.attempts.ResolveAttempt(ctx, attemptID, status, reason, requestID, now); err != nil {
		return storage.Attempt{}, err
	}
	s.status.RecordPending(-1)
	metrics.AttemptsTotal.WithLabelValues(string(status)).Inc()

	if applyErr != nil {
		s.status.RecordFailure()
	} else {
		s.registry.UpdatePrice(attempt.ProductID, attempt.NewPrice)
		s.status.RecordSuccess()
	}

	return s.attempts.GetAttempt(ctx, attemptID)
}

// RejectAttempt resolves a pending attempt as blocked without calling the
// gateway.
func (s *Service) RejectAttempt(ctx context.Context, attemptID string) (storage.Attempt, error) {
	s.resolveMu.Lock()
	defer s.resolveMu.Unlock()

	attempt, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return storage.Attempt{}, err
	}
	if attempt.Status != storage.StatusPending {
		return storage.Attempt{}, ErrNotPending
	}

	reason := attempt.Reason + "; rejected by operator"
	if err := s.attempts.ResolveAttempt(ctx, attemptID, storage.StatusBlocked, reason, "", s.now()); err != nil {
		return storage.Attempt{}, err
	}
	s.status.RecordPending(-1)
	metrics.AttemptsTotal.WithLabelValues(string(storage.StatusBlocked)).Inc()

	return s.attempts.GetAttempt(ctx, attemptID)
}

// settingsFor loads the product's settings, falling back to the configured
// defaults for products that have never been configured explicitly.
func (s *Service) settingsFor(ctx context.Context, productID string) (storage.AutomationSettings, error) {
	settings, err := s.settings.GetSettings(ctx, productID)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, storage.ErrSettingsNotFound) {
		return storage.AutomationSettings{}, fmt.Errorf("load settings: %w", err)
	}
	return s.defaultSettings(productID), nil
}

func (s *Service) defaultSettings(productID string) storage.AutomationSettings {
	now := s.now()
	d := s.opts.Defaults
	maxChange := d.MaxPriceChangePercent
	if !maxChange.IsPositive() {
		maxChange = decimal.NewFromInt(10)
	}
	maxDaily := d.MaxDailyChanges
	if maxDaily <= 0 {
		maxDaily = 5
	}
	interval := d.MonitoringIntervalMinutes
	if interval <= 0 {
		interval = 5
	}
	return storage.AutomationSettings{
		ProductID:                 productID,
		Mode:                      d.Mode,
		MonitoringIntervalMinutes: interval,
		MaxPriceChangePercent:     maxChange,
		MaxDailyChanges:           maxDaily,
		MinMinutesBetweenChanges:  d.MinMinutesBetweenChanges,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
}

// activateSettings ensures the product's settings exist with an automatic
// apply mode, keeping the settings store in lockstep with the registry.
func (s *Service) activateSettings(ctx context.Context, productID string) error {
	settings, err := s.settings.GetSettings(ctx, productID)
	switch {
	case errors.Is(err, storage.ErrSettingsNotFound):
		settings = s.defaultSettings(productID)
	case err != nil:
		return fmt.Errorf("load settings: %w", err)
	default:
		if settings.Mode == storage.ModeManual {
			settings.Mode = s.opts.Defaults.Mode
		}
		settings.UpdatedAt = s.now()
	}

	if err := s.settings.UpsertSettings(ctx, settings); err != nil {
		return fmt.Errorf("activate settings: %w", err)
	}
	return nil
}

// RestorePending rebuilds the pending-confirmation counter from the ledger.
// Called once at startup so deferred attempts survive a process restart.
func (s *Service) RestorePending(ctx context.Context) error {
	n, err := s.attempts.CountPendingAttempts(ctx)
	if err != nil {
		return fmt.Errorf("count pending attempts: %w", err)
	}
	s.status.RecordPending(int(n))
	return nil
}

// observationsChanged reports whether the refreshed competitor snapshot
// differs from the previous one in membership or price.
func observationsChanged(prev, next []pricing.Observation) bool {
	if len(prev) != len(next) {
		return true
	}
	byID := make(map[string]decimal.Decimal, len(prev))
	for _, obs := range prev {
		byID[obs.CompetitorID] = obs.Price
	}
	for _, obs := range next {
		price, ok := byID[obs.CompetitorID]
		if !ok || !price.Equal(obs.Price) {
			return true
		}
	}
	return false
}

// WithClock overrides the service clock; intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.status = NewTracker(now)
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
