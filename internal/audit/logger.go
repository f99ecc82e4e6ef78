// Package audit records access decisions and security violations. Events are
// appended to an in-memory buffer on the request path and flushed to a
// durable Store in batches.
package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/org/clipguard/internal/cache"
	"github.com/org/clipguard/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 30 * time.Second
	DefaultMaxBuffer     = 10_000
	DefaultMetricsWindow = 24 * time.Hour
	DefaultMetricsTTL    = 5 * time.Minute
	DefaultQueryLimit    = 100
	MaxQueryLimit        = 1000

	topViolators  = 10
	trimInterval  = time.Hour
	alertTimeout  = 5 * time.Second
	flushTimeout  = 10 * time.Second
	metricsKey    = "metrics"
	defaultAlerts = 256
)

// Config tunes a Logger. Zero values take the defaults above; a zero
// RetentionDays disables trimming.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxBuffer     int
	RetentionDays int
	MetricsWindow time.Duration
	MetricsTTL    time.Duration
	AlertQueue    int
	SealSecret    []byte
	Now           func() time.Time
}

// Logger is the audit log. It is safe for concurrent use.
type Logger struct {
	store  Store
	sink   AlertSink
	cfg    Config
	now    func() time.Time
	sealer *Sealer

	mu       sync.Mutex
	buffer   []*models.AuditEvent
	inflight []*models.AuditEvent

	flushMu  sync.Mutex
	lastTrim time.Time

	metrics *cache.Cache[string, models.AuditMetrics]

	alerts    chan models.Alert
	flushNow  chan struct{}
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewLogger creates a Logger and starts its flush and alert goroutines.
// sink may be nil, in which case alerts go to the process log.
func NewLogger(store Store, sink AlertSink, cfg Config) (*Logger, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = DefaultMaxBuffer
	}
	if cfg.MaxBuffer < cfg.BatchSize {
		cfg.MaxBuffer = cfg.BatchSize
	}
	if cfg.MetricsWindow <= 0 {
		cfg.MetricsWindow = DefaultMetricsWindow
	}
	if cfg.MetricsTTL <= 0 {
		cfg.MetricsTTL = DefaultMetricsTTL
	}
	if cfg.AlertQueue <= 0 {
		cfg.AlertQueue = defaultAlerts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if sink == nil {
		sink = LogSink{}
	}

	l := &Logger{
		store:    store,
		sink:     sink,
		cfg:      cfg,
		now:      cfg.Now,
		metrics:  cache.New[string, models.AuditMetrics](cfg.MetricsTTL, cache.WithClock(cfg.Now), cache.WithSweepInterval(0)),
		alerts:   make(chan models.Alert, cfg.AlertQueue),
		flushNow: make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	if len(cfg.SealSecret) > 0 {
		s, err := NewSealer(cfg.SealSecret)
		if err != nil {
			return nil, fmt.Errorf("deriving audit seal key: %w", err)
		}
		l.sealer = s
	}

	l.wg.Add(2)
	go l.flushLoop()
	go l.alertLoop()
	return l, nil
}

// LogSuccess records an allowed operation.
func (l *Logger) LogSuccess(ctx context.Context, e models.AuditEvent) models.AuditEvent {
	e.Success = true
	e.Violation = ""
	return l.LogEvent(ctx, e)
}

// LogFailure records an operation that failed for a non-security reason,
// such as a collaborator error.
func (l *Logger) LogFailure(ctx context.Context, e models.AuditEvent, reason string) models.AuditEvent {
	e.Success = false
	e.Violation = ""
	if reason != "" {
		e.Metadata = withMeta(e.Metadata, "error", reason)
	}
	return l.LogEvent(ctx, e)
}

// LogViolation records a security-relevant denial. Critical kinds also raise
// an alert.
func (l *Logger) LogViolation(ctx context.Context, e models.AuditEvent, kind models.ViolationKind) models.AuditEvent {
	e.Success = false
	e.Violation = kind
	return l.LogEvent(ctx, e)
}

// LogEvent assigns an id and timestamp, seals the event and appends it to
// the write buffer. It never blocks on the durable store.
func (l *Logger) LogEvent(_ context.Context, e models.AuditEvent) models.AuditEvent {
	e.ID = uuid.NewString()
	e.Timestamp = l.now().UTC().Truncate(time.Microsecond)
	if len(e.Metadata) > 0 {
		meta := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			meta[k] = v
		}
		e.Metadata = meta
	}
	if l.sealer != nil {
		e.Seal = l.sealer.Seal(&e)
	}
	stored := e

	l.mu.Lock()
	l.buffer = append(l.buffer, &stored)
	dropped := l.enforceMaxLocked()
	n := len(l.buffer)
	l.mu.Unlock()

	bufferSize.Set(float64(n))
	eventsTotal.WithLabelValues(eventKind(e.Success, string(e.Violation))).Inc()
	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("audit buffer full; oldest events discarded")
	}
	if n >= l.cfg.BatchSize {
		select {
		case l.flushNow <- struct{}{}:
		default:
		}
	}
	if e.Violation.Critical() {
		l.raise(e)
	}
	return e
}

// enforceMaxLocked drops the oldest buffered events beyond MaxBuffer.
func (l *Logger) enforceMaxLocked() int {
	over := len(l.buffer) - l.cfg.MaxBuffer
	if over <= 0 {
		return 0
	}
	clear(l.buffer[:over])
	l.buffer = l.buffer[over:]
	return over
}

func (l *Logger) raise(e models.AuditEvent) {
	a := models.Alert{
		Kind:        e.Violation,
		Message:     fmt.Sprintf("%s on %s %s", e.Violation, e.Operation, e.ResourceType),
		PrincipalID: e.PrincipalID,
		ResourceID:  e.ResourceID,
		RequestID:   e.RequestID,
		Timestamp:   e.Timestamp,
	}
	select {
	case l.alerts <- a:
	default:
		alertsDropped.Inc()
		log.Warn().Str("kind", string(a.Kind)).Msg("alert queue full; alert dropped")
	}
}

// Flush writes buffered events to the store. Concurrent flushes are
// serialized; on failure the batch is put back at the head of the buffer.
func (l *Logger) Flush(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	batch := l.buffer
	l.buffer = nil
	l.inflight = batch
	l.mu.Unlock()

	var err error
	if len(batch) > 0 {
		err = l.store.WriteAuditBatch(ctx, batch)
	}

	l.mu.Lock()
	l.inflight = nil
	if err != nil {
		l.buffer = append(batch, l.buffer...)
		l.enforceMaxLocked()
	}
	n := len(l.buffer)
	l.mu.Unlock()
	bufferSize.Set(float64(n))

	if err != nil {
		return fmt.Errorf("flushing %d audit events: %w", len(batch), err)
	}
	l.trim(ctx)
	return nil
}

func (l *Logger) trim(ctx context.Context) {
	if l.cfg.RetentionDays <= 0 {
		return
	}
	now := l.now()
	if !l.lastTrim.IsZero() && now.Sub(l.lastTrim) < trimInterval {
		return
	}
	l.lastTrim = now
	cutoff := now.Add(-time.Duration(l.cfg.RetentionDays) * 24 * time.Hour)
	n, err := l.store.DeleteAuditBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("audit retention trim failed")
		return
	}
	if n > 0 {
		log.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("audit retention trim")
	}
}

// Buffered reports how many events await flushing.
func (l *Logger) Buffered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer) + len(l.inflight)
}

// Query returns events matching filter from both the durable store and the
// unflushed buffer, newest first.
func (l *Logger) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultQueryLimit
	}
	if filter.Limit > MaxQueryLimit {
		filter.Limit = MaxQueryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	events, err := l.collect(ctx, filter)
	if err != nil {
		return nil, err
	}
	return paginate(events, filter.Offset, filter.Limit), nil
}

// collect merges store and buffer results. The store is asked for enough
// rows to cover offset+limit; a zero Limit fetches everything.
func (l *Logger) collect(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	storeFilter := filter
	storeFilter.Offset = 0
	if filter.Limit > 0 {
		storeFilter.Limit = filter.Offset + filter.Limit
	}
	stored, err := l.store.QueryAuditEvents(ctx, storeFilter)
	if err != nil {
		return nil, fmt.Errorf("querying audit store: %w", err)
	}

	l.mu.Lock()
	pending := make([]*models.AuditEvent, 0, len(l.inflight)+len(l.buffer))
	for _, src := range [][]*models.AuditEvent{l.buffer, l.inflight} {
		for i := len(src) - 1; i >= 0; i-- {
			if filter.Matches(src[i]) {
				cp := *src[i]
				pending = append(pending, &cp)
			}
		}
	}
	l.mu.Unlock()

	seen := make(map[string]struct{}, len(pending)+len(stored))
	out := make([]*models.AuditEvent, 0, len(pending)+len(stored))
	for _, set := range [][]*models.AuditEvent{pending, stored} {
		for _, e := range set {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// GetMetrics summarises the rolling window. Results are cached for
// MetricsTTL unless forceRefresh is set.
func (l *Logger) GetMetrics(ctx context.Context, forceRefresh bool) (models.AuditMetrics, error) {
	if !forceRefresh {
		if m, ok := l.metrics.Get(metricsKey); ok {
			return cloneMetrics(m), nil
		}
	}

	now := l.now().UTC()
	since := now.Add(-l.cfg.MetricsWindow)
	events, err := l.collect(ctx, models.AuditFilter{Since: &since})
	if err != nil {
		return models.AuditMetrics{}, err
	}

	m := aggregate(events)
	m.WindowStart = since
	m.GeneratedAt = now
	l.metrics.Set(metricsKey, m)
	return cloneMetrics(m), nil
}

func aggregate(events []*models.AuditEvent) models.AuditMetrics {
	m := models.AuditMetrics{ViolationsByKind: make(map[models.ViolationKind]int)}
	perPrincipal := make(map[string]int)
	for _, e := range events {
		m.TotalRequests++
		if e.Success {
			m.AuthorizedRequests++
		}
		if e.Violation == "" {
			continue
		}
		m.ViolationsByKind[e.Violation]++
		if e.Violation == models.ViolationRateLimitExceeded {
			m.RateLimitedRequests++
		} else {
			m.UnauthorizedRequests++
		}
		if e.PrincipalID != "" {
			perPrincipal[e.PrincipalID]++
		}
	}

	top := make([]models.PrincipalViolations, 0, len(perPrincipal))
	for id, n := range perPrincipal {
		top = append(top, models.PrincipalViolations{PrincipalID: id, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].PrincipalID < top[j].PrincipalID
	})
	if len(top) > topViolators {
		top = top[:topViolators]
	}
	m.TopViolatingUsers = top
	return m
}

func cloneMetrics(m models.AuditMetrics) models.AuditMetrics {
	kinds := make(map[models.ViolationKind]int, len(m.ViolationsByKind))
	for k, v := range m.ViolationsByKind {
		kinds[k] = v
	}
	m.ViolationsByKind = kinds
	m.TopViolatingUsers = append([]models.PrincipalViolations(nil), m.TopViolatingUsers...)
	return m
}

// VerifySeal reports whether e carries a valid seal. It is false when
// sealing is disabled.
func (l *Logger) VerifySeal(e *models.AuditEvent) bool {
	if l.sealer == nil {
		return false
	}
	return l.sealer.Verify(e)
}

// Close stops the background goroutines and performs a final flush.
func (l *Logger) Close(ctx context.Context) error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stop)
		l.wg.Wait()
		l.metrics.Close()
		err = l.Flush(ctx)
	})
	return err
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		case <-l.flushNow:
		}
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		if err := l.Flush(ctx); err != nil {
			log.Error().Err(err).Msg("audit flush failed")
		}
		cancel()
	}
}

func (l *Logger) alertLoop() {
	defer l.wg.Done()
	for {
		select {
		case a := <-l.alerts:
			l.deliver(a)
		case <-l.stop:
			for {
				select {
				case a := <-l.alerts:
					l.deliver(a)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) deliver(a models.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()
	if err := l.sink.Alert(ctx, a); err != nil {
		log.Error().Err(err).Str("kind", string(a.Kind)).Msg("alert delivery failed")
	}
}

func withMeta(meta map[string]any, k string, v any) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for mk, mv := range meta {
		out[mk] = mv
	}
	out[k] = v
	return out
}
