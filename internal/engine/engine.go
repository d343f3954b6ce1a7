// Package engine wires the detection pipeline: fetch both audit streams,
// correlate per actor, enrich and classify each candidate, resolve severity,
// and emit the findings batch.
package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"exfilwatch/internal/baseline"
	"exfilwatch/internal/config"
	"exfilwatch/internal/correlate"
	"exfilwatch/internal/events"
	"exfilwatch/internal/filecontext"
	"exfilwatch/internal/findings"
	"exfilwatch/internal/intent"
	"exfilwatch/internal/kvstore"
	"exfilwatch/internal/observability"
	"exfilwatch/internal/reconstate"
	"exfilwatch/internal/severity"
	"exfilwatch/internal/source"
)

// Options assembles an Engine. Recon and Exfil default to a file replay
// client built from the config sources; Files defaults to a fetcher that
// reports every doc as not found, degrading context to synthetic records.
type Options struct {
	Config  *config.Config
	Logger  *zap.SugaredLogger
	Recon   source.ReconSource
	Exfil   source.ExfilSource
	Files   filecontext.Fetcher
	Metrics *observability.MetricsManager
	Clock   func() time.Time
	Stdout  io.Writer
}

// Result summarizes one completed sweep.
type Result struct {
	Findings   int
	BySeverity map[string]int
	Suppressed int
	// Partial marks a sweep cut short by cancellation; the findings gathered
	// before the cut were still emitted.
	Partial bool
}

// HasHigh reports whether the sweep produced at least one high finding.
func (r *Result) HasHigh() bool {
	return r.BySeverity["high"] > 0
}

// Engine runs detection sweeps.
type Engine struct {
	cfg     *config.Config
	logger  *zap.SugaredLogger
	metrics *observability.MetricsManager
	clock   func() time.Time

	recon source.ReconSource
	exfil source.ExfilSource

	db         *kvstore.DB
	store      *reconstate.Store
	baselines  *baseline.Tracker
	files      *filecontext.Provider
	classifier *intent.Classifier
	resolver   *severity.Resolver
	correlator *correlate.Correlator
	emitter    *findings.Emitter
	webhook    *findings.Webhook
}

// notFoundFetcher stands in when no file service is wired.
type notFoundFetcher struct{}

func (notFoundFetcher) FetchMetadata(_ context.Context, _ string) (*filecontext.Metadata, error) {
	return nil, filecontext.ErrNotFound
}

// New builds an Engine from validated config.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	logger := opts.Logger
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		metrics: opts.Metrics,
		clock:   opts.Clock,
		recon:   opts.Recon,
		exfil:   opts.Exfil,
	}

	if e.recon == nil || e.exfil == nil {
		client := source.NewFileClient(cfg.Sources.ReconPath, cfg.Sources.ExfilPath, logger)
		client.SetMetrics(e.metrics)
		if e.recon == nil {
			e.recon = client
		}
		if e.exfil == nil {
			e.exfil = client
		}
	}

	var (
		scoreBackend    reconstate.Backend
		baselineBackend baseline.Backend
	)
	switch cfg.ReconStateBackend {
	case config.BackendKV:
		db, err := kvstore.Open(cfg.KVPath, cfg.KVTTL(), logger)
		if err != nil {
			return nil, fmt.Errorf("open kv state: %w", err)
		}
		e.db = db
		scoreBackend = reconstate.NewKVBackend(db)
		baselineBackend = baseline.NewKVBackend(db)
	default:
		scoreBackend = reconstate.NewMemoryBackend()
		baselineBackend = baseline.NewMemoryBackend()
	}

	e.store = reconstate.New(scoreBackend, cfg.HalfLife(), logger)
	e.store.SetMetrics(e.metrics)
	e.baselines = baseline.New(baselineBackend, logger)
	e.baselines.SetMetrics(e.metrics)

	fetcher := opts.Files
	if fetcher == nil {
		fetcher = notFoundFetcher{}
	}
	ouLookup := func(email string) string {
		return cfg.ActorOUs[events.NormalizeEmail(email)]
	}
	files, err := filecontext.NewProvider(fetcher, filecontext.Options{
		CacheSize:       cfg.FileCacheSize,
		TTL:             cfg.FileCacheTTL(),
		SensitiveLabels: cfg.SeverityOverrides.SensitiveLabels,
		HighRiskOUs:     cfg.SeverityOverrides.HighRiskOUs,
		ResolveOU:       ouLookup,
		Retries:         cfg.BackendRetries,
		CallTimeout:     cfg.BackendTimeout(),
		Metrics:         e.metrics,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("file context provider: %w", err)
	}
	e.files = files

	e.classifier = intent.New(intent.Options{
		AllowedExternalDomains: cfg.Suppressions.AllowedExternalDomains,
		PartnerDomains:         cfg.PartnerDomains,
		MaliciousThreshold:     cfg.Intent.MaliciousThreshold,
		SuspiciousThreshold:    cfg.Intent.SuspiciousThreshold,
		RoutineSharesPerDay:    cfg.Intent.RoutineSharesPerDay,
		Location:               cfg.Location(),
	})

	e.resolver = severity.New(severity.Options{
		HighRiskOUs:              cfg.SeverityOverrides.HighRiskOUs,
		HighRiskFolders:          cfg.HighRiskFolders,
		ExcludeActors:            cfg.Suppressions.ExcludeActors,
		SecurityInvestigationOUs: cfg.Suppressions.SecurityInvestigationOUs,
		CanaryDocIDs:             cfg.CanaryDocIDs,
	})

	e.correlator = correlate.New(e.store, e.baselines, correlate.Options{
		Window:           cfg.Window(),
		DelayedThreshold: cfg.DelayedThreshold,
		SkewTolerance:    cfg.SkewTolerance(),
		Workers:          cfg.Workers,
	}, logger, opts.Metrics)

	e.emitter = findings.NewEmitter(logger, opts.Stdout)
	e.webhook = findings.NewWebhook(cfg.Alerting.WebhookURL, cfg.Alerting.AlertOnSeverities, logger, opts.Metrics)

	return e, nil
}

// Close releases the persistent state backends.
func (e *Engine) Close() error {
	if err := e.store.Close(); err != nil {
		return err
	}
	if err := e.baselines.Close(); err != nil {
		return err
	}
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

// Run executes one sweep over [now - lookback, now] and emits the findings
// batch to outputPath ("" means stdout). Source failures abort before any
// state change; cancellation after ingest emits the partial batch.
func (e *Engine) Run(ctx context.Context, outputPath string) (*Result, error) {
	started := e.clock()
	now := started
	start := now.Add(-time.Duration(e.cfg.LookbackHours) * time.Hour)

	reconEvents, err := e.recon.FetchRecon(ctx, start, now)
	if err != nil {
		return nil, fmt.Errorf("fetch recon: %w", err)
	}
	exfilEvents, err := e.exfil.FetchExfil(ctx, start, now)
	if err != nil {
		return nil, fmt.Errorf("fetch exfil: %w", err)
	}
	if e.metrics != nil {
		e.metrics.RecordIngested(observability.StreamRecon, len(reconEvents))
		e.metrics.RecordIngested(observability.StreamExfil, len(exfilEvents))
	}
	e.logger.Infow("Sweep started",
		"window_start", start, "window_end", now,
		"recon_events", len(reconEvents), "exfil_events", len(exfilEvents))

	matches, corrErr := e.correlator.Correlate(ctx, reconEvents, exfilEvents, now)
	if corrErr != nil {
		e.logger.Warnw("Correlation interrupted, emitting partial batch",
			"matches", len(matches), "error", corrErr)
	}

	result := &Result{BySeverity: map[string]int{}, Partial: corrErr != nil}
	batch := make([]*findings.Finding, 0, len(matches))
	for _, m := range matches {
		if f := e.resolveMatch(ctx, m); f != nil {
			batch = append(batch, f)
			result.BySeverity[f.Severity]++
		} else {
			result.Suppressed++
		}
	}
	result.Findings = len(batch)

	if err := e.emitter.Emit(batch, outputPath); err != nil {
		return result, err
	}
	if err := e.webhook.Dispatch(ctx, batch); err != nil {
		return result, err
	}

	if e.metrics != nil {
		e.metrics.RecordSweep(e.clock().Sub(started))
	}
	e.logger.Infow("Sweep finished",
		"findings", result.Findings,
		"by_severity", result.BySeverity,
		"suppressed", result.Suppressed,
		"partial", result.Partial)
	return result, nil
}

// resolveMatch runs one candidate through enrichment, intent, and severity.
// Returns nil when the candidate is dropped.
func (e *Engine) resolveMatch(ctx context.Context, m *correlate.Match) *findings.Finding {
	var fileCtx *filecontext.FileContext
	if m.Exfil.DocID != "" {
		fileCtx = e.files.Get(ctx, m.Exfil.DocID)
	}

	analysis := e.classifier.Classify(&intent.Input{
		Exfil:      m.Exfil,
		Recon:      m.Recon,
		FileCtx:    fileCtx,
		ReconScore: m.ReconScore,
		Baseline:   m.Baseline,
	})

	actor := events.NormalizeEmail(m.Exfil.Actor)
	decision := e.resolver.Resolve(&severity.Candidate{
		Exfil:        m.Exfil,
		DeltaMinutes: m.DeltaMinutes,
		ReconScore:   m.ReconScore,
		FileCtx:      fileCtx,
		Analysis:     analysis,
		ActorOU:      e.cfg.ActorOUs[actor],
	})
	if decision.Drop {
		e.logger.Debugw("Candidate dropped",
			"actor", actor, "exfil_event", m.Exfil.EventID, "cause", decision.DropCause)
		if e.metrics != nil {
			e.metrics.RecordSuppression()
		}
		return nil
	}

	if m.BurstScore >= correlate.BurstyThreshold && m.Recon != nil {
		decision.Reasons = append(decision.Reasons, "bursty recon pattern")
		decision.ReasonCodes = append(decision.ReasonCodes, "bursty_recon")
	}

	f := findings.Build(m.Exfil, m.Recon, m.DeltaMinutes, m.ReconScore,
		fileCtx, analysis, decision, strings.Join(decision.Reasons, "; "), e.cfg.Location())
	if e.metrics != nil {
		e.metrics.RecordFinding(f.Severity)
	}
	return f
}
