// Package filecontext enriches findings with file metadata: owner, labels, a
// coarse sensitivity class, and prior external exposure. Lookups go through a
// bounded LRU so a sweep over a noisy tenant does not hammer the file service.
package filecontext

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"exfilwatch/internal/observability"
)

// Sensitivity is the coarse file classification.
type Sensitivity string

const (
	SensitivityLow     Sensitivity = "low"
	SensitivityMedium  Sensitivity = "medium"
	SensitivityHigh    Sensitivity = "high"
	SensitivityUnknown Sensitivity = "unknown"
)

// Fetch errors that are cacheable as negative results. Transient errors are
// retried and never cached.
var (
	ErrNotFound         = errors.New("file not found")
	ErrPermissionDenied = errors.New("permission denied")
)

// classificationMarkers flag labels that imply at least medium sensitivity
// even when no configured sensitive label matches.
var classificationMarkers = []string{"confidential", "restricted", "internal", "sensitive", "private"}

// FileContext is the enrichment record attached to findings.
type FileContext struct {
	DocID                  string      `json:"doc_id"`
	Title                  string      `json:"title,omitempty"`
	Owner                  string      `json:"owner"`
	Labels                 []string    `json:"labels"`
	Sensitivity            Sensitivity `json:"sensitivity"`
	SharedExternallyBefore bool        `json:"shared_externally_before"`
	FetchedAt              time.Time   `json:"fetched_at"`
}

// Metadata is what a Fetcher returns from the file service; the provider
// derives sensitivity from it.
type Metadata struct {
	DocID            string
	Title            string
	Owner            string
	Labels           []string
	SharedExternally bool
}

// Fetcher talks to the file service. Implementations must be safe for
// concurrent use.
type Fetcher interface {
	FetchMetadata(ctx context.Context, docID string) (*Metadata, error)
}

// OUResolver maps an email to its org unit path; empty string means unknown.
// A nil resolver disables owner-OU sensitivity derivation.
type OUResolver func(email string) string

// Options configures a Provider.
type Options struct {
	CacheSize       int
	TTL             time.Duration
	NegativeTTL     time.Duration
	SensitiveLabels []string
	HighRiskOUs     []string
	ResolveOU       OUResolver
	Retries         int
	RetryBackoff    time.Duration
	CallTimeout     time.Duration
	Metrics         *observability.MetricsManager
}

type cacheEntry struct {
	ctx      *FileContext
	negative bool
	storedAt time.Time
}

// Provider caches FileContext lookups.
type Provider struct {
	fetcher Fetcher
	cache   *lru.Cache[string, cacheEntry]
	opts    Options
	logger  *zap.SugaredLogger

	sensitiveLabels map[string]bool
	highRiskOUs     map[string]bool
}

// NewProvider creates a Provider. Size and TTL defaults apply when zero.
func NewProvider(fetcher Fetcher, opts Options, logger *zap.SugaredLogger) (*Provider, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 10000
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = 5 * time.Minute
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 200 * time.Millisecond
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Second
	}

	cache, err := lru.New[string, cacheEntry](opts.CacheSize)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		fetcher:         fetcher,
		cache:           cache,
		opts:            opts,
		logger:          logger,
		sensitiveLabels: lowerSet(opts.SensitiveLabels),
		highRiskOUs:     make(map[string]bool, len(opts.HighRiskOUs)),
	}
	for _, ou := range opts.HighRiskOUs {
		p.highRiskOUs[ou] = true
	}
	return p, nil
}

// Get returns the FileContext for docID, from cache when fresh. Enrichment
// never fails a finding: on fetch error the caller gets a synthetic context
// with unknown sensitivity.
func (p *Provider) Get(ctx context.Context, docID string) *FileContext {
	if docID == "" {
		return p.synthetic(docID)
	}

	now := time.Now()
	if e, ok := p.cache.Get(docID); ok {
		ttl := p.opts.TTL
		if e.negative {
			ttl = p.opts.NegativeTTL
		}
		if now.Sub(e.storedAt) < ttl {
			if p.opts.Metrics != nil {
				p.opts.Metrics.RecordCacheHit()
			}
			if e.negative {
				return p.synthetic(docID)
			}
			return e.ctx
		}
		p.cache.Remove(docID)
	}
	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordCacheMiss()
	}

	meta, err := p.fetchWithRetry(ctx, docID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermissionDenied) {
			p.cache.Add(docID, cacheEntry{negative: true, storedAt: now})
			p.logger.Debugw("Caching negative file lookup", "doc_id", docID, "error", err)
		} else {
			p.logger.Warnw("File context fetch failed, using synthetic context",
				"doc_id", docID, "error", err)
		}
		return p.synthetic(docID)
	}

	fc := &FileContext{
		DocID:                  docID,
		Title:                  meta.Title,
		Owner:                  meta.Owner,
		Labels:                 sortedLabels(meta.Labels),
		Sensitivity:            p.deriveSensitivity(meta),
		SharedExternallyBefore: meta.SharedExternally,
		FetchedAt:              now,
	}
	p.cache.Add(docID, cacheEntry{ctx: fc, storedAt: now})
	return fc
}

func (p *Provider) fetchWithRetry(ctx context.Context, docID string) (*Metadata, error) {
	backoff := p.opts.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= p.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
		meta, err := p.fetcher.FetchMetadata(callCtx, docID)
		cancel()
		if err == nil {
			return meta, nil
		}
		lastErr = err
		// Definitive answers are not worth retrying.
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermissionDenied) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// deriveSensitivity: configured sensitive label or high-risk owner OU means
// high; any classification-looking label means medium; else low.
func (p *Provider) deriveSensitivity(meta *Metadata) Sensitivity {
	for _, label := range meta.Labels {
		if p.sensitiveLabels[strings.ToLower(label)] {
			return SensitivityHigh
		}
	}
	if p.opts.ResolveOU != nil && meta.Owner != "" {
		if ou := p.opts.ResolveOU(meta.Owner); ou != "" && p.highRiskOUs[ou] {
			return SensitivityHigh
		}
	}
	for _, label := range meta.Labels {
		l := strings.ToLower(label)
		for _, marker := range classificationMarkers {
			if strings.Contains(l, marker) {
				return SensitivityMedium
			}
		}
	}
	return SensitivityLow
}

func (p *Provider) synthetic(docID string) *FileContext {
	return &FileContext{
		DocID:       docID,
		Labels:      []string{},
		Sensitivity: SensitivityUnknown,
		FetchedAt:   time.Now(),
	}
}

// Len reports the number of cached entries.
func (p *Provider) Len() int {
	return p.cache.Len()
}

func lowerSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, s := range in {
		out[strings.ToLower(s)] = true
	}
	return out
}

func sortedLabels(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out
}
