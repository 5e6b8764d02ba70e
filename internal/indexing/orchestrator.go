package indexing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/searchbridge/internal/content"
	"github.com/kailas-cloud/searchbridge/internal/domain"
	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/domain/query"
	"github.com/kailas-cloud/searchbridge/internal/domain/result"
	"github.com/kailas-cloud/searchbridge/internal/engine"
	"github.com/kailas-cloud/searchbridge/internal/metrics"
	"github.com/kailas-cloud/searchbridge/internal/queue"
)

// DefaultBatchSize is the import batch size when the config leaves it unset.
const DefaultBatchSize = 100

// ImportReport summarizes one full index import.
type ImportReport struct {
	Index    string        `json:"index"`
	Total    int           `json:"total"`
	Indexed  int           `json:"indexed"`
	Failed   int           `json:"failed"`
	Batches  int           `json:"batches"`
	Swapped  bool          `json:"swapped"`
	Duration time.Duration `json:"duration"`
}

// PartialError reports an import that indexed some batches and lost others.
// The surviving documents stay indexed; callers decide whether to retry.
type PartialError struct {
	Report ImportReport
	Errs   []error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("import %s: %d of %d documents failed across %d batches",
		e.Report.Index, e.Report.Failed, e.Report.Total, len(e.Errs))
}

func (e *PartialError) Unwrap() error {
	if len(e.Errs) > 0 {
		return e.Errs[0]
	}
	return nil
}

// Status is the operational snapshot of one index.
type Status struct {
	Handle     string `json:"handle"`
	Engine     string `json:"engine"`
	Mode       string `json:"mode"`
	Enabled    bool   `json:"enabled"`
	Reachable  bool   `json:"reachable"`
	Exists     bool   `json:"exists"`
	Documents  int    `json:"documents"`
	InRepo     int    `json:"inRepo"`
	AtomicSwap bool   `json:"atomicSwap"`
}

// Orchestrator coordinates content events, the mapper, and engine adapters.
// It owns no engine state: adapters are built per call from the index
// configuration, and items are re-resolved at task execution time so stale
// event payloads can never reach an engine.
type Orchestrator struct {
	store     IndexStore
	repo      content.Repository
	resolver  DocumentResolver
	adapters  AdapterSource
	deps      engine.Deps
	tasks     queue.Queue
	batchSize int
	logger    *zap.Logger
}

// Config carries the orchestrator's collaborators.
type Config struct {
	Store     IndexStore
	Repo      content.Repository
	Resolver  DocumentResolver
	Adapters  AdapterSource
	Deps      engine.Deps
	Tasks     queue.Queue
	BatchSize int
	Logger    *zap.Logger
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     cfg.Store,
		repo:      cfg.Repo,
		resolver:  cfg.Resolver,
		adapters:  cfg.Adapters,
		deps:      cfg.Deps,
		tasks:     cfg.Tasks,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
	}
}

func (o *Orchestrator) adapterFor(idx domidx.Index) (engine.Adapter, error) {
	return o.adapters.Build(idx, o.deps)
}

// HandleEvent fans one content event out into queued tasks. Enqueueing is the
// only work done in the event path; all resolution happens in the worker.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev content.Event) error {
	indexes, err := o.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}
	for _, task := range AffectedOps(ev, indexes) {
		if err := o.tasks.Enqueue(ctx, task); err != nil {
			return fmt.Errorf("enqueue %s %s: %w", task.Op, task.Index, err)
		}
	}
	return nil
}

// UpsertItem re-resolves one item and writes it to one index. The item is
// fetched fresh: if it vanished or left the index's scope since the event
// fired, the document is deleted instead. Duplicate or reordered deliveries
// converge on the repository's current state.
func (o *Orchestrator) UpsertItem(ctx context.Context, handle string, itemID int64) error {
	idx, err := o.store.Get(ctx, handle)
	if err != nil {
		return err
	}
	if !idx.Enabled() || idx.IndexMode() != domidx.ModeSynced {
		return nil
	}
	adapter, err := o.adapterFor(idx)
	if err != nil {
		return err
	}

	item, err := o.repo.ItemByID(ctx, itemID)
	if errors.Is(err, domain.ErrNotFound) {
		return o.deleteDocument(ctx, adapter, idx, itemID)
	}
	if err != nil {
		return fmt.Errorf("load item %d: %w", itemID, err)
	}
	if !idx.InScope(item.ContentType, item.Site) {
		return o.deleteDocument(ctx, adapter, idx, itemID)
	}

	doc := o.resolver.ResolveItem(&item, idx)
	if err := adapter.IndexDocuments(ctx, idx, []engine.Document{doc}); err != nil {
		metrics.EngineErrorsTotal.WithLabelValues(handle, idx.EngineType(), "upsert").Inc()
		return err
	}
	metrics.DocumentsIndexedTotal.WithLabelValues(handle, idx.EngineType()).Inc()
	return nil
}

// DeleteItem removes one item's document from one index. Idempotent.
func (o *Orchestrator) DeleteItem(ctx context.Context, handle string, itemID int64) error {
	idx, err := o.store.Get(ctx, handle)
	if err != nil {
		return err
	}
	adapter, err := o.adapterFor(idx)
	if err != nil {
		return err
	}
	return o.deleteDocument(ctx, adapter, idx, itemID)
}

func (o *Orchestrator) deleteDocument(ctx context.Context, adapter engine.Adapter, idx domidx.Index, itemID int64) error {
	if err := adapter.DeleteDocument(ctx, idx, strconv.FormatInt(itemID, 10)); err != nil {
		metrics.EngineErrorsTotal.WithLabelValues(idx.Handle(), idx.EngineType(), "delete").Inc()
		return err
	}
	return nil
}

// ImportIndex walks every scope of the index in batches and upserts the
// resolved documents in place. A failed batch is recorded and the import
// continues; partial failure is reported, not hidden.
func (o *Orchestrator) ImportIndex(ctx context.Context, handle string) (ImportReport, error) {
	idx, err := o.store.Get(ctx, handle)
	if err != nil {
		return ImportReport{}, err
	}
	adapter, err := o.adapterFor(idx)
	if err != nil {
		return ImportReport{}, err
	}
	if err := o.ensureIndex(ctx, adapter, idx); err != nil {
		return ImportReport{}, err
	}

	start := time.Now()
	report := ImportReport{Index: handle}
	var batchErrs []error

	err = o.walkBatches(ctx, idx, func(docs []engine.Document) error {
		report.Batches++
		report.Total += len(docs)
		if err := adapter.IndexDocuments(ctx, idx, docs); err != nil {
			report.Failed += len(docs)
			batchErrs = append(batchErrs, err)
			metrics.EngineErrorsTotal.WithLabelValues(handle, idx.EngineType(), "import").Inc()
			o.logger.Error("import batch failed",
				zap.String("index", handle),
				zap.Int("batch", report.Batches),
				zap.Error(err),
			)
			return nil
		}
		report.Indexed += len(docs)
		metrics.DocumentsIndexedTotal.WithLabelValues(handle, idx.EngineType()).Add(float64(len(docs)))
		return nil
	})
	report.Duration = time.Since(start)
	metrics.ImportDuration.WithLabelValues(handle, idx.EngineType(), "in_place").Observe(report.Duration.Seconds())
	if err != nil {
		return report, err
	}

	if len(batchErrs) > 0 {
		return report, &PartialError{Report: report, Errs: batchErrs}
	}
	o.logger.Info("import complete",
		zap.String("index", handle),
		zap.Int("documents", report.Indexed),
		zap.Duration("took", report.Duration),
	)
	return report, nil
}

// walkBatches streams the index's scoped items through the resolver in
// batchSize chunks and hands each chunk to sink.
func (o *Orchestrator) walkBatches(ctx context.Context, idx domidx.Index, sink func([]engine.Document) error) error {
	for _, scope := range idx.Scopes() {
		offset := 0
		for {
			items, err := o.repo.ItemsByScope(ctx, scope.ContentType, scope.Site, offset, o.batchSize)
			if err != nil {
				return fmt.Errorf("items %s/%s at %d: %w", scope.ContentType, scope.Site, offset, err)
			}
			if len(items) == 0 {
				break
			}

			docs := make([]engine.Document, 0, len(items))
			for i := range items {
				docs = append(docs, o.resolver.ResolveItem(&items[i], idx))
			}
			if err := sink(docs); err != nil {
				return err
			}

			if len(items) < o.batchSize {
				break
			}
			offset += len(items)
		}
	}
	return nil
}

// ensureIndex creates the remote index when missing and applies the current
// field-type settings either way.
func (o *Orchestrator) ensureIndex(ctx context.Context, adapter engine.Adapter, idx domidx.Index) error {
	exists, err := adapter.IndexExists(ctx, idx)
	if err != nil {
		return err
	}
	if !exists {
		if err := adapter.CreateIndex(ctx, idx); err != nil {
			return err
		}
		return nil
	}
	return adapter.UpdateIndexSettings(ctx, idx)
}

// FlushIndex removes every document, leaving the index configured but empty.
func (o *Orchestrator) FlushIndex(ctx context.Context, handle string) error {
	idx, err := o.store.Get(ctx, handle)
	if err != nil {
		return err
	}
	adapter, err := o.adapterFor(idx)
	if err != nil {
		return err
	}
	if err := adapter.ClearIndex(ctx, idx); err != nil {
		metrics.EngineErrorsTotal.WithLabelValues(handle, idx.EngineType(), "flush").Inc()
		return err
	}
	o.logger.Info("index flushed", zap.String("index", handle))
	return nil
}

// DropIndex removes the remote engine index. The stored configuration is the
// caller's to delete separately.
func (o *Orchestrator) DropIndex(ctx context.Context, handle string) error {
	idx, err := o.store.Get(ctx, handle)
	if err != nil {
		return err
	}
	adapter, err := o.adapterFor(idx)
	if err != nil {
		return err
	}
	exists, err := adapter.IndexExists(ctx, idx)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := adapter.DeleteIndex(ctx, idx); err != nil {
		metrics.EngineErrorsTotal.WithLabelValues(handle, idx.EngineType(), "drop").Inc()
		return err
	}
	o.logger.Info("engine index dropped", zap.String("index", handle))
	return nil
}

// RefreshIndex rebuilds an index from scratch. On swap-capable engines the
// rebuild happens in a hidden backing index and goes live atomically; queries
// never observe an empty or partial index. Elsewhere it degrades to flush
// then import, with a visible window of incompleteness.
func (o *Orchestrator) RefreshIndex(ctx context.Context, handle string) (ImportReport, error) {
	ok, err := o.SupportsAtomicSwap(ctx, handle)
	if err != nil {
		return ImportReport{}, err
	}
	if ok {
		return o.ImportIndexForSwap(ctx, handle)
	}

	if err := o.FlushIndex(ctx, handle); err != nil {
		return ImportReport{}, err
	}
	return o.ImportIndex(ctx, handle)
}

// SupportsAtomicSwap reports whether the index's engine can rebuild behind an
// alias.
func (o *Orchestrator) SupportsAtomicSwap(ctx context.Context, handle string) (bool, error) {
	idx, err := o.store.Get(ctx, handle)
	if err != nil {
		return false, err
	}
	adapter, err := o.adapterFor(idx)
	if err != nil {
		return false, err
	}
	_, ok := engine.AsSwapper(adapter)
	return ok, nil
}

// ImportIndexForSwap rebuilds the index into a fresh backing index, verifies
// the backing document count against what was written, then commits the alias
// swap. Any failure aborts and discards the backing; the live index is never
// touched until commit. Unlike in-place import, a failed batch here fails the
// whole rebuild: committing a known-incomplete backing would defeat the point.
func (o *Orchestrator) ImportIndexForSwap(ctx context.Context, handle string) (ImportReport, error) {
	idx, err := o.store.Get(ctx, handle)
	if err != nil {
		return ImportReport{}, err
	}
	adapter, err := o.adapterFor(idx)
	if err != nil {
		return ImportReport{}, err
	}
	swapper, ok := engine.AsSwapper(adapter)
	if !ok {
		return ImportReport{}, fmt.Errorf("%w: %s", domain.ErrSwapNotSupported, idx.EngineType())
	}
	if err := o.ensureIndex(ctx, adapter, idx); err != nil {
		return ImportReport{}, err
	}

	start := time.Now()
	backing, err := swapper.BeginSwap(ctx, idx)
	if err != nil {
		return ImportReport{}, err
	}

	report := ImportReport{Index: handle, Swapped: true}
	abort := func(cause error) (ImportReport, error) {
		if abortErr := swapper.AbortSwap(ctx, idx, backing); abortErr != nil {
			o.logger.Error("swap abort failed",
				zap.String("index", handle),
				zap.String("backing", backing),
				zap.Error(abortErr),
			)
		}
		return report, cause
	}

	err = o.walkBatches(ctx, idx, func(docs []engine.Document) error {
		report.Batches++
		report.Total += len(docs)
		if err := swapper.IndexDocumentsTo(ctx, idx, backing, docs); err != nil {
			report.Failed += len(docs)
			return err
		}
		report.Indexed += len(docs)
		return nil
	})
	if err != nil {
		metrics.EngineErrorsTotal.WithLabelValues(handle, idx.EngineType(), "swap_import").Inc()
		return abort(err)
	}

	count, err := swapper.CountBacking(ctx, idx, backing)
	if err != nil {
		return abort(err)
	}
	if count != report.Indexed {
		return abort(fmt.Errorf("%w: backing holds %d documents, expected %d",
			domain.ErrEngine, count, report.Indexed))
	}

	if err := swapper.CommitSwap(ctx, idx, backing); err != nil {
		metrics.EngineErrorsTotal.WithLabelValues(handle, idx.EngineType(), "swap_commit").Inc()
		return abort(err)
	}

	report.Duration = time.Since(start)
	metrics.ImportDuration.WithLabelValues(handle, idx.EngineType(), "swap").Observe(report.Duration.Seconds())
	o.logger.Info("swap rebuild complete",
		zap.String("index", handle),
		zap.String("backing", backing),
		zap.Int("documents", report.Indexed),
		zap.Duration("took", report.Duration),
	)
	return report, nil
}

// GetDocument fetches one indexed document by id, domain.ErrDocumentNotFound
// when the engine has no such document.
func (o *Orchestrator) GetDocument(ctx context.Context, handle, id string) (engine.Document, error) {
	idx, err := o.store.Get(ctx, handle)
	if err != nil {
		return nil, err
	}
	adapter, err := o.adapterFor(idx)
	if err != nil {
		return nil, err
	}
	return engine.NewDocumentRef(adapter, idx, id).Resolve(ctx)
}

// Search runs a query against an index through its adapter.
func (o *Orchestrator) Search(ctx context.Context, handle, queryText string, opts *query.Options) (result.Result, error) {
	idx, err := o.store.Get(ctx, handle)
	if err != nil {
		return result.Result{}, err
	}
	adapter, err := o.adapterFor(idx)
	if err != nil {
		return result.Result{}, err
	}

	start := time.Now()
	res, err := adapter.Search(ctx, idx, queryText, opts)
	metrics.SearchDuration.WithLabelValues(handle, idx.EngineType()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EngineErrorsTotal.WithLabelValues(handle, idx.EngineType(), "search").Inc()
		return result.Result{}, err
	}
	return res, nil
}

// IndexStatus gathers an operational snapshot: connectivity, existence,
// remote document count, and the in-repo item count it should converge to.
func (o *Orchestrator) IndexStatus(ctx context.Context, handle string) (Status, error) {
	idx, err := o.store.Get(ctx, handle)
	if err != nil {
		return Status{}, err
	}
	adapter, err := o.adapterFor(idx)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		Handle:  idx.Handle(),
		Engine:  idx.EngineType(),
		Mode:    string(idx.IndexMode()),
		Enabled: idx.Enabled(),
	}
	_, st.AtomicSwap = engine.AsSwapper(adapter)

	st.Reachable = adapter.TestConnection(ctx)
	if !st.Reachable {
		return st, nil
	}

	st.Exists, err = adapter.IndexExists(ctx, idx)
	if err != nil {
		return st, err
	}
	if st.Exists {
		st.Documents, err = adapter.GetDocumentCount(ctx, idx)
		if err != nil {
			return st, err
		}
	}

	for _, scope := range idx.Scopes() {
		n, err := o.repo.CountByScope(ctx, scope.ContentType, scope.Site)
		if err != nil {
			return st, err
		}
		st.InRepo += n
	}
	return st, nil
}
