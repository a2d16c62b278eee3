// Package assembler rebuilds product documents from a flat bulk export in
// which every child row points at its parent through __parentId.
//
// Rows are processed in file order. A Product row opens an aggregate; the
// previous aggregate is complete once a Product row with a different id
// arrives, and is handed to the writer right away. Children that arrive
// before their product are held as stubs, bounded by MaxInMemory. Rows whose
// parent was already handed to the writer are kept as orphans and applied as
// partial updates after the stream ends.
package assembler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/utafrali/catalog-indexer/internal/domain"
	"github.com/utafrali/catalog-indexer/internal/engine"
)

// Config tunes memory use.
type Config struct {
	// MaxInMemory is the aggregate count that triggers eviction.
	MaxInMemory int

	// OrphanBatchSize bounds each partial update request of the post-pass.
	OrphanBatchSize int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{MaxInMemory: 1000, OrphanBatchSize: 500}
}

// Sink receives complete documents. The batch writer implements it.
type Sink interface {
	Add(ctx context.Context, doc *domain.ProductDocument) error
	Flush(ctx context.Context) error
	LowestUnwritten() int64
}

// Patcher applies partial updates for orphan rows.
type Patcher interface {
	BulkAppend(ctx context.Context, index string, updates []engine.Append) ([]*domain.WriteError, error)
}

// Stats summarizes one stream.
type Stats struct {
	Lines      int64
	Skipped    int64
	Malformed  int64
	Ignored    int64
	Products   int64
	Duplicates int64
	Evictions  int64
	Orphans    int
	Patched    int
	NotFound   int
	PatchFails int
}

type aggregate struct {
	doc     *domain.ProductDocument
	hasRoot bool
}

type orphan struct {
	fields    map[string][]any
	firstLine int64
}

// Assembler is owned by one run and is not safe for concurrent use.
type Assembler struct {
	cfg     Config
	sink    Sink
	patcher Patcher
	index   string
	ranks   map[string]int
	logger  *slog.Logger

	arena   map[string]*aggregate
	order   []string // arena keys in insertion order, compacted lazily
	current string

	flushed     map[string]struct{}
	skipped     map[string]struct{}
	seen        map[string]struct{}
	collections map[string]domain.CollectionRef
	memberships map[string][]membership
	orphans     map[string]*orphan

	line  int64
	done  int64 // last line fully handled
	stats Stats
}

type membership struct {
	ref  domain.CollectionRef
	line int64
}

// New creates an assembler writing complete documents to sink and orphan
// updates to index through patcher. ranks maps normalized product ids to
// best-seller ranks and may be nil.
func New(cfg Config, sink Sink, patcher Patcher, index string, ranks map[string]int, logger *slog.Logger) *Assembler {
	if cfg.MaxInMemory <= 0 {
		cfg.MaxInMemory = DefaultConfig().MaxInMemory
	}
	if cfg.OrphanBatchSize <= 0 {
		cfg.OrphanBatchSize = DefaultConfig().OrphanBatchSize
	}
	return &Assembler{
		cfg:         cfg,
		sink:        sink,
		patcher:     patcher,
		index:       index,
		ranks:       ranks,
		logger:      logger,
		arena:       make(map[string]*aggregate),
		flushed:     make(map[string]struct{}),
		skipped:     make(map[string]struct{}),
		seen:        make(map[string]struct{}),
		collections: make(map[string]domain.CollectionRef),
		memberships: make(map[string][]membership),
		orphans:     make(map[string]*orphan),
	}
}

// Process streams r, skipping lines up to and including startAfter, and hands
// every complete document to the sink. It flushes the sink before returning.
func (a *Assembler) Process(ctx context.Context, r io.Reader, startAfter int64) (*Stats, error) {
	br := bufio.NewReaderSize(r, 1<<20)

	for {
		data, readErr := br.ReadBytes('\n')
		if len(data) > 0 {
			a.line++
			if a.line%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return &a.stats, err
				}
			}
			if err := a.processLine(ctx, bytes.TrimRight(data, "\r\n"), startAfter); err != nil {
				return &a.stats, err
			}
			a.done = a.line
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return &a.stats, fmt.Errorf("read export line %d: %w", a.line+1, readErr)
		}
	}
	a.stats.Lines = a.line

	if err := a.flushAll(ctx); err != nil {
		return &a.stats, err
	}
	if err := a.sink.Flush(ctx); err != nil {
		return &a.stats, err
	}
	a.stats.Orphans = len(a.orphans)
	return &a.stats, nil
}

func (a *Assembler) processLine(ctx context.Context, data []byte, startAfter int64) error {
	if a.line <= startAfter {
		a.stats.Skipped++
		if id, ok := domain.PeekProductID(data); ok {
			a.skipped[id] = struct{}{}
			a.markSeen(id)
		}
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	row, err := domain.ParseRow(a.line, data)
	if err != nil {
		a.stats.Malformed++
		malformedLines.Inc()
		a.logger.WarnContext(ctx, "skipping malformed export line",
			slog.Int64("line", a.line),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := a.handle(ctx, row); err != nil {
		return err
	}
	if len(a.arena) > a.cfg.MaxInMemory {
		return a.evict(ctx)
	}
	return nil
}

func (a *Assembler) handle(ctx context.Context, row *domain.Row) error {
	switch row.Kind {
	case domain.RowProduct:
		return a.onProduct(ctx, row)
	case domain.RowProductVariant:
		a.attach(row.ParentID, row.Line, "variants", withID(row))
	case domain.RowProductOption:
		a.attach(row.ParentID, row.Line, "options", withID(row))
	case domain.RowMediaImage:
		a.attach(row.ParentID, row.Line, "images", imageItem(row))
	case domain.RowProductCollection:
		a.attachCollection(row.ParentID, row.Line, collectionRef(row.ID, row.Fields))
	case domain.RowCollection:
		a.collections[row.ID] = collectionRef(row.ID, row.Fields)
	case domain.RowCollectionProduct:
		ref, ok := a.collections[row.ParentID]
		if !ok {
			ref = domain.CollectionRef{ID: row.ParentID}
		}
		a.attachCollection(row.ID, row.Line, ref)
	case domain.RowCollectionImage:
		// Collection artwork is not part of product documents.
	default:
		a.stats.Ignored++
	}
	return nil
}

func (a *Assembler) onProduct(ctx context.Context, row *domain.Row) error {
	a.markSeen(row.ID)

	if a.current != "" && a.current != row.ID {
		if err := a.completeCurrent(ctx); err != nil {
			return err
		}
	}

	if agg, ok := a.arena[row.ID]; ok {
		mergeRoot(agg, row)
		a.current = row.ID
		return nil
	}

	if a.isFlushed(row.ID) {
		a.duplicateRoot(ctx, row)
		return nil
	}

	agg := &aggregate{doc: &domain.ProductDocument{ID: row.ID, FirstLine: row.Line}}
	mergeRoot(agg, row)
	a.arena[row.ID] = agg
	a.order = append(a.order, row.ID)
	a.current = row.ID
	a.stats.Products++
	return nil
}

// completeCurrent hands the aggregate of the previous Product row to the sink.
func (a *Assembler) completeCurrent(ctx context.Context) error {
	id := a.current
	a.current = ""
	if _, ok := a.arena[id]; !ok {
		return nil
	}
	if err := a.flush(ctx, id); err != nil {
		return err
	}
	if len(a.order) > 2*a.cfg.MaxInMemory {
		a.compactOrder()
	}
	return nil
}

// duplicateRoot handles a Product row whose document was already written or
// skipped on resume. Its inline options are appended like any late child;
// scalar fields keep the values of the first occurrence.
func (a *Assembler) duplicateRoot(ctx context.Context, row *domain.Row) {
	a.stats.Duplicates++
	if opts, ok := row.Fields["options"].([]any); ok {
		for _, o := range opts {
			if m, ok := o.(map[string]any); ok {
				a.addOrphan(row.ID, row.Line, "options", m)
			}
		}
	}
	a.logger.DebugContext(ctx, "product row repeats a written document",
		slog.String("id", row.ID),
		slog.Int64("line", row.Line),
	)
}

func (a *Assembler) compactOrder() {
	kept := a.order[:0]
	for _, id := range a.order {
		if _, ok := a.arena[id]; ok {
			kept = append(kept, id)
		}
	}
	a.order = kept
}

func mergeRoot(agg *aggregate, row *domain.Row) {
	agg.hasRoot = true
	if agg.doc.Fields == nil {
		agg.doc.Fields = make(map[string]any, len(row.Fields))
	}
	for k, v := range row.Fields {
		if k == "options" {
			if opts, ok := v.([]any); ok {
				for _, o := range opts {
					if m, ok := o.(map[string]any); ok {
						agg.doc.Options = append(agg.doc.Options, m)
					}
				}
				continue
			}
		}
		agg.doc.Fields[k] = v
	}
	if row.Line < agg.doc.FirstLine || agg.doc.FirstLine == 0 {
		agg.doc.FirstLine = row.Line
	}
}

// target returns the aggregate for a child row's parent, creating a stub when
// the parent has not been seen yet. It returns nil when the row must become
// an orphan.
func (a *Assembler) target(parentID string, line int64) *aggregate {
	if agg, ok := a.arena[parentID]; ok {
		return agg
	}
	if a.isFlushed(parentID) {
		return nil
	}
	stub := &aggregate{doc: &domain.ProductDocument{ID: parentID, FirstLine: line}}
	a.arena[parentID] = stub
	a.order = append(a.order, parentID)
	return stub
}

func (a *Assembler) isFlushed(id string) bool {
	if _, ok := a.flushed[id]; ok {
		return true
	}
	_, ok := a.skipped[id]
	return ok
}

func (a *Assembler) attach(parentID string, line int64, field string, item map[string]any) {
	agg := a.target(parentID, line)
	if agg == nil {
		a.addOrphan(parentID, line, field, item)
		return
	}
	switch field {
	case "variants":
		agg.doc.Variants = append(agg.doc.Variants, item)
	case "options":
		agg.doc.Options = append(agg.doc.Options, item)
	case "images":
		agg.doc.Images = append(agg.doc.Images, item)
	}
}

func (a *Assembler) attachCollection(productID string, line int64, ref domain.CollectionRef) {
	if agg, ok := a.arena[productID]; ok {
		agg.doc.AddCollection(ref)
		return
	}
	if a.isFlushed(productID) {
		a.addOrphan(productID, line, "collections", ref.Source())
		a.addOrphan(productID, line, "collectionIds", domain.NormalizeID(ref.ID))
		return
	}
	// The product row has not arrived yet.
	a.memberships[productID] = append(a.memberships[productID], membership{ref: ref, line: line})
}

func (a *Assembler) addOrphan(parentID string, line int64, field string, item any) {
	o, ok := a.orphans[parentID]
	if !ok {
		o = &orphan{fields: make(map[string][]any), firstLine: line}
		a.orphans[parentID] = o
	}
	o.fields[field] = append(o.fields[field], item)
}

func (a *Assembler) markSeen(id string) {
	a.seen[id] = struct{}{}
	a.seen[domain.NormalizeID(id)] = struct{}{}
}

// evict flushes the oldest complete aggregates until the arena holds at most
// half of MaxInMemory. The current aggregate is never evicted.
func (a *Assembler) evict(ctx context.Context) error {
	target := a.cfg.MaxInMemory / 2
	a.stats.Evictions++

	kept := a.order[:0]
	for i, id := range a.order {
		if _, ok := a.arena[id]; !ok {
			continue
		}
		if len(a.arena) <= target || id == a.current {
			kept = append(kept, id)
			continue
		}
		if err := a.flush(ctx, id); err != nil {
			a.order = append(kept, a.order[i:]...)
			return err
		}
	}
	a.order = kept
	return nil
}

func (a *Assembler) flushAll(ctx context.Context) error {
	for _, id := range a.order {
		if _, ok := a.arena[id]; !ok {
			continue
		}
		if err := a.flush(ctx, id); err != nil {
			return err
		}
	}
	a.order = a.order[:0]
	a.current = ""

	// Memberships for products that never appeared in this stream.
	for productID, ms := range a.memberships {
		for _, m := range ms {
			a.addOrphan(productID, m.line, "collections", m.ref.Source())
			a.addOrphan(productID, m.line, "collectionIds", domain.NormalizeID(m.ref.ID))
		}
		delete(a.memberships, productID)
	}
	return nil
}

// flush hands one aggregate to the sink and frees its slot. A stub without
// a root row becomes an orphan; a later Product row for it still opens a
// fresh aggregate.
func (a *Assembler) flush(ctx context.Context, id string) error {
	agg := a.arena[id]
	delete(a.arena, id)

	if !agg.hasRoot {
		a.stubToOrphan(agg)
		return nil
	}
	a.flushed[id] = struct{}{}

	doc := agg.doc
	for _, m := range a.memberships[id] {
		doc.AddCollection(m.ref)
	}
	delete(a.memberships, id)
	for i, ref := range doc.Collections {
		if ref.Title == "" {
			if known, ok := a.collections[ref.ID]; ok {
				doc.Collections[i] = known
			}
		}
	}
	if rank, ok := a.ranks[doc.DocID()]; ok {
		doc.Rank = &rank
	}
	doc.Derive()

	return a.sink.Add(ctx, doc)
}

func (a *Assembler) stubToOrphan(agg *aggregate) {
	doc := agg.doc
	line := doc.FirstLine
	for _, v := range doc.Variants {
		a.addOrphan(doc.ID, line, "variants", v)
	}
	for _, o := range doc.Options {
		a.addOrphan(doc.ID, line, "options", o)
	}
	for _, img := range doc.Images {
		a.addOrphan(doc.ID, line, "images", img)
	}
	for _, c := range doc.Collections {
		a.addOrphan(doc.ID, line, "collections", c.Source())
		a.addOrphan(doc.ID, line, "collectionIds", domain.NormalizeID(c.ID))
	}
}

// ApplyOrphans sends pending orphan rows as partial updates in batches.
// Documents missing from the index are counted, not treated as errors.
func (a *Assembler) ApplyOrphans(ctx context.Context) error {
	if len(a.orphans) == 0 {
		return nil
	}

	updates := make([]engine.Append, 0, a.cfg.OrphanBatchSize)
	send := func() error {
		if len(updates) == 0 {
			return nil
		}
		failed, err := a.patcher.BulkAppend(ctx, a.index, updates)
		if err != nil {
			return fmt.Errorf("apply orphan updates: %w", err)
		}
		for _, f := range failed {
			if engine.IsNotFound(f) {
				a.stats.NotFound++
				continue
			}
			a.stats.PatchFails++
			a.logger.WarnContext(ctx, "orphan update rejected",
				slog.String("id", f.ID),
				slog.String("error", f.Error()),
			)
		}
		a.stats.Patched += len(updates) - len(failed)
		updates = updates[:0]
		return nil
	}

	for parentID, o := range a.orphans {
		updates = append(updates, engine.Append{ID: domain.NormalizeID(parentID), Fields: o.fields})
		delete(a.orphans, parentID)
		if len(updates) >= a.cfg.OrphanBatchSize {
			if err := send(); err != nil {
				return err
			}
		}
	}
	if err := send(); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "orphan post-pass complete",
		slog.Int("patched", a.stats.Patched),
		slog.Int("not_found", a.stats.NotFound),
		slog.Int("failed", a.stats.PatchFails),
	)
	return nil
}

// SafeLine returns the highest line L such that every line up to L is
// reflected in the index: one less than the lowest first line still held in
// the arena, the orphan index, pending memberships or the writer buffer,
// and never past the last fully handled line.
func (a *Assembler) SafeLine() int64 {
	lowest := a.sink.LowestUnwritten()
	consider := func(line int64) {
		if line > 0 && (lowest == 0 || line < lowest) {
			lowest = line
		}
	}
	for _, agg := range a.arena {
		consider(agg.doc.FirstLine)
	}
	for _, o := range a.orphans {
		consider(o.firstLine)
	}
	for _, ms := range a.memberships {
		for _, m := range ms {
			consider(m.line)
		}
	}
	if lowest == 0 || lowest-1 > a.done {
		return a.done
	}
	return lowest - 1
}

// Seen returns every root product id met in the stream, including skipped
// lines, raw and normalized.
func (a *Assembler) Seen() map[string]struct{} {
	return a.seen
}

// Stats returns the counters collected so far.
func (a *Assembler) Stats() Stats {
	return a.stats
}

func withID(row *domain.Row) map[string]any {
	item := make(map[string]any, len(row.Fields)+1)
	for k, v := range row.Fields {
		item[k] = v
	}
	item["id"] = row.ID
	return item
}

// imageItem flattens MediaImage rows, whose URL sits under "image".
func imageItem(row *domain.Row) map[string]any {
	item := withID(row)
	if img, ok := item["image"].(map[string]any); ok {
		for _, k := range []string{"url", "width", "height", "altText"} {
			if v, ok := img[k]; ok {
				if _, exists := item[k]; !exists {
					item[k] = v
				}
			}
		}
		delete(item, "image")
	}
	return item
}

func collectionRef(id string, fields map[string]any) domain.CollectionRef {
	handle, _ := fields["handle"].(string)
	title, _ := fields["title"].(string)
	return domain.CollectionRef{ID: id, Handle: handle, Title: title}
}
