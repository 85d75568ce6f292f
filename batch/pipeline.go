package batch

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/assessly/codermill/cache"
	"github.com/assessly/codermill/errors"
)

// DefaultSubBatchSize is the number of response updates issued per
// concurrent sub-batch.
const DefaultSubBatchSize = 500

// Pipeline codes one chunk of persons from raw responses to persisted
// code/score/status values. All reads and writes of a run share one
// transaction: a run either commits as a whole or leaves no trace.
type Pipeline struct {
	db           *sql.DB
	store        *Store
	cache        *cache.Cache
	logger       *zap.SugaredLogger
	subBatchSize int
	cacheTTL     time.Duration
}

// NewPipeline creates a batch coding pipeline.
func NewPipeline(db *sql.DB, c *cache.Cache, logger *zap.SugaredLogger, subBatchSize int, cacheTTL time.Duration) *Pipeline {
	if subBatchSize <= 0 {
		subBatchSize = DefaultSubBatchSize
	}
	return &Pipeline{
		db:           db,
		store:        NewStore(db),
		cache:        c,
		logger:       logger,
		subBatchSize: subBatchSize,
		cacheTTL:     cacheTTL,
	}
}

// Run codes the responses of the given persons. The stages run in strict
// order; between every two stages the cancellation predicate is checked,
// and a flagged cancellation rolls the transaction back and returns the
// partial result collected so far. Errors behave the same way: they are
// logged, the transaction is rolled back, and the partial result is
// returned. A caller never sees an error from a chunk failure.
func (p *Pipeline) Run(ctx context.Context, workspaceID int64, personIDs []int64, cancelled func() bool, progress func(int)) *Result {
	result := NewResult()
	report := func(pct int) {
		if progress != nil {
			progress(pct)
		}
	}
	if cancelled == nil {
		cancelled = func() bool { return false }
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		p.logger.Errorw("Batch coding failed to open transaction", "workspace_id", workspaceID, "error", err)
		return result
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				p.logger.Warnw("Batch coding rollback failed", "workspace_id", workspaceID, "error", err)
			}
		}
	}()

	abort := func(stage string, err error) *Result {
		p.logger.Errorw("Batch coding stage failed",
			"workspace_id", workspaceID, "stage", stage, "error", err)
		return result
	}

	// Stage 1: persons
	persons, err := p.store.PersonsByIDs(ctx, tx, workspaceID, personIDs)
	if err != nil {
		return abort("fetch persons", err)
	}
	report(10)
	if cancelled() {
		return result
	}

	// Stage 2: booklets
	ids := make([]int64, len(persons))
	for i, person := range persons {
		ids[i] = person.ID
	}
	booklets, err := p.store.BookletsForPersons(ctx, tx, ids)
	if err != nil {
		return abort("fetch booklets", err)
	}
	report(20)
	if cancelled() {
		return result
	}

	// Stage 3: units
	bookletIDs := make([]int64, len(booklets))
	for i, b := range booklets {
		bookletIDs[i] = b.ID
	}
	units, err := p.store.UnitsForBooklets(ctx, tx, bookletIDs)
	if err != nil {
		return abort("fetch units", err)
	}
	report(30)
	if cancelled() {
		return result
	}

	// Stage 4: responses still awaiting a code
	unitIDs := make([]int64, len(units))
	for i, u := range units {
		unitIDs[i] = u.ID
	}
	responses, err := p.store.IncompleteResponsesForUnits(ctx, tx, unitIDs)
	if err != nil {
		return abort("fetch responses", err)
	}
	report(40)
	if cancelled() {
		return result
	}

	// Stage 5: drop responses for variables the unit does not declare
	unitNames := distinctUnitNames(responses)
	declared, err := p.store.UnitVariables(ctx, tx, workspaceID, unitNames)
	if err != nil {
		return abort("filter responses", err)
	}
	filtered := responses[:0]
	for _, r := range responses {
		if vars, ok := declared[r.UnitName]; ok && vars[r.VariableID] {
			filtered = append(filtered, r)
		}
	}
	responses = filtered
	report(50)
	if cancelled() {
		return result
	}

	// Stage 6: group by unit
	byUnit := make(map[string][]Response)
	for _, r := range responses {
		byUnit[r.UnitName] = append(byUnit[r.UnitName], r)
	}
	report(60)
	if cancelled() {
		return result
	}

	// Stage 7: unit test-definition files, cache first
	unitDefs, err := p.unitDefsCached(ctx, tx, workspaceID, unitNames)
	if err != nil {
		return abort("fetch unit definitions", err)
	}
	report(70)
	if cancelled() {
		return result
	}

	// Stage 8: scheme references per unit
	schemeRefs := make(map[string]string, len(unitDefs))
	for _, def := range unitDefs {
		schemeRefs[def.UnitName] = def.SchemeRef
	}
	report(80)
	if cancelled() {
		return result
	}

	// Stage 9: scheme documents, cache first
	schemes, err := p.schemesCached(ctx, tx, workspaceID, schemeRefs)
	if err != nil {
		return abort("fetch coding schemes", err)
	}
	report(85)
	if cancelled() {
		return result
	}

	// Stage 10: code every response. A unit without a scheme reference
	// codes against the empty scheme, so every response gets a definite
	// outcome.
	var updates []ResponseUpdate
	for _, unitName := range sortedKeys(byUnit) {
		scheme := schemes[schemeRefs[unitName]]
		if scheme == nil {
			scheme = Scheme{}
		}
		for _, r := range byUnit[unitName] {
			update := CodeValue(scheme, r.VariableID, r.Value)
			update.ResponseID = r.ID
			updates = append(updates, update)
			result.Count(update.Status)
		}
	}
	report(90)
	if cancelled() {
		return result
	}

	// Stage 11: write results in concurrent sub-batches
	if err := p.applyConcurrent(ctx, tx, updates); err != nil {
		return abort("write coding results", err)
	}
	report(95)
	if cancelled() {
		return result
	}

	// Stage 12: commit, then refresh derived caches
	if err := tx.Commit(); err != nil {
		return abort("commit", err)
	}
	committed = true

	p.cache.Delete(cache.IncompleteVariablesKey(workspaceID))
	p.refreshStatistics(ctx, workspaceID)
	report(100)

	p.logger.Infow("Batch coding chunk committed",
		"workspace_id", workspaceID,
		"persons", len(persons),
		"responses", result.TotalResponses)

	return result
}

// applyConcurrent fires the update sub-batches concurrently and awaits
// them all. database/sql serializes statements on the transaction's
// connection, so the goroutines contend but never corrupt.
func (p *Pipeline) applyConcurrent(ctx context.Context, tx *sql.Tx, updates []ResponseUpdate) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for start := 0; start < len(updates); start += p.subBatchSize {
		end := start + p.subBatchSize
		if end > len(updates) {
			end = len(updates)
		}
		subBatch := updates[start:end]

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.store.ApplyUpdates(ctx, tx, subBatch); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return firstErr
}

// unitDefsCached returns unit definitions, consulting the process-wide
// cache per unit and loading misses from the store.
func (p *Pipeline) unitDefsCached(ctx context.Context, tx *sql.Tx, workspaceID int64, unitNames []string) ([]UnitDef, error) {
	defs := make([]UnitDef, 0, len(unitNames))
	var misses []string

	for _, name := range unitNames {
		if v, ok := p.cache.Get(cache.UnitDefKey(workspaceID, name)); ok {
			if def, ok := v.(UnitDef); ok {
				defs = append(defs, def)
				continue
			}
		}
		misses = append(misses, name)
	}

	if len(misses) > 0 {
		loaded, err := p.store.UnitDefs(ctx, tx, workspaceID, misses)
		if err != nil {
			return nil, err
		}
		for _, def := range loaded {
			p.cache.Set(cache.UnitDefKey(workspaceID, def.UnitName), def, p.cacheTTL)
			defs = append(defs, def)
		}
	}

	return defs, nil
}

// schemesCached loads and parses the referenced scheme documents, cache
// first. The empty reference maps to the empty scheme.
func (p *Pipeline) schemesCached(ctx context.Context, tx *sql.Tx, workspaceID int64, schemeRefs map[string]string) (map[string]Scheme, error) {
	schemes := map[string]Scheme{"": {}}

	for _, ref := range schemeRefs {
		if ref == "" {
			continue
		}
		if _, done := schemes[ref]; done {
			continue
		}

		if v, ok := p.cache.Get(cache.SchemeKey(workspaceID, ref)); ok {
			if scheme, ok := v.(Scheme); ok {
				schemes[ref] = scheme
				continue
			}
		}

		document, err := p.store.SchemeDocument(ctx, tx, workspaceID, ref)
		if err != nil {
			return nil, err
		}
		scheme, err := ParseScheme(document)
		if err != nil {
			p.logger.Warnw("Unparseable coding scheme, responses will stay incomplete",
				"workspace_id", workspaceID, "ref", ref, "error", err)
			scheme = Scheme{}
		}
		p.cache.Set(cache.SchemeKey(workspaceID, ref), scheme, p.cacheTTL)
		schemes[ref] = scheme
	}

	return schemes, nil
}

// refreshStatistics recomputes the workspace status counts and replaces
// the cached aggregate.
func (p *Pipeline) refreshStatistics(ctx context.Context, workspaceID int64) {
	counts, err := p.store.StatusCounts(ctx, workspaceID)
	if err != nil {
		p.logger.Warnw("Failed to refresh coding statistics",
			"workspace_id", workspaceID, "error", err)
		p.cache.Delete(cache.StatisticsKey(workspaceID))
		return
	}
	p.cache.Set(cache.StatisticsKey(workspaceID), counts, p.cacheTTL)
}

func distinctUnitNames(responses []Response) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range responses {
		if !seen[r.UnitName] {
			seen[r.UnitName] = true
			names = append(names, r.UnitName)
		}
	}
	return names
}

func sortedKeys(m map[string][]Response) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
