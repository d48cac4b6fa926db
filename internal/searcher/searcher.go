package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/docpack-mcp/internal/embedder"
	"github.com/dshills/docpack-mcp/internal/reranker"
	"github.com/dshills/docpack-mcp/internal/storage"
	"github.com/dshills/docpack-mcp/pkg/types"
)

const (
	// DefaultK is the result count when the request doesn't set one.
	DefaultK = 10
	// MaxK caps the result count.
	MaxK = 100
	// DefaultAlpha weights semantic similarity over keyword relevance.
	DefaultAlpha = 0.7
	// DefaultCacheTTL is how long cached responses stay valid.
	DefaultCacheTTL = time.Hour

	// overFetchFactor widens each leg's candidate pool so fusion has
	// material to work with before truncating to K.
	overFetchFactor = 4

	cacheSize = 1000
)

// Request contains parameters for one search operation. HybridAlpha must be
// in [0, 1]: 1 is pure semantic, 0 is pure keyword, and the zero value
// therefore means keyword-only — callers wanting a blend set it explicitly
// (DefaultAlpha is the usual choice).
type Request struct {
	Query       string
	K           int
	HybridAlpha float64

	// ContentVersion restricts candidates before fusion; empty means all.
	ContentVersion string

	// ContextBefore/ContextAfter request that many adjacent chunks from the
	// same source file around each hit.
	ContextBefore int
	ContextAfter  int

	// Rerank reorders the truncated result set with the configured
	// cross-encoder. Membership never changes.
	Rerank bool

	UseCache bool
	CacheTTL time.Duration
}

// Response contains search results and execution metadata.
type Response struct {
	Results []types.SearchResult

	// Warnings records degradations that did not fail the search, such as
	// the keyword leg erroring out.
	Warnings []string

	Duration time.Duration
	CacheHit bool
	Reranked bool

	VectorCandidates  int
	LexicalCandidates int
}

// cacheEntry represents a cached response with expiration time
type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Searcher coordinates hybrid retrieval over one library.
type Searcher struct {
	store    storage.Store
	embedder embedder.Embedder
	reranker reranker.Reranker // nil when not configured
	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheMu  sync.Mutex
}

// New creates a Searcher. The reranker may be nil; requests asking for
// reranking then fail with ErrConfiguration.
func New(store storage.Store, emb embedder.Embedder, rr reranker.Reranker) *Searcher {
	cache, err := lru.New[[32]byte, *cacheEntry](cacheSize)
	if err != nil {
		// only possible with an invalid size constant
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &Searcher{
		store:    store,
		embedder: emb,
		reranker: rr,
		cache:    cache,
	}
}

// Search runs one hybrid search. The embedder failing is fatal when the
// request needs it; the keyword leg failing degrades to vector-only with a
// warning.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, err
	}

	if req.UseCache {
		if cached := s.checkCache(req); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			return cached, nil
		}
	}

	response, err := s.runSearch(ctx, req)
	if err != nil {
		return nil, err
	}

	response.Duration = time.Since(startTime)

	if req.UseCache {
		s.storeInCache(req, response)
	}

	return response, nil
}

// InvalidateCache drops all cached responses. Called after a rebuild changes
// the underlying library.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

func (s *Searcher) validateRequest(req *Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("%w: query cannot be empty", types.ErrConfiguration)
	}
	if req.HybridAlpha < 0 || req.HybridAlpha > 1 {
		return fmt.Errorf("%w: hybridAlpha must be in [0, 1], got %g", types.ErrConfiguration, req.HybridAlpha)
	}
	if req.ContextBefore < 0 || req.ContextAfter < 0 {
		return fmt.Errorf("%w: context counts cannot be negative", types.ErrConfiguration)
	}
	if req.Rerank && s.reranker == nil {
		return fmt.Errorf("%w: reranking requested but no reranker configured", types.ErrConfiguration)
	}
	if req.K <= 0 {
		req.K = DefaultK
	}
	if req.K > MaxK {
		req.K = MaxK
	}
	if req.CacheTTL == 0 {
		req.CacheTTL = DefaultCacheTTL
	}
	return nil
}

// legResult holds the output of one concurrent search leg.
type legResult struct {
	vector  []storage.VectorResult
	lexical []storage.FTSResult
	err     error
}

func (s *Searcher) runSearch(ctx context.Context, req Request) (*Response, error) {
	fetchLimit := req.K * overFetchFactor
	filters := &storage.SearchFilters{ContentVersion: req.ContentVersion}

	var vectorRes, lexicalRes legResult
	warnings := []string{}

	// Alpha endpoints run exactly one leg. In particular alpha 0 must never
	// touch the embedder.
	switch {
	case req.HybridAlpha == 1:
		vectorRes = s.runVectorLeg(ctx, req.Query, fetchLimit, filters)
		if vectorRes.err != nil {
			return nil, vectorRes.err
		}
	case req.HybridAlpha == 0:
		lexicalRes = s.runLexicalLeg(ctx, req.Query, fetchLimit, filters)
		if lexicalRes.err != nil {
			return nil, fmt.Errorf("keyword search failed: %w", lexicalRes.err)
		}
	default:
		vectorChan := make(chan legResult, 1)
		lexicalChan := make(chan legResult, 1)

		go func() {
			res := s.runVectorLeg(ctx, req.Query, fetchLimit, filters)
			select {
			case vectorChan <- res:
			case <-ctx.Done():
			}
		}()
		go func() {
			res := s.runLexicalLeg(ctx, req.Query, fetchLimit, filters)
			select {
			case lexicalChan <- res:
			case <-ctx.Done():
			}
		}()

		var vectorDone, lexicalDone bool
		for !vectorDone || !lexicalDone {
			select {
			case vectorRes = <-vectorChan:
				vectorDone = true
			case lexicalRes = <-lexicalChan:
				lexicalDone = true
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		// Semantic signal is required; keyword signal is best-effort
		if vectorRes.err != nil {
			return nil, vectorRes.err
		}
		if lexicalRes.err != nil {
			warnings = append(warnings,
				fmt.Sprintf("keyword search failed, returning vector-only results: %v", lexicalRes.err))
			lexicalRes.lexical = nil
		}
	}

	fused := fuse(vectorRes.vector, lexicalRes.lexical, req.HybridAlpha)
	if len(fused) > req.K {
		fused = fused[:req.K]
	}

	results, fetchWarnings, err := s.fetchResults(ctx, fused, req)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, fetchWarnings...)

	response := &Response{
		Results:           results,
		Warnings:          warnings,
		VectorCandidates:  len(vectorRes.vector),
		LexicalCandidates: len(lexicalRes.lexical),
	}

	if req.Rerank && len(results) > 1 {
		if err := s.rerankResults(ctx, req.Query, results); err != nil {
			response.Warnings = append(response.Warnings,
				fmt.Sprintf("reranking failed, keeping fused order: %v", err))
		} else {
			response.Reranked = true
		}
	}

	return response, nil
}

func (s *Searcher) runVectorLeg(ctx context.Context, query string, limit int, filters *storage.SearchFilters) legResult {
	var res legResult
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		res.err = fmt.Errorf("failed to embed query: %w", err)
		return res
	}
	res.vector, res.err = s.store.VectorSearch(ctx, vector, limit, filters)
	return res
}

func (s *Searcher) runLexicalLeg(ctx context.Context, query string, limit int, filters *storage.SearchFilters) legResult {
	var res legResult
	res.lexical, res.err = s.store.FTSSearch(ctx, query, limit, filters)
	return res
}

// fusedCandidate carries one chunk through fusion.
type fusedCandidate struct {
	chunkID  int64
	score    float64
	vecScore float64
	lexScore float64
}

// fuse min-max normalizes each leg's scores within its own candidate set,
// then blends them as alpha*vector + (1-alpha)*lexical. A chunk absent from
// a leg contributes 0 for that signal. Normalization is monotonic, so at the
// alpha endpoints the fused ordering is exactly the surviving leg's ordering.
func fuse(vector []storage.VectorResult, lexical []storage.FTSResult, alpha float64) []fusedCandidate {
	vecNorm := normalizeVector(vector)
	lexNorm := normalizeLexical(lexical)

	byID := make(map[int64]*fusedCandidate, len(vecNorm)+len(lexNorm))
	for id, score := range vecNorm {
		byID[id] = &fusedCandidate{chunkID: id, vecScore: score}
	}
	for id, score := range lexNorm {
		if c, ok := byID[id]; ok {
			c.lexScore = score
		} else {
			byID[id] = &fusedCandidate{chunkID: id, lexScore: score}
		}
	}

	fused := make([]fusedCandidate, 0, len(byID))
	for _, c := range byID {
		c.score = alpha*c.vecScore + (1-alpha)*c.lexScore
		fused = append(fused, *c)
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].chunkID < fused[j].chunkID
	})
	return fused
}

func normalizeVector(results []storage.VectorResult) map[int64]float64 {
	if len(results) == 0 {
		return nil
	}
	minScore, maxScore := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < minScore {
			minScore = r.Score
		}
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}

	norm := make(map[int64]float64, len(results))
	for _, r := range results {
		norm[r.ChunkID] = minMax(r.Score, minScore, maxScore)
	}
	return norm
}

func normalizeLexical(results []storage.FTSResult) map[int64]float64 {
	if len(results) == 0 {
		return nil
	}
	minScore, maxScore := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < minScore {
			minScore = r.Score
		}
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}

	norm := make(map[int64]float64, len(results))
	for _, r := range results {
		norm[r.ChunkID] = minMax(r.Score, minScore, maxScore)
	}
	return norm
}

// minMax maps score onto [0,1] within its set. A degenerate set where every
// candidate scored the same maps to 1: those candidates all matched equally.
func minMax(score, minScore, maxScore float64) float64 {
	if maxScore == minScore {
		return 1
	}
	return (score - minScore) / (maxScore - minScore)
}

// fetchResults loads chunk data for the truncated candidates and expands
// surrounding context where requested. Corruption aborts the search; any
// other load failure drops the hit with a warning.
func (s *Searcher) fetchResults(ctx context.Context, fused []fusedCandidate, req Request) ([]types.SearchResult, []string, error) {
	results := make([]types.SearchResult, 0, len(fused))
	var warnings []string

	for _, cand := range fused {
		chunk, err := s.store.GetChunk(ctx, cand.chunkID)
		if err != nil {
			if errors.Is(err, types.ErrCorrupted) {
				return nil, nil, fmt.Errorf("failed to load chunk %d: %w", cand.chunkID, err)
			}
			warnings = append(warnings,
				fmt.Sprintf("dropped result: failed to load chunk %d: %v", cand.chunkID, err))
			continue
		}

		result := types.SearchResult{
			ChunkID:        cand.chunkID,
			Rank:           len(results) + 1,
			Score:          cand.score,
			VectorScore:    cand.vecScore,
			LexicalScore:   cand.lexScore,
			Content:        chunk.Content,
			Metadata:       chunk.Metadata,
			ContentVersion: chunk.ContentVersion,
		}

		if req.ContextBefore > 0 {
			before, err := s.store.GetByIDRange(ctx, chunk.Metadata.SourceFile,
				cand.chunkID-int64(req.ContextBefore), cand.chunkID-1)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to expand context: %w", err)
			}
			result.ContextBefore = before
		}
		if req.ContextAfter > 0 {
			after, err := s.store.GetByIDRange(ctx, chunk.Metadata.SourceFile,
				cand.chunkID+1, cand.chunkID+int64(req.ContextAfter))
			if err != nil {
				return nil, nil, fmt.Errorf("failed to expand context: %w", err)
			}
			result.ContextAfter = after
		}

		results = append(results, result)
	}

	return results, warnings, nil
}

// rerankResults reorders results in place by cross-encoder relevance. Ties
// keep the fused order.
func (s *Searcher) rerankResults(ctx context.Context, query string, results []types.SearchResult) error {
	documents := make([]string, len(results))
	for i, r := range results {
		documents[i] = r.Content
	}

	scores, err := s.reranker.Rerank(ctx, query, documents)
	if err != nil {
		return err
	}
	if len(scores) != len(results) {
		return fmt.Errorf("%w: got %d scores for %d results", types.ErrReranker, len(scores), len(results))
	}

	for i := range results {
		results[i].Score = scores[i]
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return nil
}

// checkCache looks up a cached response, dropping expired entries.
func (s *Searcher) checkCache(req Request) *Response {
	hash := computeQueryHash(req)

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	entry, found := s.cache.Get(hash)
	if !found {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		s.cache.Remove(hash)
		return nil
	}
	return copyResponse(entry.response)
}

func (s *Searcher) storeInCache(req Request, response *Response) {
	entry := &cacheEntry{
		response:  copyResponse(response),
		expiresAt: time.Now().Add(req.CacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

// copyResponse deep copies a response so cache entries can't be mutated by
// callers.
func copyResponse(src *Response) *Response {
	if src == nil {
		return nil
	}

	dst := &Response{
		Results:           make([]types.SearchResult, len(src.Results)),
		Warnings:          append([]string(nil), src.Warnings...),
		Duration:          src.Duration,
		CacheHit:          src.CacheHit,
		Reranked:          src.Reranked,
		VectorCandidates:  src.VectorCandidates,
		LexicalCandidates: src.LexicalCandidates,
	}
	for i, r := range src.Results {
		cp := r
		cp.ContextBefore = append([]types.StoredChunk(nil), r.ContextBefore...)
		cp.ContextAfter = append([]types.StoredChunk(nil), r.ContextAfter...)
		dst.Results[i] = cp
	}
	return dst
}

// computeQueryHash builds a deterministic cache key from everything that can
// change a response.
func computeQueryHash(req Request) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	fmt.Fprintf(&data, "|%d|%g|%s|%d|%d|%t",
		req.K, req.HybridAlpha, req.ContentVersion,
		req.ContextBefore, req.ContextAfter, req.Rerank)
	return sha256.Sum256([]byte(data.String()))
}
