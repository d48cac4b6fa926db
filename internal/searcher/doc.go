// Package searcher implements hybrid retrieval over one library file.
//
// A search embeds the query and runs two legs concurrently: cosine
// similarity over stored embeddings and BM25 over the FTS index. Each leg's
// scores are min-max normalized within its own candidate set, then blended
// as alpha*vector + (1-alpha)*lexical. Candidates are over-fetched at 4x the
// requested K so fusion sees chunks that ranked well on only one signal.
//
// The alpha endpoints are exact: alpha 1 runs only the vector leg and alpha
// 0 runs only the keyword leg without ever calling the embedder. Between the
// endpoints, a failing keyword leg degrades the search to vector-only with a
// warning on the response; a failing embedder fails the search.
//
// Optional post-processing on the truncated result set: cross-encoder
// reranking (reorders, never changes membership) and context expansion,
// which pulls adjacent chunks by id and clips at source file boundaries.
package searcher
