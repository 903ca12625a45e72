package core

// TokenIndex addresses a single token slot in a KV cache pool. Index 0 is a
// permanent sentinel: it is never handed out by any allocator and serves as
// the dummy target for writes from padded tokens and as "unmapped" in
// translation tables.
type TokenIndex = int64

// PageID addresses one page (a fixed-size run of token slots) in a paged
// pool. Page 0 is the sentinel page and never enters a free list.
type PageID = int64

// BatchDemand packs the two reductions of a batched allocation pass (fresh
// pages needed, tokens written) into a single uint64 so the aggregate can be
// produced, stored, and compared as one value. Both counts must fit in 32
// bits, which bounds a single batch at 4G tokens.
type BatchDemand uint64

// PackDemand builds a BatchDemand from a page count and a token count.
func PackDemand(pages, tokens int64) BatchDemand {
	return BatchDemand(uint64(uint32(pages))<<32 | uint64(uint32(tokens)))
}

// Pages returns the fresh-page half of the demand.
func (d BatchDemand) Pages() int64 {
	return int64(d >> 32)
}

// Tokens returns the token half of the demand.
func (d BatchDemand) Tokens() int64 {
	return int64(uint32(d))
}
