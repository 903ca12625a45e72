package kvcache

// SWAPool pairs a full-attention pool with a smaller sliding-window pool.
// The hybrid allocator keeps both consistent: every live full-attention slot
// has a sliding-window counterpart recorded in the translation table.
type SWAPool struct {
	full *TokenPool
	swa  *TokenPool

	// fullToSWA maps a full-pool index to its sliding-window counterpart;
	// 0 means unmapped. Owned and written by the hybrid allocator, read here.
	fullToSWA []int64
}

// NewSWAPool composes the two sub-pools.
func NewSWAPool(full, swa *TokenPool) *SWAPool {
	return &SWAPool{full: full, swa: swa}
}

// Full returns the full-attention sub-pool.
func (p *SWAPool) Full() *TokenPool { return p.full }

// SWA returns the sliding-window sub-pool.
func (p *SWAPool) SWA() *TokenPool { return p.swa }

// SetFullToSWAMapping installs the allocator-owned translation table. The
// pool never writes through it.
func (p *SWAPool) SetFullToSWAMapping(mapping []int64) {
	p.fullToSWA = mapping
}

// FullToSWAMapping returns the installed translation table, or nil if no
// hybrid allocator has been attached yet.
func (p *SWAPool) FullToSWAMapping() []int64 { return p.fullToSWA }

// GetCPUCopy implements Store against the full-attention sub-pool.
func (p *SWAPool) GetCPUCopy(indices []int64) ([][]byte, error) {
	return p.full.GetCPUCopy(indices)
}

// LoadCPUCopy implements Store against the full-attention sub-pool.
func (p *SWAPool) LoadCPUCopy(data [][]byte, indices []int64) error {
	return p.full.LoadCPUCopy(data, indices)
}

// ItemSize implements Store.
func (p *SWAPool) ItemSize() int64 { return p.full.ItemSize() }

// Slots implements Store.
func (p *SWAPool) Slots() int64 { return p.full.Slots() }

// Release implements Store, releasing both sub-pools.
func (p *SWAPool) Release() {
	p.full.Release()
	p.swa.Release()
}

var _ Store = (*SWAPool)(nil)
