package main

import (
	"errors"
	"math/rand"

	"go.uber.org/zap"

	"github.com/23skdu/kvalloc/internal/alloc"
)

// request is one simulated sequence: admitted with a prompt, grown one token
// per decode step, retired when it reaches its target length.
type request struct {
	id        int64
	seqLen    int64
	targetLen int64
	lastLoc   int64
	indices   []int64

	// ttl drives retirement for the hybrid variant, whose allocations do
	// not grow after admission.
	ttl int64

	// dead marks a request evicted mid-step; its indices are already freed.
	dead bool
}

// simulator drives an allocator through a synthetic serving loop: admissions,
// batched decode steps, retirements through free groups, and eviction of the
// oldest request when the pool runs out.
type simulator struct {
	cfg    Config
	a      alloc.Allocator
	rng    *rand.Rand
	logger *zap.Logger

	running []*request
	nextID  int64

	admitted  int64
	retired   int64
	evicted   int64
	rejected  int64
	decSteps  int64
	decTokens int64
}

func newSimulator(cfg Config, a alloc.Allocator, logger *zap.Logger) *simulator {
	return &simulator{
		cfg:    cfg,
		a:      a,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: logger,
	}
}

func (s *simulator) run() {
	for step := 0; step < s.cfg.Steps; step++ {
		s.admit()
		s.decode()
		s.retire()

		if step%100 == 0 {
			msg, used := s.a.LogUsage(0)
			s.logger.Info("pool usage",
				zap.Int("step", step),
				zap.String("pools", msg),
				zap.Int64("used_tokens", used),
				zap.Int("running", len(s.running)))
		}
	}

	s.logger.Info("simulation finished",
		zap.Int64("admitted", s.admitted),
		zap.Int64("retired", s.retired),
		zap.Int64("evicted", s.evicted),
		zap.Int64("rejected", s.rejected),
		zap.Int64("decode_steps", s.decSteps),
		zap.Int64("decode_tokens", s.decTokens),
		zap.String("pool", s.a.DebugString()))
}

// admit prefills one new request per step. On ErrNoSpace it evicts the
// oldest running request and retries once.
func (s *simulator) admit() {
	half := max(s.cfg.MaxSeqLen/2, 1)
	promptLen := 1 + s.rng.Int63n(half)
	targetLen := promptLen + 1 + s.rng.Int63n(half)

	req := &request{
		id:        s.nextID,
		seqLen:    promptLen,
		targetLen: targetLen,
		lastLoc:   -1,
		ttl:       1 + s.rng.Int63n(32),
	}

	indices, err := s.prefill(req)
	if errors.Is(err, alloc.ErrNoSpace) {
		s.evictOldest()
		indices, err = s.prefill(req)
	}
	if err != nil {
		if errors.Is(err, alloc.ErrNoSpace) {
			s.rejected++
			return
		}
		s.logger.Error("prefill failed", zap.Int64("request", req.id), zap.Error(err))
		return
	}

	req.indices = indices
	req.lastLoc = indices[len(indices)-1]
	s.nextID++
	s.admitted++
	s.running = append(s.running, req)
}

func (s *simulator) prefill(req *request) ([]int64, error) {
	switch s.cfg.Variant {
	case "paged":
		return s.a.AllocExtend(
			[]int64{0}, []int64{req.seqLen}, []int64{-1}, req.seqLen)
	case "hybrid":
		// The hybrid pool allocates whole pages only; round the prompt up
		// and let the tail slots ride along until retirement.
		need := ceilMul(req.seqLen, s.cfg.PageSize)
		out, err := s.a.Alloc(need)
		if err != nil {
			return nil, err
		}
		req.seqLen = need
		return out, nil
	default:
		return s.a.Alloc(req.seqLen)
	}
}

// decode appends one token to every running request. The paged variant
// extends the whole batch in one kernel call; the others grow requests at
// retirement-rounded sizes and skip per-step growth.
func (s *simulator) decode() {
	if len(s.running) == 0 {
		return
	}
	if s.cfg.Variant == "hybrid" {
		for _, req := range s.running {
			req.ttl--
		}
		return
	}

	if s.cfg.Variant == "flat" {
		for _, req := range s.running {
			if req.dead || req.seqLen >= req.targetLen {
				continue
			}
			out, err := s.a.Alloc(1)
			if errors.Is(err, alloc.ErrNoSpace) {
				s.evictOldest()
				// The eviction may have taken this request itself; its
				// indices are freed, so growing it would leak the slot.
				if req.dead {
					continue
				}
				out, err = s.a.Alloc(1)
			}
			if err != nil {
				continue
			}
			req.indices = append(req.indices, out...)
			req.seqLen++
			req.lastLoc = out[0]
			s.decTokens++
		}
		s.decSteps++
		return
	}

	growing := make([]*request, 0, len(s.running))
	for _, req := range s.running {
		if req.seqLen < req.targetLen {
			growing = append(growing, req)
		}
	}
	if len(growing) == 0 {
		return
	}

	seqLens := make([]int64, len(growing))
	lastLoc := make([]int64, len(growing))
	for i, req := range growing {
		seqLens[i] = req.seqLen + 1
		lastLoc[i] = req.lastLoc
	}

	out, err := s.a.AllocDecode(seqLens, lastLoc)
	if errors.Is(err, alloc.ErrNoSpace) {
		s.evictOldest()
		// The eviction may have removed a member of the batch; rebuild on
		// the next step rather than retrying a stale one.
		return
	}
	if err != nil {
		s.logger.Error("decode failed", zap.Error(err))
		return
	}

	for i, req := range growing {
		req.indices = append(req.indices, out[i])
		req.seqLen++
		req.lastLoc = out[i]
	}
	s.decSteps++
	s.decTokens += int64(len(out))
}

// retire frees every finished request inside one free group, so the step's
// releases hit the free list as a single batch.
func (s *simulator) retire() {
	var done []*request
	keep := s.running[:0]
	for _, req := range s.running {
		if s.finished(req) {
			done = append(done, req)
		} else {
			keep = append(keep, req)
		}
	}
	s.running = keep
	if len(done) == 0 {
		return
	}

	s.a.FreeGroupBegin()
	for _, req := range done {
		s.a.Free(req.indices)
	}
	s.a.FreeGroupEnd()
	s.retired += int64(len(done))
}

func (s *simulator) finished(req *request) bool {
	if s.cfg.Variant == "hybrid" {
		return req.ttl <= 0
	}
	return req.seqLen >= req.targetLen
}

func (s *simulator) evictOldest() {
	if len(s.running) == 0 {
		return
	}
	victim := s.running[0]
	s.running = s.running[1:]
	victim.dead = true
	s.a.Free(victim.indices)
	s.evicted++
	s.logger.Debug("evicted request",
		zap.Int64("request", victim.id),
		zap.Int64("seq_len", victim.seqLen))
}

func ceilMul(a, b int64) int64 { return (a + b - 1) / b * b }
