package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolAvailableTokens tracks the number of free token slots per pool.
	PoolAvailableTokens = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kvalloc_pool_available_tokens",
			Help: "Number of currently free token slots per cache pool",
		},
		[]string{"pool"}, // e.g. "flat", "paged", "full", "swa"
	)

	// PagesAllocatedTotal counts pages drawn from free lists.
	PagesAllocatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvalloc_pages_allocated_total",
			Help: "Total number of pages drawn from pool free lists",
		},
		[]string{"pool"},
	)

	// PagesFreedTotal counts pages returned to free lists.
	PagesFreedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvalloc_pages_freed_total",
			Help: "Total number of pages returned to pool free lists",
		},
		[]string{"pool"},
	)

	// AllocRejectionsTotal counts allocation calls rejected for lack of capacity.
	AllocRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvalloc_alloc_rejections_total",
			Help: "Total number of allocation calls rejected due to insufficient free pages",
		},
		[]string{"pool", "op"}, // op: "alloc", "alloc_extend", "alloc_decode"
	)

	// FreeGroupFlushesTotal counts deferred-free scopes flushed on FreeGroupEnd.
	FreeGroupFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kvalloc_free_group_flushes_total",
			Help: "Total number of deferred free groups flushed",
		},
	)
)
