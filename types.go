package strata

import (
	"os"
	"sync"
	"sync/atomic"
)


//============================================= Strata Types


// Ref is the opaque 64-bit identity of a Node. A Ref less than the
// allocator's current file boundary names a byte offset inside the file;
// a Ref at or above the boundary names an offset inside a transient slab,
// resolved through the allocator's slab table. RefNull means "no node".
type Ref uint64

const RefNull Ref = 0

// Options configures OpenEmpty, OpenFile, OpenBuffer and OpenSharedGroup.
// It mirrors the teacher's MariOpts and the configuration knobs
// enumerated in spec.md §6. Of its fields, the code reads only
// NodePoolSize and Logger; the others are carried but not consulted.
type Options struct {
	// Path is not read: OpenFile and OpenSharedGroup take the database path as an argument, and OpenEmpty builds a Group with no backing file.
	Path string
	// ReadOnly is not read: OpenFile's readOnly argument decides whether a Group may commit.
	ReadOnly bool
	// NodePoolSize is the number of pre-allocated Nodes kept on hand to avoid GC churn under heavy mutation.
	NodePoolSize int64
	// EnableReplication is not read: SharedGroup.Interrupt / ClearInterrupt work whatever its value.
	EnableReplication bool
	// MemDiagnostics is not read; no allocation provenance is tracked.
	MemDiagnostics bool
	// CompactAtVersion is not read; the package has no version index and no compaction.
	CompactAtVersion *uint64
	// Logger is the sink for logf; a nil Logger discards the line. The package starts no background goroutines, and no code path calls logf.
	Logger func(format string, args ...interface{})
}

const (
	// DefaultNodePoolSize is used when Options.NodePoolSize is zero.
	DefaultNodePoolSize = 1024
	// MaxCompactVersion is not referenced by any code; nothing checks CompactAtVersion against it.
	MaxCompactVersion = uint64(1_000_000)
)

// DefaultPageSize is the page size reported by the OS. No code reads it;
// FileMap flushes its whole mapping rather than page-rounded regions.
var DefaultPageSize = os.Getpagesize()

// nodePool recycles *Node values across transactions the way the teacher's
// MariNodePool recycles MariINode/MariLNode, avoiding per-mutation GC churn.
type nodePool struct {
	maxSize int64
	size    int64
	pool    *sync.Pool
}

func newNodePool(maxSize int64) *nodePool {
	if maxSize <= 0 {
		maxSize = DefaultNodePoolSize
	}

	np := &nodePool{maxSize: maxSize}
	np.pool = &sync.Pool{New: func() interface{} { return &Node{} }}

	for range make([]int, maxSize/2) {
		np.pool.Put(&Node{})
		atomic.AddInt64(&np.size, 1)
	}

	return np
}

func (np *nodePool) get() *Node {
	n := np.pool.Get().(*Node)
	if atomic.LoadInt64(&np.size) > 0 {
		atomic.AddInt64(&np.size, -1)
	}

	return n
}

func (np *nodePool) put(n *Node) {
	if atomic.LoadInt64(&np.size) < np.maxSize {
		n.reset()
		np.pool.Put(n)
		atomic.AddInt64(&np.size, 1)
	}
}
