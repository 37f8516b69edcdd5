package relay

import (
	"time"

	"github.com/google/uuid"
)

// DefaultBatchSize is the maximum number of activity ids per work unit.
const DefaultBatchSize = 50

// WorkUnit is a bounded batch of activity ids processed by one task.
type WorkUnit struct {
	ID          string
	ActivityIDs []string
	// Pass is 1 for fresh input and grows by one each time deferred work is redispatched.
	Pass       int
	EnqueuedAt time.Time
}

// NewWorkUnit wraps ids in a new unit for the given pass.
func NewWorkUnit(ids []string, pass int) *WorkUnit {
	if pass < 1 {
		pass = 1
	}
	return &WorkUnit{
		ID:          uuid.NewString(),
		ActivityIDs: ids,
		Pass:        pass,
		EnqueuedAt:  time.Now(),
	}
}

// Split partitions ids into consecutive chunks of at most size ids.
// Order is preserved within and across chunks. Empty input yields no chunks.
func Split(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunk := make([]string, end-start)
		copy(chunk, ids[start:end])
		chunks = append(chunks, chunk)
	}
	return chunks
}
