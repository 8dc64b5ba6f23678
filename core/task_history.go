package core

import (
	"path"
	"reflect"
	"runtime"
	"sync"

	"github.com/gammazero/deque"
)

const defaultTaskHistoryCapacity = 100

// executionHistory keeps the most recent execution records of a scheduler,
// newest at the front. It is written from the Loop and read from anywhere.
type executionHistory struct {
	mu       sync.Mutex
	records  deque.Deque[TaskExecutionRecord]
	capacity int
}

func newExecutionHistory(capacity int) *executionHistory {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return &executionHistory{capacity: capacity}
}

func (h *executionHistory) Add(record TaskExecutionRecord) {
	h.mu.Lock()
	h.records.PushFront(record)
	for h.records.Len() > h.capacity {
		h.records.PopBack()
	}
	h.mu.Unlock()
}

// Recent returns up to limit records, newest first. A limit <= 0 returns all.
func (h *executionHistory) Recent(limit int) []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.records.Len()
	if n == 0 {
		return nil
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]TaskExecutionRecord, limit)
	for i := range out {
		out[i] = h.records.At(i)
	}
	return out
}

func (h *executionHistory) Last() (TaskExecutionRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.records.Len() == 0 {
		return TaskExecutionRecord{}, false
	}
	return h.records.Front(), true
}

// resolveTaskName names a task after its function, without the import path
// ("core.namedTask", "main.main.func1"). Values that are not resolvable
// functions are "anonymous".
func resolveTaskName(task Task) string {
	const anonymous = "anonymous"
	if task == nil {
		return anonymous
	}
	pc := reflect.ValueOf(task).Pointer()
	if pc == 0 {
		return anonymous
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil || fn.Name() == "" {
		return anonymous
	}
	return path.Base(fn.Name())
}
