package services

// DedupWindow remembers the case-folded SKUs admitted since it was last
// cleared. Once capacity keys are held, the next new key clears it first,
// so memory stays bounded no matter how large the file is. Keys seen
// before a clear are admitted again; the upsert makes that harmless.
type DedupWindow struct {
	capacity int
	seen     map[string]struct{}
	clears   int
}

func NewDedupWindow(capacity int) *DedupWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &DedupWindow{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// Seen reports whether key is already in the window. A key that is not
// is admitted.
func (w *DedupWindow) Seen(key string) bool {
	if _, ok := w.seen[key]; ok {
		return true
	}
	if len(w.seen) >= w.capacity {
		clear(w.seen)
		w.clears++
	}
	w.seen[key] = struct{}{}
	return false
}

// Len returns the number of keys currently held.
func (w *DedupWindow) Len() int {
	return len(w.seen)
}

// Clears returns how many times the window has been emptied.
func (w *DedupWindow) Clears() int {
	return w.clears
}
