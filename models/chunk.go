package models

import (
	"sort"
	"time"
)

// UploadChunk is one slice of a client upload, stored until the file is
// reconstructed or the retention window expires.
type UploadChunk struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UploadID    string    `json:"upload_id" gorm:"size:255;not null;uniqueIndex:ux_upload_chunks_upload_index,priority:1"`
	ChunkIndex  int       `json:"chunk_index" gorm:"not null;uniqueIndex:ux_upload_chunks_upload_index,priority:2"`
	TotalChunks int       `json:"total_chunks" gorm:"not null"`
	Payload     []byte    `json:"-" gorm:"type:bytea;not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"index"`
}

func (UploadChunk) TableName() string {
	return "upload_chunks"
}

// ChunkManifest describes which chunks of an upload are currently stored.
type ChunkManifest struct {
	UploadID      string
	Indices       []int
	DeclaredTotal int
}

// Expected returns the number of chunks the upload should consist of: the
// total declared by the client, or one past the highest stored index.
func (m ChunkManifest) Expected() int {
	if m.DeclaredTotal > 0 {
		return m.DeclaredTotal
	}
	max := -1
	for _, i := range m.Indices {
		if i > max {
			max = i
		}
	}
	return max + 1
}

// Missing lists the indices in [0, Expected()) that are not stored.
func (m ChunkManifest) Missing() []int {
	present := make(map[int]struct{}, len(m.Indices))
	for _, i := range m.Indices {
		present[i] = struct{}{}
	}
	var missing []int
	for i := 0; i < m.Expected(); i++ {
		if _, ok := present[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// Complete reports whether the stored indices form the dense range
// [0, Expected()) with nothing outside it.
func (m ChunkManifest) Complete() bool {
	if len(m.Indices) == 0 {
		return false
	}
	for _, i := range m.Indices {
		if i < 0 || i >= m.Expected() {
			return false
		}
	}
	return len(m.Missing()) == 0
}

// Sorted returns the stored indices in ascending order.
func (m ChunkManifest) Sorted() []int {
	out := append([]int(nil), m.Indices...)
	sort.Ints(out)
	return out
}
