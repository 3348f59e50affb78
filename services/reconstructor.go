package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/lakhoreJanvi/product-importer-project/models"
	"github.com/lakhoreJanvi/product-importer-project/repository"

	"go.uber.org/zap"
)

// ReconstructedFile is an upload reassembled on local disk. Close removes
// the backing file.
type ReconstructedFile struct {
	*os.File
	Size   int64
	Chunks int
}

func (f *ReconstructedFile) Close() error {
	name := f.Name()
	cerr := f.File.Close()
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return cerr
}

// Reconstructor concatenates the chunks of an upload in index order and
// consumes them.
type Reconstructor struct {
	chunks repository.ChunkStore
	tmpDir string
	log    *zap.Logger
}

func NewReconstructor(chunks repository.ChunkStore, tmpDir string, log *zap.Logger) *Reconstructor {
	return &Reconstructor{chunks: chunks, tmpDir: tmpDir, log: log}
}

// CheckComplete returns the manifest of uploadID if it holds the dense
// range 0..n-1, ErrUploadNotFound when nothing is stored, and
// ErrIncompleteUpload otherwise.
func (r *Reconstructor) CheckComplete(ctx context.Context, uploadID string, declaredTotal int) (models.ChunkManifest, error) {
	m, err := r.chunks.Manifest(ctx, uploadID)
	if err != nil {
		return m, err
	}
	if len(m.Indices) == 0 {
		return m, models.ErrUploadNotFound
	}
	if declaredTotal > 0 {
		m.DeclaredTotal = declaredTotal
	}
	if !m.Complete() {
		return m, fmt.Errorf("upload %s has %d of %d chunks, missing %v: %w",
			uploadID, len(m.Indices), m.Expected(), m.Missing(), models.ErrIncompleteUpload)
	}
	return m, nil
}

// Reconstruct writes the chunks of uploadID to a temp file in ascending
// index order, then deletes them. totalChunks is the count accepted at
// finalize, so the worker judges completeness the same way; zero uses the
// total the chunks declared. A gap fails with ErrIncompleteUpload and
// leaves every chunk in place. The caller must Close the returned file.
func (r *Reconstructor) Reconstruct(ctx context.Context, uploadID string, totalChunks int) (*ReconstructedFile, error) {
	m, err := r.CheckComplete(ctx, uploadID, totalChunks)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(r.tmpDir, "import-"+uploadID+"-*.csv")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	file := &ReconstructedFile{File: tmp, Chunks: len(m.Indices)}

	if err := r.copyChunks(ctx, file, uploadID, m.Sorted()); err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("sync temp file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}

	if err := r.chunks.DeleteUpload(ctx, uploadID); err != nil {
		_ = file.Close()
		return nil, err
	}

	r.log.Info("upload reconstructed",
		zap.String("upload_id", uploadID),
		zap.Int("chunks", file.Chunks),
		zap.Int64("bytes", file.Size),
	)
	return file, nil
}

func (r *Reconstructor) copyChunks(ctx context.Context, file *ReconstructedFile, uploadID string, indices []int) error {
	for _, idx := range indices {
		rc, err := r.chunks.Open(ctx, uploadID, idx)
		if err != nil {
			return err
		}
		n, err := io.Copy(file.File, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("copy chunk %d of upload %s: %w", idx, uploadID, err)
		}
		file.Size += n
	}
	return nil
}
