package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/lakhoreJanvi/product-importer-project/models"
	"github.com/lakhoreJanvi/product-importer-project/repository"

	"go.uber.org/zap"
)

const DefaultBatchSize = 1000

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ImportResult holds the final counters of a run.
type ImportResult struct {
	Total     int64
	Processed int64
	Batches   int
}

// ImportEngine streams a CSV file into the catalog in fixed-size upsert
// batches. Memory use is bounded by the batch size and the dedup window,
// not by the file size.
type ImportEngine struct {
	products   repository.ProductRepository
	jobs       repository.ImportJobRepository
	progress   ProgressPublisher
	batchSize  int
	windowSize int
	log        *zap.Logger
}

// NewImportEngine builds an engine. A windowSize of zero uses the batch size.
func NewImportEngine(
	products repository.ProductRepository,
	jobs repository.ImportJobRepository,
	progress ProgressPublisher,
	batchSize, windowSize int,
	log *zap.Logger,
) *ImportEngine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if windowSize <= 0 {
		windowSize = batchSize
	}
	return &ImportEngine{
		products:   products,
		jobs:       jobs,
		progress:   progress,
		batchSize:  batchSize,
		windowSize: windowSize,
		log:        log,
	}
}

// columns maps recognised header names to their position, -1 when absent.
type columns struct {
	sku, name, description, price, active int
}

func parseHeader(header []string) columns {
	cols := columns{sku: -1, name: -1, description: -1, price: -1, active: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "sku":
			if cols.sku < 0 {
				cols.sku = i
			}
		case "name":
			cols.name = i
		case "description":
			cols.description = i
		case "price":
			cols.price = i
		case "active":
			cols.active = i
		}
	}
	return cols
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return record[i]
}

func (c columns) product(record []string, sku string) models.Product {
	p := models.Product{
		SKU:    sku,
		Name:   models.Truncate(strings.TrimSpace(field(record, c.name)), models.MaxNameLength),
		Active: true,
	}
	if c.description >= 0 {
		d := models.Truncate(field(record, c.description), models.MaxDescriptionLength)
		p.Description = &d
	}
	if price := strings.TrimSpace(field(record, c.price)); price != "" {
		price = models.Truncate(price, models.MaxPriceLength)
		p.Price = &price
	}
	if v := strings.TrimSpace(field(record, c.active)); v != "" {
		if active, err := strconv.ParseBool(v); err == nil {
			p.Active = active
		}
	}
	return p
}

// run holds the mutable state of one Run call.
type run struct {
	jobID     int64
	total     int64
	processed int64
	synced    int64 // total last written to the job record
	batches   int
	batch     []models.Product
	pending   map[string]struct{}
}

// Run imports r for jobID. The job must be in parsing. On success it ends
// completed; on any error it ends failed with the committed counters kept.
func (e *ImportEngine) Run(ctx context.Context, jobID int64, r io.Reader) (ImportResult, error) {
	st := &run{
		jobID:   jobID,
		batch:   make([]models.Product, 0, e.batchSize),
		pending: make(map[string]struct{}, e.batchSize),
	}
	log := e.log.With(zap.Int64("job_id", jobID))

	if err := e.transition(ctx, st, models.JobStatusImporting); err != nil {
		return e.fail(ctx, st, err)
	}

	if err := e.stream(ctx, st, r); err != nil {
		return e.fail(ctx, st, err)
	}

	if err := e.transition(ctx, st, models.JobStatusValidating); err != nil {
		return e.fail(ctx, st, err)
	}
	if err := e.transition(ctx, st, models.JobStatusCompleted); err != nil {
		return e.fail(ctx, st, err)
	}

	log.Info("import completed",
		zap.Int64("total_rows", st.total),
		zap.Int64("processed_rows", st.processed),
		zap.Int("batches", st.batches),
	)
	return st.result(), nil
}

func (st *run) result() ImportResult {
	return ImportResult{Total: st.total, Processed: st.processed, Batches: st.batches}
}

func (e *ImportEngine) stream(ctx context.Context, st *run, r io.Reader) error {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(bom, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return newImportError(KindRead, "read header", err)
	}
	cols := parseHeader(header)
	if cols.sku < 0 {
		e.log.Warn("no sku column, every row will be skipped", zap.Int64("job_id", st.jobID), zap.Strings("header", header))
	}

	window := NewDedupWindow(e.windowSize)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return newImportError(KindRead, "read row "+strconv.FormatInt(st.total+2, 10), err)
		}
		st.total++

		sku := strings.TrimSpace(field(record, cols.sku))
		if sku == "" {
			continue
		}
		key := models.NormalizeSKU(sku)
		if window.Seen(key) {
			continue
		}
		// Postgres cannot update one row twice in a statement; a key that
		// came back after the window cleared goes into the next batch.
		if _, dup := st.pending[key]; dup {
			if err := e.flush(ctx, st); err != nil {
				return err
			}
		}

		st.batch = append(st.batch, cols.product(record, sku))
		st.pending[key] = struct{}{}
		if len(st.batch) >= e.batchSize {
			if err := e.flush(ctx, st); err != nil {
				return err
			}
		}
	}

	if len(st.batch) > 0 {
		return e.flush(ctx, st)
	}
	if st.total != st.synced {
		return e.syncCounters(ctx, st)
	}
	return nil
}

// flush applies the pending batch, then records and announces the counters.
func (e *ImportEngine) flush(ctx context.Context, st *run) error {
	if _, err := e.products.UpsertBatch(ctx, st.batch); err != nil {
		return newImportError(KindStorage, "apply batch", err)
	}
	st.processed += int64(len(st.batch))
	st.batches++
	st.batch = st.batch[:0]
	clear(st.pending)
	return e.syncCounters(ctx, st)
}

func (e *ImportEngine) syncCounters(ctx context.Context, st *run) error {
	if err := e.jobs.UpdateCounters(ctx, st.jobID, st.processed, st.total); err != nil {
		return newImportError(KindStorage, "update job counters", err)
	}
	st.synced = st.total
	e.progress.Publish(ctx, st.jobID, models.ProgressEvent{
		Status:    models.JobStatusImporting,
		Processed: st.processed,
		Total:     st.total,
	})
	return nil
}

func (e *ImportEngine) transition(ctx context.Context, st *run, to models.JobStatus) error {
	if err := e.jobs.Transition(ctx, st.jobID, to); err != nil {
		return newImportError(KindStorage, "move job to "+string(to), err)
	}
	e.progress.Publish(ctx, st.jobID, models.ProgressEvent{
		Status:    to,
		Processed: st.processed,
		Total:     st.total,
	})
	return nil
}

// fail records err on the job and announces it with the committed
// counters. Committed batches stay.
func (e *ImportEngine) fail(ctx context.Context, st *run, err error) (ImportResult, error) {
	msg := err.Error()
	e.log.Error("import failed",
		zap.Int64("job_id", st.jobID),
		zap.Int64("processed_rows", st.processed),
		zap.String("kind", string(KindOf(err))),
		zap.Error(err),
	)
	if ferr := e.jobs.Fail(ctx, st.jobID, msg); ferr != nil {
		e.log.Error("failed to mark job failed", zap.Int64("job_id", st.jobID), zap.Error(ferr))
	}
	// Rows read after the last commit never reached the job record.
	res := st.result()
	res.Total = st.synced
	e.progress.Publish(ctx, st.jobID, models.ProgressEvent{
		Status:    models.JobStatusFailed,
		Processed: res.Processed,
		Total:     res.Total,
		Error:     &msg,
	})
	return res, err
}
