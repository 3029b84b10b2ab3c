package transform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dunamismax/imagehub/internal/domain"
)

// DerivedSuffix is inserted before the extension of the derived copy,
// e.g. photo.png -> photo_transform.png.
const DerivedSuffix = "_transform"

// RecordStore is the slice of the record store the pipeline needs.
type RecordStore interface {
	Get(ctx context.Context, id string) (domain.ImageRecord, bool, error)
	SetTransformPath(ctx context.Context, id, path string, updatedAt time.Time) error
}

// Pipeline applies an ordered list of strategies to a derived copy of a
// stored image and commits the result path to the image record only
// after every applicable step succeeded.
type Pipeline struct {
	logger     *log.Logger
	records    RecordStore
	strategies []Strategy
	locks      *keyedMutex
	tracer     trace.Tracer
}

// NewPipeline builds a Pipeline around an explicit, ordered strategy
// list. Pass DefaultStrategies unless a test needs a custom order.
func NewPipeline(logger *log.Logger, records RecordStore, strategies []Strategy) *Pipeline {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Pipeline{
		logger:     logger,
		records:    records,
		strategies: strategies,
		locks:      newKeyedMutex(),
		tracer:     otel.Tracer("imagehub/transform"),
	}
}

// Apply resolves the image, copies the original to its derived path and
// runs every applicable strategy in declaration order, carrying the
// current path between steps. On success the final path is persisted on
// the record and returned. On any failure the record is left untouched
// and the derived copy is cleaned up best-effort, unless it is the
// record's previous transform result.
func (p *Pipeline) Apply(ctx context.Context, imageID string, req domain.TransformRequest) (string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.apply")
	span.SetAttributes(attribute.String("image.id", imageID))
	defer span.End()

	unlock := p.locks.lock(imageID)
	defer unlock()

	record, ok, err := p.records.Get(ctx, imageID)
	if err != nil {
		return "", fmt.Errorf("load image record: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("%w: id %s", domain.ErrNotFound, imageID)
	}

	current, err := createDerivedCopy(record.InputPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "derived copy failed")
		return "", err
	}

	for _, strategy := range p.strategies {
		if !strategy.IsApplicable(req) {
			continue
		}
		next, err := strategy.Apply(ctx, current, req)
		if err != nil {
			p.logger.Printf("strategy failed image_id=%s strategy=%s err=%v", imageID, strategy.Name(), err)
			p.discardDerived(record, current)
			span.RecordError(err)
			span.SetStatus(codes.Error, "strategy failed")
			return "", fmt.Errorf("apply %s: %w", strategy.Name(), err)
		}
		p.logger.Printf("strategy applied image_id=%s strategy=%s path=%s", imageID, strategy.Name(), next)
		current = next
	}

	if err := p.records.SetTransformPath(ctx, imageID, current, time.Now().UTC()); err != nil {
		p.discardDerived(record, current)
		span.RecordError(err)
		span.SetStatus(codes.Error, "record update failed")
		return "", fmt.Errorf("%w: %v", domain.ErrMetadataPersist, err)
	}

	span.SetStatus(codes.Ok, "transformed")
	return current, nil
}

// discardDerived removes the derived copy left behind by a failed run.
// When the path is the record's previous transform result the file is
// kept: deleting it would dangle the still-committed transformPath.
// A partially rewritten previous result is the documented limitation of
// in-place strategy writes.
func (p *Pipeline) discardDerived(record domain.ImageRecord, path string) {
	if path == "" || path == record.TransformPath {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Printf("derived copy cleanup failed image_id=%s path=%s err=%v", record.ID, path, err)
	}
}

// createDerivedCopy duplicates the original bytes under the derived
// filename. The original is never modified by the pipeline.
func createDerivedCopy(inputPath string) (string, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", domain.ErrIntegrityDrift, inputPath)
		}
		return "", fmt.Errorf("%w: %s: %v", domain.ErrImageRead, inputPath, err)
	}

	ext := filepath.Ext(inputPath)
	derived := strings.TrimSuffix(inputPath, ext) + DerivedSuffix + ext
	if err := writeFileAtomic(derived, data); err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrImageWrite, derived, err)
	}
	return derived, nil
}
