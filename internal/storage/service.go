// Package storage owns the on-disk image layout and the pairing between
// files and their records. Layout: {root}/{owner}/{imageID}/{fileName}.
package storage

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

	"github.com/dunamismax/imagehub/internal/domain"
	"github.com/dunamismax/imagehub/internal/id"
	"github.com/dunamismax/imagehub/internal/store"
	"github.com/dunamismax/imagehub/internal/validate"
)

// Variants selectable when opening a stored image.
const (
	VariantOriginal  = "original"
	VariantTransform = "transform"
)

const bulkDeleteBatch = 200

type Service struct {
	logger    *log.Logger
	root      string
	records   store.RecordStore
	validator *validate.Validator
}

// NewService prepares the storage root and wires the record store and
// upload validator.
func NewService(logger *log.Logger, root string, records store.RecordStore, validator *validate.Validator) (*Service, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		logger:    logger,
		root:      abs,
		records:   records,
		validator: validator,
	}, nil
}

// Upload validates the bytes, writes the file into a fresh per-owner
// per-id directory and persists the record. If the record insert fails
// after the file write, the file is deleted as best-effort
// compensation; a failed compensation leaves an orphan, which is logged
// for later reconciliation.
func (s *Service) Upload(ctx context.Context, data []byte, name, owner string) (domain.ImageRecord, error) {
	if strings.TrimSpace(owner) == "" {
		return domain.ImageRecord{}, fmt.Errorf("%w: owner is required", domain.ErrValidation)
	}
	if err := s.validator.Validate(data, name); err != nil {
		return domain.ImageRecord{}, err
	}

	imageID := id.New()
	dir := filepath.Join(s.root, sanitizePathToken(owner), imageID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.ImageRecord{}, fmt.Errorf("%w: create image dir: %v", domain.ErrImageWrite, err)
	}

	fileName := filepath.Base(strings.TrimSpace(name))
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.ImageRecord{}, fmt.Errorf("%w: write %s: %v", domain.ErrImageWrite, path, err)
	}

	now := time.Now().UTC()
	record := domain.ImageRecord{
		ID:           imageID,
		Owner:        owner,
		OriginalName: name,
		InputPath:    path,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.records.Create(ctx, record); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			s.logger.Printf("orphan left after failed record insert image_id=%s path=%s err=%v", imageID, path, rmErr)
		} else {
			s.pruneEmptyDir(dir)
		}
		return domain.ImageRecord{}, fmt.Errorf("%w: %v", domain.ErrMetadataPersist, err)
	}

	s.logger.Printf("image stored image_id=%s owner=%s bytes=%d path=%s", imageID, owner, len(data), path)
	return record, nil
}

// Get returns the record for an id.
func (s *Service) Get(ctx context.Context, imageID string) (domain.ImageRecord, error) {
	record, ok, err := s.records.Get(ctx, imageID)
	if err != nil {
		return domain.ImageRecord{}, fmt.Errorf("load image record: %w", err)
	}
	if !ok {
		return domain.ImageRecord{}, fmt.Errorf("%w: id %s", domain.ErrNotFound, imageID)
	}
	return record, nil
}

// Open returns a readable handle on the original or transformed file.
// A path present in the record but missing from disk is reported as
// drift, not as a plain not-found.
func (s *Service) Open(ctx context.Context, imageID, variant string) (io.ReadCloser, domain.ImageRecord, error) {
	record, err := s.Get(ctx, imageID)
	if err != nil {
		return nil, domain.ImageRecord{}, err
	}

	var path string
	switch variant {
	case VariantOriginal:
		path = record.InputPath
	case VariantTransform:
		if !record.Transformed() {
			return nil, domain.ImageRecord{}, fmt.Errorf("%w: image %s has no transform result", domain.ErrNotFound, imageID)
		}
		path = record.TransformPath
	default:
		return nil, domain.ImageRecord{}, fmt.Errorf("%w: unknown variant %q (use %s or %s)",
			domain.ErrInvalidParameters, variant, VariantOriginal, VariantTransform)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ImageRecord{}, fmt.Errorf("%w: %s", domain.ErrIntegrityDrift, path)
		}
		return nil, domain.ImageRecord{}, fmt.Errorf("%w: open %s: %v", domain.ErrImageRead, path, err)
	}
	return f, record, nil
}

// ListByOwner pages through an owner's records in creation order.
func (s *Service) ListByOwner(ctx context.Context, owner string, filter store.ListFilter, limit, offset int) ([]domain.ImageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	records, err := s.records.ListByOwner(ctx, owner, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return records, nil
}

// Delete verifies ownership, removes both files best-effort, prunes the
// now-empty directory and deletes the record. Already-missing files do
// not block the deletion.
func (s *Service) Delete(ctx context.Context, imageID, owner string) error {
	record, err := s.ownedRecord(ctx, imageID, owner)
	if err != nil {
		return err
	}

	s.removeFiles(record)
	s.pruneEmptyDir(filepath.Dir(record.InputPath))

	if err := s.records.Delete(ctx, imageID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrMetadataPersist, err)
	}
	s.logger.Printf("image deleted image_id=%s owner=%s", imageID, owner)
	return nil
}

// DeleteRecordOnly removes the record and leaves the files on disk for
// later recovery.
func (s *Service) DeleteRecordOnly(ctx context.Context, imageID, owner string) error {
	if _, err := s.ownedRecord(ctx, imageID, owner); err != nil {
		return err
	}
	if err := s.records.Delete(ctx, imageID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrMetadataPersist, err)
	}
	s.logger.Printf("image record deleted, files kept image_id=%s owner=%s", imageID, owner)
	return nil
}

// DeleteAllByOwner deletes every image an owner has, best-effort per
// image, and returns how many records were removed.
func (s *Service) DeleteAllByOwner(ctx context.Context, owner string) (int, error) {
	deleted := 0
	for {
		records, err := s.records.ListByOwner(ctx, owner, store.ListAll, bulkDeleteBatch, 0)
		if err != nil {
			return deleted, fmt.Errorf("list images: %w", err)
		}
		if len(records) == 0 {
			return deleted, nil
		}
		for _, record := range records {
			s.removeFiles(record)
			s.pruneEmptyDir(filepath.Dir(record.InputPath))
			if err := s.records.Delete(ctx, record.ID); err != nil {
				return deleted, fmt.Errorf("%w: %v", domain.ErrMetadataPersist, err)
			}
			deleted++
		}
	}
}

func (s *Service) ownedRecord(ctx context.Context, imageID, owner string) (domain.ImageRecord, error) {
	record, err := s.Get(ctx, imageID)
	if err != nil {
		return domain.ImageRecord{}, err
	}
	// Ownership misses read as not-found so ids are not leaked.
	if record.Owner != owner {
		return domain.ImageRecord{}, fmt.Errorf("%w: id %s", domain.ErrNotFound, imageID)
	}
	return record, nil
}

func (s *Service) removeFiles(record domain.ImageRecord) {
	for _, path := range []string{record.InputPath, record.TransformPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Printf("file removal failed image_id=%s path=%s err=%v", record.ID, path, err)
		}
	}
}

func (s *Service) pruneEmptyDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(dir); err != nil {
		s.logger.Printf("empty dir prune failed dir=%s err=%v", dir, err)
	}
}

// sanitizePathToken keeps owner identifiers safe to use as a path
// segment.
func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
