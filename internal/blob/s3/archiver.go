package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// ArchiveImpl implements domain.Archiver by querying the ledger for closed
// records, serializing them to JSONL, and uploading the result to S3.
//
// Archived rows stay in the primary store; pruning them is a separate step
// taken after the upload has been verified. A batch whose object already
// exists is skipped, so rerunning the same cutoff is a no-op.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	ledger domain.Ledger
	audit  domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. reader may be nil, in which case
// every run uploads.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, ledger domain.Ledger, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{writer: writer, reader: reader, ledger: ledger, audit: audit}
}

// ArchiveSettlements uploads settlements recorded before the cutoff.
func (a *ArchiveImpl) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.ledger.Settlements().ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
	}
	return archive(ctx, a, "settlements", before, rows)
}

// ArchiveListings uploads sold and cancelled listings closed before the
// cutoff.
func (a *ArchiveImpl) ArchiveListings(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.ledger.Listings().ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive listings query: %w", err)
	}
	return archive(ctx, a, "listings", before, rows)
}

// ArchiveOffers uploads accepted and withdrawn offers closed before the
// cutoff.
func (a *ArchiveImpl) ArchiveOffers(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.ledger.Offers().ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive offers query: %w", err)
	}
	return archive(ctx, a, "offers", before, rows)
}

// ArchiveAudit uploads audit entries written before the cutoff.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	rows, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	return archive(ctx, a, "audit", before, rows)
}

// archive uploads rows as one JSONL object and records the upload in the
// audit log. An empty batch uploads nothing.
func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, rows []T) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	path := archivePath(kind, before)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
		}
		if exists {
			return 0, nil
		}
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	var upErr error
	if int64(len(buf)) > minPartSize {
		upErr = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		upErr = a.writer.Put(ctx, path, bytes.NewReader(buf), archiveContentType)
	}
	if upErr != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, upErr)
	}

	count := int64(len(rows))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff and named by the cutoff itself so repeated runs
// within a month do not overwrite each other.
//
//	archive/settlements/2025-01/20250131T000000Z.jsonl
func archivePath(kind string, before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, before.Format("2006-01"), before.Format("20060102T150405Z"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface checks.
var (
	_ domain.Archiver   = (*ArchiveImpl)(nil)
	_ domain.BlobWriter = (*Writer)(nil)
	_ domain.BlobReader = (*Reader)(nil)
)
