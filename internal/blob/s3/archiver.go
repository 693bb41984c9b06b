package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/drawsettle/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"

	// Archives above this size go through the multipart uploader.
	multipartThreshold = 8 * 1024 * 1024
)

// DrawSource is what the archiver reads from; *lottery.Engine satisfies it.
type DrawSource interface {
	GetDraw(ctx context.Context, id uint64) (domain.Draw, error)
	DrawTickets(ctx context.Context, id uint64) ([]domain.BuyerTickets, error)
}

// archiveLine is one JSONL record. The first line of an archive carries the
// draw, every following line one buyer's tickets.
type archiveLine struct {
	Kind    string               `json:"kind"`
	Draw    *domain.Draw         `json:"draw,omitempty"`
	Tickets *domain.BuyerTickets `json:"tickets,omitempty"`
}

// Archiver implements domain.DrawArchiver. Archiving copies; nothing is
// removed from the engine store, which keeps draws forever.
type Archiver struct {
	writer domain.BlobWriter
	source DrawSource
	audit  domain.AuditStore
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, source DrawSource, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, source: source, audit: audit}
}

// DrawArchivePath is the object path of a draw's archive. Ids are zero
// padded so listings sort numerically.
func DrawArchivePath(drawID uint64) string {
	return fmt.Sprintf("archive/draws/%020d.jsonl", drawID)
}

// ArchiveDraw uploads a settled draw and its tickets and returns the path.
// Draws that are not yet claimable are rejected with
// domain.ErrDrawNotClaimable; their outcome may still change.
func (a *Archiver) ArchiveDraw(ctx context.Context, drawID uint64) (string, error) {
	d, err := a.source.GetDraw(ctx, drawID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive draw %d: %w", drawID, err)
	}
	if d.Status != domain.DrawClaimable {
		return "", fmt.Errorf("s3blob: archive draw %d: %w", drawID, domain.ErrDrawNotClaimable)
	}
	purchases, err := a.source.DrawTickets(ctx, drawID)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive draw %d tickets: %w", drawID, err)
	}

	lines := make([]archiveLine, 0, len(purchases)+1)
	lines = append(lines, archiveLine{Kind: "draw", Draw: &d})
	for i := range purchases {
		lines = append(lines, archiveLine{Kind: "tickets", Tickets: &purchases[i]})
	}
	buf, err := marshalJSONL(lines)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive draw %d marshal: %w", drawID, err)
	}

	path := DrawArchivePath(drawID)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive draw %d upload: %w", drawID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.draw", map[string]any{
			"draw_id": drawID,
			"path":    path,
			"buyers":  len(purchases),
			"tickets": d.TotalTickets,
			"at":      time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive draw %d audit log: %w", drawID, err)
		}
	}
	return path, nil
}

// marshalJSONL encodes records one compact JSON document per line.
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

var (
	_ domain.DrawArchiver = (*Archiver)(nil)
	_ domain.BlobWriter   = (*Writer)(nil)
)
