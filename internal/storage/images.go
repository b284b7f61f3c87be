package storage

import (
	"context"

	"github.com/google/uuid"

	"orderbot/internal/domain"
)

// SaveLineImage implements domain.ImageStore. Each stored picture gets a
// random reference used by the export sheet.
func (s *Store) SaveLineImage(ctx context.Context, lineID int64, img domain.NormalizedImage) error {
	const op = "storage.images.save"
	if len(img.Data) == 0 {
		return domain.Errorf(domain.KindValidation, op, "empty image for line %d", lineID)
	}
	ref := uuid.NewString()
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO order_line_images (line_id, image_ref, mime, width, height, data)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		lineID, ref, img.Mime, img.Width, img.Height, img.Data)
	if err != nil {
		return domain.Wrap(domain.KindPostCommit, op, err)
	}
	s.logger.Debug("line image stored", "line_id", lineID, "ref", ref, "bytes", len(img.Data))
	return nil
}

// LineImageRefs returns the image references stored for a line.
func (s *Store) LineImageRefs(ctx context.Context, lineID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT image_ref FROM order_line_images WHERE line_id = ? ORDER BY id`), lineID)
	if err != nil {
		return nil, depErr("storage.images.refs", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, depErr("storage.images.refs", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}
