package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/packetd/dbopen"
)

// SaveGeneratedContent stores the named blobs for one (imageID, itemID).
// Existing blobs with the same names are replaced.
func (s *Store) SaveGeneratedContent(ctx context.Context, imageID, itemID string, files []File) error {
	if imageID == "" || itemID == "" {
		return fmt.Errorf("store: save generated content: missing image or item id")
	}
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, f := range files {
			if f.Name == "" {
				return fmt.Errorf("store: save generated content: unnamed file")
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO generated_content (image_id, item_id, name, content, content_type)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(image_id, item_id, name) DO UPDATE SET
					content = excluded.content, content_type = excluded.content_type`,
				imageID, itemID, f.Name, f.Content, f.ContentType)
			if err != nil {
				return fmt.Errorf("store: save blob %s/%s/%s: %w", imageID, itemID, f.Name, err)
			}
		}
		return nil
	})
}

// GetGeneratedContent returns the blobs for one (imageID, itemID) in name
// order. Empty slice when none exist.
func (s *Store) GetGeneratedContent(ctx context.Context, imageID, itemID string) ([]File, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT name, content, content_type FROM generated_content
		WHERE image_id = ? AND item_id = ? ORDER BY name`,
		imageID, itemID)
	if err != nil {
		return nil, fmt.Errorf("store: get generated content: %w", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.Name, &f.Content, &f.ContentType); err != nil {
			return nil, fmt.Errorf("store: scan blob: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteGeneratedContentForImage removes every blob belonging to an image.
func (s *Store) DeleteGeneratedContentForImage(ctx context.Context, imageID string) error {
	if _, err := dbopen.Exec(ctx, s.DB,
		`DELETE FROM generated_content WHERE image_id = ?`, imageID); err != nil {
		return fmt.Errorf("store: delete generated content for %s: %w", imageID, err)
	}
	return nil
}
