package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"ecombot/internal/models"
)

// LoadPassages reads every indexed passage from the passages table. The table is
// written by the external ingestion job; this process only reads it.
func LoadPassages(ctx context.Context, db *sql.DB) ([]models.Passage, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, content, metadata, embedding FROM passages ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list passages: %w", err)
	}
	defer rows.Close()

	var passages []models.Passage
	for rows.Next() {
		var (
			p         models.Passage
			metadata  sql.NullString
			embedding string
		)
		if err := rows.Scan(&p.ID, &p.Content, &metadata, &embedding); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &p.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of passage %s: %w", p.ID, err)
			}
		}
		if err := json.Unmarshal([]byte(embedding), &p.Vector); err != nil {
			return nil, fmt.Errorf("decode embedding of passage %s: %w", p.ID, err)
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}
