package ingest

import (
	"strings"

	"github.com/cuongbtq/tile-allocator/internal/api/domain"
)

// ExtractTileID reads the tile id from the first accepted column spelling
// that holds a non-blank value and returns a copy of the row without any of
// those columns. ok is false when the row has no usable tile id.
func ExtractTileID(row map[string]string) (tileID string, payload map[string]string, ok bool) {
	for _, col := range domain.TileIDColumns {
		if v := strings.TrimSpace(row[col]); v != "" {
			tileID = v
			break
		}
	}

	payload = make(map[string]string, len(row))
	for k, v := range row {
		payload[k] = v
	}
	for _, col := range domain.TileIDColumns {
		delete(payload, col)
	}

	return tileID, payload, tileID != ""
}
