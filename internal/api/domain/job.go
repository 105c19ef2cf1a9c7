package domain

// Job status values stored in jobs.status
const (
	JobStatusUnassigned = "Unassigned"
	JobStatusAssigned   = "Assigned"
)

// TileIDColumns lists the accepted spellings of the tile identifier column,
// in lookup order
var TileIDColumns = []string{"tile_id", "TileId", "Tile_ID", "tileID"}
