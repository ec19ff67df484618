package database

// AssetInfo is an asset row without its content.
type AssetInfo struct {
	Path        string `db:"path" json:"path"`
	ContentHash string `db:"content_hash" json:"content_hash"`
	Size        int64  `db:"size" json:"size"`
}

type AssetStats struct {
	Count     int64 `db:"count"`
	TotalSize int64 `db:"total_size"`
}

// ImportResult reports what ImportSet changed.
type ImportResult struct {
	Written   int
	Unchanged int
}
