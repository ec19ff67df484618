package server

import (
	"encoding/json"
	"net/http"

	"github.com/git-pkgs/embedserve/internal/serve"
	"github.com/git-pkgs/embedserve/internal/source"
)

// ManifestResponse lists the loaded asset sets.
type ManifestResponse struct {
	Mounts []MountManifest `json:"mounts"`
}

// MountManifest describes one mount and its assets.
type MountManifest struct {
	Prefix         string          `json:"prefix"`
	Source         string          `json:"source"`
	Kind           string          `json:"kind"`
	IndexFile      string          `json:"index_file,omitempty"`
	StrictSlash    bool            `json:"strict_slash"`
	AssetCount     int             `json:"asset_count"`
	TotalSize      int64           `json:"total_size_bytes"`
	TotalSizeHuman string          `json:"total_size"`
	Assets         []AssetManifest `json:"assets"`
}

// AssetManifest describes a single asset.
type AssetManifest struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ETag        string `json:"etag"`
	ContentType string `json:"content_type"`
}

func (s *Server) manifest() ManifestResponse {
	resp := ManifestResponse{Mounts: make([]MountManifest, 0, len(s.mounts))}
	for _, m := range s.mounts {
		index, _ := m.embed.IndexPath()
		mm := MountManifest{
			Prefix:         mountName(m.cfg),
			Source:         source.Redact(m.cfg.Source),
			Kind:           source.Describe(m.cfg.Source),
			IndexFile:      index,
			StrictSlash:    m.embed.IsStrictSlash(),
			AssetCount:     m.set.Len(),
			TotalSize:      m.set.TotalSize(),
			TotalSizeHuman: formatSize(m.set.TotalSize()),
			Assets:         make([]AssetManifest, 0, m.set.Len()),
		}
		for _, e := range m.set.Entries() {
			mm.Assets = append(mm.Assets, AssetManifest{
				Path:        e.Path,
				Size:        e.Size(),
				ETag:        e.ETag(),
				ContentType: serve.ContentType(e.Path),
			})
		}
		resp.Mounts = append(resp.Mounts, mm)
	}
	return resp
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.manifest())
}
