package archive

import (
	"io"
	"strings"
)

// prefixStripper wraps a Reader and strips a prefix from all file paths.
// Entries outside the prefix are hidden.
type prefixStripper struct {
	reader Reader
	prefix string
}

func (p *prefixStripper) List() ([]FileInfo, error) {
	files, err := p.reader.List()
	if err != nil {
		return nil, err
	}

	result := make([]FileInfo, 0, len(files))
	for _, f := range files {
		name := strings.TrimPrefix(f.Path, "./")
		if !strings.HasPrefix(name, p.prefix) {
			continue
		}
		stripped := f
		stripped.Path = strings.TrimPrefix(name, p.prefix)
		if stripped.Path == "" || stripped.Path == "/" {
			continue
		}
		result = append(result, stripped)
	}
	return result, nil
}

func (p *prefixStripper) Extract(filePath string) (io.ReadCloser, error) {
	rc, err := p.reader.Extract(p.prefix + filePath)
	if err != nil {
		// Tar writers commonly emit "./dist/..." names.
		if alt, altErr := p.reader.Extract("./" + p.prefix + filePath); altErr == nil {
			return alt, nil
		}
		return nil, err
	}
	return rc, nil
}

func (p *prefixStripper) Close() error {
	return p.reader.Close()
}
