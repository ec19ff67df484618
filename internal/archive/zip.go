package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
)

type zipReader struct {
	reader *zip.Reader
}

func openZip(content io.Reader) (Reader, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("reading zip content: %w", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}

	return &zipReader{reader: reader}, nil
}

func (z *zipReader) List() ([]FileInfo, error) {
	files := make([]FileInfo, 0, len(z.reader.File))
	for _, f := range z.reader.File {
		if !f.Mode().IsRegular() && !f.FileInfo().IsDir() {
			continue
		}
		files = append(files, FileInfo{
			Path:    f.Name,
			Size:    int64(f.UncompressedSize64),
			ModTime: f.Modified,
			IsDir:   f.FileInfo().IsDir(),
		})
	}
	return files, nil
}

func (z *zipReader) Extract(filePath string) (io.ReadCloser, error) {
	for _, f := range z.reader.File {
		if f.Name == filePath {
			if f.FileInfo().IsDir() {
				return nil, fmt.Errorf("path is a directory: %s", filePath)
			}
			return f.Open()
		}
	}
	return nil, fmt.Errorf("file not found: %s", filePath)
}

func (z *zipReader) Close() error {
	z.reader = nil
	return nil
}
