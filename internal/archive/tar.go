package archive

import (
	"archive/tar"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

type tarReader struct {
	files []tarFileEntry
	index map[string]int
}

type tarFileEntry struct {
	info FileInfo
	data []byte
}

func openTar(content io.Reader, compression string) (Reader, error) {
	var r io.Reader = content

	switch compression {
	case "gzip":
		gz, err := gzip.NewReader(content)
		if err != nil {
			return nil, fmt.Errorf("opening gzip: %w", err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	case "bzip2":
		r = bzip2.NewReader(content)
	case "xz":
		xzReader, err := xz.NewReader(content)
		if err != nil {
			return nil, fmt.Errorf("opening xz: %w", err)
		}
		r = xzReader
	}

	tr := tar.NewReader(r)
	t := &tarReader{index: make(map[string]int)}

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar: %w", err)
		}

		// Links, devices and pax metadata carry no servable content.
		switch header.Typeflag {
		case tar.TypeReg, tar.TypeDir:
		default:
			continue
		}

		info := FileInfo{
			Path:    header.Name,
			Size:    header.Size,
			ModTime: header.ModTime,
			IsDir:   header.Typeflag == tar.TypeDir,
		}

		var data []byte
		if !info.IsDir {
			data, err = io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("reading file %s: %w", header.Name, err)
			}
		}

		// A later entry for the same name replaces an earlier one, as tar extraction does.
		if i, ok := t.index[info.Path]; ok {
			t.files[i] = tarFileEntry{info: info, data: data}
			continue
		}
		t.index[info.Path] = len(t.files)
		t.files = append(t.files, tarFileEntry{info: info, data: data})
	}

	return t, nil
}

func (t *tarReader) List() ([]FileInfo, error) {
	files := make([]FileInfo, len(t.files))
	for i, f := range t.files {
		files[i] = f.info
	}
	return files, nil
}

func (t *tarReader) Extract(filePath string) (io.ReadCloser, error) {
	i, ok := t.index[filePath]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", filePath)
	}
	f := t.files[i]
	if f.info.IsDir {
		return nil, fmt.Errorf("path is a directory: %s", filePath)
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func (t *tarReader) Close() error {
	t.files = nil
	t.index = nil
	return nil
}
