package ingest

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dunamismax/wardrobeflow/internal/pipeline"
	"github.com/h2non/filetype"
)

// ReadFiles loads paths into pipeline files. Directories contribute their
// regular files, non-recursively, in name order. The MIME type comes from the
// content when recognised, otherwise from the extension.
func ReadFiles(paths []string) ([]pipeline.File, error) {
	var expanded []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if !info.IsDir() {
			expanded = append(expanded, path)
			continue
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", path, err)
		}
		var names []string
		for _, entry := range entries {
			if entry.Type().IsRegular() && !strings.HasPrefix(entry.Name(), ".") {
				names = append(names, entry.Name())
			}
		}
		slices.Sort(names)
		for _, name := range names {
			expanded = append(expanded, filepath.Join(path, name))
		}
	}

	files := make([]pipeline.File, 0, len(expanded))
	for _, path := range expanded {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		files = append(files, pipeline.File{
			Name: filepath.Base(path),
			Type: detectType(path, data),
			Data: data,
		})
	}
	return files, nil
}

func detectType(path string, data []byte) string {
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}
