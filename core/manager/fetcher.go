package manager

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pocketlm/pocketlm/core/registry"
	"github.com/pocketlm/pocketlm/pkg/downloader"
)

// HTTPFetcher is the default fetch collaborator. It downloads a model's
// artifact into a per-model directory under ModelsPath and reports progress
// as a fraction.
type HTTPFetcher struct {
	ModelsPath string
}

func (f *HTTPFetcher) Fetch(ctx context.Context, model registry.Model, onProgress func(fraction float64)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	uri := downloader.URI(model.URL)
	if !uri.LooksLikeURL() {
		return "", fmt.Errorf("invalid model URL %q", model.URL)
	}

	fileName, err := uri.FilenameFromUrl()
	if err != nil {
		return "", fmt.Errorf("cannot derive file name from %q: %w", model.URL, err)
	}

	dir := filepath.Join(f.ModelsPath, model.Name)
	dest := filepath.Join(dir, fileName)

	err = uri.DownloadFile(dest, model.SHA256, func(_ string, _ string, _ string, percentage float64) {
		if onProgress != nil {
			onProgress(percentage / 100)
		}
	})
	if err != nil {
		return "", err
	}

	return dir, nil
}
