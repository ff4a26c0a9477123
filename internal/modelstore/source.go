// Package modelstore loads intent models from files, a model registry over
// HTTP, or Postgres.
package modelstore

import (
	"context"
	"fmt"
	"strings"

	commonhttp "intent-engine/internal/common/http"
	"intent-engine/pkg/registry"
)

// Source yields a validated model.
type Source interface {
	Load(ctx context.Context, modelID string) (*registry.Model, error)
}

// FileSource reads one model document; modelID, when set, must match it.
type FileSource struct {
	Path string
}

func (f FileSource) Load(_ context.Context, modelID string) (*registry.Model, error) {
	m, err := registry.LoadModel(f.Path)
	if err != nil {
		return nil, err
	}
	if modelID != "" && m.ID != modelID {
		return nil, fmt.Errorf("%w: %s holds model %s, not %s", registry.ErrInvalidModel, f.Path, m.ID, modelID)
	}
	return m, nil
}

// HTTPSource downloads a model document from a registry URL. The format
// follows the Content-Type, then the URL extension.
type HTTPSource struct {
	URL     string
	Headers map[string]string
	Client  *commonhttp.Client
}

func (h HTTPSource) Load(ctx context.Context, modelID string) (*registry.Model, error) {
	body, ctype, err := h.Client.Fetch(ctx, h.URL, h.Headers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", registry.ErrInvalidModel, err)
	}

	format := registry.FormatOf(h.URL)
	if strings.Contains(ctype, "json") {
		format = registry.FormatJSON
	} else if strings.Contains(ctype, "yaml") {
		format = registry.FormatYAML
	}

	m, err := registry.ParseModel(body, format)
	if err != nil {
		return nil, err
	}
	if modelID != "" && m.ID != modelID {
		return nil, fmt.Errorf("%w: %s serves model %s, not %s", registry.ErrInvalidModel, h.URL, m.ID, modelID)
	}
	return m, nil
}
