// Package catalog lists and validates the chat models installed on the
// model server, normalizing Ollama's ":latest" tag convention.
package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/wherespace/internal/modelserver"
)

// families are the known model family prefixes; anything else groups
// under "other".
var families = []string{"llama", "mistral", "gemma", "qwen"}

// Model is one installed model with its normalized display name.
type Model struct {
	Name       string `json:"name"`
	Tag        string `json:"tag"`
	Family     string `json:"family"`
	SizeBytes  int64  `json:"size_bytes"`
	ModifiedAt string `json:"modified_at"`
}

// Lister is the model server surface the catalog needs.
type Lister interface {
	ListModels(ctx context.Context) ([]modelserver.ModelInfo, error)
}

// Catalog wraps a Lister with name handling.
type Catalog struct {
	lister Lister
}

// New returns a Catalog over the given model server client.
func New(lister Lister) *Catalog {
	return &Catalog{lister: lister}
}

// displayName strips a trailing ":latest"; other tags stay qualified so
// two quantizations of one model remain distinguishable.
func displayName(tag string) string {
	return strings.TrimSuffix(tag, ":latest")
}

// familyOf groups a model by its name prefix.
func familyOf(name string) string {
	lower := strings.ToLower(name)
	for _, fam := range families {
		if strings.HasPrefix(lower, fam) {
			return fam
		}
	}
	return "other"
}

// List returns installed models sorted by family then name.
func (c *Catalog) List(ctx context.Context) ([]Model, error) {
	infos, err := c.lister.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	models := make([]Model, 0, len(infos))
	for _, info := range infos {
		name := displayName(info.Name)
		models = append(models, Model{
			Name:       name,
			Tag:        info.Name,
			Family:     familyOf(name),
			SizeBytes:  info.Size,
			ModifiedAt: info.ModifiedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	sort.Slice(models, func(i, j int) bool {
		if models[i].Family != models[j].Family {
			return models[i].Family < models[j].Family
		}
		return models[i].Name < models[j].Name
	})
	return models, nil
}

// Grouped buckets the models by family, preserving List's order inside
// each bucket.
func (c *Catalog) Grouped(ctx context.Context) (map[string][]Model, error) {
	models, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]Model)
	for _, m := range models {
		grouped[m.Family] = append(grouped[m.Family], m)
	}
	return grouped, nil
}

// Resolve validates a requested model against the installed set,
// accepting either the bare name or the fully qualified tag. It returns
// the canonical bare name and whether the model exists.
func (c *Catalog) Resolve(ctx context.Context, requested string) (string, bool, error) {
	models, err := c.List(ctx)
	if err != nil {
		return "", false, err
	}
	want := displayName(requested)
	for _, m := range models {
		if m.Name == want || m.Tag == requested {
			return m.Name, true, nil
		}
	}
	return "", false, nil
}

// Names returns the bare names of every installed model, for error
// payloads that list what is available.
func (c *Catalog) Names(ctx context.Context) ([]string, error) {
	models, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	return names, nil
}
