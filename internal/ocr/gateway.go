package ocr

import (
	"context"
	"fmt"
	"strings"

	"medscan/internal/providers"
	"medscan/internal/util"
)

// ImageInput is one raster image handed to an OCR engine.
type ImageInput struct {
	Name string
	MIME string
	Data []byte
}

// Engine transcribes the visible text of a medication package image.
type Engine interface {
	ExtractText(ctx context.Context, img ImageInput) (string, error)
	Name() string
}

// Gateway holds the configured OCR engines and routes extraction requests
// to one of them by name.
type Gateway struct {
	engines map[string]Engine
	order   []string
}

// NewGateway builds engines from a pipe-separated provider list. Unknown
// engine names are a startup error, not a runtime one.
func NewGateway(providerList string) (*Gateway, error) {
	refs := providers.ParseProviderList(providerList)
	g := &Gateway{engines: make(map[string]Engine)}
	for _, ref := range refs {
		var eng Engine
		switch strings.ToLower(ref.Name) {
		case "gemini":
			eng = NewGeminiEngine(ref.KeyAlias)
		case "mistral":
			eng = NewMistralEngine(ref.KeyAlias)
		case "mock":
			eng = NewMockEngine()
		default:
			return nil, fmt.Errorf("unknown ocr engine %q", ref.Name)
		}
		if _, dup := g.engines[eng.Name()]; dup {
			continue
		}
		g.engines[eng.Name()] = eng
		g.order = append(g.order, eng.Name())
	}
	return g, nil
}

// ByName resolves an engine; empty name selects the first configured one.
func (g *Gateway) ByName(name string) (Engine, error) {
	if name == "" {
		return g.engines[g.order[0]], nil
	}
	eng, ok := g.engines[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: ocr engine %q not configured", util.ErrProviderUnavailable, name)
	}
	return eng, nil
}

// Names lists configured engines in configuration order.
func (g *Gateway) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}
