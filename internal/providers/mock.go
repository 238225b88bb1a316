package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// MockProvider is a deterministic stand-in for dev setups without API keys.
// Generation echoes whatever medication clues the input carries, so the
// pipeline stays exercisable end to end.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 1536
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	_ = ctx
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, deterministicVector(input, dim))
	}
	return vectors, ProviderInfo{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", dim), Key: "mock"}, nil
}

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	_ = ctx
	info := ProviderInfo{Name: "mock", Model: "mock-llm-v1", Key: "mock"}
	if !req.JSONOnly {
		return GenerateResponse{Text: "Mock response."}, info, nil
	}
	combined := strings.Join(req.Context, "\n")
	out := map[string]any{
		"name":         firstUpperLine(combined),
		"product_code": firstBarcodeRun(combined),
	}
	b, _ := json.Marshal(out)
	return GenerateResponse{Text: string(b)}, info, nil
}

// firstUpperLine picks the first line that looks like a product name on a
// package: mostly uppercase letters, no digits-only content.
func firstUpperLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "#*- "))
		if line == "" {
			continue
		}
		if line == strings.ToUpper(line) && strings.IndexFunc(line, func(r rune) bool { return r >= 'A' && r <= 'Z' }) >= 0 {
			return line
		}
	}
	return "UNKNOWN"
}

func firstBarcodeRun(s string) string {
	run := strings.Builder{}
	for _, ch := range s + "\n" {
		if ch >= '0' && ch <= '9' {
			run.WriteRune(ch)
			continue
		}
		switch run.Len() {
		case 8, 12, 13, 14:
			return run.String()
		}
		run.Reset()
	}
	return ""
}

func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251)))
		u := binary.BigEndian.Uint32(h[:4])
		v := float32(u%2000)/1000.0 - 1.0
		vec[i] = v
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range v {
		v[i] *= inv
	}
	return v
}
