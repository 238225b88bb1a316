package activities

import (
	"context"
	"testing"

	"medscan/internal/config"
	"medscan/internal/providers"

	"github.com/stretchr/testify/require"
)

func TestMapSlot(t *testing.T) {
	require.Equal(t, 2, mapSlot([]int{2, 0, 1}, 0))
	require.Equal(t, 0, mapSlot([]int{2, 0, 1}, 1))
	require.Equal(t, 1, mapSlot([]int{2, 0, 1}, 2))
	// Out of range falls back to the most preferred provider.
	require.Equal(t, 2, mapSlot([]int{2, 0, 1}, 5))
	require.Equal(t, 2, mapSlot([]int{2, 0, 1}, -1))
	require.Equal(t, 3, mapSlot(nil, 3))
}

// Mock is configured first but must be picked last: the highest slot number
// lands on it, the lower slots on the real providers.
func TestStructureRecordActivity_PreferredOrder(t *testing.T) {
	cfg := config.Config{LLMProviders: "mock|groq:missing", EmbedProviders: "mock", EmbedDim: 8}
	pm, err := providers.NewManager(cfg)
	require.NoError(t, err)
	a := &Activities{cfg: cfg, providers: pm}

	out, err := a.StructureRecordActivity(context.Background(), StructureRecordInput{
		Texts:         []string{"TEMPRA FORTE\n7501287617019"},
		ProviderIndex: 1,
	})
	require.NoError(t, err)
	require.Equal(t, "mock", out.ProviderName)
	require.Equal(t, "TEMPRA FORTE", out.Record.Name)
}

func TestEmbedQueryActivity_PreferredOrder(t *testing.T) {
	cfg := config.Config{LLMProviders: "mock", EmbedProviders: "mock|ollama", EmbedDim: 8}
	pm, err := providers.NewManager(cfg)
	require.NoError(t, err)
	a := &Activities{cfg: cfg, providers: pm}

	out, err := a.EmbedQueryActivity(context.Background(), EmbedQueryInput{
		Operation:     "semantic_query_embed",
		Text:          "paracetamol 500 mg tabletas",
		ProviderIndex: 1,
	})
	require.NoError(t, err)
	require.Equal(t, "mock", out.ProviderName)
	require.Len(t, out.Vector, 8)
}
