package structure

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"medscan/internal/providers"
	"medscan/internal/util"
)

type fakeLLM struct {
	reply string
	err   error
}

func (f *fakeLLM) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	if f.err != nil {
		return providers.GenerateResponse{}, providers.ProviderInfo{Name: "fake"}, f.err
	}
	return providers.GenerateResponse{Text: f.reply}, providers.ProviderInfo{Name: "fake"}, nil
}

func TestStructure_ValidReply(t *testing.T) {
	s := NewStructurer(&fakeLLM{reply: `{"name":"TEMPRA FORTE","product_code":"7501287617019","concentration":"500 mg","fractions":10}`})
	rec, _, err := s.Structure(context.Background(), []string{"TEMPRA FORTE 500 mg"})
	require.NoError(t, err)
	require.Equal(t, "TEMPRA FORTE", rec.Name)
	require.Equal(t, "7501287617019", rec.ProductCode)
	require.Equal(t, "10", rec.Fractions)
	require.Empty(t, rec.StructuringError)
}

func TestStructure_EmptyInput(t *testing.T) {
	s := NewStructurer(&fakeLLM{reply: "{}"})
	_, _, err := s.Structure(context.Background(), []string{"", "   "})
	require.ErrorIs(t, err, util.ErrNoInputData)
}

func TestStructure_DegradedOnInvalidReply(t *testing.T) {
	s := NewStructurer(&fakeLLM{reply: `{"product_code":"123"}`}) // name missing
	rec, _, err := s.Structure(context.Background(), []string{"sometext"})
	require.NoError(t, err)
	require.Empty(t, rec.Name)
	require.Equal(t, "sometext", rec.RawText)
	require.NotEmpty(t, rec.StructuringError)
}

func TestStructure_ProviderError(t *testing.T) {
	s := NewStructurer(&fakeLLM{err: errors.New("quota exceeded")})
	_, _, err := s.Structure(context.Background(), []string{"text"})
	require.Error(t, err)
}

func TestParseRecord_CodeFence(t *testing.T) {
	rec, err := ParseRecord("```json\n{\"name\":\"ASPIRINA\"}\n```")
	require.NoError(t, err)
	require.Equal(t, "ASPIRINA", rec.Name)
}

func TestParseRecord_NotJSON(t *testing.T) {
	_, err := ParseRecord("the medication is aspirin")
	require.ErrorIs(t, err, util.ErrStructuringFailed)
}

func TestStripCodeFence(t *testing.T) {
	require.Equal(t, `{"a":1}`, StripCodeFence("```json\n{\"a\":1}\n```"))
	require.Equal(t, `{"a":1}`, StripCodeFence(`{"a":1}`))
}
