package ocr

import (
	"context"
	"fmt"

	"medscan/internal/util"
)

// MockEngine returns a deterministic transcription derived from the image
// bytes, keeping local runs and tests independent of external OCR APIs.
type MockEngine struct{}

func NewMockEngine() *MockEngine { return &MockEngine{} }

func (m *MockEngine) Name() string { return "mock" }

func (m *MockEngine) ExtractText(ctx context.Context, img ImageInput) (string, error) {
	_ = ctx
	if len(img.Data) == 0 {
		return "", fmt.Errorf("empty image %s", img.Name)
	}
	digest := util.SHA256Hex(img.Data)
	return fmt.Sprintf("MOCK MEDICATION %s\n%s\nLote: L%s\n", shortTag(digest), digitRun(digest, 13), digest[14:20]), nil
}

func shortTag(digest string) string {
	tag := make([]byte, 4)
	for i := range tag {
		tag[i] = 'A' + digest[i]%26
	}
	return string(tag)
}

func digitRun(digest string, n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = '0' + digest[i]%10
	}
	return string(out)
}
