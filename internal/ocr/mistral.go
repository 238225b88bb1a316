package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// MistralEngine performs OCR through Mistral's dedicated OCR endpoint.
// Images are sent inline as base64 data URLs; the response is page-level
// markdown which we join in page order.
type MistralEngine struct {
	keyAlias string
	model    string
	client   *http.Client
}

func NewMistralEngine(keyAlias string) *MistralEngine {
	model := os.Getenv("MEDSCAN_MISTRAL_OCR_MODEL")
	if strings.TrimSpace(model) == "" {
		model = "mistral-ocr-latest"
	}
	return &MistralEngine{
		keyAlias: keyAlias,
		model:    model,
		client:   &http.Client{Timeout: 120 * time.Second},
	}
}

func (m *MistralEngine) Name() string { return "mistral" }

func (m *MistralEngine) ExtractText(ctx context.Context, img ImageInput) (string, error) {
	apiKey := resolveMistralKey(m.keyAlias)
	if apiKey == "" {
		return "", fmt.Errorf("mistral api key not set")
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", img.MIME, base64.StdEncoding.EncodeToString(img.Data))
	body := map[string]any{
		"model": m.model,
		"document": map[string]string{
			"type":      "image_url",
			"image_url": dataURL,
		},
	}
	payload, _ := json.Marshal(body)
	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.mistral.ai/v1/ocr", bytes.NewReader(payload))
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("mistral ocr request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("mistral ocr error %d: %s", resp.StatusCode, string(respBody))
	}
	var parsed struct {
		Pages []struct {
			Index    int    `json:"index"`
			Markdown string `json:"markdown"`
		} `json:"pages"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode mistral ocr response: %w", err)
	}
	if len(parsed.Pages) == 0 {
		return "", fmt.Errorf("mistral returned no pages")
	}
	var sb strings.Builder
	for i, page := range parsed.Pages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(page.Markdown)
	}
	return sb.String(), nil
}

func resolveMistralKey(alias string) string {
	if alias != "" {
		if v := os.Getenv("MEDSCAN_MISTRAL_KEY_" + strings.ToUpper(alias)); v != "" {
			return v
		}
	}
	return os.Getenv("MISTRAL_API_KEY")
}
