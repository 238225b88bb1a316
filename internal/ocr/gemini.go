package ocr

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const geminiTranscriptionPrompt = `Transcribe every piece of text visible in this medication package or prescription image.
Keep the reading order, render the result as plain markdown, and do not add commentary or interpretation.`

// GeminiEngine performs OCR through Google Gemini's multimodal models.
type GeminiEngine struct {
	keyAlias string
	model    string
}

func NewGeminiEngine(keyAlias string) *GeminiEngine {
	model := os.Getenv("MEDSCAN_GEMINI_OCR_MODEL")
	if strings.TrimSpace(model) == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiEngine{keyAlias: keyAlias, model: model}
}

func (g *GeminiEngine) Name() string { return "gemini" }

func (g *GeminiEngine) ExtractText(ctx context.Context, img ImageInput) (string, error) {
	apiKey := resolveGeminiKey(g.keyAlias)
	if apiKey == "" {
		return "", fmt.Errorf("gemini api key not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return "", fmt.Errorf("create gemini client: %w", err)
	}
	defer client.Close()

	format := ImageFormat(img.MIME)
	if format == "" {
		return "", fmt.Errorf("unsupported image type %q for %s", img.MIME, img.Name)
	}

	model := client.GenerativeModel(g.model)
	model.SetTemperature(0)

	resp, err := model.GenerateContent(ctx, genai.ImageData(format, img.Data), genai.Text(geminiTranscriptionPrompt))
	if err != nil {
		return "", fmt.Errorf("gemini transcription failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned from gemini")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("empty content returned from gemini")
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("unexpected response format from gemini")
	}
	return sb.String(), nil
}

func resolveGeminiKey(alias string) string {
	if alias != "" {
		if v := os.Getenv("MEDSCAN_GEMINI_KEY_" + strings.ToUpper(alias)); v != "" {
			return v
		}
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		return v
	}
	return os.Getenv("GOOGLE_API_KEY")
}
