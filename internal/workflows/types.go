package workflows

import "medscan/internal/models"

type ImageRef struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

type ExtractRunInput struct {
	RunID                  string     `json:"run_id"`
	Images                 []ImageRef `json:"images"`
	OCRProvider            string     `json:"ocr_provider,omitempty"`
	LLMProviders           int        `json:"llm_providers"`
	EmbedProviders         int        `json:"embed_providers"`
	TopK                   int        `json:"top_k,omitempty"`
	Threshold              float64    `json:"threshold,omitempty"`
	SemanticFallbackOnMiss bool       `json:"semantic_fallback_on_miss"`
	LookupAttempts         int        `json:"lookup_attempts,omitempty"`
	LookupRetryDelaySecs   int        `json:"lookup_retry_delay_secs,omitempty"`
	CooldownSeconds        int        `json:"cooldown_seconds,omitempty"`
}

// Enrichment sources reported in ExtractRunResult.
const (
	SourceExact    = "exact"
	SourceSemantic = "semantic"
	SourceNone     = "none"
)

// Terminal run statuses.
const (
	StatusCompleted   = "completed"
	StatusDegraded    = "completed_degraded"
	StatusNoInputData = "no_input_data"
)

type EnrichmentInfo struct {
	Source       string                     `json:"source"`
	Applied      bool                       `json:"enrichment_applied"`
	MatchedGtin  string                     `json:"matched_gtin,omitempty"`
	Score        float64                    `json:"score,omitempty"`
	FilledFields []string                   `json:"filled_fields,omitempty"`
	Candidates   []models.SemanticCandidate `json:"candidates,omitempty"`
	Error        string                     `json:"error,omitempty"`
}

type ExtractRunResult struct {
	RunID        string                  `json:"run_id"`
	Status       string                  `json:"status"`
	Record       models.MedicationRecord `json:"record"`
	Extracted    []models.ExtractedText  `json:"extracted_texts"`
	Enrichment   EnrichmentInfo          `json:"enrichment"`
	ArtifactPath string                  `json:"artifact_path,omitempty"`
}

type ExtractRunStatus struct {
	RunID       string            `json:"run_id"`
	CurrentStep string            `json:"current_step"`
	Status      string            `json:"status"`
	Steps       map[string]string `json:"steps"`
	PerImage    map[string]string `json:"per_image_status"`
	FailReason  string            `json:"fail_reason,omitempty"`
}

type VectorizeInput struct {
	BatchSize          int  `json:"batch_size"`
	EmbedProviderIndex int  `json:"embed_provider_index"`
	Force              bool `json:"force"`
}

type VectorizeProgress struct {
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	LastID    int64  `json:"last_id"`
}

type VectorizeResult struct {
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	IndexSize int    `json:"index_size"`
}
