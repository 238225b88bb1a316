package activities

import "medscan/internal/models"

type ExtractTextInput struct {
	RunID     string `json:"run_id"`
	ImagePath string `json:"image_path"`
	ImageName string `json:"image_name"`
	Provider  string `json:"provider,omitempty"`
}

type ExtractTextOutput struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	MIME     string `json:"mime"`
}

type StructureRecordInput struct {
	Texts         []string `json:"texts"`
	ProviderIndex int      `json:"provider_index"`
}

type StructureRecordOutput struct {
	Record       models.MedicationRecord `json:"record"`
	ProviderName string                  `json:"provider_name"`
	Model        string                  `json:"model"`
}

type RegistryLookupInput struct {
	Code string `json:"code"`
}

type RegistryLookupOutput struct {
	Found bool                  `json:"found"`
	Entry models.RegistryEntry  `json:"entry,omitempty"`
}

type RegistryHasDataOutput struct {
	HasData bool `json:"has_data"`
}

type EmbedQueryInput struct {
	Operation     string `json:"operation"`
	Text          string `json:"text"`
	ProviderIndex int    `json:"provider_index"`
}

type EmbedQueryOutput struct {
	Vector       []float32 `json:"vector"`
	ProviderName string    `json:"provider_name"`
	Model        string    `json:"model"`
}

type SemanticSearchInput struct {
	QueryVec  []float32 `json:"query_vec"`
	TopK      int       `json:"top_k"`
	Threshold float64   `json:"threshold"`
}

type SemanticSearchOutput struct {
	Candidates []models.SemanticCandidate `json:"candidates"`
}

type RegistryCountOutput struct {
	Total int `json:"total"`
}

type VectorizeBatchInput struct {
	AfterID       int64 `json:"after_id"`
	Limit         int   `json:"limit"`
	ProviderIndex int   `json:"provider_index"`
}

type VectorizeBatchOutput struct {
	Processed int   `json:"processed"`
	Failed    int   `json:"failed"`
	LastID    int64 `json:"last_id"`
}

type LogCallInput struct {
	CallID       string `json:"call_id"`
	Operation    string `json:"operation"`
	RunID        string `json:"run_id"`
	ImageName    string `json:"image_name,omitempty"`
	ProviderName string `json:"provider_name"`
	Model        string `json:"model"`
	RequestID    string `json:"request_id,omitempty"`
	Status       string `json:"status"`
	ErrorType    string `json:"error_type,omitempty"`
}

type WriteRunArtifactsInput struct {
	RunID  string         `json:"run_id"`
	Result map[string]any `json:"result"`
}

type WriteRunArtifactsOutput struct {
	Path string `json:"path"`
}
