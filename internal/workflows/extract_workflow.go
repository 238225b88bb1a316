package workflows

import (
	"fmt"
	"strings"
	"time"

	"medscan/internal/activities"
	"medscan/internal/enrich"
	"medscan/internal/gtin"
	"medscan/internal/models"
	"medscan/internal/providers"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	QueryGetRunStatus         = "GetRunStatus"
	QueryGetVectorizeProgress = "GetVectorizeProgress"

	SignalStopVectorization = "stop-vectorization"
)

type providerState struct {
	disabledUntil map[int]time.Time
	retries       map[string]int
}

func newProviderState() providerState {
	return providerState{disabledUntil: map[int]time.Time{}, retries: map[string]int{}}
}

// MedicationExtractWorkflow drives one medication run end to end: OCR over
// every image in parallel, one structuring call over the surviving texts,
// then registry enrichment by exact barcode lookup or vector search.
func MedicationExtractWorkflow(ctx workflow.Context, input ExtractRunInput) (ExtractRunResult, error) {
	status := ExtractRunStatus{
		RunID:       input.RunID,
		CurrentStep: "init",
		Status:      "processing",
		Steps:       map[string]string{},
		PerImage:    map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetRunStatus, func() (ExtractRunStatus, error) {
		return status, nil
	}); err != nil {
		return ExtractRunResult{}, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	result := ExtractRunResult{RunID: input.RunID}

	status.CurrentStep = "extract_text"
	status.Steps[status.CurrentStep] = "processing"
	result.Extracted = fanOutExtraction(ctx, input, &status)

	texts := make([]string, 0, len(result.Extracted))
	for _, ex := range result.Extracted {
		if ex.Err == "" && strings.TrimSpace(ex.Text) != "" {
			texts = append(texts, ex.Text)
		}
	}
	if len(texts) == 0 {
		status.Status = StatusNoInputData
		status.FailReason = "every image in the batch failed extraction"
		status.Steps[status.CurrentStep] = "failed"
		result.Status = StatusNoInputData
		writeArtifacts(ctx, input.RunID, &result)
		return result, nil
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "structure_record"
	status.Steps[status.CurrentStep] = "processing"
	llmState := newProviderState()
	cooldown := durationOrDefault(input.CooldownSeconds, 900)
	structured, err := callStructureWithFailover(ctx, &llmState, defaultCount(input.LLMProviders), cooldown, activities.StructureRecordInput{Texts: texts}, input.RunID)
	if err != nil {
		return ExtractRunResult{}, err
	}
	result.Record = structured.Record
	status.Steps[status.CurrentStep] = "done"

	if structured.Record.StructuringError != "" {
		status.Status = StatusDegraded
		status.FailReason = structured.Record.StructuringError
		result.Status = StatusDegraded
		result.Enrichment = EnrichmentInfo{Source: SourceNone, Error: "structuring produced no usable record"}
		writeArtifacts(ctx, input.RunID, &result)
		return result, nil
	}

	status.CurrentStep = "enrich"
	status.Steps[status.CurrentStep] = "processing"
	result.Record, result.Enrichment = enrichRecord(ctx, input, structured.Record, &status)
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "done"
	status.Status = StatusCompleted
	result.Status = StatusCompleted
	writeArtifacts(ctx, input.RunID, &result)
	return result, nil
}

// fanOutExtraction schedules one ExtractTextActivity per image and joins them
// all. A failed image becomes an ExtractedText with Err set; it never fails
// the batch.
func fanOutExtraction(ctx workflow.Context, input ExtractRunInput, status *ExtractRunStatus) []models.ExtractedText {
	futures := make([]workflow.Future, 0, len(input.Images))
	for _, img := range input.Images {
		status.PerImage[img.Name] = "processing"
		futures = append(futures, workflow.ExecuteActivity(ctx, "ExtractTextActivity", activities.ExtractTextInput{
			RunID:     input.RunID,
			ImagePath: img.Path,
			ImageName: img.Name,
			Provider:  input.OCRProvider,
		}))
	}

	extracted := make([]models.ExtractedText, 0, len(input.Images))
	for i, f := range futures {
		img := input.Images[i]
		var out activities.ExtractTextOutput
		if err := f.Get(ctx, &out); err != nil {
			status.PerImage[img.Name] = "failed"
			extracted = append(extracted, models.ExtractedText{ImageName: img.Name, Provider: input.OCRProvider, Err: err.Error()})
			continue
		}
		status.PerImage[img.Name] = "done"
		extracted = append(extracted, models.ExtractedText{ImageName: img.Name, Provider: out.Provider, Text: out.Text})
	}
	return extracted
}

// enrichRecord routes the record through exact lookup or semantic search and
// fills only its empty fields. Registry trouble degrades to an unenriched
// record instead of failing the run.
func enrichRecord(ctx workflow.Context, input ExtractRunInput, rec models.MedicationRecord, status *ExtractRunStatus) (models.MedicationRecord, EnrichmentInfo) {
	cleaned := gtin.Clean(rec.ProductCode)
	if gtin.IsEligible(cleaned) {
		rec.ProductCode = cleaned
		lookupCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: 30 * time.Second,
			RetryPolicy: &temporal.RetryPolicy{
				InitialInterval:    durationOrDefault(input.LookupRetryDelaySecs, 2),
				BackoffCoefficient: 1,
				MaximumAttempts:    int32(defaultAttempts(input.LookupAttempts)),
			},
		})
		var lookup activities.RegistryLookupOutput
		if err := workflow.ExecuteActivity(lookupCtx, "RegistryLookupActivity", activities.RegistryLookupInput{Code: cleaned}).Get(ctx, &lookup); err != nil {
			status.FailReason = "registry unavailable"
			return rec, EnrichmentInfo{Source: SourceNone, Error: "registry unavailable: " + err.Error()}
		}
		if lookup.Found {
			merged, filled := enrich.FillFromRegistry(rec, lookup.Entry)
			return merged, EnrichmentInfo{Source: SourceExact, Applied: len(filled) > 0, MatchedGtin: lookup.Entry.GtinCode, FilledFields: filled}
		}
		if !input.SemanticFallbackOnMiss {
			return rec, EnrichmentInfo{Source: SourceNone}
		}
	}
	return semanticEnrich(ctx, input, rec)
}

func semanticEnrich(ctx workflow.Context, input ExtractRunInput, rec models.MedicationRecord) (models.MedicationRecord, EnrichmentInfo) {
	var hasData activities.RegistryHasDataOutput
	if err := workflow.ExecuteActivity(ctx, "RegistryHasDataActivity").Get(ctx, &hasData); err != nil {
		return rec, EnrichmentInfo{Source: SourceNone, Error: "registry unavailable: " + err.Error()}
	}
	if !hasData.HasData {
		return rec, EnrichmentInfo{Source: SourceNone, Error: "registry holds no entries"}
	}

	query := enrich.BuildSemanticQuery(rec)
	if query == "" {
		return rec, EnrichmentInfo{Source: SourceNone, Error: "record has no searchable fields"}
	}

	embedState := newProviderState()
	cooldown := durationOrDefault(input.CooldownSeconds, 900)
	eq, err := callEmbedQueryWithFailover(ctx, &embedState, defaultCount(input.EmbedProviders), cooldown, activities.EmbedQueryInput{
		Operation: "semantic_query_embed",
		Text:      query,
	})
	if err != nil {
		return rec, EnrichmentInfo{Source: SourceNone, Error: "query embedding failed: " + err.Error()}
	}

	topK := input.TopK
	if topK <= 0 {
		topK = 5
	}
	threshold := input.Threshold
	if threshold <= 0 {
		threshold = 0.7
	}
	// Search without a floor so near misses still show up as candidates; the
	// merge itself is gated on the threshold here.
	var search activities.SemanticSearchOutput
	if err := workflow.ExecuteActivity(ctx, "SemanticSearchActivity", activities.SemanticSearchInput{
		QueryVec: eq.Vector,
		TopK:     topK,
	}).Get(ctx, &search); err != nil {
		return rec, EnrichmentInfo{Source: SourceNone, Error: "semantic search failed: " + err.Error()}
	}
	if len(search.Candidates) == 0 {
		return rec, EnrichmentInfo{Source: SourceNone}
	}

	// Strictly above the threshold; an exact tie is still a near miss.
	best := search.Candidates[0]
	if best.Score <= threshold {
		return rec, EnrichmentInfo{Source: SourceNone, Score: best.Score, Candidates: search.Candidates}
	}
	merged, filled := enrich.FillFromCandidate(rec, best)
	return merged, EnrichmentInfo{
		Source:       SourceSemantic,
		Applied:      len(filled) > 0,
		MatchedGtin:  best.Entry.GtinCode,
		Score:        best.Score,
		FilledFields: filled,
		Candidates:   search.Candidates,
	}
}

func callStructureWithFailover(ctx workflow.Context, state *providerState, providerCount int, cooldown time.Duration, input activities.StructureRecordInput, runID string) (activities.StructureRecordOutput, error) {
	var lastErr error
	for attempt := 0; attempt < providerCount*4; attempt++ {
		idx := attempt % providerCount
		if isProviderDisabled(ctx, state, idx) {
			continue
		}
		input.ProviderIndex = idx
		var out activities.StructureRecordOutput
		err := workflow.ExecuteActivity(ctx, "StructureRecordActivity", input).Get(ctx, &out)
		if err == nil {
			_ = workflow.ExecuteActivity(ctx, "LogCallActivity", activities.LogCallInput{
				Operation:    "structure_record",
				RunID:        runID,
				ProviderName: out.ProviderName,
				Model:        out.Model,
				RequestID:    fmt.Sprintf("structure-%d", attempt),
				Status:       "ok",
			}).Get(ctx, nil)
			return out, nil
		}
		lastErr = err
		errType := providers.ClassifyError(err)
		_ = workflow.ExecuteActivity(ctx, "LogCallActivity", activities.LogCallInput{
			Operation:    "structure_record",
			RunID:        runID,
			ProviderName: fmt.Sprintf("provider-%d", idx),
			RequestID:    fmt.Sprintf("structure-%d", attempt),
			Status:       "failed",
			ErrorType:    string(errType),
		}).Get(ctx, nil)
		key := fmt.Sprintf("structure-%d", idx)
		state.retries[key]++
		switch errType {
		case providers.ErrorQuota:
			disableProviderUntil(ctx, state, idx, cooldown)
		case providers.ErrorRate, providers.ErrorTransient:
			if state.retries[key] <= 2 {
				workflow.Sleep(ctx, time.Duration(state.retries[key])*time.Second)
				attempt--
			} else {
				disableProviderUntil(ctx, state, idx, 2*time.Minute)
			}
		default:
			disableProviderUntil(ctx, state, idx, time.Minute)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all llm providers exhausted")
	}
	return activities.StructureRecordOutput{}, lastErr
}

func callEmbedQueryWithFailover(ctx workflow.Context, state *providerState, providerCount int, cooldown time.Duration, input activities.EmbedQueryInput) (activities.EmbedQueryOutput, error) {
	var lastErr error
	for attempt := 0; attempt < providerCount*4; attempt++ {
		idx := attempt % providerCount
		if isProviderDisabled(ctx, state, idx) {
			continue
		}
		input.ProviderIndex = idx
		var out activities.EmbedQueryOutput
		err := workflow.ExecuteActivity(ctx, "EmbedQueryActivity", input).Get(ctx, &out)
		if err == nil {
			return out, nil
		}
		lastErr = err
		errType := providers.ClassifyError(err)
		key := fmt.Sprintf("eq-%d", idx)
		state.retries[key]++
		switch errType {
		case providers.ErrorQuota:
			disableProviderUntil(ctx, state, idx, cooldown)
		case providers.ErrorRate, providers.ErrorTransient:
			if state.retries[key] <= 2 {
				workflow.Sleep(ctx, time.Duration(state.retries[key])*time.Second)
				attempt--
			} else {
				disableProviderUntil(ctx, state, idx, 2*time.Minute)
			}
		default:
			disableProviderUntil(ctx, state, idx, time.Minute)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all embed providers exhausted")
	}
	return activities.EmbedQueryOutput{}, lastErr
}

func writeArtifacts(ctx workflow.Context, runID string, result *ExtractRunResult) {
	var out activities.WriteRunArtifactsOutput
	if err := workflow.ExecuteActivity(ctx, "WriteRunArtifactsActivity", activities.WriteRunArtifactsInput{
		RunID: runID,
		Result: map[string]any{
			"run_id":          result.RunID,
			"status":          result.Status,
			"record":          result.Record,
			"extracted_texts": result.Extracted,
			"enrichment":      result.Enrichment,
			"generated_at":    workflow.Now(ctx),
		},
	}).Get(ctx, &out); err == nil {
		result.ArtifactPath = out.Path
	}
}

func isProviderDisabled(ctx workflow.Context, state *providerState, idx int) bool {
	until, ok := state.disabledUntil[idx]
	if !ok {
		return false
	}
	return workflow.Now(ctx).Before(until)
}

func disableProviderUntil(ctx workflow.Context, state *providerState, idx int, d time.Duration) {
	state.disabledUntil[idx] = workflow.Now(ctx).Add(d)
}

func durationOrDefault(seconds int, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

func defaultCount(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func defaultAttempts(n int) int {
	if n <= 0 {
		return 3
	}
	return n
}
