package activities

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"medscan/internal/config"
	"medscan/internal/models"
	"medscan/internal/ocr"
	"medscan/internal/providers"
	"medscan/internal/storage"
	"medscan/internal/structure"
	"medscan/internal/util"
	"medscan/internal/vector"
)

type Activities struct {
	cfg          config.Config
	registryRepo *storage.RegistryRepo
	llmAuditRepo *storage.LLMAuditRepo
	index        *vector.Index
	ocrGateway   *ocr.Gateway
	providers    *providers.Manager
}

func New(cfg config.Config, db *storage.DB) (*Activities, error) {
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := ocr.NewGateway(cfg.OCRProviders)
	if err != nil {
		return nil, err
	}
	return &Activities{
		cfg:          cfg,
		registryRepo: storage.NewRegistryRepo(db),
		llmAuditRepo: storage.NewLLMAuditRepo(db),
		index:        vector.NewIndex(db.Pool),
		ocrGateway:   gw,
		providers:    pm,
	}, nil
}

// ExtractTextActivity runs OCR on one image. The image must already sit
// under the run's input directory; the bytes are sniffed before any engine
// sees them.
func (a *Activities) ExtractTextActivity(ctx context.Context, in ExtractTextInput) (ExtractTextOutput, error) {
	engine, err := a.ocrGateway.ByName(in.Provider)
	if err != nil {
		return ExtractTextOutput{}, err
	}
	data, err := os.ReadFile(in.ImagePath)
	if err != nil {
		return ExtractTextOutput{}, fmt.Errorf("read image: %w", err)
	}
	mime := ocr.SniffMIME(data)
	if !ocr.IsSupportedImage(data) {
		return ExtractTextOutput{}, fmt.Errorf("%w: %s is %s, not a supported image", util.ErrExtractionFailed, in.ImageName, mime)
	}
	text, err := engine.ExtractText(ctx, ocr.ImageInput{Name: in.ImageName, MIME: mime, Data: data})
	if err != nil {
		return ExtractTextOutput{}, fmt.Errorf("%w: %s: %v", util.ErrExtractionFailed, in.ImageName, err)
	}
	return ExtractTextOutput{
		Text:     util.SanitizeText(text),
		Provider: engine.Name(),
		MIME:     mime,
	}, nil
}

// StructureRecordActivity turns the surviving transcriptions into one
// medication record via a schema-constrained LLM call. The workflow's
// failover loop hands over a slot number; slots map through the preferred
// order so real providers get tried before mock.
func (a *Activities) StructureRecordActivity(ctx context.Context, in StructureRecordInput) (StructureRecordOutput, error) {
	llm, _ := a.providers.LLMProviderByIndex(mapSlot(a.providers.PreferredLLMOrder(), in.ProviderIndex))
	rec, info, err := structure.NewStructurer(llm).Structure(ctx, in.Texts)
	if err != nil {
		return StructureRecordOutput{}, err
	}
	return StructureRecordOutput{Record: rec, ProviderName: info.Name, Model: info.Model}, nil
}

func (a *Activities) RegistryLookupActivity(ctx context.Context, in RegistryLookupInput) (RegistryLookupOutput, error) {
	entry, err := a.registryRepo.GetByCode(ctx, in.Code)
	if err != nil {
		return RegistryLookupOutput{}, fmt.Errorf("%w: %v", util.ErrRegistryUnavailable, err)
	}
	if entry == nil {
		return RegistryLookupOutput{Found: false}, nil
	}
	return RegistryLookupOutput{Found: true, Entry: *entry}, nil
}

func (a *Activities) RegistryHasDataActivity(ctx context.Context) (RegistryHasDataOutput, error) {
	has, err := a.registryRepo.HasAnyData(ctx)
	if err != nil {
		return RegistryHasDataOutput{}, fmt.Errorf("%w: %v", util.ErrRegistryUnavailable, err)
	}
	return RegistryHasDataOutput{HasData: has}, nil
}

func (a *Activities) RegistryCountActivity(ctx context.Context) (RegistryCountOutput, error) {
	n, err := a.registryRepo.CountEntries(ctx)
	if err != nil {
		return RegistryCountOutput{}, fmt.Errorf("%w: %v", util.ErrRegistryUnavailable, err)
	}
	return RegistryCountOutput{Total: n}, nil
}

func (a *Activities) EmbedQueryActivity(ctx context.Context, in EmbedQueryInput) (EmbedQueryOutput, error) {
	provider, _ := a.providers.EmbedProviderByIndex(mapSlot(a.providers.PreferredEmbedOrder(), in.ProviderIndex))
	vectors, info, err := provider.Embed(ctx, providers.EmbedRequest{
		Operation: in.Operation,
		Inputs:    []string{in.Text},
		Dimension: a.cfg.EmbedDim,
	})
	if err != nil {
		return EmbedQueryOutput{}, err
	}
	if len(vectors) == 0 {
		return EmbedQueryOutput{}, fmt.Errorf("embedding provider returned empty vectors")
	}
	return EmbedQueryOutput{Vector: vectors[0], ProviderName: info.Name, Model: info.Model}, nil
}

func (a *Activities) SemanticSearchActivity(ctx context.Context, in SemanticSearchInput) (SemanticSearchOutput, error) {
	candidates, err := a.index.Search(ctx, in.QueryVec, in.TopK, in.Threshold)
	if err != nil {
		return SemanticSearchOutput{}, fmt.Errorf("%w: %v", util.ErrSemanticSearchFailed, err)
	}
	return SemanticSearchOutput{Candidates: candidates}, nil
}

// VectorizeBatchActivity embeds and stores one page of registry entries.
// Per-entry embedding failures are counted, not fatal, so one bad row never
// stalls the whole job.
func (a *Activities) VectorizeBatchActivity(ctx context.Context, in VectorizeBatchInput) (VectorizeBatchOutput, error) {
	entries, err := a.registryRepo.ListActive(ctx, in.AfterID, in.Limit)
	if err != nil {
		return VectorizeBatchOutput{}, fmt.Errorf("%w: %v", util.ErrRegistryUnavailable, err)
	}
	if len(entries) == 0 {
		return VectorizeBatchOutput{LastID: in.AfterID}, nil
	}
	inputs := make([]string, 0, len(entries))
	for _, e := range entries {
		inputs = append(inputs, vector.BuildSearchableText(e))
	}
	provider, _ := a.providers.EmbedProviderByIndex(in.ProviderIndex)
	vectors, _, err := provider.Embed(ctx, providers.EmbedRequest{
		Operation: "vectorize_registry",
		Inputs:    inputs,
		Dimension: a.cfg.EmbedDim,
	})
	if err != nil {
		return VectorizeBatchOutput{}, err
	}
	out := VectorizeBatchOutput{LastID: in.AfterID}
	for i, e := range entries {
		out.LastID = e.ID
		if i >= len(vectors) || len(vectors[i]) == 0 {
			out.Failed++
			continue
		}
		if err := a.index.Upsert(ctx, e.ID, vectors[i]); err != nil {
			out.Failed++
			continue
		}
		out.Processed++
	}
	return out, nil
}

func (a *Activities) VectorStatsActivity(ctx context.Context) (models.IndexStats, error) {
	return a.index.Stats(ctx)
}

func (a *Activities) LogCallActivity(ctx context.Context, in LogCallInput) error {
	return a.llmAuditRepo.Insert(ctx, storage.LLMCallRecord{
		CallID:       in.CallID,
		Operation:    in.Operation,
		RunID:        in.RunID,
		ImageName:    in.ImageName,
		ProviderName: in.ProviderName,
		Model:        in.Model,
		RequestID:    in.RequestID,
		Status:       in.Status,
		ErrorType:    in.ErrorType,
	})
}

func (a *Activities) WriteRunArtifactsActivity(ctx context.Context, in WriteRunArtifactsInput) (WriteRunArtifactsOutput, error) {
	_ = ctx
	path := filepath.Join(a.cfg.DataOutRoot, "runs", in.RunID, "result.json")
	if err := util.WriteJSONAtomic(path, in.Result); err != nil {
		return WriteRunArtifactsOutput{}, err
	}
	return WriteRunArtifactsOutput{Path: path}, nil
}

// mapSlot translates a failover slot number into an actual provider index
// using the preferred order, so slot 0 is always the most preferred provider.
func mapSlot(order []int, slot int) int {
	if len(order) == 0 {
		return slot
	}
	if slot < 0 || slot >= len(order) {
		slot = 0
	}
	return order[slot]
}
