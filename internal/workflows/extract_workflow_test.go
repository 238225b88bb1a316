package workflows

import (
	"context"
	"errors"
	"testing"

	"medscan/internal/activities"
	"medscan/internal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func newExtractEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(MedicationExtractWorkflow)
	registerActivityName(env, "ExtractTextActivity", func(context.Context, activities.ExtractTextInput) (activities.ExtractTextOutput, error) {
		return activities.ExtractTextOutput{}, nil
	})
	registerActivityName(env, "StructureRecordActivity", func(context.Context, activities.StructureRecordInput) (activities.StructureRecordOutput, error) {
		return activities.StructureRecordOutput{}, nil
	})
	registerActivityName(env, "RegistryLookupActivity", func(context.Context, activities.RegistryLookupInput) (activities.RegistryLookupOutput, error) {
		return activities.RegistryLookupOutput{}, nil
	})
	registerActivityName(env, "RegistryHasDataActivity", func(context.Context) (activities.RegistryHasDataOutput, error) {
		return activities.RegistryHasDataOutput{}, nil
	})
	registerActivityName(env, "EmbedQueryActivity", func(context.Context, activities.EmbedQueryInput) (activities.EmbedQueryOutput, error) {
		return activities.EmbedQueryOutput{}, nil
	})
	registerActivityName(env, "SemanticSearchActivity", func(context.Context, activities.SemanticSearchInput) (activities.SemanticSearchOutput, error) {
		return activities.SemanticSearchOutput{}, nil
	})
	registerActivityName(env, "LogCallActivity", func(context.Context, activities.LogCallInput) error { return nil })
	registerActivityName(env, "WriteRunArtifactsActivity", func(context.Context, activities.WriteRunArtifactsInput) (activities.WriteRunArtifactsOutput, error) {
		return activities.WriteRunArtifactsOutput{}, nil
	})
	env.OnActivity("LogCallActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("WriteRunArtifactsActivity", mock.Anything, mock.Anything).Return(activities.WriteRunArtifactsOutput{Path: "/out/result.json"}, nil)
	return env
}

func twoImages() []ImageRef {
	return []ImageRef{{Path: "/in/front.png", Name: "front.png"}, {Path: "/in/back.png", Name: "back.png"}}
}

func TestExtractWorkflow_ExactMatch(t *testing.T) {
	env := newExtractEnv(t)
	env.OnActivity("ExtractTextActivity", mock.Anything, mock.MatchedBy(func(in activities.ExtractTextInput) bool { return in.ImageName == "front.png" })).
		Return(activities.ExtractTextOutput{Text: "TEMPRA FORTE\n7-501287-617019", Provider: "mock"}, nil)
	env.OnActivity("ExtractTextActivity", mock.Anything, mock.MatchedBy(func(in activities.ExtractTextInput) bool { return in.ImageName == "back.png" })).
		Return(activities.ExtractTextOutput{}, errors.New("unreadable image"))
	env.OnActivity("StructureRecordActivity", mock.Anything, mock.Anything).
		Return(activities.StructureRecordOutput{Record: models.MedicationRecord{Name: "TEMPRA FORTE", ProductCode: "7-501287-617019"}, ProviderName: "mock", Model: "mock"}, nil)
	env.OnActivity("RegistryLookupActivity", mock.Anything, activities.RegistryLookupInput{Code: "7501287617019"}).
		Return(activities.RegistryLookupOutput{Found: true, Entry: models.RegistryEntry{
			GtinCode:           "7501287617019",
			Name:               "TEMPRA FORTE 500MG",
			CommonDenomination: "Paracetamol",
			Concentration:      "500 mg",
		}}, nil)

	env.ExecuteWorkflow(MedicationExtractWorkflow, ExtractRunInput{RunID: "r1", Images: twoImages(), LLMProviders: 1, EmbedProviders: 1})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out ExtractRunResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, StatusCompleted, out.Status)
	require.Equal(t, SourceExact, out.Enrichment.Source)
	require.True(t, out.Enrichment.Applied)
	require.Equal(t, "7501287617019", out.Enrichment.MatchedGtin)
	// OCR value wins on conflict, registry fills only the gaps.
	require.Equal(t, "TEMPRA FORTE", out.Record.Name)
	require.Equal(t, "Paracetamol", out.Record.CommonDenomination)
	require.Contains(t, out.Enrichment.FilledFields, "common_denomination")
	require.Len(t, out.Extracted, 2)
	require.NotEmpty(t, out.Extracted[1].Err)
}

func TestExtractWorkflow_AllImagesFail(t *testing.T) {
	env := newExtractEnv(t)
	env.OnActivity("ExtractTextActivity", mock.Anything, mock.Anything).
		Return(activities.ExtractTextOutput{}, errors.New("unreadable image"))

	env.ExecuteWorkflow(MedicationExtractWorkflow, ExtractRunInput{RunID: "r2", Images: twoImages(), LLMProviders: 1})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out ExtractRunResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, StatusNoInputData, out.Status)
}

func TestExtractWorkflow_SemanticWhenIneligibleCode(t *testing.T) {
	env := newExtractEnv(t)
	env.OnActivity("ExtractTextActivity", mock.Anything, mock.Anything).
		Return(activities.ExtractTextOutput{Text: "ASPIRINA 100 mg tabletas", Provider: "mock"}, nil)
	env.OnActivity("StructureRecordActivity", mock.Anything, mock.Anything).
		Return(activities.StructureRecordOutput{Record: models.MedicationRecord{Name: "ASPIRINA", ProductCode: "AB123", Concentration: "100 mg"}, ProviderName: "mock"}, nil)
	env.OnActivity("RegistryHasDataActivity", mock.Anything).Return(activities.RegistryHasDataOutput{HasData: true}, nil)
	env.OnActivity("EmbedQueryActivity", mock.Anything, mock.Anything).Return(activities.EmbedQueryOutput{Vector: []float32{0.1, 0.2}, ProviderName: "mock"}, nil)
	env.OnActivity("SemanticSearchActivity", mock.Anything, mock.Anything).Return(activities.SemanticSearchOutput{Candidates: []models.SemanticCandidate{{
		Entry: models.RegistryEntry{GtinCode: "7501001111112", Name: "ASPIRINA PROTECT", BrandName: "Bayer"},
		Score: 0.91,
	}}}, nil)

	env.ExecuteWorkflow(MedicationExtractWorkflow, ExtractRunInput{RunID: "r3", Images: twoImages()[:1], LLMProviders: 1, EmbedProviders: 1})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out ExtractRunResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, SourceSemantic, out.Enrichment.Source)
	require.True(t, out.Enrichment.Applied)
	require.Equal(t, "7501001111112", out.Enrichment.MatchedGtin)
	require.InDelta(t, 0.91, out.Enrichment.Score, 1e-9)
	require.Equal(t, "ASPIRINA", out.Record.Name)
	require.Equal(t, "Bayer", out.Record.BrandName)
	require.Len(t, out.Enrichment.Candidates, 1)
}

func TestExtractWorkflow_SemanticBelowThreshold(t *testing.T) {
	env := newExtractEnv(t)
	env.OnActivity("ExtractTextActivity", mock.Anything, mock.Anything).
		Return(activities.ExtractTextOutput{Text: "NAPROXENO suspension", Provider: "mock"}, nil)
	env.OnActivity("StructureRecordActivity", mock.Anything, mock.Anything).
		Return(activities.StructureRecordOutput{Record: models.MedicationRecord{Name: "NAPROXENO"}, ProviderName: "mock"}, nil)
	env.OnActivity("RegistryHasDataActivity", mock.Anything).Return(activities.RegistryHasDataOutput{HasData: true}, nil)
	env.OnActivity("EmbedQueryActivity", mock.Anything, mock.Anything).Return(activities.EmbedQueryOutput{Vector: []float32{0.4}, ProviderName: "mock"}, nil)
	env.OnActivity("SemanticSearchActivity", mock.Anything, mock.Anything).Return(activities.SemanticSearchOutput{Candidates: []models.SemanticCandidate{{
		Entry: models.RegistryEntry{GtinCode: "7501009999991", Name: "NAPROXENO SODICO", BrandName: "Genven"},
		Score: 0.65,
	}}}, nil)

	env.ExecuteWorkflow(MedicationExtractWorkflow, ExtractRunInput{RunID: "r8", Images: twoImages()[:1], LLMProviders: 1, EmbedProviders: 1})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out ExtractRunResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, StatusCompleted, out.Status)
	// Best hit sits under the merge threshold: nothing is filled in, but the
	// near miss is still reported.
	require.Equal(t, SourceNone, out.Enrichment.Source)
	require.False(t, out.Enrichment.Applied)
	require.InDelta(t, 0.65, out.Enrichment.Score, 1e-9)
	require.Len(t, out.Enrichment.Candidates, 1)
	require.Empty(t, out.Record.BrandName)
}

func TestExtractWorkflow_SemanticScoreAtThreshold(t *testing.T) {
	env := newExtractEnv(t)
	env.OnActivity("ExtractTextActivity", mock.Anything, mock.Anything).
		Return(activities.ExtractTextOutput{Text: "IBUPROFENO capsulas", Provider: "mock"}, nil)
	env.OnActivity("StructureRecordActivity", mock.Anything, mock.Anything).
		Return(activities.StructureRecordOutput{Record: models.MedicationRecord{Name: "IBUPROFENO"}, ProviderName: "mock"}, nil)
	env.OnActivity("RegistryHasDataActivity", mock.Anything).Return(activities.RegistryHasDataOutput{HasData: true}, nil)
	env.OnActivity("EmbedQueryActivity", mock.Anything, mock.Anything).Return(activities.EmbedQueryOutput{Vector: []float32{0.2}, ProviderName: "mock"}, nil)
	env.OnActivity("SemanticSearchActivity", mock.Anything, mock.Anything).Return(activities.SemanticSearchOutput{Candidates: []models.SemanticCandidate{{
		Entry: models.RegistryEntry{GtinCode: "7501008888884", Name: "IBUPROFENO 400", BrandName: "Pisa"},
		Score: 0.7,
	}}}, nil)

	env.ExecuteWorkflow(MedicationExtractWorkflow, ExtractRunInput{RunID: "r9", Images: twoImages()[:1], LLMProviders: 1, EmbedProviders: 1, Threshold: 0.7})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out ExtractRunResult
	require.NoError(t, env.GetWorkflowResult(&out))
	// A score exactly at the threshold does not clear it.
	require.Equal(t, SourceNone, out.Enrichment.Source)
	require.False(t, out.Enrichment.Applied)
	require.Empty(t, out.Record.BrandName)
	require.Len(t, out.Enrichment.Candidates, 1)
	require.InDelta(t, 0.7, out.Enrichment.Score, 1e-9)
}

func TestExtractWorkflow_ExactMissNoFallback(t *testing.T) {
	env := newExtractEnv(t)
	env.OnActivity("ExtractTextActivity", mock.Anything, mock.Anything).
		Return(activities.ExtractTextOutput{Text: "x", Provider: "mock"}, nil)
	env.OnActivity("StructureRecordActivity", mock.Anything, mock.Anything).
		Return(activities.StructureRecordOutput{Record: models.MedicationRecord{Name: "X", ProductCode: "7501287617019"}}, nil)
	env.OnActivity("RegistryLookupActivity", mock.Anything, mock.Anything).
		Return(activities.RegistryLookupOutput{Found: false}, nil)

	env.ExecuteWorkflow(MedicationExtractWorkflow, ExtractRunInput{RunID: "r4", Images: twoImages()[:1], LLMProviders: 1})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out ExtractRunResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, StatusCompleted, out.Status)
	require.Equal(t, SourceNone, out.Enrichment.Source)
	env.AssertNotCalled(t, "SemanticSearchActivity", mock.Anything, mock.Anything)
}

func TestExtractWorkflow_ExactMissWithFallback(t *testing.T) {
	env := newExtractEnv(t)
	env.OnActivity("ExtractTextActivity", mock.Anything, mock.Anything).
		Return(activities.ExtractTextOutput{Text: "x", Provider: "mock"}, nil)
	env.OnActivity("StructureRecordActivity", mock.Anything, mock.Anything).
		Return(activities.StructureRecordOutput{Record: models.MedicationRecord{Name: "X", ProductCode: "7501287617019"}}, nil)
	env.OnActivity("RegistryLookupActivity", mock.Anything, mock.Anything).
		Return(activities.RegistryLookupOutput{Found: false}, nil)
	env.OnActivity("RegistryHasDataActivity", mock.Anything).Return(activities.RegistryHasDataOutput{HasData: true}, nil)
	env.OnActivity("EmbedQueryActivity", mock.Anything, mock.Anything).Return(activities.EmbedQueryOutput{Vector: []float32{0.3}}, nil)
	env.OnActivity("SemanticSearchActivity", mock.Anything, mock.Anything).Return(activities.SemanticSearchOutput{}, nil)

	env.ExecuteWorkflow(MedicationExtractWorkflow, ExtractRunInput{RunID: "r5", Images: twoImages()[:1], LLMProviders: 1, EmbedProviders: 1, SemanticFallbackOnMiss: true})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out ExtractRunResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, SourceNone, out.Enrichment.Source)
	env.AssertCalled(t, "SemanticSearchActivity", mock.Anything, mock.Anything)
}

func TestExtractWorkflow_RegistryUnavailable(t *testing.T) {
	env := newExtractEnv(t)
	env.OnActivity("ExtractTextActivity", mock.Anything, mock.Anything).
		Return(activities.ExtractTextOutput{Text: "x", Provider: "mock"}, nil)
	env.OnActivity("StructureRecordActivity", mock.Anything, mock.Anything).
		Return(activities.StructureRecordOutput{Record: models.MedicationRecord{Name: "X", ProductCode: "7501287617019"}}, nil)
	env.OnActivity("RegistryLookupActivity", mock.Anything, mock.Anything).
		Return(activities.RegistryLookupOutput{}, errors.New("registry unavailable: connection refused"))

	env.ExecuteWorkflow(MedicationExtractWorkflow, ExtractRunInput{RunID: "r6", Images: twoImages()[:1], LLMProviders: 1, LookupAttempts: 2, LookupRetryDelaySecs: 1})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out ExtractRunResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, StatusCompleted, out.Status)
	require.Equal(t, SourceNone, out.Enrichment.Source)
	require.Contains(t, out.Enrichment.Error, "registry unavailable")
	require.Equal(t, "X", out.Record.Name)
}

func TestExtractWorkflow_DegradedStructuring(t *testing.T) {
	env := newExtractEnv(t)
	env.OnActivity("ExtractTextActivity", mock.Anything, mock.Anything).
		Return(activities.ExtractTextOutput{Text: "garbled", Provider: "mock"}, nil)
	env.OnActivity("StructureRecordActivity", mock.Anything, mock.Anything).
		Return(activities.StructureRecordOutput{Record: models.MedicationRecord{RawText: "garbled", StructuringError: "json does not match schema"}}, nil)

	env.ExecuteWorkflow(MedicationExtractWorkflow, ExtractRunInput{RunID: "r7", Images: twoImages()[:1], LLMProviders: 1})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out ExtractRunResult
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, StatusDegraded, out.Status)
	require.Equal(t, "garbled", out.Record.RawText)
	env.AssertNotCalled(t, "RegistryLookupActivity", mock.Anything, mock.Anything)
}
