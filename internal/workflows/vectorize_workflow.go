package workflows

import (
	"time"

	"medscan/internal/activities"
	"medscan/internal/models"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// RegistryVectorizeWorkflow embeds the whole registry in pages. Progress is
// queryable while it runs and a stop signal drains cleanly at the next page
// boundary. Unless forced, a run against an already populated index is a
// no-op.
func RegistryVectorizeWorkflow(ctx workflow.Context, input VectorizeInput) (VectorizeResult, error) {
	progress := VectorizeProgress{Status: "running"}
	if err := workflow.SetQueryHandler(ctx, QueryGetVectorizeProgress, func() (VectorizeProgress, error) {
		return progress, nil
	}); err != nil {
		return VectorizeResult{}, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var hasData activities.RegistryHasDataOutput
	if err := workflow.ExecuteActivity(ctx, "RegistryHasDataActivity").Get(ctx, &hasData); err != nil {
		return VectorizeResult{}, err
	}
	if !hasData.HasData {
		progress.Status = "no_data"
		return VectorizeResult{Status: "no_data"}, nil
	}

	if !input.Force {
		var stats models.IndexStats
		if err := workflow.ExecuteActivity(ctx, "VectorStatsActivity").Get(ctx, &stats); err != nil {
			return VectorizeResult{}, err
		}
		if stats.Count > 0 {
			progress.Status = "already_vectorized"
			return VectorizeResult{Status: "already_vectorized", IndexSize: stats.Count}, nil
		}
	}

	var count activities.RegistryCountOutput
	if err := workflow.ExecuteActivity(ctx, "RegistryCountActivity").Get(ctx, &count); err != nil {
		return VectorizeResult{}, err
	}
	progress.Total = count.Total

	batchSize := input.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	stopCh := workflow.GetSignalChannel(ctx, SignalStopVectorization)
	stopped := false
	for {
		var stop bool
		for stopCh.ReceiveAsync(&stop) {
			stopped = true
		}
		if stopped {
			progress.Status = "stopped"
			break
		}

		var batch activities.VectorizeBatchOutput
		if err := workflow.ExecuteActivity(ctx, "VectorizeBatchActivity", activities.VectorizeBatchInput{
			AfterID:       progress.LastID,
			Limit:         batchSize,
			ProviderIndex: input.EmbedProviderIndex,
		}).Get(ctx, &batch); err != nil {
			progress.Status = "failed"
			return VectorizeResult{}, err
		}
		if batch.Processed == 0 && batch.Failed == 0 {
			progress.Status = "completed"
			break
		}
		progress.Processed += batch.Processed
		progress.Failed += batch.Failed
		progress.LastID = batch.LastID
	}

	result := VectorizeResult{
		Status:    progress.Status,
		Total:     progress.Total,
		Processed: progress.Processed,
		Failed:    progress.Failed,
	}
	var stats models.IndexStats
	if err := workflow.ExecuteActivity(ctx, "VectorStatsActivity").Get(ctx, &stats); err == nil {
		result.IndexSize = stats.Count
	}
	return result, nil
}
