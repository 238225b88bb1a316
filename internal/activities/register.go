package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ExtractTextActivity)
	w.RegisterActivity(a.StructureRecordActivity)
	w.RegisterActivity(a.RegistryLookupActivity)
	w.RegisterActivity(a.RegistryHasDataActivity)
	w.RegisterActivity(a.RegistryCountActivity)
	w.RegisterActivity(a.EmbedQueryActivity)
	w.RegisterActivity(a.SemanticSearchActivity)
	w.RegisterActivity(a.VectorizeBatchActivity)
	w.RegisterActivity(a.VectorStatsActivity)
	w.RegisterActivity(a.LogCallActivity)
	w.RegisterActivity(a.WriteRunArtifactsActivity)
}
