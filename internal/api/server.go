package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"medscan/internal/config"
	"medscan/internal/gtin"
	"medscan/internal/ocr"
	"medscan/internal/providers"
	"medscan/internal/storage"
	"medscan/internal/util"
	"medscan/internal/vector"
	"medscan/internal/workflows"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
)

const vectorizeWorkflowID = "registry-vectorize"

type Server struct {
	cfg          config.Config
	db           *storage.DB
	registryRepo *storage.RegistryRepo
	index        *vector.Index
	providers    *providers.Manager
	temporal     tclient.Client
}

func NewServer(cfg config.Config) *Server {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		panic(err)
	}
	pm, err := providers.NewManager(cfg)
	if err != nil {
		panic(err)
	}
	tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		panic(err)
	}
	return &Server{
		cfg:          cfg,
		db:           db,
		registryRepo: storage.NewRegistryRepo(db),
		index:        vector.NewIndex(db.Pool),
		providers:    pm,
		temporal:     tc,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/extract", s.handleExtract)
	mux.HandleFunc("/extract/", s.handleExtractScoped)
	mux.HandleFunc("/gtin/query/", s.handleGtinQuery)
	mux.HandleFunc("/gtin/search", s.handleGtinSearch)
	mux.HandleFunc("/gtin/stats", s.handleGtinStats)
	mux.HandleFunc("/vectorize/start", s.handleVectorizeStart)
	mux.HandleFunc("/vectorize/stop", s.handleVectorizeStop)
	mux.HandleFunc("/vectorize/status", s.handleVectorizeStatus)
	mux.HandleFunc("/vectorize/search", s.handleVectorizeSearch)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleExtract accepts a multipart batch of package images, runs the whole
// pipeline synchronously and returns the enriched record.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		files = r.MultipartForm.File["images"]
	}
	if len(files) == 0 {
		if single, ok := firstSingleFile(r.MultipartForm.File); ok {
			files = append(files, single)
		}
	}
	if len(files) == 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no image files provided"))
		return
	}

	runID := uuid.NewString()
	inDir := filepath.Join(s.cfg.DataInRoot, "runs", runID)
	if err := util.EnsureDir(inDir); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	images := make([]workflows.ImageRef, 0, len(files))
	for _, fh := range files {
		savedPath, err := saveUploadedImage(inDir, fh)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		images = append(images, workflows.ImageRef{Path: savedPath, Name: filepath.Base(savedPath)})
	}

	wfID := "extract-" + runID
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                                       wfID,
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.MedicationExtractWorkflow, workflows.ExtractRunInput{
		RunID:                  runID,
		Images:                 images,
		OCRProvider:            strings.TrimSpace(r.FormValue("provider")),
		LLMProviders:           s.providers.LLMCount(),
		EmbedProviders:         s.providers.EmbedCount(),
		TopK:                   s.cfg.SemanticTopK,
		Threshold:              s.cfg.SemanticThreshold,
		SemanticFallbackOnMiss: s.cfg.SemanticFallbackOnMiss,
		LookupAttempts:         s.cfg.LookupAttempts,
		LookupRetryDelaySecs:   s.cfg.LookupRetryDelaySecs,
	})
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}

	waitCtx, cancel := context.WithTimeout(r.Context(), time.Duration(s.cfg.ExtractTimeoutSecs)*time.Second)
	defer cancel()
	var result workflows.ExtractRunResult
	if err := we.Get(waitCtx, &result); err != nil {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"run_id":      runID,
			"workflow_id": we.GetID(),
			"status":      "processing",
			"detail":      "run still in progress; poll /extract/{run_id}/status",
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExtractScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/extract/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "status" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	runID := parts[0]
	resp, err := s.temporal.QueryWorkflow(r.Context(), "extract-"+runID, "", workflows.QueryGetRunStatus)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	var status workflows.ExtractRunStatus
	if err := resp.Get(&status); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleGtinQuery is a direct registry lookup bypassing the pipeline; the
// code still has to pass the same barcode gate.
func (s *Server) handleGtinQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	code := gtin.Clean(strings.Trim(strings.TrimPrefix(r.URL.Path, "/gtin/query/"), "/"))
	if !gtin.IsEligible(code) {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("code is not a valid barcode"))
		return
	}
	entry, err := s.registryRepo.GetByCode(r.Context(), code)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if entry == nil {
		writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"found": true, "entry": entry})
}

func (s *Server) handleGtinSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	term := strings.TrimSpace(r.URL.Query().Get("query"))
	if term == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.registryRepo.Search(r.Context(), term, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleGtinStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	total, err := s.registryRepo.CountEntries(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	stats, err := s.index.Stats(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registry_entries":   total,
		"vectorized_entries": stats.Count,
		"index_status":       stats.Status,
	})
}

func (s *Server) handleVectorizeStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		BatchSize int  `json:"batch_size"`
		Force     bool `json:"force"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.BatchSize <= 0 {
		req.BatchSize = s.cfg.VectorizeBatchSize
	}
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:                                       vectorizeWorkflowID,
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.RegistryVectorizeWorkflow, workflows.VectorizeInput{BatchSize: req.BatchSize, Force: req.Force})
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handleVectorizeStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	if err := s.temporal.SignalWorkflow(r.Context(), vectorizeWorkflowID, "", workflows.SignalStopVectorization, true); err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"stopping": true})
}

func (s *Server) handleVectorizeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	resp, err := s.temporal.QueryWorkflow(r.Context(), vectorizeWorkflowID, "", workflows.QueryGetVectorizeProgress)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	var prog workflows.VectorizeProgress
	if err := resp.Get(&prog); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

// handleVectorizeSearch queries the index directly with free text, for
// operators checking what the semantic stage would see.
func (s *Server) handleVectorizeSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		Query     string  `json:"query"`
		TopK      int     `json:"top_k"`
		Threshold float64 `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("query is required"))
		return
	}
	if req.TopK <= 0 {
		req.TopK = s.cfg.SemanticTopK
	}
	if req.Threshold <= 0 {
		req.Threshold = s.cfg.SemanticThreshold
	}

	var queryVec []float32
	var embedErr error
	for _, idx := range s.providers.PreferredEmbedOrder() {
		provider, _ := s.providers.EmbedProviderByIndex(idx)
		vectors, _, err := provider.Embed(r.Context(), providers.EmbedRequest{
			Operation: "api_semantic_search",
			Inputs:    []string{req.Query},
			Dimension: s.cfg.EmbedDim,
		})
		if err == nil && len(vectors) > 0 {
			queryVec = vectors[0]
			break
		}
		embedErr = err
	}
	if queryVec == nil {
		writeErr(w, http.StatusBadGateway, fmt.Errorf("embedding providers unavailable: %w", embedErr))
		return
	}

	candidates, err := s.index.Search(r.Context(), queryVec, req.TopK, req.Threshold)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates, "count": len(candidates)})
}

// saveUploadedImage streams one upload to disk, sniffing the first bytes so a
// non-image never reaches the run directory.
func saveUploadedImage(dstDir string, fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	if !ocr.IsSupportedImage(head) {
		return "", fmt.Errorf("%s is not a supported image", fh.Filename)
	}

	tmp, err := os.CreateTemp(dstDir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
	}()
	if _, err := tmp.Write(head); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	// Duplicate filenames within one batch get a numeric prefix instead of
	// silently replacing an earlier upload.
	base := filepath.Base(fh.Filename)
	finalPath := filepath.Join(dstDir, base)
	for i := 1; ; i++ {
		if _, err := os.Stat(finalPath); os.IsNotExist(err) {
			break
		}
		finalPath = filepath.Join(dstDir, fmt.Sprintf("%d_%s", i, base))
	}
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return "", fmt.Errorf("atomic move upload: %w", err)
	}
	return finalPath, nil
}

func firstSingleFile(m map[string][]*multipart.FileHeader) (*multipart.FileHeader, bool) {
	for _, v := range m {
		if len(v) > 0 {
			return v[0], true
		}
	}
	return nil, false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "MS-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "MS-DB-5001",
				Message: "Database schema is not initialized. Run migrations and retry.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "MS-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		case status == http.StatusBadGateway:
			return apiError{
				Code:    "MS-API-5020",
				Message: "Upstream provider unavailable. Retry shortly.",
			}
		default:
			return apiError{
				Code:    "MS-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "MS-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "MS-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "MS-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "MS-API-4005"
		msg = "This endpoint does not support the requested method."
	}

	if status >= 400 && status < 500 && err != nil {
		low := strings.ToLower(err.Error())
		switch {
		case strings.Contains(low, "no image files provided"):
			msg = "No image files were provided."
		case strings.Contains(low, "not a supported image"):
			msg = "One of the uploads is not a supported image."
		case strings.Contains(low, "not a valid barcode"):
			msg = "The code is not a valid GTIN barcode."
		case strings.Contains(low, "query is required"):
			msg = "A query text is required."
		case strings.Contains(low, "invalid json"):
			msg = "Malformed JSON request body."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
