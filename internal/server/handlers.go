package server

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/jonathan/labelscan/internal/chat"
	"github.com/jonathan/labelscan/internal/pipeline"
	"github.com/jonathan/labelscan/internal/server/middleware"
	"github.com/jonathan/labelscan/internal/types"
	"go.uber.org/zap"
)

// BatchItemResponse is one entry of a batch analysis response.
type BatchItemResponse struct {
	Index  int               `json:"index"`
	Status int               `json:"status"`
	Scan   *types.ScanResult `json:"scan,omitempty"`
	Error  string            `json:"error,omitempty"`
}

func analyzeInput(req types.AnalyzeRequest) pipeline.AnalyzeInput {
	return pipeline.AnalyzeInput{
		RawText:         req.RawText,
		ProductNameHint: req.Title,
		LanguageHint:    req.Language,
	}
}

// requestUser returns the authenticated user. The auth middleware guarantees
// it for every protected route.
func (s *Server) requestUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, false
	}
	return userID, true
}

// pathUUID parses a UUID path segment, answering 400 when it is malformed.
func (s *Server) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		s.fail(w, r, &ErrValidation{Field: name, Message: "must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

// handleAnalyze runs the full pipeline and returns the stored scan.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requestUser(w, r)
	if !ok {
		return
	}

	var req types.AnalyzeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}

	scan, err := s.pipeline.Analyze(r.Context(), userID, analyzeInput(req), nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, scan)
}

// handleAnalyzeStream runs the pipeline and streams stage progress via SSE.
// Request errors are answered before the stream opens; pipeline errors
// arrive as a terminal "error" event.
func (s *Server) handleAnalyzeStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requestUser(w, r)
	if !ok {
		return
	}

	var req types.AnalyzeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	var mu sync.Mutex
	onProgress := func(event pipeline.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		if err := sse.WriteEvent("step", event); err != nil {
			s.logger.Debug("failed to write SSE event", zap.Error(err))
		}
	}

	scan, err := s.pipeline.Analyze(r.Context(), userID, analyzeInput(req), onProgress)

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		status := HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("streamed analysis failed", zap.Int("status", status), zap.Error(err))
		}
		sse.WriteError(status, publicMessage(err, status))
		return
	}
	sse.WriteComplete(scan)
}

// handleAnalyzeBatch analyzes up to 20 labels; items fail independently.
func (s *Server) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requestUser(w, r)
	if !ok {
		return
	}

	var req types.BatchAnalyzeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}

	inputs := make([]pipeline.AnalyzeInput, len(req.Items))
	for i, item := range req.Items {
		inputs[i] = analyzeInput(item)
	}

	results, err := s.pipeline.AnalyzeBatch(r.Context(), userID, inputs)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	items := make([]BatchItemResponse, len(results))
	for i, res := range results {
		items[i] = BatchItemResponse{Index: res.Index, Status: http.StatusCreated, Scan: res.Scan}
		if res.Err != nil {
			status := HTTPStatus(res.Err)
			items[i].Status = status
			items[i].Error = publicMessage(res.Err, status)
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requestUser(w, r)
	if !ok {
		return
	}

	scans, err := s.scans.ListScans(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if scans == nil {
		scans = []types.ScanListItem{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"scans": scans})
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requestUser(w, r)
	if !ok {
		return
	}
	scanID, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}

	scan, err := s.scans.LoadScan(r.Context(), scanID, userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if scan == nil {
		s.fail(w, r, &chat.ScanNotFoundError{ScanID: scanID})
		return
	}
	s.jsonResponse(w, http.StatusOK, scan)
}

// handleDeleteScan removes a scan and its conversation.
func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requestUser(w, r)
	if !ok {
		return
	}
	scanID, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}

	deleted, err := s.scans.DeleteScan(r.Context(), scanID, userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !deleted {
		s.fail(w, r, &chat.ScanNotFoundError{ScanID: scanID})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// optionalScanID reads {scan_id} when the route has one.
func (s *Server) optionalScanID(w http.ResponseWriter, r *http.Request) (*uuid.UUID, bool) {
	if r.PathValue("scan_id") == "" {
		return nil, true
	}
	id, ok := s.pathUUID(w, r, "scan_id")
	if !ok {
		return nil, false
	}
	return &id, true
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requestUser(w, r)
	if !ok {
		return
	}
	scanID, ok := s.optionalScanID(w, r)
	if !ok {
		return
	}

	turns, err := s.chat.History(r.Context(), userID, scanID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if turns == nil {
		turns = []types.ConversationTurn{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"messages": turns})
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requestUser(w, r)
	if !ok {
		return
	}
	scanID, ok := s.optionalScanID(w, r)
	if !ok {
		return
	}

	var req types.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}

	reply, err := s.chat.Send(r.Context(), userID, scanID, req.Message, req.Language)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, reply)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requestUser(w, r)
	if !ok {
		return
	}

	profile, err := s.profiles.GetProfile(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, profile.Normalized())
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requestUser(w, r)
	if !ok {
		return
	}

	var req types.UpdateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.fail(w, r, err)
		return
	}

	profile := req.Profile()
	if err := s.profiles.UpsertProfile(r.Context(), userID, profile); err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, profile)
}
