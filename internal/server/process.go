package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/minutekit/minutekit/internal/pipeline"
	"github.com/minutekit/minutekit/pkg/meeting"
)

// processResponse is the /process success body.
type processResponse struct {
	Status      string              `json:"status"`
	Message     string              `json:"message"`
	RawText     string              `json:"raw_text"`
	Transcript  []meeting.Segment   `json:"transcript"`
	NeedRAG     bool                `json:"need_rag"`
	HTMLContent string              `json:"html_content"`
	UsageTokens int                 `json:"usage_tokens"`
	FileErrors  []meeting.FileError `json:"file_errors,omitempty"`
}

// handleProcess runs one ingestion request.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, meeting.Faultf(meeting.KindBadInput, "server: parse multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	req, err := s.parseProcessForm(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctrl, err := s.pipelines(formValue(r, "asr_model", "auto"), formValue(r, "llm_model", "auto"))
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	s.metrics.ActiveRequests.Add(ctx, 1)
	defer s.metrics.ActiveRequests.Add(ctx, -1)

	result, err := ctrl.Process(ctx, *req)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := processResponse{
		Status:      "success",
		Message:     result.Minutes,
		RawText:     result.RawText,
		Transcript:  result.Transcript,
		NeedRAG:     result.NeedRAG,
		HTMLContent: result.HTML,
		UsageTokens: result.Usage.TotalTokens,
		FileErrors:  result.FileErrors,
	}
	if resp.Transcript == nil {
		resp.Transcript = []meeting.Segment{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseProcessForm assembles a pipeline request from the multipart form.
// Exactly-one-input validation happens in the pipeline; this only collects.
func (s *Server) parseProcessForm(r *http.Request) (*pipeline.Request, error) {
	req := &pipeline.Request{
		Template:    formValue(r, "template", "default"),
		Requirement: r.FormValue("user_requirement"),
	}

	// Audio inputs, in submission order within each field.
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			return nil, meeting.Faultf(meeting.KindBadInput, "server: open upload %q: %v", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, meeting.Faultf(meeting.KindBadInput, "server: read upload %q: %v", fh.Filename, err)
		}
		req.Audio = append(req.Audio, meeting.AudioSource{
			Kind:     meeting.AudioUpload,
			Data:     data,
			Filename: fh.Filename,
		})
	}
	for _, path := range splitList(r.Form["file_paths"]) {
		req.Audio = append(req.Audio, meeting.AudioSource{Kind: meeting.AudioLocalPath, Path: path})
	}
	for _, url := range splitList(r.Form["audio_urls"]) {
		req.Audio = append(req.Audio, meeting.AudioSource{Kind: meeting.AudioURL, URL: url})
	}
	if id := strings.TrimSpace(r.FormValue("audio_id")); id != "" {
		req.Audio = append(req.Audio, meeting.AudioSource{Kind: meeting.AudioStoredID, StoredID: id})
	}

	// Document input.
	if fhs := r.MultipartForm.File["document_file"]; len(fhs) > 0 {
		fh := fhs[0]
		f, err := fh.Open()
		if err != nil {
			return nil, meeting.Faultf(meeting.KindBadInput, "server: open document %q: %v", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, meeting.Faultf(meeting.KindBadInput, "server: read document %q: %v", fh.Filename, err)
		}
		req.Document = &pipeline.Document{Filename: fh.Filename, Data: data}
	}

	// Free-text input.
	req.Text = r.FormValue("text_content")

	// History.
	if ids := r.FormValue("history_meeting_ids"); strings.TrimSpace(ids) != "" {
		for _, part := range strings.Split(ids, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.Atoi(part)
			if err != nil {
				return nil, meeting.Faultf(meeting.KindBadInput, "server: history_meeting_ids: %q is not an integer", part)
			}
			req.History.IDs = append(req.History.IDs, id)
		}
	}
	mode := meeting.HistoryMode(formValue(r, "history_mode", string(meeting.HistoryAuto)))
	if !mode.IsValid() {
		return nil, meeting.Faultf(meeting.KindBadInput, "server: history_mode %q (want auto, retrieval, or summary)", mode)
	}
	if len(req.History.IDs) > 0 {
		req.History.Mode = mode
	}

	// LLM knobs.
	req.Temperature = DefaultTemperature
	if v := r.FormValue("llm_temperature"); v != "" {
		temp, err := strconv.ParseFloat(v, 64)
		if err != nil || temp < 0 || temp > 1 {
			return nil, meeting.Faultf(meeting.KindBadInput, "server: llm_temperature %q must be a number in [0, 1]", v)
		}
		req.Temperature = temp
	}
	req.MaxTokens = DefaultMaxTokens
	if v := r.FormValue("llm_max_tokens"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, meeting.Faultf(meeting.KindBadInput, "server: llm_max_tokens %q must be a positive integer", v)
		}
		req.MaxTokens = n
	}

	return req, nil
}

// formValue returns the named form value or a default when empty.
func formValue(r *http.Request, name, fallback string) string {
	if v := strings.TrimSpace(r.FormValue(name)); v != "" {
		return v
	}
	return fallback
}

// splitList flattens repeated form values and comma-separated entries.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
