package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/minutekit/minutekit/internal/audio"
	"github.com/minutekit/minutekit/pkg/meeting"
	asrprov "github.com/minutekit/minutekit/pkg/provider/asr"
)

// minRegisterSeconds is the shortest recording accepted for voiceprint
// registration; anything shorter cannot produce a stable embedding.
const minRegisterSeconds = 1.0

// archiveRequest is the /archive body.
type archiveRequest struct {
	MinutesID       int    `json:"minutes_id"`
	MarkdownContent string `json:"markdown_content"`
	UserID          string `json:"user_id,omitempty"`
	MeetingDate     string `json:"meeting_date,omitempty"`
	Department      string `json:"department,omitempty"`
}

// handleArchive chunks and stores an approved minute.
func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "error", "message": "archive is not configured",
		})
		return
	}

	var req archiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, meeting.Faultf(meeting.KindBadInput, "server: decode archive request: %v", err))
		return
	}

	n, err := s.archive.Archive(r.Context(), meeting.MinuteRecord{
		SourceID:    req.MinutesID,
		Markdown:    req.MarkdownContent,
		UserID:      req.UserID,
		MeetingDate: req.MeetingDate,
		Department:  req.Department,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.RecordArchivedChunks(r.Context(), n)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "success",
		"message":      "minutes archived",
		"chunks_count": n,
	})
}

// VoiceStore is the slice of the voiceprint store the registrar needs.
type VoiceStore interface {
	Register(ctx context.Context, rec meeting.VoiceprintRecord) error
}

// VoiceRegistrar turns an uploaded recording into a stored voiceprint:
// preprocess to ASR-ready WAV, reject clips under a second, encode the
// speaker embedding, and upsert it under the employee id.
type VoiceRegistrar struct {
	store   VoiceStore
	encoder asrprov.SpeakerEncoder
	pre     *audio.Preprocessor
}

// Register runs the registration flow for the audio at path.
func (v *VoiceRegistrar) Register(ctx context.Context, path, name, employeeID string) error {
	workDir, err := os.MkdirTemp("", "minutekit-voice-")
	if err != nil {
		return meeting.Wrap(meeting.KindInternal, err)
	}
	defer os.RemoveAll(workDir)

	prepared := filepath.Join(workDir, "voiceprint.wav")
	if err := v.pre.Preprocess(ctx, path, prepared); err != nil {
		return err
	}
	dur, err := v.pre.Duration(ctx, prepared)
	if err != nil {
		return err
	}
	if dur < minRegisterSeconds {
		return meeting.Faultf(meeting.KindBadInput,
			"voiceprint: recording is %.2fs, need at least %.0fs", dur, minRegisterSeconds)
	}

	embedding, err := v.encoder.EncodeSpeaker(ctx, prepared)
	if err != nil {
		return err
	}
	return v.store.Register(ctx, meeting.VoiceprintRecord{
		EmployeeID:   employeeID,
		Name:         name,
		Embedding:    embedding,
		RegisteredAt: time.Now(),
	})
}

// handleVoiceRegister registers a speaker voiceprint from an uploaded clip.
func (s *Server) handleVoiceRegister(w http.ResponseWriter, r *http.Request) {
	if s.voices == nil {
		writeVoiceResponse(w, http.StatusServiceUnavailable, "voiceprint registration is not configured", nil)
		return
	}
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeVoiceResponse(w, http.StatusBadRequest, "parse multipart form: "+err.Error(), nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	name := strings.TrimSpace(r.FormValue("name"))
	employeeID := strings.TrimSpace(r.FormValue("employee_id"))
	if name == "" || employeeID == "" {
		writeVoiceResponse(w, http.StatusBadRequest, "name and employee_id are required", nil)
		return
	}
	fhs := r.MultipartForm.File["file"]
	if len(fhs) == 0 {
		writeVoiceResponse(w, http.StatusBadRequest, "audio file is required", nil)
		return
	}

	// Stage the upload so the preprocessor can work on a real file.
	f, err := fhs[0].Open()
	if err != nil {
		writeVoiceResponse(w, http.StatusBadRequest, "open upload: "+err.Error(), nil)
		return
	}
	defer f.Close()
	staged := filepath.Join(os.TempDir(), "minutekit-upload-"+uuid.NewString())
	out, err := os.Create(staged)
	if err != nil {
		writeVoiceResponse(w, http.StatusInternalServerError, "stage upload: "+err.Error(), nil)
		return
	}
	defer os.Remove(staged)
	if _, err := out.ReadFrom(f); err != nil {
		out.Close()
		writeVoiceResponse(w, http.StatusInternalServerError, "stage upload: "+err.Error(), nil)
		return
	}
	out.Close()

	if err := s.voices.Register(r.Context(), staged, name, employeeID); err != nil {
		status := http.StatusInternalServerError
		if k := meeting.KindOf(err); k == meeting.KindBadInput || k == meeting.KindUnsupportedFormat {
			status = http.StatusBadRequest
		}
		writeVoiceResponse(w, status, err.Error(), nil)
		return
	}

	writeVoiceResponse(w, http.StatusOK, "voiceprint registered", map[string]any{
		"employee_id": employeeID,
		"name":        name,
		"vector_dim":  meeting.VoiceprintDimensions,
	})
}

// writeVoiceResponse emits the {code, message, data} envelope used by the
// voiceprint endpoint.
func writeVoiceResponse(w http.ResponseWriter, status int, message string, data map[string]any) {
	writeJSON(w, status, map[string]any{
		"code":    status,
		"message": message,
		"data":    data,
	})
}

// hotwordsBody is the payload shared by GET /hotwords and POST /hotwords/reload.
func hotwordsBody(reg interface {
	Categories() map[string][]string
	Words() []string
}) map[string]any {
	categories := reg.Categories()
	words := reg.Words()
	stats := make(map[string]int, len(categories))
	for name, ws := range categories {
		stats[name] = len(ws)
	}
	return map[string]any{
		"categories": categories,
		"hotwords":   words,
		"stats":      stats,
		"total":      len(words),
	}
}

// handleHotwords reports the current hotword table.
func (s *Server) handleHotwords(w http.ResponseWriter, r *http.Request) {
	if s.hotwords == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "error", "message": "hotwords are not configured",
		})
		return
	}
	writeJSON(w, http.StatusOK, hotwordsBody(s.hotwords))
}

// handleHotwordsReload re-reads the hotword file and reports the new table.
func (s *Server) handleHotwordsReload(w http.ResponseWriter, r *http.Request) {
	if s.hotwords == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "error", "message": "hotwords are not configured",
		})
		return
	}
	changed, err := s.hotwords.Reload()
	if err != nil {
		s.metrics.RecordHotwordReload(r.Context(), "error")
		writeError(w, err)
		return
	}
	s.metrics.RecordHotwordReload(r.Context(), "ok")

	body := hotwordsBody(s.hotwords)
	body["changed"] = changed
	writeJSON(w, http.StatusOK, body)
}
