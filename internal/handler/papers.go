package handler

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/pavelanni/papergen/internal/apperr"
	"github.com/pavelanni/papergen/internal/extract"
	appI18n "github.com/pavelanni/papergen/internal/i18n"
	"github.com/pavelanni/papergen/internal/model"
)

// Upload defaults for document and media papers.
const (
	defaultMarksPerMCQ   = 2
	defaultMarksPerShort = 5
	previewLength        = 200
	// multipartOverhead covers form fields sent alongside the file.
	multipartOverhead = 1 << 20
)

type curriculumRequest struct {
	Grade   string `json:"grade"`
	Subject string `json:"subject"`
	Chapter string `json:"chapter"`
	Topic   string `json:"topic"`
}

type paperResponse struct {
	model.Paper
	Message           string `json:"message,omitempty"`
	MediaType         string `json:"media_type,omitempty"`
	TranscriptPreview string `json:"transcript_preview,omitempty"`
}

type answerEntry struct {
	QuestionNumber int    `json:"question_number"`
	Answer         string `json:"answer"`
}

type evaluateRequest struct {
	Answers []answerEntry `json:"answers"`
}

type evaluationResponse struct {
	EvaluationID int64 `json:"evaluation_id"`
	PaperID      int64 `json:"paper_id"`
	model.EvaluationResult
	GradeLabel string `json:"grade_label"`
}

func (h *Handler) handleCurriculumPaper(w http.ResponseWriter, r *http.Request) {
	var req curriculumRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, r, http.StatusBadRequest, kindInvalid, "InvalidBody")
		return
	}
	h.generate(w, r, model.GenerationRequest{
		Mode:    model.ModeCurriculum,
		Grade:   strings.TrimSpace(req.Grade),
		Subject: strings.TrimSpace(req.Subject),
		Chapter: strings.TrimSpace(req.Chapter),
		Topic:   strings.TrimSpace(req.Topic),
	}, paperResponse{})
}

func (h *Handler) handleDocumentPaper(w http.ResponseWriter, r *http.Request) {
	file, header, req, err := h.parseUpload(w, r, extract.MaxDocumentSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if file == nil {
		writeMessage(w, r, http.StatusBadRequest, kindInvalid, "FileRequired")
		return
	}
	defer file.Close()

	text, err := extract.Document(header.Filename, file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req.Mode = model.ModeDocument
	req.SourceName = header.Filename
	req.SourceText = text
	h.generate(w, r, req, paperResponse{})
}

func (h *Handler) handleMediaPaper(w http.ResponseWriter, r *http.Request) {
	file, header, req, err := h.parseUpload(w, r, extract.MaxMediaSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if file == nil {
		writeMessage(w, r, http.StatusBadRequest, kindInvalid, "FileRequired")
		return
	}
	defer file.Close()

	kind, err := extract.Media(header.Filename, header.Size)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	raw, err := h.transcriber.Transcribe(r.Context(), header.Filename, file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	transcript, err := extract.Transcript(raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("media transcribed", "name", header.Filename, "media_type", kind, "chars", len([]rune(transcript)))

	req.Mode = model.ModeMedia
	req.SourceName = header.Filename
	req.SourceText = transcript
	h.generate(w, r, req, paperResponse{
		MediaType:         string(kind),
		TranscriptPreview: apperr.Truncate(transcript, previewLength),
	})
}

// parseUpload reads the multipart form of a document or media request. It
// returns a nil file when the form has no "file" part.
func (h *Handler) parseUpload(w http.ResponseWriter, r *http.Request, maxFile int64) (multipart.File, *multipart.FileHeader, model.GenerationRequest, error) {
	var req model.GenerationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxFile+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		return nil, nil, req, apperr.InvalidRequest("invalid upload: file too large or malformed form (maximum %d MB)", maxFile>>20)
	}

	fields := []struct {
		name string
		dst  *int
		def  int
	}{
		{"num_mcqs", &req.NumMCQs, 0},
		{"num_short_questions", &req.NumShort, 0},
		{"marks_per_mcq", &req.MarksPerMCQ, defaultMarksPerMCQ},
		{"marks_per_short", &req.MarksPerShort, defaultMarksPerShort},
	}
	for _, f := range fields {
		v, err := formInt(r, f.name, f.def)
		if err != nil {
			return nil, nil, req, err
		}
		*f.dst = v
	}

	file, header, err := r.FormFile("file")
	if err == http.ErrMissingFile {
		return nil, nil, req, nil
	}
	if err != nil {
		return nil, nil, req, apperr.InvalidRequest("read upload: %v", err)
	}
	return file, header, req, nil
}

func formInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.FormValue(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.InvalidRequest("%s must be an integer, got %q", name, raw)
	}
	return v, nil
}

// generate runs the generation pipeline and stores the validated paper.
// Nothing is stored when generation fails.
func (h *Handler) generate(w http.ResponseWriter, r *http.Request, req model.GenerationRequest, resp paperResponse) {
	user := model.UserFromContext(r.Context())

	spec, err := h.exam.GeneratePaper(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	paper := model.Paper{
		OwnerID:    user.ID,
		Spec:       spec,
		Grade:      req.Grade,
		Subject:    req.Subject,
		Chapter:    req.Chapter,
		Topic:      req.Topic,
		SourceName: req.SourceName,
	}
	id, err := h.store.CreatePaper(paper)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("store paper: %w", err))
		return
	}
	stored, err := h.store.GetPaper(id)
	if err != nil || stored == nil {
		h.writeError(w, r, fmt.Errorf("reload paper %d: %w", id, err))
		return
	}
	h.log.Info("paper stored", "paper_id", id, "user_id", user.ID, "mode", spec.Mode)

	resp.Paper = *stored
	resp.Spec = stored.Spec.WithoutAnswers()
	resp.Message = appI18n.Tp(r.Context(), "QuestionsGenerated", len(spec.Questions))
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleListPapers(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	papers, err := h.store.ListPapers(user.ID, 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"papers": papers, "count": len(papers)})
}

func (h *Handler) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	paper, ok := h.ownedPaper(w, r)
	if !ok {
		return
	}
	paper.Spec = paper.Spec.WithoutAnswers()
	writeJSON(w, http.StatusOK, paperResponse{Paper: *paper})
}

// ownedPaper loads the paper named in the URL and checks the caller owns it.
// It writes the error response itself when it returns false.
func (h *Handler) ownedPaper(w http.ResponseWriter, r *http.Request) (*model.Paper, bool) {
	id, ok := pathID(r, "paperID")
	if !ok {
		writeMessage(w, r, http.StatusBadRequest, kindInvalid, "InvalidID")
		return nil, false
	}
	paper, err := h.papers.Paper(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if paper == nil {
		writeMessage(w, r, http.StatusNotFound, kindNotFound, "PaperNotFound")
		return nil, false
	}
	if paper.OwnerID != model.UserFromContext(r.Context()).ID {
		writeMessage(w, r, http.StatusForbidden, kindForbidden, "Forbidden")
		return nil, false
	}
	return paper, true
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	paper, ok := h.ownedPaper(w, r)
	if !ok {
		return
	}
	var req evaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, r, http.StatusBadRequest, kindInvalid, "InvalidBody")
		return
	}

	// A repeated question number keeps the last answer.
	answers := make(model.SubmittedAnswers, len(req.Answers))
	for _, a := range req.Answers {
		answers[a.QuestionNumber] = a.Answer
	}

	result, err := h.exam.EvaluatePaper(r.Context(), paper.Spec, answers)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	user := model.UserFromContext(r.Context())
	id, err := h.store.CreateEvaluation(model.Evaluation{
		OwnerID: user.ID,
		PaperID: paper.ID,
		Answers: answers,
		Result:  result,
	})
	if err != nil {
		h.writeError(w, r, fmt.Errorf("store evaluation: %w", err))
		return
	}
	h.log.Info("evaluation stored", "evaluation_id", id, "paper_id", paper.ID, "grade", result.Grade)

	writeJSON(w, http.StatusCreated, evaluationResponse{
		EvaluationID:     id,
		PaperID:          paper.ID,
		EvaluationResult: result,
		GradeLabel:       appI18n.GradeLabel(r.Context(), result.Grade),
	})
}
