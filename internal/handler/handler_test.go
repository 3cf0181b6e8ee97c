package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/papergen/internal/apperr"
	"github.com/pavelanni/papergen/internal/auth"
	"github.com/pavelanni/papergen/internal/exam"
	appI18n "github.com/pavelanni/papergen/internal/i18n"
	"github.com/pavelanni/papergen/internal/llm/prompts"
	"github.com/pavelanni/papergen/internal/model"
	"github.com/pavelanni/papergen/internal/store"
)

type fakeGateway struct {
	mu            sync.Mutex
	generateReply string
	gradeReply    string
	err           error
	calls         int
}

func (f *fakeGateway) Generate(_ context.Context, _ prompts.Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.generateReply, f.err
}

func (f *fakeGateway) Grade(_ context.Context, _ prompts.Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.gradeReply, f.err
}

func (f *fakeGateway) set(generate, grade string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateReply, f.gradeReply, f.err = generate, grade, err
	f.calls = 0
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTranscriber struct {
	mu   sync.Mutex
	text string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string, r io.Reader) (string, error) {
	_, _ = io.Copy(io.Discard, r)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, nil
}

func (f *fakeTranscriber) setText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
}

type testEnv struct {
	srv   *httptest.Server
	store *store.Store
	gw    *fakeGateway
	tr    *fakeTranscriber
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n: %v", err)
	}
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	composer, err := prompts.New(nil)
	if err != nil {
		t.Fatalf("prompts: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := &fakeGateway{}
	iss, err := auth.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	tr := &fakeTranscriber{text: transcript}

	h := New(st, exam.NewService(composer, gw, log), tr, iss, nil, log)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: st, gw: gw, tr: tr}
}

// do sends a request and decodes the JSON response into out when non-nil.
func (e *testEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) doJSON(t *testing.T, method, path, token string, in, out any) int {
	t.Helper()
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(data)
	}
	return e.do(t, method, path, token, body, "application/json", out)
}

func (e *testEnv) upload(t *testing.T, path, token, filename, content string, fields map[string]string, out any) int {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(fw, content); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return e.do(t, http.MethodPost, path, token, &buf, mw.FormDataContentType(), out)
}

func (e *testEnv) signup(t *testing.T, username string) string {
	t.Helper()
	var resp tokenResponse
	code := e.doJSON(t, http.MethodPost, "/api/auth/signup", "", signupRequest{
		Email:    username + "@example.com",
		Username: username,
		Password: "secret123",
	}, &resp)
	if code != http.StatusCreated || resp.AccessToken == "" {
		t.Fatalf("signup %s: status %d", username, code)
	}
	return resp.AccessToken
}

func paperReply(mcqs, short, long int) string {
	var qs []string
	n := 1
	add := func(count int, label string, marks int, options bool) {
		for i := 0; i < count; i++ {
			q := fmt.Sprintf(`{"question_number": %d, "question_type": %q, "question_text": "Q%d", "marks": %d, "correct_answer": "ref%d"`, n, label, n, marks, n)
			if options {
				q = fmt.Sprintf(`{"question_number": %d, "question_type": %q, "question_text": "Q%d", "marks": %d, "options": ["A) one", "B) two", "C) three", "D) four"], "correct_answer": "B"`, n, label, n, marks)
			}
			qs = append(qs, q+"}")
			n++
		}
	}
	add(mcqs, "MCQ", 2, true)
	add(short, "Short Answer", 5, false)
	add(long, "Long Answer", 10, false)
	return `{"instructions": "Answer all questions.", "questions": [` + strings.Join(qs, ",") + `]}`
}

const gradeReply = `{
  "question_feedback": [
    {"question_number": 1, "marks_obtained": 2, "marks_total": 2, "feedback": "Correct"},
    {"question_number": 2, "marks_obtained": 0, "marks_total": 2, "feedback": "Wrong"},
    {"question_number": 3, "marks_obtained": 3.5, "marks_total": 5, "feedback": "Partly right"}
  ],
  "overall_feedback": "Solid start",
  "strengths": ["recall"],
  "weaknesses": ["detail"],
  "improvement_areas": ["practice"]
}`

const transcript = "Photosynthesis turns light into chemical energy inside the chloroplast."

var docFields = map[string]string{"num_mcqs": "2", "num_short_questions": "1"}

func TestSignupLoginMe(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "alice")

	var me model.User
	if code := env.doJSON(t, http.MethodGet, "/api/auth/me", token, nil, &me); code != http.StatusOK {
		t.Fatalf("me status = %d", code)
	}
	if me.Username != "alice" || me.Role != model.RoleUser {
		t.Errorf("me = %+v", me)
	}

	var login tokenResponse
	code := env.doJSON(t, http.MethodPost, "/api/auth/login", "", loginRequest{Email: "ALICE@example.com", Password: "secret123"}, &login)
	if code != http.StatusOK || login.AccessToken == "" || login.TokenType != "bearer" {
		t.Errorf("login = %d, %+v", code, login)
	}

	tests := []struct {
		name string
		path string
		body any
		want int
		msg  string
	}{
		{"duplicate email", "/api/auth/signup", signupRequest{Email: "alice@example.com", Username: "alice2", Password: "secret123"}, http.StatusBadRequest, "Email already registered"},
		{"duplicate username", "/api/auth/signup", signupRequest{Email: "other@example.com", Username: "alice", Password: "secret123"}, http.StatusBadRequest, "Username already taken"},
		{"short username", "/api/auth/signup", signupRequest{Email: "b@example.com", Username: "bo", Password: "secret123"}, http.StatusBadRequest, "at least 3"},
		{"short password", "/api/auth/signup", signupRequest{Email: "b@example.com", Username: "bob", Password: "12345"}, http.StatusBadRequest, "at least 6"},
		{"bad email", "/api/auth/signup", signupRequest{Email: "nope", Username: "bob", Password: "secret123"}, http.StatusBadRequest, "email"},
		{"wrong password", "/api/auth/login", loginRequest{Email: "alice@example.com", Password: "wrong"}, http.StatusUnauthorized, "Invalid email or password"},
		{"unknown user", "/api/auth/login", loginRequest{Email: "ghost@example.com", Password: "secret123"}, http.StatusUnauthorized, "Invalid email or password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp errorResponse
			if code := env.doJSON(t, http.MethodPost, tt.path, "", tt.body, &resp); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
			if !strings.Contains(resp.Error, tt.msg) {
				t.Errorf("error = %q, want it to contain %q", resp.Error, tt.msg)
			}
		})
	}
}

func TestRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	for _, token := range []string{"", "garbage"} {
		var resp errorResponse
		if code := env.doJSON(t, http.MethodGet, "/api/papers", token, nil, &resp); code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d", token, code)
		}
		if resp.Kind != kindUnauthorized {
			t.Errorf("kind = %q", resp.Kind)
		}
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "carol")

	if code := env.doJSON(t, http.MethodPost, "/api/auth/logout", token, nil, nil); code != http.StatusOK {
		t.Fatalf("logout status = %d", code)
	}
	if code := env.doJSON(t, http.MethodGet, "/api/auth/me", token, nil, nil); code != http.StatusUnauthorized {
		t.Errorf("revoked token status = %d, want 401", code)
	}
}

func TestDocumentPaperFlow(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "dave")
	env.gw.set(paperReply(2, 1, 0), gradeReply, nil)

	var created paperResponse
	code := env.upload(t, "/api/papers/document", token, "notes.txt", "Cells are the basic unit of life.", docFields, &created)
	if code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if created.ID == 0 || created.SourceName != "notes.txt" || created.Spec.TotalMarks != 9 {
		t.Errorf("created = %+v", created)
	}
	if created.Message != "3 questions generated" {
		t.Errorf("message = %q", created.Message)
	}
	for _, q := range created.Spec.Questions {
		if q.ReferenceAnswer != "" {
			t.Errorf("question %d leaks its answer", q.Number)
		}
	}

	var list struct {
		Papers []model.PaperSummary `json:"papers"`
		Count  int                  `json:"count"`
	}
	env.doJSON(t, http.MethodGet, "/api/papers", token, nil, &list)
	if list.Count != 1 || list.Papers[0].Mode != model.ModeDocument {
		t.Errorf("list = %+v", list)
	}

	paperPath := fmt.Sprintf("/api/papers/%d", created.ID)
	var got paperResponse
	if code := env.doJSON(t, http.MethodGet, paperPath, token, nil, &got); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if len(got.Spec.Questions) != 3 || got.Spec.Questions[2].ReferenceAnswer != "" {
		t.Errorf("got = %+v", got.Spec)
	}

	other := env.signup(t, "eve")
	if code := env.doJSON(t, http.MethodGet, paperPath, other, nil, nil); code != http.StatusForbidden {
		t.Errorf("other user's paper status = %d, want 403", code)
	}
	if code := env.doJSON(t, http.MethodGet, "/api/papers/9999", token, nil, nil); code != http.StatusNotFound {
		t.Errorf("missing paper status = %d, want 404", code)
	}
	if code := env.doJSON(t, http.MethodGet, "/api/papers/abc", token, nil, nil); code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", code)
	}

	var eval evaluationResponse
	code = env.doJSON(t, http.MethodPost, paperPath+"/evaluate", token, evaluateRequest{Answers: []answerEntry{
		{QuestionNumber: 1, Answer: "b) two"},
		{QuestionNumber: 2, Answer: "A"},
		{QuestionNumber: 3, Answer: "Cells make up living things."},
	}}, &eval)
	if code != http.StatusCreated {
		t.Fatalf("evaluate status = %d", code)
	}
	if eval.TotalScore != 5.5 || eval.TotalMarks != 9 || eval.Grade != "C" || eval.GradeLabel != "Good" {
		t.Errorf("evaluation = %+v", eval)
	}
	if len(eval.Feedback) != 3 || eval.Feedback[0].SubmittedAnswer != "b) two" {
		t.Errorf("feedback = %+v", eval.Feedback)
	}

	var stored storedEvaluationResponse
	if code := env.doJSON(t, http.MethodGet, fmt.Sprintf("/api/evaluations/%d", eval.EvaluationID), token, nil, &stored); code != http.StatusOK {
		t.Fatalf("get evaluation status = %d", code)
	}
	if stored.PaperID != created.ID || stored.Result.Grade != "C" {
		t.Errorf("stored = %+v", stored)
	}
	if code := env.doJSON(t, http.MethodGet, fmt.Sprintf("/api/evaluations/%d", eval.EvaluationID), other, nil, nil); code != http.StatusForbidden {
		t.Errorf("other user's evaluation status = %d", code)
	}

	var stats model.DashboardStats
	env.doJSON(t, http.MethodGet, "/api/dashboard", token, nil, &stats)
	if stats.TotalPapers != 1 || stats.TotalEvaluations != 1 || stats.GradeDistribution["C"] != 1 {
		t.Errorf("dashboard = %+v", stats)
	}
}

func TestDocumentPaperRejects(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "frank")
	env.gw.set(paperReply(2, 1, 0), "", nil)

	tests := []struct {
		name     string
		filename string
		content  string
		fields   map[string]string
	}{
		{"no file", "", "", docFields},
		{"unsupported format", "slides.pptx", "x", docFields},
		{"empty document", "empty.txt", "   ", docFields},
		{"too long", "long.txt", strings.Repeat("a", 15001), docFields},
		{"no questions", "notes.txt", "text", map[string]string{"num_mcqs": "0", "num_short_questions": "0"}},
		{"non-numeric count", "notes.txt", "text", map[string]string{"num_mcqs": "two"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp errorResponse
			if code := env.upload(t, "/api/papers/document", token, tt.filename, tt.content, tt.fields, &resp); code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%+v)", code, resp)
			}
			if resp.Kind != kindInvalid || resp.Retryable {
				t.Errorf("resp = %+v", resp)
			}
		})
	}
	if n := env.gw.callCount(); n != 0 {
		t.Errorf("gateway called %d times for invalid requests", n)
	}
}

func TestCurriculumPaper(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "gina")
	env.gw.set(paperReply(10, 6, 4), "", nil)

	var created paperResponse
	code := env.doJSON(t, http.MethodPost, "/api/papers", token, curriculumRequest{Grade: "10", Subject: "Physics", Chapter: "Motion"}, &created)
	if code != http.StatusCreated {
		t.Fatalf("status = %d", code)
	}
	if created.Spec.TotalMarks != 90 || len(created.Spec.Questions) != 20 || created.Subject != "Physics" {
		t.Errorf("created = %+v", created)
	}

	var resp errorResponse
	code = env.doJSON(t, http.MethodPost, "/api/papers", token, curriculumRequest{Grade: "10", Subject: "Physics"}, &resp)
	if code != http.StatusBadRequest || !strings.Contains(resp.Error, "chapter") {
		t.Errorf("missing chapter = %d, %+v", code, resp)
	}
}

func TestMediaPaper(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "hank")
	env.gw.set(paperReply(1, 1, 0), "", nil)

	var created paperResponse
	code := env.upload(t, "/api/papers/media", token, "lecture.mp3", "ID3fakeaudio", map[string]string{"num_mcqs": "1", "num_short_questions": "1"}, &created)
	if code != http.StatusCreated {
		t.Fatalf("status = %d", code)
	}
	if created.MediaType != "audio" || created.Spec.Mode != model.ModeMedia {
		t.Errorf("created = %+v", created)
	}
	if created.TranscriptPreview != transcript {
		t.Errorf("preview = %q", created.TranscriptPreview)
	}

	env.tr.setText(strings.Repeat("word ", 100))
	env.upload(t, "/api/papers/media", token, "talk.mp4", "video", map[string]string{"num_mcqs": "1", "num_short_questions": "1"}, &created)
	if created.MediaType != "video" || len([]rune(created.TranscriptPreview)) != previewLength+3 {
		t.Errorf("long preview = %q (%s)", created.TranscriptPreview, created.MediaType)
	}

	var resp errorResponse
	if code := env.upload(t, "/api/papers/media", token, "notes.exe", "x", docFields, &resp); code != http.StatusBadRequest {
		t.Errorf("unsupported media status = %d", code)
	}

	env.tr.setText("   ")
	if code := env.upload(t, "/api/papers/media", token, "silence.wav", "x", docFields, &resp); code != http.StatusBadRequest {
		t.Errorf("empty transcript status = %d", code)
	}
}

func TestPipelineErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	token := env.signup(t, "ivy")

	tests := []struct {
		name      string
		reply     string
		err       error
		status    int
		kind      string
		retryable bool
		field     string
	}{
		{"gateway down", "", apperr.Gateway(errors.New("connection refused")), http.StatusBadGateway, "gateway_error", true, ""},
		{"gateway deadline", "", apperr.Gateway(fmt.Errorf("LLM API call: %w", context.DeadlineExceeded)), http.StatusGatewayTimeout, "gateway_error", true, ""},
		{"not json", "I cannot help with that.", nil, http.StatusBadGateway, "malformed_response", false, ""},
		{"too few questions", paperReply(1, 1, 0), nil, http.StatusBadGateway, "count_mismatch", false, "questions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.gw.set(tt.reply, "", tt.err)
			var resp errorResponse
			code := env.upload(t, "/api/papers/document", token, "notes.txt", "Some text.", docFields, &resp)
			if code != tt.status {
				t.Errorf("status = %d, want %d", code, tt.status)
			}
			if resp.Kind != tt.kind || resp.Retryable != tt.retryable || resp.Field != tt.field {
				t.Errorf("resp = %+v", resp)
			}
			if tt.kind == "count_mismatch" && (resp.Expected == nil || *resp.Expected != 3 || *resp.Observed != 2) {
				t.Errorf("expected/observed = %v/%v", resp.Expected, resp.Observed)
			}
		})
	}

	var list struct {
		Count int `json:"count"`
	}
	env.doJSON(t, http.MethodGet, "/api/papers", token, nil, &list)
	if list.Count != 0 {
		t.Errorf("failed generations stored %d papers", list.Count)
	}
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	userToken := env.signup(t, "jack")

	if code := env.doJSON(t, http.MethodGet, "/api/admin/users", userToken, nil, nil); code != http.StatusForbidden {
		t.Errorf("non-admin status = %d, want 403", code)
	}

	hash, _ := auth.HashPassword("adminpass")
	if _, err := env.store.CreateUser(model.User{Email: "admin@example.com", Username: "admin", PasswordHash: hash, Role: model.RoleAdmin, Active: true}); err != nil {
		t.Fatal(err)
	}
	var login tokenResponse
	env.doJSON(t, http.MethodPost, "/api/auth/login", "", loginRequest{Email: "admin@example.com", Password: "adminpass"}, &login)
	adminToken := login.AccessToken

	var created model.User
	code := env.doJSON(t, http.MethodPost, "/api/admin/users", adminToken, createUserRequest{
		signupRequest: signupRequest{Email: "kate@example.com", Username: "kate", Password: "secret123"},
		Role:          model.RoleAdmin,
	}, &created)
	if code != http.StatusCreated || created.Role != model.RoleAdmin {
		t.Errorf("create user = %d, %+v", code, created)
	}

	var users struct {
		Count int `json:"count"`
	}
	env.doJSON(t, http.MethodGet, "/api/admin/users", adminToken, nil, &users)
	if users.Count != 3 {
		t.Errorf("users count = %d, want 3", users.Count)
	}

	jack, _ := env.store.GetUserByUsername("jack")
	var toggled model.User
	code = env.doJSON(t, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/toggle-active", jack.ID), adminToken, nil, &toggled)
	if code != http.StatusOK || toggled.Active {
		t.Errorf("toggle = %d, %+v", code, toggled)
	}
	if code := env.doJSON(t, http.MethodGet, "/api/auth/me", userToken, nil, nil); code != http.StatusUnauthorized {
		t.Errorf("deactivated user status = %d, want 401", code)
	}

	admin, _ := env.store.GetUserByUsername("admin")
	if code := env.doJSON(t, http.MethodPost, fmt.Sprintf("/api/admin/users/%d/toggle-active", admin.ID), adminToken, nil, nil); code != http.StatusForbidden {
		t.Errorf("self toggle status = %d, want 403", code)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	var status map[string]string
	if code := env.doJSON(t, http.MethodGet, "/healthz", "", nil, &status); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if status["status"] != "ok" || status["database"] != "ok" {
		t.Errorf("health = %v", status)
	}
}

func TestLocalizedErrors(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/papers", nil)
	req.Header.Set("Accept-Language", "ru")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "Требуется вход в систему" {
		t.Errorf("error = %q", body.Error)
	}
}
