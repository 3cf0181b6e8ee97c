package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/papergen/internal/apperr"
	"github.com/pavelanni/papergen/internal/llm/prompts"
)

type chatRequest struct {
	Model          string  `json:"model"`
	Temperature    float32 `json:"temperature"`
	MaxTokens      int     `json:"max_tokens"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatReply(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return string(b)
}

func newFakeServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateSendsPrompt(t *testing.T) {
	var got chatRequest
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatReply(`{"questions": []}`)))
	})

	c := New(Config{BaseURL: srv.URL + "/v1", APIKey: "test", Model: "test-model", JSONMode: true})
	raw, err := c.Generate(context.Background(), prompts.Prompt{System: "sys", User: "make a paper", Temperature: 0.7})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if raw != `{"questions": []}` {
		t.Errorf("raw = %q", raw)
	}
	if got.Model != "test-model" || got.MaxTokens != MaxTokens {
		t.Errorf("request = %+v", got)
	}
	if got.Temperature < 0.69 || got.Temperature > 0.71 {
		t.Errorf("temperature = %v", got.Temperature)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Error("JSON mode should set response_format")
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "make a paper" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestGradeWithoutJSONMode(t *testing.T) {
	var got chatRequest
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatReply("```json\n{}\n```")))
	})

	c := New(Config{BaseURL: srv.URL + "/v1", APIKey: "test"})
	raw, err := c.Grade(context.Background(), prompts.Prompt{System: "s", User: "u", Temperature: 0.3})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if !strings.HasPrefix(raw, "```json") {
		t.Errorf("raw reply should be returned untouched, got %q", raw)
	}
	if got.ResponseFormat != nil {
		t.Error("response_format should be omitted without JSON mode")
	}
}

func TestGatewayErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
		cause   error
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error": {"message": "boom"}}`, http.StatusInternalServerError)
			},
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"id": "x", "choices": []}`))
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			timeout: 50 * time.Millisecond,
			cause:   context.DeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFakeServer(t, tt.handler)
			c := New(Config{BaseURL: srv.URL + "/v1", APIKey: "test", Timeout: tt.timeout})
			_, err := c.Generate(context.Background(), prompts.Prompt{User: "x"})
			if !errors.Is(err, apperr.ErrGateway) {
				t.Fatalf("err = %v, want gateway error", err)
			}
			if !apperr.Retryable(err) {
				t.Error("gateway errors should be retryable")
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("err = %v, want cause %v", err, tt.cause)
			}
		})
	}
}

func TestTranscribe(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if m := r.FormValue("model"); m != "whisper-1" {
			t.Errorf("model = %q", m)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "today we talk about supply"}`))
	})

	c := New(Config{BaseURL: srv.URL + "/v1", APIKey: "test"})
	text, err := c.Transcribe(context.Background(), "lecture.mp3", strings.NewReader("fake audio"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "today we talk about supply" {
		t.Errorf("text = %q", text)
	}
}

func TestPing(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object": "list", "data": [{"id": "test-model", "object": "model"}]}`))
	})

	c := New(Config{BaseURL: srv.URL + "/v1", APIKey: "test"})
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
