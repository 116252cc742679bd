// Package mockllm serves a minimal OpenAI-compatible chat completions API with
// scripted answers, for local runs and end-to-end tests without a real model.
package mockllm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Rule answers requests whose work description contains Contains.
// Responses are served in order and the last one repeats. A non-zero Status
// fails the request with that HTTP status instead.
type Rule struct {
	Contains  string   `yaml:"contains"`
	Responses []string `yaml:"responses"`
	Status    int      `yaml:"status"`
}

// Script is the full behavior of a server.
type Script struct {
	Rules []Rule `yaml:"rules"`
	// Default answers requests no rule matches.
	Default string `yaml:"default"`
}

// Call records a request made to the mock service.
type Call struct {
	Model       string
	Messages    int
	Description string
}

// Server implements the /chat/completions endpoint.
type Server struct {
	script Script

	mu    sync.Mutex
	calls []Call
	hits  map[int]int

	expectedAuthorization string
}

const defaultAnswer = `{"type":"IT"}`

func New(script Script) *Server {
	if strings.TrimSpace(script.Default) == "" {
		script.Default = defaultAnswer
	}
	return &Server{script: script, hits: make(map[int]int)}
}

// LoadScript reads a YAML script file.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, err
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

// RequireBearerToken enforces that requests include an Authorization header matching the token.
// If token is empty, authorization is not enforced.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// Handler serves both "/chat/completions" and "/v1/chat/completions".
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", s.handleChat)
	mux.HandleFunc("/v1/chat/completions", s.handleChat)
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(w, r) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid chat completion request")
		return
	}

	desc := description(req.Messages[len(req.Messages)-1].Content)
	answer, status := s.answer(Call{Model: req.Model, Messages: len(req.Messages), Description: desc})
	if status != 0 {
		writeError(w, status, fmt.Sprintf("scripted failure %d", status))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      fmt.Sprintf("mock-%d", len(s.Calls())),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": answer},
			"finish_reason": "stop",
		}},
	})
}

func (s *Server) answer(c Call) (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)

	for i, rule := range s.script.Rules {
		if rule.Contains == "" || !strings.Contains(c.Description, rule.Contains) {
			continue
		}
		if rule.Status != 0 {
			return "", rule.Status
		}
		n := s.hits[i]
		s.hits[i]++
		if len(rule.Responses) == 0 {
			return s.script.Default, 0
		}
		if n >= len(rule.Responses) {
			n = len(rule.Responses) - 1
		}
		return rule.Responses[n], 0
	}
	return s.script.Default, 0
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	expected := s.expectedAuthorization
	s.mu.Unlock()

	if expected == "" {
		return true
	}
	if r.Header.Get("Authorization") != expected {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

// description extracts the work description line from a classification prompt,
// falling back to the whole prompt.
func description(prompt string) string {
	const marker = "- workDescription: "
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, marker) {
			return strings.TrimPrefix(line, marker)
		}
	}
	return prompt
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "mock_error",
			"code":    status,
		},
	})
}
