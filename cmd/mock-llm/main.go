// Package main implements a mock LLM server for local development and
// wiring tests. It serves OpenAI-compatible /v1/chat/completions responses
// from fixture files, routing by the "model" field in the request, and
// honors stream=true by chunking the fixture over SSE. This removes the
// need for a real model while exercising the full planning workflow,
// including the streaming paths.
//
// Usage:
//
//	mock-llm -fixtures /path/to/fixtures -port 11434
//
// Fixture files are named by model: "refine.json" answers model "refine".
// Numbered files ("refine.1.json", "refine.2.json") are served in order
// per call, with the base file as a repeating fallback. This supports
// multi-turn flows like the discovery tool loop.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// chunkSize is how many bytes of fixture each streamed SSE frame carries.
const chunkSize = 24

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []chatMessage `json:"messages"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type server struct {
	mu       sync.Mutex
	fixtures map[string][]string // model name -> ordered fixture contents
	calls    map[string]int      // per-model calls served
	total    int
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing fixture response files")
	port := flag.Int("port", 11434, "port to listen on")
	flag.Parse()

	dir := *fixtureDir
	if dir == "" {
		dir = os.Getenv("MOCK_LLM_FIXTURES")
	}
	if dir == "" {
		dir = "fixtures"
	}

	fixtures, err := loadFixtures(dir)
	if err != nil {
		log.Fatalf("Failed to load fixtures from %s: %v", dir, err)
	}
	log.Printf("Loaded %d model(s) from %s", len(fixtures), dir)
	for model, seq := range fixtures {
		log.Printf("  model: %s (%d fixture(s))", model, len(seq))
	}

	s := &server{fixtures: fixtures, calls: make(map[string]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/stats", s.handleStats)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock LLM server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// nextFixture picks the fixture for this call and bumps the counters.
func (s *server) nextFixture(model string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.fixtures[model]
	if !ok {
		return "", false
	}
	idx := s.calls[model]
	s.calls[model]++
	s.total++
	if idx >= len(seq) {
		idx = len(seq) - 1 // repeat the last fixture
	}
	return seq[idx], true
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	content, ok := s.nextFixture(req.Model)
	if !ok {
		log.Printf("WARNING: no fixture for model=%q", req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}
	log.Printf("model=%s stream=%v messages=%d bytes=%d", req.Model, req.Stream, len(req.Messages), len(content))

	usage := chatUsage{
		PromptTokens:     len(content) / 4, // rough estimate
		CompletionTokens: len(content) / 4,
		TotalTokens:      len(content) / 2,
	}

	if req.Stream {
		s.streamResponse(w, content, usage)
		return
	}

	resp := map[string]any{
		"id":      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       chatMessage{Role: "assistant", Content: content},
				"finish_reason": "stop",
			},
		},
		"usage": usage,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// streamResponse delivers the fixture as OpenAI-style SSE chunks followed by
// a usage frame and the [DONE] sentinel.
func (s *server) streamResponse(w http.ResponseWriter, content string, usage chatUsage) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	for i := 0; i < len(content); i += chunkSize {
		end := min(i+chunkSize, len(content))
		frame, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{
				{"delta": map[string]string{"content": content[i:end]}},
			},
		})
		fmt.Fprintf(w, "data: %s\n\n", frame)
		if flusher != nil {
			flusher.Flush()
		}
	}

	final, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"delta": map[string]string{}, "finish_reason": "stop"},
		},
		"usage": usage,
	})
	fmt.Fprintf(w, "data: %s\n\n", final)
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

// handleStats returns call counts for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	callsByModel := make(map[string]int, len(s.calls))
	for model, n := range s.calls {
		callsByModel[model] = n
	}
	total := s.total
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":    total,
		"calls_by_model": callsByModel,
	})
}

// numberedFileRe matches files like "refine.1.json", "refine.2.json".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.json$`)

// loadFixtures reads JSON files from dir and returns model -> content
// sequence. Numbered files sort first, the base file is the fallback.
func loadFixtures(dir string) (map[string][]string, error) {
	baseFiles := make(map[string]string)
	numberedFiles := make(map[string]map[int]string)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		if matches := numberedFileRe.FindStringSubmatch(info.Name()); matches != nil {
			model := matches[1]
			index, _ := strconv.Atoi(matches[2])
			if numberedFiles[model] == nil {
				numberedFiles[model] = make(map[int]string)
			}
			numberedFiles[model][index] = string(data)
			return nil
		}

		model := strings.TrimSuffix(info.Name(), ".json")
		baseFiles[model] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}

	fixtures := make(map[string][]string)
	allModels := make(map[string]bool)
	for m := range baseFiles {
		allModels[m] = true
	}
	for m := range numberedFiles {
		allModels[m] = true
	}

	for model := range allModels {
		var seq []string
		if numbered, ok := numberedFiles[model]; ok {
			indices := make([]int, 0, len(numbered))
			for idx := range numbered {
				indices = append(indices, idx)
			}
			sort.Ints(indices)
			for _, idx := range indices {
				seq = append(seq, numbered[idx])
			}
		}
		if base, ok := baseFiles[model]; ok {
			seq = append(seq, base)
		}
		fixtures[model] = seq
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}
