// Package file provides read-only file inspection tools for the discovery agent.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/headshakers/planner/llm"
)

const (
	// maxGlobResults caps file_glob output so huge repos don't flood the model.
	maxGlobResults = 200

	// maxGrepMatches caps file_grep output lines.
	maxGrepMatches = 100

	// maxGrepFileSize skips files larger than this during grep.
	maxGrepFileSize = 1 << 20 // 1MB

	// maxReadSize truncates file_read output beyond this many bytes.
	maxReadSize = 64 * 1024
)

// Result is the outcome of one tool call. Tool-level failures are reported
// in Error so the model can see and react to them.
type Result struct {
	CallID  string
	Content string
	Error   string
}

// Message converts the result into a chat message answering the call.
func (r Result) Message() llm.Message {
	content := r.Content
	if r.Error != "" {
		content = "error: " + r.Error
	}
	return llm.Message{
		Role:       "tool",
		Content:    content,
		ToolCallID: r.CallID,
	}
}

// Executor implements the file inspection tools. All operations are
// read-only and confined to the repository root.
type Executor struct {
	repoRoot string
	ignore   *ignore.GitIgnore
	logger   *slog.Logger
}

// NewExecutor creates a file executor rooted at the given repository path.
// A .gitignore at the root, if present, filters glob and grep results.
func NewExecutor(repoRoot string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Executor{repoRoot: repoRoot, logger: logger}

	ignorePath := filepath.Join(repoRoot, ".gitignore")
	if gi, err := ignore.CompileIgnoreFile(ignorePath); err == nil {
		e.ignore = gi
	} else if !os.IsNotExist(err) {
		logger.Warn("Failed to parse .gitignore", "path", ignorePath, "error", err)
	}

	return e
}

// Definitions returns the tool definitions exposed to the model.
func (e *Executor) Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        "file_glob",
			Description: "Find files matching a glob pattern (supports ** for recursive matching). Returns relative paths, one per line.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"pattern": {
						"type": "string",
						"description": "Glob pattern relative to the repository root, e.g. 'src/**/*.ts'"
					}
				},
				"required": ["pattern"]
			}`),
		},
		{
			Name:        "file_grep",
			Description: "Search file contents with a regular expression. Returns matching lines as path:line:text.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"pattern": {
						"type": "string",
						"description": "Regular expression to search for"
					},
					"path_glob": {
						"type": "string",
						"description": "Optional glob restricting which files are searched, e.g. '**/*.go'"
					}
				},
				"required": ["pattern"]
			}`),
		},
		{
			Name:        "file_read",
			Description: "Read the contents of a file. Large files are truncated.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {
						"type": "string",
						"description": "Path to the file to read, relative to the repository root"
					}
				},
				"required": ["path"]
			}`),
		},
	}
}

// Execute runs a single tool call.
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	switch call.Name {
	case "file_glob":
		return e.fileGlob(call)
	case "file_grep":
		return e.fileGrep(ctx, call)
	case "file_read":
		return e.fileRead(call)
	default:
		return Result{
			CallID: call.ID,
			Error:  fmt.Sprintf("unknown tool: %s", call.Name),
		}, fmt.Errorf("unknown tool: %s", call.Name)
	}
}

// FileExists reports whether a relative path names an existing regular file
// inside the repository root.
func (e *Executor) FileExists(path string) bool {
	fullPath, err := e.validatePath(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(fullPath)
	return err == nil && info.Mode().IsRegular()
}

// fileGlob finds files matching a doublestar pattern.
func (e *Executor) fileGlob(call llm.ToolCall) (Result, error) {
	var args struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil || args.Pattern == "" {
		return Result{CallID: call.ID, Error: "pattern argument is required"}, nil
	}

	matches, err := doublestar.Glob(os.DirFS(e.repoRoot), args.Pattern)
	if err != nil {
		return Result{CallID: call.ID, Error: fmt.Sprintf("invalid pattern: %s", err)}, nil
	}

	var files []string
	for _, m := range matches {
		if e.skipPath(m) {
			continue
		}
		info, err := os.Stat(filepath.Join(e.repoRoot, m))
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, m)
	}
	sort.Strings(files)

	truncated := false
	if len(files) > maxGlobResults {
		files = files[:maxGlobResults]
		truncated = true
	}

	if len(files) == 0 {
		return Result{CallID: call.ID, Content: "no files matched"}, nil
	}

	content := strings.Join(files, "\n")
	if truncated {
		content += fmt.Sprintf("\n... truncated to %d results", maxGlobResults)
	}
	return Result{CallID: call.ID, Content: content}, nil
}

// fileGrep searches file contents with a regular expression.
func (e *Executor) fileGrep(ctx context.Context, call llm.ToolCall) (Result, error) {
	var args struct {
		Pattern  string `json:"pattern"`
		PathGlob string `json:"path_glob"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil || args.Pattern == "" {
		return Result{CallID: call.ID, Error: "pattern argument is required"}, nil
	}

	re, err := regexp.Compile(args.Pattern)
	if err != nil {
		return Result{CallID: call.ID, Error: fmt.Sprintf("invalid pattern: %s", err)}, nil
	}

	var matches []string
	root := os.DirFS(e.repoRoot)

	walkErr := fs.WalkDir(root, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Unreadable entries are skipped, not fatal
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != "." && e.skipPath(path) {
				return fs.SkipDir
			}
			return nil
		}
		if e.skipPath(path) {
			return nil
		}
		if args.PathGlob != "" {
			ok, err := doublestar.Match(args.PathGlob, path)
			if err != nil || !ok {
				return err
			}
		}
		if info, err := d.Info(); err != nil || info.Size() > maxGrepFileSize {
			return nil
		}

		found, err := e.grepFile(path, re, &matches)
		if err != nil {
			return nil
		}
		if found && len(matches) >= maxGrepMatches {
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil && walkErr != fs.SkipAll {
		if ctx.Err() != nil {
			return Result{}, walkErr
		}
		return Result{CallID: call.ID, Error: fmt.Sprintf("search failed: %s", walkErr)}, nil
	}

	if len(matches) == 0 {
		return Result{CallID: call.ID, Content: "no matches"}, nil
	}

	content := strings.Join(matches, "\n")
	if len(matches) >= maxGrepMatches {
		content += fmt.Sprintf("\n... truncated to %d matches", maxGrepMatches)
	}
	return Result{CallID: call.ID, Content: content}, nil
}

// grepFile scans one file for matches, appending path:line:text entries.
func (e *Executor) grepFile(path string, re *regexp.Regexp, matches *[]string) (bool, error) {
	f, err := os.Open(filepath.Join(e.repoRoot, path))
	if err != nil {
		return false, err
	}
	defer f.Close()

	found := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.ContainsRune(line, 0) {
			return found, nil // Binary file
		}
		if re.MatchString(line) {
			*matches = append(*matches, fmt.Sprintf("%s:%d:%s", path, lineNo, line))
			found = true
			if len(*matches) >= maxGrepMatches {
				return found, nil
			}
		}
	}
	return found, scanner.Err()
}

// fileRead reads the contents of a file.
func (e *Executor) fileRead(call llm.ToolCall) (Result, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil || args.Path == "" {
		return Result{CallID: call.ID, Error: "path argument is required"}, nil
	}

	fullPath, err := e.validatePath(args.Path)
	if err != nil {
		return Result{CallID: call.ID, Error: err.Error()}, nil
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{CallID: call.ID, Error: fmt.Sprintf("file not found: %s", args.Path)}, nil
		}
		return Result{CallID: call.ID, Error: fmt.Sprintf("failed to read file: %s", err)}, nil
	}

	if len(content) > maxReadSize {
		return Result{
			CallID:  call.ID,
			Content: string(content[:maxReadSize]) + fmt.Sprintf("\n... truncated at %d bytes", maxReadSize),
		}, nil
	}

	return Result{CallID: call.ID, Content: string(content)}, nil
}

// skipPath reports whether a repo-relative path is excluded from results.
func (e *Executor) skipPath(path string) bool {
	if path == ".git" || strings.HasPrefix(path, ".git/") {
		return true
	}
	return e.ignore != nil && e.ignore.MatchesPath(path)
}

// validatePath validates and resolves a path, ensuring it's within the repo root
func (e *Executor) validatePath(path string) (string, error) {
	// Handle both absolute and relative paths
	var fullPath string
	if filepath.IsAbs(path) {
		fullPath = filepath.Clean(path)
	} else {
		fullPath = filepath.Clean(filepath.Join(e.repoRoot, path))
	}

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	absRoot, err := filepath.Abs(e.repoRoot)
	if err != nil {
		return "", fmt.Errorf("failed to resolve repo root: %w", err)
	}

	// Ensure path is within repo root
	if !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) && absPath != absRoot {
		return "", fmt.Errorf("access denied: path is outside repository root")
	}

	return absPath, nil
}
