package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/conclave-ai/conclave/pkg/models"
)

// TraceDirectoryPlugin captures one trace file per agent run under a base
// directory. Each run's events land in <dir>/run-<run_id>.jsonl via its own
// TracePlugin; files are closed when the run finishes or the plugin closes.
type TraceDirectoryPlugin struct {
	mu   sync.Mutex
	dir  string
	runs map[string]*TracePlugin
	opts []TraceOption
}

// NewTraceDirectoryPlugin creates the directory if needed and returns a
// plugin ready to attach to a runtime.
func NewTraceDirectoryPlugin(dir string, opts ...TraceOption) (*TraceDirectoryPlugin, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("trace directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	return &TraceDirectoryPlugin{
		dir:  dir,
		runs: make(map[string]*TracePlugin),
		opts: opts,
	}, nil
}

// OnEvent implements the Plugin interface, routing each event to its run's
// trace file.
func (p *TraceDirectoryPlugin) OnEvent(ctx context.Context, e models.AgentEvent) {
	runID := e.RunID
	if runID == "" {
		return
	}

	p.mu.Lock()
	trace, ok := p.runs[runID]
	if !ok {
		path := filepath.Join(p.dir, "run-"+sanitizeRunID(runID)+".jsonl")
		filePlugin, err := NewTracePluginFile(path, runID, p.opts...)
		if err != nil {
			p.mu.Unlock()
			return
		}
		trace = filePlugin
		p.runs[runID] = trace
	}
	finished := e.Type == models.AgentEventRunFinished
	if finished {
		delete(p.runs, runID)
	}
	p.mu.Unlock()

	trace.OnEvent(ctx, e)
	if finished {
		_ = trace.Close()
	}
}

// Close flushes and closes every open run trace.
func (p *TraceDirectoryPlugin) Close() error {
	p.mu.Lock()
	runs := p.runs
	p.runs = make(map[string]*TracePlugin)
	p.mu.Unlock()

	var firstErr error
	for _, trace := range runs {
		if err := trace.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sanitizeRunID keeps run-derived file names free of path separators.
func sanitizeRunID(runID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, runID)
}
