package syncq

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Command is a write that could not reach the API. It keeps the
// idempotency key of the first attempt so a replay is applied at most once.
type Command struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	QueuedAt       time.Time      `json:"queued_at"`
}

type Outcome int

const (
	// Applied means the server has the write, now or from an earlier replay.
	Applied Outcome = iota
	// Retry keeps the command for the next sync.
	Retry
	// Rejected drops the command; the server refused it for good.
	Rejected
)

type Failure struct {
	Command Command
	Err     error
}

type Report struct {
	Applied   int
	Rejected  []Failure
	Remaining int
}

type Queue struct {
	path string
}

// Open uses path, or ~/.brk/queue.json when path is empty.
func Open(path string) (*Queue, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".brk", "queue.json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return &Queue{path: path}, nil
}

func (q *Queue) Path() string {
	return q.path
}

func (q *Queue) Load() ([]Command, error) {
	raw, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queue) Save(commands []Command) error {
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}

func (q *Queue) Push(cmd Command) error {
	commands, err := q.Load()
	if err != nil {
		return err
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands = append(commands, cmd)
	return q.Save(commands)
}

// Drain replays queued commands in order. Commands classified as Retry stay
// queued; a cancelled context keeps everything not yet sent.
func (q *Queue) Drain(ctx context.Context, send func(context.Context, Command) error, classify func(error) Outcome) (Report, error) {
	var report Report
	queue, err := q.Load()
	if err != nil {
		return report, err
	}
	remaining := make([]Command, 0, len(queue))
	for i, cmd := range queue {
		if ctx.Err() != nil {
			remaining = append(remaining, queue[i:]...)
			break
		}
		err := send(ctx, cmd)
		outcome := Applied
		if err != nil {
			outcome = classify(err)
		}
		switch outcome {
		case Applied:
			report.Applied++
		case Rejected:
			report.Rejected = append(report.Rejected, Failure{Command: cmd, Err: err})
		default:
			remaining = append(remaining, cmd)
		}
	}
	report.Remaining = len(remaining)
	if err := q.Save(remaining); err != nil {
		return report, err
	}
	return report, ctx.Err()
}
