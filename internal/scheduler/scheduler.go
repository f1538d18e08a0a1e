// Package scheduler turns a research goal into an ordered set of subtasks
// and tracks their lifecycle across retries.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/quilldeep/quill/internal/llm"
)

// Status is a task lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Task is one unit of work. Lower Priority runs first; ties keep
// declaration order. A task becomes eligible once every dependency is
// completed, and stays retryable after failure while Attempts < MaxAttempts.
type Task struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Status      Status   `json:"status"`
	Attempts    int      `json:"attempts"`
	MaxAttempts int      `json:"max_attempts"`
	Result      string   `json:"result,omitempty"`
	LastError   string   `json:"last_error,omitempty"`
}

// Scheduler owns the task list for one run. Single-writer: callers
// serialize Decompose, NextTask and UpdateStatus.
type Scheduler struct {
	provider    llm.Provider
	maxAttempts int
	maxTasks    int
	tasks       []*Task
	logger      *log.Logger
}

func New(provider llm.Provider, maxAttempts, maxTasks int) *Scheduler {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if maxTasks <= 0 {
		maxTasks = 8
	}
	return &Scheduler{
		provider:    provider,
		maxAttempts: maxAttempts,
		maxTasks:    maxTasks,
		logger:      log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
	}
}

const decomposePrompt = `You are a research planner. Break the goal below into
focused subtasks. Respond with JSON only:
{"tasks": [{"id": "task_1", "description": "...", "priority": 1, "depends_on": []}]}
Priorities start at 1 (highest). Keep the list short and concrete.

Goal: %s`

type decomposeResp struct {
	Tasks []struct {
		ID          string   `json:"id"`
		Description string   `json:"description"`
		Priority    int      `json:"priority"`
		DependsOn   []string `json:"depends_on"`
	} `json:"tasks"`
}

// Decompose plans subtasks for goal with a single JSON-mode completion. Any
// provider or parse failure falls back to one task covering the whole goal,
// so planning never blocks a run.
func (s *Scheduler) Decompose(ctx context.Context, goal string) ([]Task, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, fmt.Errorf("goal must not be empty")
	}

	raw, err := s.provider.Complete(ctx, llm.Request{
		User:        fmt.Sprintf(decomposePrompt, goal),
		Temperature: 0.2,
		JSONMode:    true,
	})
	var parsed decomposeResp
	if err != nil {
		s.logger.Printf("decompose call failed, using single-task fallback: %v", err)
	} else if jsonErr := json.Unmarshal([]byte(llm.FirstJSON(raw)), &parsed); jsonErr != nil {
		s.logger.Printf("decompose parse failed, using single-task fallback: %v", jsonErr)
	}

	s.tasks = nil
	seen := make(map[string]bool)
	for _, t := range parsed.Tasks {
		if len(s.tasks) >= s.maxTasks {
			break
		}
		if strings.TrimSpace(t.Description) == "" {
			continue
		}
		id := strings.TrimSpace(t.ID)
		if id == "" || seen[id] {
			id = fmt.Sprintf("task_%d", len(s.tasks)+1)
		}
		seen[id] = true
		priority := t.Priority
		if priority <= 0 {
			priority = 1
		}
		s.tasks = append(s.tasks, &Task{
			ID:          id,
			Description: t.Description,
			Priority:    priority,
			DependsOn:   t.DependsOn,
			Status:      StatusPending,
			MaxAttempts: s.maxAttempts,
		})
	}
	if len(s.tasks) == 0 {
		s.tasks = []*Task{{
			ID:          "task_1",
			Description: goal,
			Priority:    1,
			Status:      StatusPending,
			MaxAttempts: s.maxAttempts,
		}}
	}
	s.logger.Printf("decomposed goal into %d tasks", len(s.tasks))
	return s.snapshot(), nil
}

// NextTask selects the next runnable task and marks it in_progress,
// incrementing its attempt counter. Pending tasks are preferred; failed
// tasks with budget left come next. Within each group the lowest priority
// wins, ties resolved by declaration order. Returns nil when nothing is
// runnable.
func (s *Scheduler) NextTask() *Task {
	pick := s.pickRunnable(StatusPending)
	if pick == nil {
		pick = s.pickRunnable(StatusFailed)
	}
	if pick == nil {
		return nil
	}
	pick.Status = StatusInProgress
	pick.Attempts++
	out := *pick
	return &out
}

func (s *Scheduler) pickRunnable(status Status) *Task {
	var candidates []*Task
	for _, t := range s.tasks {
		if t.Status != status || t.Attempts >= t.MaxAttempts {
			continue
		}
		if s.depsMet(t) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Priority < candidates[j].Priority })
	return candidates[0]
}

func (s *Scheduler) depsMet(t *Task) bool {
	for _, dep := range t.DependsOn {
		found := s.find(dep)
		if found == nil || found.Status != StatusCompleted {
			return false
		}
	}
	return true
}

func (s *Scheduler) find(id string) *Task {
	for _, t := range s.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// UpdateStatus records the outcome of an in-progress task. result carries
// the task output on completion or the error text on failure.
func (s *Scheduler) UpdateStatus(id string, status Status, result string) error {
	t := s.find(id)
	if t == nil {
		return fmt.Errorf("unknown task %q", id)
	}
	switch status {
	case StatusCompleted:
		t.Result = result
	case StatusFailed:
		t.LastError = result
	case StatusSkipped, StatusPending, StatusInProgress:
	default:
		return fmt.Errorf("invalid status %q", status)
	}
	t.Status = status
	return nil
}

// IsComplete reports whether every task finished successfully, meaning
// completed or skipped. Failed tasks keep it false even with no retry
// budget left; a false result paired with a nil NextTask means the run
// stalled on failures.
func (s *Scheduler) IsComplete() bool {
	for _, t := range s.tasks {
		switch t.Status {
		case StatusCompleted, StatusSkipped:
		default:
			return false
		}
	}
	return true
}

// Summary counts tasks by status.
func (s *Scheduler) Summary() map[Status]int {
	out := make(map[Status]int)
	for _, t := range s.tasks {
		out[t.Status]++
	}
	return out
}

// Tasks returns a copy of the current task list in declaration order.
func (s *Scheduler) Tasks() []Task {
	return s.snapshot()
}

func (s *Scheduler) snapshot() []Task {
	out := make([]Task, len(s.tasks))
	for i, t := range s.tasks {
		out[i] = *t
	}
	return out
}
