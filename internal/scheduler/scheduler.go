// internal/scheduler/scheduler.go
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Task is a named callback fired on a cron schedule.
type Task struct {
	Name     string
	Schedule string
	Run      func()
}

// Scheduler fires registered maintenance tasks on cron expressions:
// the periodic telemetry report and the stale transfer-session sweep.
type Scheduler struct {
	tasks []Task
	cron  *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler with the given tasks. Nothing runs until
// Start is called.
func New(tasks ...Task) *Scheduler {
	return &Scheduler{
		tasks: tasks,
		cron:  cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers every task with a valid schedule and starts the cron
// ticker. Tasks with an invalid expression are logged and skipped.
func (s *Scheduler) Start() error {
	for _, task := range s.tasks {
		if task.Schedule == "" {
			continue
		}

		name := task.Name
		run := task.Run

		_, err := s.cron.AddFunc(task.Schedule, func() {
			slog.Debug("cron firing task", "name", name)
			run()
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", name, "schedule", task.Schedule, "error", err)
			continue
		}
		slog.Info("scheduled task", "name", name, "schedule", task.Schedule)
	}

	s.cron.Start()
	return nil
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
