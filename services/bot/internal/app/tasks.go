package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bookshopbot/internal/util"
	"bookshopbot/pkg/queue"
)

// TaskKind names a background job.
type TaskKind string

const (
	TaskScrape      TaskKind = "scrape"
	TaskBackup      TaskKind = "backup"
	TaskExportExcel TaskKind = "export_excel"
	TaskExportCSV   TaskKind = "export_csv"
)

// Title is the human name used in notices.
func (k TaskKind) Title() string {
	switch k {
	case TaskScrape:
		return "Book scraping"
	case TaskBackup:
		return "Database backup"
	case TaskExportExcel, TaskExportCSV:
		return "Data export"
	}
	return string(k)
}

// ParseTaskKind validates a kind received from outside the bot.
func ParseTaskKind(s string) (TaskKind, bool) {
	switch k := TaskKind(s); k {
	case TaskScrape, TaskBackup, TaskExportExcel, TaskExportCSV:
		return k, true
	}
	return "", false
}

// Scrapes are retried since ingestion is idempotent. Backups and exports
// report their first failure.
var taskAttempts = map[TaskKind]int{
	TaskScrape:      3,
	TaskBackup:      1,
	TaskExportExcel: 1,
	TaskExportCSV:   1,
}

// ErrThrottled is returned when the same kind was launched too recently.
var ErrThrottled = errors.New("task launched too recently")

// Initiator identifies who started a task. ChatID is zero for launches
// from the ops API.
type Initiator struct {
	ChatID int64
	UserID int64
	Name   string
}

const (
	payloadChatID = "chat_id"
	payloadUserID = "user_id"
	payloadName   = "name"
)

func (i Initiator) payload() map[string]string {
	return map[string]string{
		payloadChatID: strconv.FormatInt(i.ChatID, 10),
		payloadUserID: strconv.FormatInt(i.UserID, 10),
		payloadName:   i.Name,
	}
}

func initiatorFromPayload(p map[string]string) Initiator {
	chatID, _ := strconv.ParseInt(p[payloadChatID], 10, 64)
	userID, _ := strconv.ParseInt(p[payloadUserID], 10, 64)
	return Initiator{ChatID: chatID, UserID: userID, Name: p[payloadName]}
}

// Enqueuer schedules jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (queue.Job, error)
}

// Throttle admits at most a fixed number of launches per key and window.
type Throttle interface {
	Check(ctx context.Context, key string) (bool, error)
}

// Launcher starts background tasks without blocking the dispatcher.
type Launcher struct {
	queue    Enqueuer
	throttle Throttle
}

// NewLauncher builds a launcher. A nil throttle admits every launch.
func NewLauncher(q Enqueuer, throttle Throttle) *Launcher {
	return &Launcher{queue: q, throttle: throttle}
}

// Launch enqueues kind on behalf of who and returns immediately.
func (l *Launcher) Launch(ctx context.Context, kind TaskKind, who Initiator) (queue.Job, error) {
	if _, ok := ParseTaskKind(string(kind)); !ok {
		return queue.Job{}, fmt.Errorf("unknown task kind %q", kind)
	}
	if l.throttle != nil {
		ok, err := l.throttle.Check(ctx, "task:"+string(kind))
		if err != nil {
			return queue.Job{}, err
		}
		if !ok {
			return queue.Job{}, ErrThrottled
		}
	}
	return l.queue.Enqueue(ctx, queue.EnqueueRequest{
		Kind:        string(kind),
		Payload:     who.payload(),
		MaxAttempts: taskAttempts[kind],
	})
}

// Outcome is what a successful task reports back.
type Outcome struct {
	Summary   string
	Documents []Document
}

// TaskFunc performs one attempt of a task.
type TaskFunc func(ctx context.Context, job queue.Job) (Outcome, error)

// TaskResult is delivered to the dispatcher once a task has finished for good.
type TaskResult struct {
	JobID      string
	Kind       TaskKind
	Initiator  Initiator
	Outcome    Outcome
	Err        error
	FinishedAt time.Time
}

// TaskWorker runs queued tasks and reports results on a channel. It never
// touches the chat transport itself.
type TaskWorker struct {
	funcs   map[TaskKind]TaskFunc
	results chan<- TaskResult
	now     func() time.Time
}

func NewTaskWorker(results chan<- TaskResult) *TaskWorker {
	return &TaskWorker{funcs: make(map[TaskKind]TaskFunc), results: results, now: time.Now}
}

// Register binds fn to kind.
func (w *TaskWorker) Register(kind TaskKind, fn TaskFunc) {
	w.funcs[kind] = fn
}

// Handle is a queue.Handler. Results are reported on success and on the
// last failed attempt; earlier failures are left to the queue's retry.
func (w *TaskWorker) Handle(ctx context.Context, job queue.Job) error {
	kind := TaskKind(job.Kind)
	logger := util.LoggerFromContext(ctx).With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts)
	fn, ok := w.funcs[kind]
	var (
		outcome Outcome
		err     error
	)
	if !ok {
		err = fmt.Errorf("no handler for task kind %q", job.Kind)
		job.Attempts = max(job.Attempts, job.MaxAttempts)
	} else {
		outcome, err = fn(util.ContextWithLogger(ctx, logger), job)
	}
	if err != nil {
		logger.Error("task failed", "err", err, "final", job.Final())
		if !job.Final() {
			return err
		}
	} else {
		logger.Info("task finished")
	}
	res := TaskResult{
		JobID:      job.ID,
		Kind:       kind,
		Initiator:  initiatorFromPayload(job.Payload),
		Outcome:    outcome,
		Err:        err,
		FinishedAt: w.now().UTC(),
	}
	select {
	case w.results <- res:
	case <-ctx.Done():
	}
	return err
}
