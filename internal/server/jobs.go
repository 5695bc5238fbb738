package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xeloxa/WP-Hunter/internal/catalog"
	"github.com/xeloxa/WP-Hunter/internal/logging"
	"github.com/xeloxa/WP-Hunter/internal/model"
	"github.com/xeloxa/WP-Hunter/internal/repository"
	"github.com/xeloxa/WP-Hunter/internal/scanner"
)

type JobEventType string

const (
	JobEventStatus   JobEventType = "status"
	JobEventResult   JobEventType = "result"
	JobEventProgress JobEventType = "progress"
	JobEventSummary  JobEventType = "summary"
)

// JobEvent is one message pushed to job observers.
type JobEvent struct {
	JobID string       `json:"job_id"`
	Type  JobEventType `json:"type"`

	Status   JobStatus           `json:"status,omitempty"`
	Result   *model.PluginResult `json:"result,omitempty"`
	Summary  *model.ScanSummary  `json:"summary,omitempty"`
	Progress *model.SyncProgress `json:"progress,omitempty"`
	Error    string              `json:"error,omitempty"`
}

type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobDone     JobStatus = "done"
	JobFailed   JobStatus = "failed"
	JobCanceled JobStatus = "canceled"
)

type JobKind string

const (
	JobScan JobKind = "scan"
	JobSync JobKind = "sync"
)

// Job is one background scan or sync with a buffered event stream.
type Job struct {
	ID        string    `json:"id"`
	Kind      JobKind   `json:"kind"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	SessionID int64     `json:"session_id,omitempty"`

	Events chan JobEvent `json:"-"`

	cancel context.CancelFunc
	scan   *scanner.Scanner
	mu     sync.Mutex
}

func (j *Job) setStatus(s JobStatus) {
	j.mu.Lock()
	j.Status = s
	j.mu.Unlock()
}

// MarshalJSON snapshots the mutable fields under the job's lock so
// encoding never races with setStatus.
func (j *Job) MarshalJSON() ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return json.Marshal(struct {
		ID        string    `json:"id"`
		Kind      JobKind   `json:"kind"`
		Status    JobStatus `json:"status"`
		CreatedAt time.Time `json:"created_at"`
		SessionID int64     `json:"session_id,omitempty"`
	}{j.ID, j.Kind, j.Status, j.CreatedAt, j.SessionID})
}

// JobManager tracks background jobs by id.
type JobManager struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	logger logging.Logger
}

// NewJobManager constructs an empty manager.
func NewJobManager(logger logging.Logger) *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		logger: logger.With(logging.Field{Key: "component", Value: "jobs"}),
	}
}

// Get returns the job or nil.
func (m *JobManager) Get(id string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

// List returns all tracked jobs.
func (m *JobManager) List() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out
}

// Cancel requests cooperative cancellation of a job.
func (m *JobManager) Cancel(id string) {
	job := m.Get(id)
	if job == nil {
		return
	}
	if job.scan != nil {
		job.scan.Stop()
	}
	if job.cancel != nil {
		job.cancel()
	}
	m.logger.Info("job cancel requested", logging.Field{Key: "job_id", Value: id})
}

// emit delivers an event without blocking; slow observers lose interim
// events, never the job itself.
func (m *JobManager) emit(job *Job, ev JobEvent) {
	select {
	case job.Events <- ev:
	default:
		m.logger.Debug("job event dropped, channel full",
			logging.Field{Key: "job_id", Value: job.ID})
	}
}

// StartScan launches a scan in the background. Each accepted result is
// persisted under a new scan session and pushed as an event; the session
// always reaches a terminal status.
func (m *JobManager) StartScan(cfg model.ScanConfig, sc *scanner.Scanner, repo *repository.Repository) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.New().String(),
		Kind:      JobScan,
		Status:    JobPending,
		CreatedAt: time.Now(),
		Events:    make(chan JobEvent, 64),
		cancel:    cancel,
		scan:      sc,
	}
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	go func() {
		defer close(job.Events)
		defer cancel()

		sessionID, err := repo.CreateSession(ctx, &cfg)
		if err != nil {
			job.setStatus(JobFailed)
			m.emit(job, JobEvent{JobID: job.ID, Type: JobEventStatus, Status: JobFailed, Error: err.Error()})
			return
		}
		job.mu.Lock()
		job.SessionID = sessionID
		job.mu.Unlock()

		job.setStatus(JobRunning)
		_ = repo.SetSessionStatus(ctx, sessionID, model.ScanRunning, "")
		m.emit(job, JobEvent{JobID: job.ID, Type: JobEventStatus, Status: JobRunning})

		results, summary, scanErr := sc.Scan(ctx, cfg, func(res *model.PluginResult) {
			if _, err := repo.SaveResult(ctx, sessionID, res); err != nil {
				m.logger.Warn("persisting result",
					logging.Field{Key: "slug", Value: res.Slug},
					logging.Field{Key: "error", Value: err.Error()})
			}
			m.emit(job, JobEvent{JobID: job.ID, Type: JobEventResult, Result: res})
		})

		final := JobDone
		sessionStatus := model.ScanCompleted
		errMsg := ""
		switch {
		case scanErr != nil && len(results) == 0:
			final = JobFailed
			sessionStatus = model.ScanFailed
			errMsg = scanErr.Error()
		case sc.Status() == scanner.StatusCancelled:
			final = JobCanceled
			sessionStatus = model.ScanCancelled
		}

		finishCtx := context.WithoutCancel(ctx)
		if err := repo.FinishSession(finishCtx, sessionID, sessionStatus,
			summary.TotalFound, summary.HighRisk, errMsg); err != nil {
			m.logger.Error("finalizing session",
				logging.Field{Key: "session_id", Value: sessionID},
				logging.Field{Key: "error", Value: err.Error()})
		}

		job.setStatus(final)
		m.emit(job, JobEvent{JobID: job.ID, Type: JobEventSummary, Summary: &summary})
		m.emit(job, JobEvent{JobID: job.ID, Type: JobEventStatus, Status: final, Error: errMsg})
	}()
	return job
}

// StartSync launches a catalog sync in the background, pushing progress
// snapshots until the run finishes.
func (m *JobManager) StartSync(cfg model.SyncConfig, syncer *catalog.Syncer) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.New().String(),
		Kind:      JobSync,
		Status:    JobPending,
		CreatedAt: time.Now(),
		Events:    make(chan JobEvent, 64),
		cancel:    cancel,
	}
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	go func() {
		defer close(job.Events)
		defer cancel()

		job.setStatus(JobRunning)
		m.emit(job, JobEvent{JobID: job.ID, Type: JobEventStatus, Status: JobRunning})

		ticker := time.NewTicker(500 * time.Millisecond)
		done := make(chan struct{})
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					p := syncer.Progress()
					m.emit(job, JobEvent{JobID: job.ID, Type: JobEventProgress, Progress: &p})
				}
			}
		}()

		run, err := syncer.Sync(ctx, cfg)
		close(done)

		final := JobDone
		errMsg := ""
		if err != nil {
			final = JobFailed
			errMsg = err.Error()
		} else if run != nil && run.Status == model.SyncFailed {
			final = JobFailed
			errMsg = run.ErrorMessage
		}
		job.setStatus(final)
		m.emit(job, JobEvent{JobID: job.ID, Type: JobEventStatus, Status: final, Error: errMsg})
	}()
	return job
}
