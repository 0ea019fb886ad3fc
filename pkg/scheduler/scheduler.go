// Package scheduler runs flows proactively on cron schedules. A
// scheduled run executes a turn with a synthetic trigger message in a
// fresh session and dispatches the resulting side effects; there is no
// user waiting for the reply.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/convoflow/convoflow/pkg/effects"
	"github.com/convoflow/convoflow/pkg/engine"
	"github.com/convoflow/convoflow/pkg/logging"
	"github.com/convoflow/convoflow/pkg/session"
)

const runTimeout = 60 * time.Second

// Job describes a scheduled flow run.
type Job struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	FlowID   string `json:"flow_id"`
	Spec     string `json:"spec"`
	Message  string `json:"message"`
}

// Scheduler triggers flow runs on cron schedules.
type Scheduler struct {
	cron       *cron.Cron
	engine     *engine.Engine
	dispatcher *effects.Dispatcher
	logger     logging.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	jobs    map[string]Job
}

// New creates a scheduler. Start must be called before jobs fire.
func New(eng *engine.Engine, dispatcher *effects.Dispatcher, logger logging.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		engine:     eng,
		dispatcher: dispatcher,
		logger:     logger,
		entries:    make(map[string]cron.EntryID),
		jobs:       make(map[string]Job),
	}
}

// Add registers a job. Spec uses standard five-field cron syntax.
func (s *Scheduler) Add(tenantID, flowID, spec, message string) (Job, error) {
	job := Job{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		FlowID:   flowID,
		Spec:     spec,
		Message:  message,
	}

	entryID, err := s.cron.AddFunc(spec, func() { s.run(job) })
	if err != nil {
		return Job{}, err
	}

	s.mu.Lock()
	s.entries[job.ID] = entryID
	s.jobs[job.ID] = job
	s.mu.Unlock()

	s.logger.Info("scheduled flow run",
		logging.F("tenant_id", tenantID),
		logging.F("flow_id", flowID),
		logging.F("spec", spec))
	return job, nil
}

// Remove unregisters a job. Unknown ids are ignored.
func (s *Scheduler) Remove(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, jobID)
		delete(s.jobs, jobID)
	}
}

// List returns the jobs of a tenant.
func (s *Scheduler) List(tenantID string) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []Job
	for _, job := range s.jobs {
		if job.TenantID == tenantID {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// Start begins firing jobs.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	sess := session.New("sched-"+uuid.New().String(), "scheduler", job.TenantID)
	sess.Append("user", job.Message)

	resp, err := s.engine.RunFlow(ctx, job.TenantID, job.FlowID, job.Message, sess)
	if err != nil {
		s.logger.Error("scheduled run failed",
			logging.F("tenant_id", job.TenantID),
			logging.F("flow_id", job.FlowID),
			logging.F("error", err.Error()))
		return
	}

	s.dispatcher.Dispatch(ctx, job.TenantID, sess.SessionID, resp.SideEffects)
	s.logger.Info("scheduled run completed",
		logging.F("tenant_id", job.TenantID),
		logging.F("flow_id", job.FlowID),
		logging.F("side_effects", len(resp.SideEffects)))
}
