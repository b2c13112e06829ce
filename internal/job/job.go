// Package job tracks the lifecycle of one transform invocation at a time.
package job

import (
	"sync"

	"github.com/Lllllllleong/pdftransform/internal/artifact"
	"github.com/Lllllllleong/pdftransform/internal/pdferr"
)

// Status is the lifecycle state of a job.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Job is a snapshot of a State. Which fields are meaningful depends on Status:
// Artifact and RemotePath only when succeeded, Err only when failed.
type Job struct {
	Operation  string
	Status     Status
	Progress   int
	Artifact   *artifact.Handle
	RemotePath string
	Err        error
}

// State is the job state machine. Transitions happen only through Begin,
// Succeed and Fail; Advance moves progress while running.
type State struct {
	mu        sync.Mutex
	job       Job
	observers []func(Job)
}

// NewState returns an idle State.
func NewState() *State {
	return &State{}
}

// Observe registers fn to receive a snapshot after every change.
// fn runs synchronously and must not call back into the State.
func (s *State) Observe(fn func(Job)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Current returns a snapshot of the job.
func (s *State) Current() Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

// Begin moves to running for operation op. It fails with a BUSY error if a
// job is already running, and releases the previous artifact handle first.
func (s *State) Begin(op string) error {
	s.mu.Lock()
	if s.job.Status == StatusRunning {
		s.mu.Unlock()
		return pdferr.ErrBusy
	}
	s.job.Artifact.Release()
	s.job = Job{Operation: op, Status: StatusRunning}
	s.notifyLocked()
	return nil
}

// Advance raises progress to p while running. Lower values are ignored so
// progress never moves backwards; values are clamped to [0,100].
func (s *State) Advance(p int) {
	p = min(max(p, 0), 100)
	s.mu.Lock()
	if s.job.Status != StatusRunning || p <= s.job.Progress {
		s.mu.Unlock()
		return
	}
	s.job.Progress = p
	s.notifyLocked()
}

// Succeed completes the running job with its artifact handle.
func (s *State) Succeed(h *artifact.Handle, remotePath string) {
	s.mu.Lock()
	if s.job.Status != StatusRunning {
		s.mu.Unlock()
		h.Release()
		return
	}
	s.job.Status = StatusSucceeded
	s.job.Progress = 100
	s.job.Artifact = h
	s.job.RemotePath = remotePath
	s.notifyLocked()
}

// Fail ends the running job. No artifact is kept and progress is reset.
func (s *State) Fail(err error) {
	s.mu.Lock()
	if s.job.Status != StatusRunning {
		s.mu.Unlock()
		return
	}
	s.job = Job{Operation: s.job.Operation, Status: StatusFailed, Err: err}
	s.notifyLocked()
}

// Release frees the current artifact handle, if any.
func (s *State) Release() {
	s.mu.Lock()
	h := s.job.Artifact
	s.mu.Unlock()
	h.Release()
}

// notifyLocked publishes a snapshot and unlocks s.mu.
func (s *State) notifyLocked() {
	snapshot := s.job
	observers := s.observers
	s.mu.Unlock()
	for _, fn := range observers {
		fn(snapshot)
	}
}
