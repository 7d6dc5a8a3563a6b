package cron

import "context"

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with its schedule expression. Schedules use the standard
// five-field syntax or descriptors such as "@every 1m" and "@daily".
type Entry struct {
	Schedule string
	Job      Job
}

// Registry tracks registered cron jobs.
type Registry struct {
	entries []Entry
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a job under schedule.
func (r *Registry) Register(schedule string, job Job) {
	if job == nil {
		return
	}
	r.entries = append(r.entries, Entry{Schedule: schedule, Job: job})
}

// Entries returns the registered jobs in the order they were added.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries
}
