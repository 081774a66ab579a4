// Package storage journals task outcomes so operators can look at what ran
// after a restart.
//
// Only finished work is recorded. Pending tasks are never persisted: a task
// that was still waiting for its delay when the process stopped is gone.
package storage
