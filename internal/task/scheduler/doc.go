// Package scheduler turns recurring schedules (cron, interval, once) into
// thread tasks.
//
// The scheduler only decides when a trigger fires. Every firing activates an
// action task on the thread runner, optionally with a delay, so scheduled work
// goes through the same pending set, worker pool and main-thread callbacks as
// work submitted directly.
package scheduler
