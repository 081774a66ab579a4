// Package thread runs deferred and background work off the main thread and
// delivers completion/error callbacks back onto it.
//
// Flow:
//
//	Runner.Action / Runner.Function / Func[T]  -> Builder (configure)
//	Builder.Activate  -> delay == 0: worker pool right away
//	                  -> delay  > 0: pending set
//	Runner.Tick       -> promotes due pending tasks to the worker pool
//	worker            -> runs work, captures exactly one outcome
//	Relay.Post        -> callback runs on the main thread
//
// The runner owns no timers: the host calls Tick once per frame/period.
package thread
