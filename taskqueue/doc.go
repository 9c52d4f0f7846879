/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package taskqueue provides a priority queue of tasks executed under a concurrency bound.
//
// Every task goes through the following states:
//
//	Pending -> Running -> Completed
//	                   -> Retrying -> Pending (while the retry budget is not exhausted)
//	                   -> Failed
//	Pending, Retrying  -> Cleared (by Queue.Clear or Queue.Close)
//
// A free slot is always given to the pending task with the highest priority.
// Tasks with equal priority are started in arrival order, and a retried task keeps its original place
// among the tasks that arrived later. Completion order is not guaranteed.
// A running task is never interrupted by the queue.
//
// Several independently configured queues may be used in the same process
// (e.g. one with a low concurrency for lookups and one with a higher concurrency for bulk fetches).
package taskqueue
