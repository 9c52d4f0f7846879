/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package taskqueue

// Stats contains statistics of the queue. Pending, Running and Retrying reflect the current set of tasks,
// other counters are accumulated since the queue creation.
type Stats struct {
	Name          string `json:"name"`
	MaxConcurrent int    `json:"maxConcurrent"`
	TotalEnqueued int    `json:"totalEnqueued"`
	Completed     int    `json:"completed"`
	Failed        int    `json:"failed"`
	Cleared       int    `json:"cleared"`
	Pending       int    `json:"pending"`
	Running       int    `json:"running"`
	Retrying      int    `json:"retrying"`
	PeakRunning   int    `json:"peakRunning"`

	// AverageExecutionMillis is the average execution time of the successful attempts of completed tasks.
	AverageExecutionMillis float64 `json:"averageExecutionMillis"`

	ByType map[string]TypeStats `json:"byType"`
}

// TypeStats contains statistics of the tasks of the same type.
type TypeStats struct {
	Enqueued               int     `json:"enqueued"`
	Completed              int     `json:"completed"`
	Failed                 int     `json:"failed"`
	Cleared                int     `json:"cleared"`
	Pending                int     `json:"pending"`
	Running                int     `json:"running"`
	Retrying               int     `json:"retrying"`
	AverageExecutionMillis float64 `json:"averageExecutionMillis"`
}
