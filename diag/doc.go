/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package diag provides an HTTP surface for inspecting and controlling the resilience layer:
// statistics of the cache and the task queues, the quota exceeded signal and Prometheus metrics.
package diag
