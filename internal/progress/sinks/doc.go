// Package sinks implements progress consumers: structured logs and a plain
// console display of per-phase activity.
package sinks
