// Package triage is the alert triage and dispatch core. It defines the pure
// pipeline stages (Classify, DetectTrend, IsLikelyFalseAlarm), the per-key
// History arena, the priority Queue, the Engine that threads a reading through
// those stages, and the Service (lifecycle, dispatch loop, statistics).
package triage
