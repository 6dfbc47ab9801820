// Package advisor predicts irrigation need and raises early warnings from a
// plant's moisture band and its recent readings.
//
// Advisor implements automation.PredictionProvider and
// automation.WarningProvider. Both are deterministic functions of the
// plant profile, the latest reading and the last day of hourly history.
package advisor
