// Package optimizer computes multi-day irrigation schedules for a plant.
//
// An Optimizer gathers the plant profile, sensor data, watering history and
// weather forecast, hands them to a named ScheduleStrategy, clamps the
// result to the irrigation constraints and scores it with the Evaluator:
//
//	DataSource ─┐
//	Weather ────┼─► Input ─► strategy ─► ApplyConstraints ─► Evaluator ─► Result
//	QTableStore ┘                                                 │
//	                                                               └─► LearningLog
//
// Three strategies are registered by default:
//
//   - rule_based: per-day heuristics over a running soil moisture estimate
//   - genetic: tournament-selection search over random schedules
//   - reinforcement: Q-learning over a 27-state moisture/weather/time model
//
// Any failure after the strategy is chosen, including a panic inside a
// strategy, yields the fallback schedule (07:00, 200 units, every day).
// Only an unknown strategy name is reported to the caller as an error.
//
// Thread Safety: Optimizer is safe for concurrent use. Strategies keep no
// state between calls.
package optimizer
