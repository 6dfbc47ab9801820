// Package automation provides the irrigation automation engine.
//
// An automation rule ties a plant to a decision policy. While a rule is
// enabled the engine runs one loop for it:
//
//   - smart: periodically asks the prediction and warning providers whether
//     the plant needs water and how much
//   - scheduled: fires at the wall-clock times of its schedule triggers
//   - sensor_based: periodically compares the latest sensor reading with
//     its threshold triggers
//
// Every irrigation goes through the Executor, which applies the
// SafetyValidator before touching the device gateway.
//
// Architecture:
//
//	┌──────────────────────────────────────────────────────────┐
//	│                    Engine (engine.go)                     │
//	│  ┌──────────────┐    ┌──────────────┐                    │
//	│  │   Registry   │───▶│  Repository  │  rules + history   │
//	│  │ rules+runners│    │(repository.go)│                   │
//	│  └──────────────┘    └──────────────┘                    │
//	│        │ one runner per enabled rule                      │
//	│        ▼                                                  │
//	│  ┌──────────────────────────────────────────────┐        │
//	│  │  Loop (loops.go)                              │        │
//	│  │  1. Gather signals (providers, timeout-bound) │        │
//	│  │  2. Decide amount, apply rule constraints     │        │
//	│  │  3. Executor: safety ▶ connection ▶ command   │        │
//	│  │  4. Statistics, history, WebSocket event      │        │
//	│  │  5. Errors accumulate; 5 in a row disables    │        │
//	│  └──────────────────────────────────────────────┘        │
//	└──────────────────────────────────────────────────────────┘
//
// # Thread Safety
//
// Engine and Registry are safe for concurrent use. Each runner guards its
// RunState with its own mutex; lock order is runner before registry.
//
// # Usage
//
//	repo := automation.NewSQLiteRepository(db.DB)
//	registry := automation.NewRegistry(repo)
//	engine := automation.NewEngine(registry, automation.Dependencies{
//	    Sensors:     sensorStore,
//	    Predictions: adv,
//	    Warnings:    adv,
//	    Gateway:     gw,
//	}, automation.DefaultConfig(), log)
//
//	if err := engine.Start(ctx); err != nil {
//	    return err
//	}
//	defer engine.Close()
package automation
