package automation

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validSensorRule() *Rule {
	return &Rule{
		ID:      "rule-1",
		PlantID: "plant-1",
		Mode:    ModeSensorBased,
		Triggers: []Trigger{
			{Type: TriggerSensor, Parameter: "soil_moisture", Operator: OpLessThan, Value: 40, Amount: 300},
		},
		Actions:      []Action{{Type: ActionIrrigation, Amount: 200}},
		SafetyLimits: DefaultSafetyLimits(),
	}
}

func TestValidateRule(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Rule)
		wantErr string
	}{
		{"valid sensor rule", func(*Rule) {}, ""},
		{"valid scheduled rule", func(r *Rule) {
			r.Mode = ModeScheduled
			r.Triggers = []Trigger{{Type: TriggerSchedule, Time: "07:30", Days: []string{"monday", "thu"}}}
		}, ""},
		{"valid smart rule", func(r *Rule) {
			r.Mode = ModeSmart
			r.Actions = []Action{{Type: ActionNotification}}
		}, ""},
		{"missing plant", func(r *Rule) { r.PlantID = " " }, "plant id is required"},
		{"unknown mode", func(r *Rule) { r.Mode = "manual" }, "mode \"manual\""},
		{"no triggers", func(r *Rule) { r.Triggers = nil }, "at least one trigger"},
		{"no actions", func(r *Rule) { r.Actions = nil }, "at least one action"},
		{"bad operator", func(r *Rule) { r.Triggers[0].Operator = "between" }, "operator \"between\""},
		{"missing parameter", func(r *Rule) { r.Triggers[0].Parameter = "" }, "parameter is required"},
		{"bad trigger type", func(r *Rule) { r.Triggers[0].Type = "webhook" }, "type \"webhook\""},
		{"bad time", func(r *Rule) {
			r.Mode = ModeScheduled
			r.Triggers = []Trigger{{Type: TriggerSchedule, Time: "25:00", Amount: 100}}
		}, "invalid hour"},
		{"bad day", func(r *Rule) {
			r.Mode = ModeScheduled
			r.Triggers = []Trigger{{Type: TriggerSchedule, Time: "07:00", Days: []string{"someday"}, Amount: 100}}
		}, "not a weekday"},
		{"scheduled without schedule trigger", func(r *Rule) { r.Mode = ModeScheduled }, "needs at least one schedule trigger"},
		{"no amount to fall back to", func(r *Rule) {
			r.Triggers[0].Amount = 0
			r.Actions = []Action{{Type: ActionAlert}}
		}, "no amount"},
		{"negative amount", func(r *Rule) { r.Actions[0].Amount = -1 }, "amount must be between"},
		{"bad window", func(r *Rule) {
			r.Constraints.AllowedWindows = []TimeWindow{{Start: "6am", End: "08:00"}}
		}, "window 0 start"},
		{"zero daily limit", func(r *Rule) { r.SafetyLimits.MaxWaterPerDay = 0 }, "max water per day must be positive"},
		{"zero consecutive", func(r *Rule) { r.SafetyLimits.MaxConsecutiveIrrigations = 0 }, "at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validSensorRule()
			tt.mutate(r)

			verr := validateRule(r)
			if tt.wantErr == "" {
				if verr != nil {
					t.Fatalf("validateRule() = %v, want nil", verr)
				}
				return
			}
			if verr == nil {
				t.Fatalf("validateRule() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(verr.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", verr.Error(), tt.wantErr)
			}
			if !errors.Is(verr, ErrInvalidConfig) {
				t.Error("ValidationError should wrap ErrInvalidConfig")
			}
		})
	}
}

func TestValidateRule_CollectsAllProblems(t *testing.T) {
	r := &Rule{Mode: "bogus", SafetyLimits: DefaultSafetyLimits()}

	verr := validateRule(r)
	if verr == nil {
		t.Fatal("expected validation error")
	}
	if len(verr.Problems) < 4 {
		t.Errorf("Problems = %v, want plant, mode, triggers and actions reported", verr.Problems)
	}
}

func TestScheduleFor(t *testing.T) {
	// 2026-06-01 is a Monday.
	from := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		trigger Trigger
		want    time.Time
	}{
		{
			name:    "every day later today",
			trigger: Trigger{Type: TriggerSchedule, Time: "18:15"},
			want:    time.Date(2026, 6, 1, 18, 15, 0, 0, time.UTC),
		},
		{
			name:    "every day already passed",
			trigger: Trigger{Type: TriggerSchedule, Time: "07:30"},
			want:    time.Date(2026, 6, 2, 7, 30, 0, 0, time.UTC),
		},
		{
			name:    "named weekdays",
			trigger: Trigger{Type: TriggerSchedule, Time: "07:30", Days: []string{"Thursday", "mon"}},
			want:    time.Date(2026, 6, 4, 7, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := scheduleFor(tt.trigger)
			if err != nil {
				t.Fatalf("scheduleFor() error = %v", err)
			}
			if got := sched.Next(from); !got.Equal(tt.want) {
				t.Errorf("Next() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeSafetyLimits(t *testing.T) {
	defaults := DefaultSafetyLimits()

	if got := mergeSafetyLimits(defaults, nil); got != defaults {
		t.Errorf("nil overrides changed limits: %+v", got)
	}

	got := mergeSafetyLimits(defaults, &SafetyOverrides{
		MaxWaterPerDay:            floatPtr(300),
		MaxConsecutiveIrrigations: intPtr(1),
	})
	if got.MaxWaterPerDay != 300 || got.MaxConsecutiveIrrigations != 1 {
		t.Errorf("overrides not applied: %+v", got)
	}
	if got.MaxWaterPerHour != defaults.MaxWaterPerHour {
		t.Errorf("MaxWaterPerHour = %v, want default %v", got.MaxWaterPerHour, defaults.MaxWaterPerHour)
	}
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	if err := d.UnmarshalJSON([]byte(`"45m"`)); err != nil || d.Duration != 45*time.Minute {
		t.Errorf("string form: %v, %v", d, err)
	}
	if err := d.UnmarshalJSON([]byte(`90`)); err != nil || d.Duration != 90*time.Second {
		t.Errorf("seconds form: %v, %v", d, err)
	}
	if err := d.UnmarshalJSON([]byte(`true`)); err == nil {
		t.Error("expected error for bool")
	}
	b, _ := Duration{30 * time.Minute}.MarshalJSON()
	if string(b) != `"30m0s"` {
		t.Errorf("MarshalJSON = %s", b)
	}
}
