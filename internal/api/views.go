package api

import (
	"time"

	"github.com/akeyanjam/mbss-test/internal/store"
)

// testView is the wire shape of a catalog entry.
type testView struct {
	ID           string             `json:"id"`
	TestKey      string             `json:"testKey"`
	FolderPath   string             `json:"folderPath"`
	SpecPath     string             `json:"specPath"`
	FriendlyName string             `json:"friendlyName"`
	Description  string             `json:"description,omitempty"`
	Tags         []string           `json:"tags,omitempty"`
	Constants    store.ConstantSet  `json:"constants"`
	Overrides    *store.ConstantSet `json:"overrides,omitempty"`
	Active       bool               `json:"active"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

func newTestView(def *store.TestDefinition) testView {
	return testView{
		ID:           def.ID,
		TestKey:      def.TestKey,
		FolderPath:   def.FolderPath,
		SpecPath:     def.SpecPath,
		FriendlyName: def.Meta.FriendlyName,
		Description:  def.Meta.Description,
		Tags:         def.Meta.Tags,
		Constants:    def.Constants,
		Overrides:    def.Overrides,
		Active:       def.Active,
		CreatedAt:    def.CreatedAt,
		UpdatedAt:    def.UpdatedAt,
	}
}

// runTestView is the wire shape of one test within a run.
type runTestView struct {
	ID           string              `json:"id"`
	TestID       string              `json:"testId"`
	TestKey      string              `json:"testKey"`
	Status       string              `json:"status"`
	DurationMs   *int64              `json:"durationMs,omitempty"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
	Artifacts    *store.ArtifactRefs `json:"artifacts,omitempty"`
	StartedAt    *time.Time          `json:"startedAt,omitempty"`
	FinishedAt   *time.Time          `json:"finishedAt,omitempty"`
}

func newRunTestView(rt *store.RunTest) runTestView {
	return runTestView{
		ID:           rt.ID,
		TestID:       rt.TestID,
		TestKey:      rt.TestKey,
		Status:       string(rt.Status),
		DurationMs:   rt.DurationMs,
		ErrorMessage: rt.ErrorMessage,
		Artifacts:    rt.Artifacts,
		StartedAt:    rt.StartedAt,
		FinishedAt:   rt.FinishedAt,
	}
}

// runView is the wire shape of a run. Tests is only populated on the
// detail endpoint.
type runView struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	TriggerType      string            `json:"triggerType"`
	Environment      string            `json:"environment"`
	ScheduleID       string            `json:"scheduleId,omitempty"`
	TriggeredByEmail string            `json:"triggeredByEmail,omitempty"`
	RunOverrides     map[string]any    `json:"runOverrides,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
	Summary          *store.RunSummary `json:"summary,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	StartedAt        *time.Time        `json:"startedAt,omitempty"`
	FinishedAt       *time.Time        `json:"finishedAt,omitempty"`
	Tests            []runTestView     `json:"tests,omitempty"`
}

func newRunView(run *store.Run, tests []store.RunTest) runView {
	v := runView{
		ID:               run.ID,
		Status:           string(run.Status),
		TriggerType:      string(run.TriggerType),
		Environment:      run.Environment,
		ScheduleID:       run.ScheduleID,
		TriggeredByEmail: run.TriggeredByEmail,
		RunOverrides:     run.RunOverrides,
		Metadata:         run.Metadata,
		Summary:          run.Summary,
		CreatedAt:        run.CreatedAt,
		StartedAt:        run.StartedAt,
		FinishedAt:       run.FinishedAt,
	}

	for i := range tests {
		v.Tests = append(v.Tests, newRunTestView(&tests[i]))
	}

	return v
}

// scheduleView is the wire shape of a schedule.
type scheduleView struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Cron                string         `json:"cron"`
	Enabled             bool           `json:"enabled"`
	Environment         string         `json:"environment"`
	LastTriggeredAt     *time.Time     `json:"lastTriggeredAt,omitempty"`
	Selector            store.Selector `json:"selector"`
	DefaultRunOverrides map[string]any `json:"defaultRunOverrides,omitempty"`
	CreatedBy           string         `json:"createdBy,omitempty"`
	UpdatedBy           string         `json:"updatedBy,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

func newScheduleView(sched *store.Schedule) scheduleView {
	return scheduleView{
		ID:                  sched.ID,
		Name:                sched.Name,
		Cron:                sched.Cron,
		Enabled:             sched.Enabled,
		Environment:         sched.Environment,
		LastTriggeredAt:     sched.LastTriggeredAt,
		Selector:            sched.Selector,
		DefaultRunOverrides: sched.DefaultRunOverrides,
		CreatedBy:           sched.CreatedBy,
		UpdatedBy:           sched.UpdatedBy,
		CreatedAt:           sched.CreatedAt,
		UpdatedAt:           sched.UpdatedAt,
	}
}
