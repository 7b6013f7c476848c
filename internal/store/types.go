package store

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run statuses. A run is terminal in passed, failed, or cancelled.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunPassed    RunStatus = "passed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	return s == RunPassed || s == RunFailed || s == RunCancelled
}

// ValidRunStatus reports whether s names a known run status. Used by the
// HTTP layer to validate list filters before they reach SQL.
func ValidRunStatus(s string) bool {
	switch RunStatus(s) {
	case RunQueued, RunRunning, RunPassed, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// TestStatus is the lifecycle state of a single test within a run.
type TestStatus string

// Per-test statuses. pending -> running -> {passed|failed}, or
// pending -> skipped (cancel / definition loss), or running -> failed.
const (
	TestPending TestStatus = "pending"
	TestRunning TestStatus = "running"
	TestPassed  TestStatus = "passed"
	TestFailed  TestStatus = "failed"
	TestSkipped TestStatus = "skipped"
)

// Finished reports whether the test reached an end state.
func (s TestStatus) Finished() bool {
	return s == TestPassed || s == TestFailed || s == TestSkipped
}

// TriggerType records what created a run.
type TriggerType string

// Trigger types.
const (
	TriggerManual   TriggerType = "manual"
	TriggerSchedule TriggerType = "schedule"
)

// TestMeta is the friendly metadata parsed from a test folder's meta.json.
type TestMeta struct {
	FriendlyName string   `json:"friendlyName"`
	Description  string   `json:"description,omitempty"`
	Tags         []string `json:"tags,omitempty"`
}

// ConstantSet holds configuration values for a test: a shared map applied to
// every environment plus per-environment maps. Values are scalars
// (string/number/bool) as parsed from JSON.
type ConstantSet struct {
	Shared       map[string]any            `json:"shared,omitempty"`
	Environments map[string]map[string]any `json:"environments,omitempty"`
}

// TestDefinition is one catalog entry, keyed naturally by TestKey. Discovery
// owns every field except Overrides, which only the overrides endpoint
// mutates.
type TestDefinition struct {
	ID         string
	TestKey    string
	FolderPath string
	SpecPath   string
	Meta       TestMeta
	Constants  ConstantSet
	Overrides  *ConstantSet // nil when no overrides have been set
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RunSummary is the terminal tally persisted on a run.
type RunSummary struct {
	TotalTests int   `json:"totalTests"`
	Passed     int   `json:"passed"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
	DurationMs int64 `json:"durationMs"`
}

// Run is one orchestrated execution against one environment.
type Run struct {
	ID               string
	Status           RunStatus
	TriggerType      TriggerType
	Environment      string
	ScheduleID       string // empty for manual runs
	TriggeredByEmail string
	RunOverrides     map[string]any
	Metadata         map[string]any
	Summary          *RunSummary
	CreatedAt        time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
}

// ArtifactRefs names the files recorded for a finished test, relative to
// the test's artifact directory.
type ArtifactRefs struct {
	ConsoleLog string `json:"consoleLog,omitempty"`
	Video      string `json:"video,omitempty"`
	Trace      string `json:"trace,omitempty"`
}

// RunTest is one test's execution within a run. (RunID, TestKey) is unique.
type RunTest struct {
	ID           string
	RunID        string
	TestID       string
	TestKey      string
	Status       TestStatus
	DurationMs   *int64
	ErrorMessage string
	Artifacts    *ArtifactRefs
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// SelectorType discriminates the schedule selector variant.
type SelectorType string

// Selector variants.
const (
	SelectorFolder   SelectorType = "folder"
	SelectorTags     SelectorType = "tags"
	SelectorExplicit SelectorType = "explicit"
)

// Selector describes which active tests a schedule materializes into its
// runs. Type determines which of the other fields is populated; it is
// persisted as a single JSON column with Type as the discriminator.
type Selector struct {
	Type         SelectorType `json:"type"`
	FolderPrefix string       `json:"folderPrefix,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	TestKeys     []string     `json:"testKeys,omitempty"`
}

// Schedule is a recurring run template driven by a cron expression.
type Schedule struct {
	ID                  string
	Name                string
	Cron                string
	Enabled             bool
	Environment         string
	LastTriggeredAt     *time.Time
	Selector            Selector
	DefaultRunOverrides map[string]any
	CreatedBy           string
	UpdatedBy           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// RunTestPair identifies one test to attach to a new run.
type RunTestPair struct {
	TestID  string
	TestKey string
}

// NowNano returns the current time as Unix nanoseconds, the store's native
// timestamp representation.
func NowNano() int64 {
	return time.Now().UnixNano()
}

// ToUnixNano converts a time.Time to Unix nanoseconds. Returns 0 for the
// zero time.
func ToUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

// FromUnixNano converts Unix nanoseconds back to a UTC time.Time.
func FromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// TimePtr returns a pointer to the given time value. Used for nullable
// timestamp columns.
func TimePtr(t time.Time) *time.Time {
	return &t
}

// Int64Ptr returns a pointer to the given int64 value. Used for nullable
// duration columns.
func Int64Ptr(v int64) *int64 {
	return &v
}
