// internal/chaos/engine.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrSteadyStateInvalid = errors.New("steady state invalid - aborting experiment")
	ErrHypothesisViolated = errors.New("hypothesis violated")
)

// Experiment defines a fault injection test against the storage layer.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Probes      []Metric
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
}

// Metric defines a measurable property of the data files or the store.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string  `json:"operator"` // >, <, >=, <=, ==
	Value    float64 `json:"value"`
}

// Action is one step of a method or rollback. Failures of method actions are
// expected while a fault is armed and are recorded, not fatal.
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion validates the observed value of a metric after the method ran.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

type ExperimentResult struct {
	ExperimentName   string             `json:"experiment_name"`
	StartTime        time.Time          `json:"start_time"`
	EndTime          time.Time          `json:"end_time"`
	Duration         time.Duration      `json:"duration"`
	HypothesisHeld   bool               `json:"hypothesis_held"`
	SteadyStateValid bool               `json:"steady_state_valid"`
	Violations       []MetricViolation  `json:"violations"`
	Failed           []string           `json:"failed_assertions"`
	Observations     map[string]float64 `json:"observations"`
	ErrorEvents      []ErrorEvent       `json:"error_events"`
}

// MetricViolation is a metric that broke its threshold or could not be
// read. Actual is meaningless when QueryError is set.
type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Threshold  Threshold `json:"threshold"`
	Actual     float64   `json:"actual"`
	QueryError string    `json:"query_error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine runs experiments and keeps their results.
type Engine struct {
	tracer      trace.Tracer
	experiments []Experiment
	results     []ExperimentResult
	mu          sync.Mutex
}

func NewEngine() *Engine {
	return &Engine{
		tracer: otel.Tracer("consolemart/chaos"),
	}
}

func (e *Engine) RegisterExperiment(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

// Experiments returns the registered experiments.
func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.experiments
}

// Results returns the results of every experiment run so far.
func (e *Engine) Results() []ExperimentResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results
}

// RunExperiment validates the steady state, runs the method, samples every
// metric once, rolls back and checks the assertions against the sample.
func (e *Engine) RunExperiment(ctx context.Context, exp Experiment) (*ExperimentResult, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(
			attribute.String("experiment.name", exp.Name),
		),
	)
	defer span.End()

	result := &ExperimentResult{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string]float64),
	}

	span.AddEvent("validating_steady_state")
	if valid, violations := e.validateSteadyState(ctx, exp.SteadyState); !valid {
		result.Violations = violations
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
		}
	}

	span.AddEvent("observing_system")
	for _, m := range slices.Concat(exp.SteadyState, exp.Probes) {
		value, v := sample(ctx, m)
		if v != nil && v.QueryError != "" {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: v.Timestamp,
				Error:     v.QueryError,
				Component: m.Name,
			})
			continue
		}
		result.Observations[m.Name] = value
		if v != nil {
			result.Violations = append(result.Violations, *v)
		}
	}

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			span.RecordError(err)
		}
	}

	span.AddEvent("validating_assertions")
	result.Failed = validateAssertions(exp.Validation, result)
	result.HypothesisHeld = len(result.Failed) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

// validateSteadyState samples every steady-state metric before any fault is
// armed. A metric whose query fails counts as a violation.
func (e *Engine) validateSteadyState(ctx context.Context, metrics []Metric) (bool, []MetricViolation) {
	var violations []MetricViolation
	for _, m := range metrics {
		if _, v := sample(ctx, m); v != nil {
			violations = append(violations, *v)
		}
	}
	return len(violations) == 0, violations
}

// sample queries m and checks it against its threshold, if it has one.
func sample(ctx context.Context, m Metric) (float64, *MetricViolation) {
	value, err := m.Query(ctx)
	switch {
	case err != nil:
		return 0, &MetricViolation{
			MetricName: m.Name,
			Threshold:  m.Threshold,
			QueryError: err.Error(),
			Timestamp:  time.Now(),
		}
	case m.Threshold.Operator != "" && !m.Threshold.Holds(value):
		return value, &MetricViolation{
			MetricName: m.Name,
			Threshold:  m.Threshold,
			Actual:     value,
			Timestamp:  time.Now(),
		}
	}
	return value, nil
}

var comparisons = map[string]func(a, b float64) bool{
	">":  func(a, b float64) bool { return a > b },
	"<":  func(a, b float64) bool { return a < b },
	">=": func(a, b float64) bool { return a >= b },
	"<=": func(a, b float64) bool { return a <= b },
	"==": func(a, b float64) bool { return a == b },
}

// Holds reports whether value satisfies the threshold. An unknown operator
// never holds.
func (t Threshold) Holds(value float64) bool {
	cmp, ok := comparisons[t.Operator]
	return ok && cmp(value, t.Value)
}

func (t Threshold) String() string {
	return fmt.Sprintf("%s %g", t.Operator, t.Value)
}

// validateAssertions returns the messages of the assertions that failed. An
// assertion on a metric that was never observed fails.
func validateAssertions(assertions []Assertion, result *ExperimentResult) []string {
	var failed []string
	for _, a := range assertions {
		value, ok := result.Observations[a.Metric]
		if !ok || !a.Condition(value) {
			failed = append(failed, a.Message)
		}
	}
	return failed
}

// GameDay is a named series of experiments.
type GameDay struct {
	Name      string
	Date      time.Time
	Scenarios []Experiment
}

// ExecuteGameDay runs every scenario and reports to w. It returns
// ErrHypothesisViolated if any scenario did not hold.
func (e *Engine) ExecuteGameDay(ctx context.Context, gameDay GameDay, w io.Writer) error {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(
			attribute.String("gameday.name", gameDay.Name),
		),
	)
	defer span.End()

	fmt.Fprintf(w, "Game day: %s\n", gameDay.Name)
	fmt.Fprintf(w, "Date: %s\n", gameDay.Date.Format(time.DateTime))

	violated := 0
	for i, scenario := range gameDay.Scenarios {
		fmt.Fprintf(w, "\nExperiment %d/%d: %s\n", i+1, len(gameDay.Scenarios), scenario.Name)
		fmt.Fprintf(w, "Hypothesis: %s\n", scenario.Hypothesis)

		result, err := e.RunExperiment(ctx, scenario)
		if err != nil {
			fmt.Fprintf(w, "FAIL experiment aborted: %v\n", err)
			violated++
			continue
		}
		printExperimentResult(w, result)
		if !result.HypothesisHeld {
			violated++
		}
	}

	span.SetAttributes(attribute.Int("gameday.violated", violated))
	if violated > 0 {
		return fmt.Errorf("%w in %d of %d experiments", ErrHypothesisViolated, violated, len(gameDay.Scenarios))
	}
	return nil
}

func printExperimentResult(w io.Writer, result *ExperimentResult) {
	if result.HypothesisHeld {
		fmt.Fprintln(w, "PASS hypothesis held")
	} else {
		fmt.Fprintln(w, "FAIL hypothesis violated")
		for _, msg := range result.Failed {
			fmt.Fprintf(w, "   - %s\n", msg)
		}
	}
	if len(result.Violations) > 0 {
		fmt.Fprintf(w, "Violations detected: %d\n", len(result.Violations))
		for _, v := range result.Violations {
			if v.QueryError != "" {
				fmt.Fprintf(w, "   - %s: unreadable: %s\n", v.MetricName, v.QueryError)
				continue
			}
			fmt.Fprintf(w, "   - %s: want %s, got %g\n", v.MetricName, v.Threshold, v.Actual)
		}
	}
	for _, ev := range result.ErrorEvents {
		fmt.Fprintf(w, "Observed error from %s: %s\n", ev.Component, ev.Error)
	}
	fmt.Fprintf(w, "Duration: %s\n", result.Duration)
}
