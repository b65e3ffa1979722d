// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"consolemart/internal/circulation"
	"consolemart/internal/membership"

	"github.com/shopspring/decimal"
)

// RegisterExperiments registers the storage experiments against s.
func (e *Engine) RegisterExperiments(s *Sandbox) {
	e.RegisterExperiment(RewriteTempWriteFailure(s))
	e.RegisterExperiment(OrderRenameFailure(s))
	e.RegisterExperiment(OrderLogAppendFailure(s))
	e.RegisterExperiment(OrderLogCloseFailure(s))
	e.RegisterExperiment(CreateCustomerAppendFailure(s))
	e.RegisterExperiment(RewriteMissingSource(s))
	e.RegisterExperiment(CompensationFailure(s))
}

func steadyState(s *Sandbox) []Metric {
	return []Metric{
		{Name: "temp_files", Query: s.TempFiles, Threshold: Threshold{Operator: "==", Value: 0}},
		{Name: "files_changed", Query: s.ChangedFiles, Threshold: Threshold{Operator: "==", Value: 0}},
	}
}

func prepare(s *Sandbox) Action {
	return Action{Type: "prepare", Target: s.Dir, Execute: s.Reset}
}

// clearFaults disarms the faults and takes a new baseline, so a diverged
// file does not fail the steady state of the next experiment.
func clearFaults(s *Sandbox) []Action {
	return []Action{{
		Type:   "clear-faults",
		Target: s.Dir,
		Execute: func(context.Context) error {
			if s.FS == nil {
				return nil
			}
			s.FS.Clear()
			return s.snapshot()
		},
	}}
}

func inject(s *Sandbox, target string, f Fault) Action {
	return Action{
		Type:   "inject-" + string(f.Op),
		Target: target,
		Execute: func(context.Context) error {
			if s.FS == nil {
				return errNotPrepared
			}
			s.FS.Inject(f)
			return nil
		},
	}
}

func placeOrder(s *Sandbox, quantity int) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := s.ready(); err != nil {
			return err
		}
		o, err := circulation.NewOrder(s.Customer, s.Item, quantity, false)
		if err != nil {
			return err
		}
		_, err = s.Store.ExecuteOrder(ctx, o)
		return err
	}
}

var (
	untouched = []Assertion{
		{Metric: "files_changed", Condition: func(v float64) bool { return v == 0 }, Message: "Data files should be byte-for-byte unchanged"},
		{Metric: "temp_files", Condition: func(v float64) bool { return v == 0 }, Message: "No rewrite scratch file should be left behind"},
	}
	faulted = Assertion{
		Metric: "faults_injected", Condition: func(v float64) bool { return v >= 1 }, Message: "The fault should have fired",
	}
	consistent = Assertion{
		Metric: "memory_diverged", Condition: func(v float64) bool { return v == 0 }, Message: "In-memory records should not change",
	}
	prepared = Assertion{
		Metric: "prepared", Condition: func(v float64) bool { return v == 1 }, Message: "The sandbox should have been prepared",
	}
)

func preparedProbe(s *Sandbox) Metric {
	return Metric{Name: "prepared", Query: func(context.Context) (float64, error) {
		if s.ready() != nil {
			return 0, nil
		}
		return 1, nil
	}}
}

func probes(s *Sandbox) []Metric {
	return []Metric{
		{Name: "faults_injected", Query: s.Injected},
		{Name: "memory_diverged", Query: s.MemoryDiverged},
		preparedProbe(s),
	}
}

// RewriteTempWriteFailure fails the write into the scratch copy while a VIP
// rate change rewrites the customer file.
func RewriteTempWriteFailure(s *Sandbox) Experiment {
	return Experiment{
		Name:        "rewrite-temp-write-failure",
		Hypothesis:  "A rewrite whose scratch file cannot be written leaves the customer file unchanged",
		SteadyState: steadyState(s),
		Probes:      probes(s),
		Method: []Action{
			prepare(s),
			inject(s, "customers", Fault{Op: OpWrite, Match: TempOf(s.Config.CustomerPath)}),
			{Type: "set-vip-rate", Target: "customers", Execute: func(ctx context.Context) error {
				if err := s.ready(); err != nil {
					return err
				}
				return s.Store.SetVIPRate(ctx, s.Customer.ID, decimal.RequireFromString("0.3"))
			}},
		},
		Rollback:   clearFaults(s),
		Validation: append([]Assertion{prepared, faulted, consistent}, untouched...),
	}
}

// OrderRenameFailure fails the rename of the product file after the
// customer row of an order has been written.
func OrderRenameFailure(s *Sandbox) Experiment {
	return Experiment{
		Name:        "order-product-rename-failure",
		Hypothesis:  "An order whose product row cannot be saved restores the customer row",
		SteadyState: steadyState(s),
		Probes:      probes(s),
		Method: []Action{
			prepare(s),
			inject(s, "products", Fault{Op: OpRename, Match: Path(s.Config.ProductPath)}),
			{Type: "execute-order", Target: "records", Execute: placeOrder(s, 2)},
		},
		Rollback:   clearFaults(s),
		Validation: append([]Assertion{prepared, faulted, consistent}, untouched...),
	}
}

// OrderLogAppendFailure fails opening the order log after both rows of an
// order have been written.
func OrderLogAppendFailure(s *Sandbox) Experiment {
	return Experiment{
		Name:        "order-log-append-failure",
		Hypothesis:  "An order that cannot be logged restores the customer and product rows",
		SteadyState: steadyState(s),
		Probes:      probes(s),
		Method: []Action{
			prepare(s),
			inject(s, "orders", Fault{Op: OpOpenFile, Match: Path(s.Config.OrderPath)}),
			{Type: "execute-order", Target: "records", Execute: placeOrder(s, 2)},
		},
		Rollback:   clearFaults(s),
		Validation: append([]Assertion{prepared, faulted, consistent}, untouched...),
	}
}

// OrderLogCloseFailure lets the order line reach the log and then fails
// closing it.
func OrderLogCloseFailure(s *Sandbox) Experiment {
	return Experiment{
		Name:        "order-log-close-failure",
		Hypothesis:  "An order line written before a failed close is rolled back with the rows",
		SteadyState: steadyState(s),
		Probes:      probes(s),
		Method: []Action{
			prepare(s),
			inject(s, "orders", Fault{Op: OpClose, Match: Path(s.Config.OrderPath)}),
			{Type: "execute-order", Target: "records", Execute: placeOrder(s, 1)},
		},
		Rollback:   clearFaults(s),
		Validation: append([]Assertion{prepared, faulted, consistent}, untouched...),
	}
}

// CreateCustomerAppendFailure fails the append of a new customer row.
func CreateCustomerAppendFailure(s *Sandbox) Experiment {
	before := 0
	return Experiment{
		Name:        "create-customer-append-failure",
		Hypothesis:  "A customer that cannot be saved is not created and does not use up an id",
		SteadyState: steadyState(s),
		Probes: append(probes(s), Metric{
			Name: "ids_consumed",
			Query: func(context.Context) (float64, error) {
				if err := s.ready(); err != nil {
					return 0, err
				}
				return float64(s.Store.NextCustomerID() - before), nil
			},
		}),
		Method: []Action{
			prepare(s),
			{Type: "remember-next-id", Target: "records", Execute: func(context.Context) error {
				if err := s.ready(); err != nil {
					return err
				}
				before = s.Store.NextCustomerID()
				return nil
			}},
			inject(s, "customers", Fault{Op: OpOpenFile, Match: Path(s.Config.CustomerPath)}),
			{Type: "create-customer", Target: "records", Execute: func(ctx context.Context) error {
				if err := s.ready(); err != nil {
					return err
				}
				_, err := s.Store.CreateCustomer(ctx, "Never Saved", membership.TierMember)
				return err
			}},
		},
		Rollback: clearFaults(s),
		Validation: append([]Assertion{prepared, faulted, {
			Metric: "ids_consumed", Condition: func(v float64) bool { return v == 0 }, Message: "The next customer id should not advance",
		}}, untouched...),
	}
}

// RewriteMissingSource rewrites a file that does not exist.
func RewriteMissingSource(s *Sandbox) Experiment {
	return Experiment{
		Name:        "rewrite-missing-source",
		Hypothesis:  "Rewriting a missing file fails before any scratch file is created",
		SteadyState: steadyState(s),
		Method: []Action{
			prepare(s),
			{Type: "rewrite", Target: "missing", Execute: func(ctx context.Context) error {
				if err := s.ready(); err != nil {
					return err
				}
				_, err := s.Files.Rewrite(ctx, filepath.Join(s.Dir, "missing.txt"),
					func(string) bool { return true },
					func(line string) string { return line },
				)
				return err
			}},
		},
		Probes:     []Metric{preparedProbe(s)},
		Rollback:   clearFaults(s),
		Validation: append([]Assertion{prepared}, untouched...),
	}
}

// CompensationFailure fails the product rename and then the rename that
// would restore the customer row.
func CompensationFailure(s *Sandbox) Experiment {
	var orderErr error
	return Experiment{
		Name:       "compensation-failure",
		Hypothesis: "An order whose compensation fails reports both failures and only the customer file diverges",
		SteadyState: []Metric{
			{Name: "temp_files", Query: s.TempFiles, Threshold: Threshold{Operator: "==", Value: 0}},
		},
		Probes: []Metric{
			{Name: "files_changed", Query: s.ChangedFiles},
			{Name: "faults_injected", Query: s.Injected},
			preparedProbe(s),
			{Name: "compensation_reported", Query: func(context.Context) (float64, error) {
				if errors.Is(orderErr, ErrInjected) && strings.Contains(orderErr.Error(), "restore") {
					return 1, nil
				}
				return 0, nil
			}},
		},
		Method: []Action{
			prepare(s),
			inject(s, "products", Fault{Op: OpRename, Match: Path(s.Config.ProductPath)}),
			inject(s, "customers", Fault{Op: OpRename, Match: Path(s.Config.CustomerPath), After: 1}),
			{Type: "execute-order", Target: "records", Execute: func(ctx context.Context) error {
				orderErr = placeOrder(s, 1)(ctx)
				return orderErr
			}},
		},
		Rollback: clearFaults(s),
		Validation: []Assertion{
			prepared,
			{Metric: "faults_injected", Condition: func(v float64) bool { return v == 2 }, Message: "Both renames should have failed"},
			{Metric: "compensation_reported", Condition: func(v float64) bool { return v == 1 }, Message: "The failed restore should be reported"},
			{Metric: "files_changed", Condition: func(v float64) bool { return v == 1 }, Message: "Only the customer file should diverge"},
			{Metric: "temp_files", Condition: func(v float64) bool { return v == 0 }, Message: "No rewrite scratch file should be left behind"},
		},
	}
}
