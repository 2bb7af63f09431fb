package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/delaneyj/ngscope/scope"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

// Scenario describes a scope tree, the watches registered on it and the
// writes replayed against it.
type Scenario struct {
	Name   string         `toml:"name"`
	TTL    int            `toml:"ttl"`
	Seed   map[string]any `toml:"seed"`
	Scopes []ScopeDef     `toml:"scope"`
	Watch  []WatchDef     `toml:"watch"`
	Steps  []StepDef      `toml:"step"`
}

type ScopeDef struct {
	Name    string         `toml:"name"`
	Parent  string         `toml:"parent"`
	Isolate bool           `toml:"isolate"`
	Seed    map[string]any `toml:"seed"`
}

type WatchDef struct {
	Expr  string `toml:"expr"`
	Scope string `toml:"scope"`
	Lazy  bool   `toml:"lazy"`
}

// StepDef runs Eval against Scope and flushes. Destroy tears Scope down
// after the flush.
type StepDef struct {
	Eval    string `toml:"eval"`
	Scope   string `toml:"scope"`
	Destroy bool   `toml:"destroy"`
}

const rootName = "root"

// LoadScenario reads a scenario file and applies defaults.
func LoadScenario(path string) (*Scenario, error) {
	var sc Scenario
	if _, err := toml.DecodeFile(path, &sc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = path
	}
	if sc.TTL <= 0 {
		sc.TTL = scope.DefaultTTL
	}
	for i := range sc.Scopes {
		if sc.Scopes[i].Name == "" {
			return nil, fmt.Errorf("%s: scope %d has no name", path, i)
		}
		if sc.Scopes[i].Parent == "" {
			sc.Scopes[i].Parent = rootName
		}
	}
	for i := range sc.Watch {
		if sc.Watch[i].Scope == "" {
			sc.Watch[i].Scope = rootName
		}
	}
	for i := range sc.Steps {
		if sc.Steps[i].Scope == "" {
			sc.Steps[i].Scope = rootName
		}
	}
	return &sc, nil
}

// Notification is one listener call observed while running a scenario.
// Step is 0 for the initial flush after the watches are registered.
type Notification struct {
	Step  int
	Scope string
	Expr  string
	Value any
}

// Run builds the scenario's scope tree and replays its steps. Listener and
// event errors are collected rather than aborting the run.
func (sc *Scenario) Run() ([]Notification, []error, error) {
	var (
		notes []Notification
		errs  []error
		step  int
	)
	root := scope.NewRoot(sc.Seed,
		scope.WithTTL(sc.TTL),
		scope.WithErrorHandler(func(err error) { errs = append(errs, err) }),
	)
	defer root.Destroy()
	root.SetName(rootName)

	for _, def := range sc.Scopes {
		parent := root.SearchByName(def.Parent)
		if parent == nil {
			return nil, nil, fmt.Errorf("scope %q: unknown parent %q", def.Name, def.Parent)
		}
		var s *scope.Scope
		if def.Isolate {
			s = parent.NewIsolate(def.Seed)
		} else {
			s = parent.New(def.Seed)
		}
		s.SetName(def.Name)
	}

	lookup := func(name string) (*scope.Scope, error) {
		if s := root.SearchByName(name); s != nil {
			return s, nil
		}
		return nil, fmt.Errorf("unknown scope %q", name)
	}

	for _, w := range sc.Watch {
		s, err := lookup(w.Scope)
		if err != nil {
			return nil, nil, err
		}
		fn := func(v any, _ *scope.Object) error {
			if o, ok := v.(*scope.Object); ok {
				v = o.Plain()
			}
			notes = append(notes, Notification{Step: step, Scope: w.Scope, Expr: w.Expr, Value: v})
			return nil
		}
		if w.Lazy {
			_, err = s.WatchLazy(w.Expr, fn)
		} else {
			_, err = s.Watch(w.Expr, fn)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("watch %q on %s: %w", w.Expr, w.Scope, err)
		}
	}
	root.Flush()

	for i, st := range sc.Steps {
		step = i + 1
		s, err := lookup(st.Scope)
		if err != nil {
			return nil, nil, fmt.Errorf("step %d: %w", step, err)
		}
		if st.Eval != "" {
			if _, err := s.Eval(st.Eval, nil); err != nil {
				errs = append(errs, fmt.Errorf("step %d: %w", step, err))
			}
		}
		s.Flush()
		if st.Destroy {
			s.Destroy()
		}
	}
	return notes, errs, nil
}

func inspect(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("inspect needs a scenario file")
	}
	sc, err := LoadScenario(path)
	if err != nil {
		return err
	}
	if ttl := int(cmd.Int(ttlKey)); ttl > 0 {
		sc.TTL = ttl
	}

	notes, errs, err := sc.Run()
	if err != nil {
		return fmt.Errorf("%s: %w", sc.Name, err)
	}

	tbl := tablewriter.NewWriter(os.Stdout)
	tbl.SetHeader([]string{"step", "scope", "expression", "value"})
	for _, n := range notes {
		tbl.Append([]string{
			strconv.Itoa(n.Step),
			n.Scope,
			n.Expr,
			fmt.Sprintf("%v", n.Value),
		})
	}
	tbl.Render()

	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s: %d errors", sc.Name, len(errs))
	}
	return nil
}
