package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/validio/validio-go/pkg/engine"
	"github.com/validio/validio-go/pkg/stores"
)

// runReport is the JSON form of a plan or apply.
type runReport struct {
	RunID     string               `json:"run_id"`
	Namespace string               `json:"namespace"`
	Command   string               `json:"command"`
	Status    stores.RunStatus     `json:"status"`
	Summary   *engine.DiffSummary  `json:"summary,omitempty"`
	Policy    *engine.PolicyResult `json:"policy,omitempty"`
	Mutations []mutationReport     `json:"mutations,omitempty"`
	Error     string               `json:"error,omitempty"`
}

type mutationReport struct {
	Phase      string `json:"phase"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Operation  string `json:"operation"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func newRunReport(res *engine.RunResult, runErr error) runReport {
	rep := runReport{}
	if res != nil {
		rep.RunID = res.RunID
		rep.Namespace = res.Namespace
		rep.Command = res.Command
		rep.Status = res.Status
		rep.Policy = res.Policy
		if res.Diff != nil {
			s := res.Diff.Summary()
			rep.Summary = &s
		}
		for _, ev := range res.Mutations {
			m := mutationReport{
				Phase:      ev.Phase,
				Kind:       string(ev.Kind),
				Name:       ev.Name,
				Operation:  ev.Operation,
				DurationMs: ev.Duration.Milliseconds(),
			}
			if ev.Err != nil {
				m.Error = ev.Err.Error()
			}
			rep.Mutations = append(rep.Mutations, m)
		}
	}
	if runErr != nil {
		rep.Error = runErr.Error()
	}
	return rep
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printPlan writes the rendered diff followed by policy findings.
func printPlan(w io.Writer, res *engine.RunResult) {
	if res.Diff == nil {
		return
	}
	if res.Diff.IsEmpty() {
		fmt.Fprintf(w, "No changes. Namespace %q is up to date.\n", res.Namespace)
	} else {
		fmt.Fprint(w, res.Diff.Render())
	}
	printPolicy(w, res.Policy)
}

func printPolicy(w io.Writer, pr *engine.PolicyResult) {
	if pr == nil {
		return
	}
	for _, v := range pr.Warnings {
		fmt.Fprintf(w, "Warning: %s%s\n", resourcePrefix(v), v.Message)
	}
	for _, v := range pr.Violations {
		fmt.Fprintf(w, "Denied by %s: %s%s\n", v.Policy, resourcePrefix(v), v.Message)
	}
}

func resourcePrefix(v engine.PolicyViolation) string {
	if v.Resource == "" {
		return ""
	}
	return v.Resource + ": "
}

// progressObserver prints each remote mutation as it completes.
func progressObserver(w io.Writer) engine.Observer {
	return engine.ObserverFunc(func(_ context.Context, ev engine.MutationEvent) {
		switch {
		case ev.Operation == engine.OpSkip:
			fmt.Fprintf(w, "  - %s %s/%s (removed with its parent)\n", ev.Operation, ev.Kind, ev.Name)
		case ev.Err != nil:
			fmt.Fprintf(w, "  ✗ %s %s/%s: %v\n", ev.Operation, ev.Kind, ev.Name, ev.Err)
		default:
			fmt.Fprintf(w, "  ✓ %s %s/%s (%s)\n", ev.Operation, ev.Kind, ev.Name, ev.Duration.Round(1e6))
		}
	})
}
