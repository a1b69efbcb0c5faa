package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"jordanella.com/evertale-go/internal/actions"
	"jordanella.com/evertale-go/internal/config"
)

func newTasksCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the loaded task definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := actions.LoadTasks(a.cfg.Tasks.Dir)
			if err != nil {
				return &config.ConfigError{Field: "tasks.dir", Reason: "cannot load tasks", Err: err}
			}
			out := cmd.OutOrStdout()
			for _, name := range set.Names() {
				task, _ := set.Get(name)
				fmt.Fprintf(out, "%s %s\n", bold(name), gray(task.Description))
				for i, step := range task.Steps {
					fmt.Fprintf(out, "  %d. on %s: %s\n", i+1, cyan(step.Expect), step.Action)
				}
				for _, ig := range task.Ignorable {
					fmt.Fprintf(out, "  %s %s: %s\n", yellow("dismiss"), ig.State, ig.Action)
				}
			}
			return nil
		},
	}
}
