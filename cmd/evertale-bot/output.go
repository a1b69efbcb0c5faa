package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"jordanella.com/evertale-go/internal/bot"
	"jordanella.com/evertale-go/internal/database"
	"jordanella.com/evertale-go/internal/runner"
	"jordanella.com/evertale-go/internal/screen"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// statusColor pads before colouring so escape codes do not break columns
func statusColor(status string) string {
	padded := fmt.Sprintf("%-10s", status)
	switch status {
	case runner.StatusCompleted.String():
		return green(padded)
	case runner.StatusTimedOut.String():
		return yellow(padded)
	case runner.StatusAborted.String():
		return red(padded)
	default:
		return gray(padded)
	}
}

func printReport(w io.Writer, report *bot.Report) {
	fmt.Fprintf(w, "%s\n", bold(fmt.Sprintf("%-24s %-10s %7s %6s %6s %10s", "TASK", "STATUS", "STEPS", "DISM", "RECOV", "TIME")))
	for _, res := range report.Results {
		fmt.Fprintf(w, "%-24s %s %3d/%-3d %6d %6d %10s\n",
			res.Task, statusColor(res.Status.String()),
			res.StepsDone, res.TotalSteps, res.Dismissals, res.Recoveries,
			res.Duration().Round(time.Millisecond))
		if res.Err != nil {
			fmt.Fprintf(w, "  %s\n", gray(res.Err.Error()))
		}
		if res.DebugFrame != "" {
			fmt.Fprintf(w, "  %s %s\n", gray("frame:"), res.DebugFrame)
		}
	}
	for _, name := range report.Skipped {
		fmt.Fprintf(w, "%-24s %s\n", name, statusColor("skipped"))
	}

	summary := fmt.Sprintf("%d/%d tasks completed in %s", report.Completed(), len(report.Results)+len(report.Skipped),
		report.Duration.Round(time.Millisecond))
	if report.ExitCode() == bot.ExitCompleted {
		fmt.Fprintln(w, green(summary))
	} else {
		fmt.Fprintln(w, red(summary))
	}
}

// printErrorStats summarises the session's reported errors by category
func printErrorStats(w io.Writer, stats map[string]int) {
	if stats["total"] == 0 {
		return
	}
	var categories []string
	for key, n := range stats {
		if name, ok := strings.CutPrefix(key, "category_"); ok {
			categories = append(categories, fmt.Sprintf("%s=%d", name, n))
		}
	}
	sort.Strings(categories)
	fmt.Fprintf(w, "%s %d reported (%d fatal) %s\n", yellow("errors:"), stats["total"], stats["non_recoverable"],
		gray(strings.Join(categories, " ")))
}

func printState(w io.Writer, file string, state screen.State) {
	if !state.Known() {
		fmt.Fprintf(w, "%s: %s\n", file, yellow(screen.Unknown))
		return
	}
	fmt.Fprintf(w, "%s: %s %s score=%.3f box=%v\n", file, green(state.Name), gray("via "+state.Template), state.Score, state.Box)
	for _, c := range state.Ambiguous {
		fmt.Fprintf(w, "  %s %s (%s) score=%.3f\n", yellow("also matched"), c.Template, c.State, c.Score)
	}
}

func printRuns(w io.Writer, runs []*database.TaskRun) {
	fmt.Fprintf(w, "%s\n", bold(fmt.Sprintf("%-20s %-24s %-10s %7s %6s %10s", "STARTED", "TASK", "STATUS", "STEPS", "RECOV", "TIME")))
	for _, run := range runs {
		elapsed := "-"
		if run.DurationMs != nil {
			elapsed = (time.Duration(*run.DurationMs) * time.Millisecond).String()
		}
		fmt.Fprintf(w, "%-20s %-24s %s %3d/%-3d %6d %10s\n",
			run.StartedAt.Local().Format("2006-01-02 15:04:05"), run.TaskName, statusColor(run.Status),
			run.StepsDone, run.TotalSteps, run.Recoveries, elapsed)
		if run.ErrorMessage != "" {
			fmt.Fprintf(w, "  %s\n", gray(run.ErrorMessage))
		}
	}
}

func printSummaries(w io.Writer, summaries []*database.TaskSummary) {
	fmt.Fprintf(w, "%s\n", bold(fmt.Sprintf("%-24s %5s %9s %8s %7s %6s %10s", "TASK", "RUNS", "COMPLETED", "TIMEOUT", "ABORTED", "RECOV", "AVG")))
	for _, s := range summaries {
		fmt.Fprintf(w, "%-24s %5d %s %8d %7d %6d %10s\n",
			s.TaskName, s.Runs, cyan(fmt.Sprintf("%9d", s.Completed)), s.TimedOut, s.Aborted, s.Recoveries,
			s.AvgDuration.Round(time.Millisecond))
	}
}
