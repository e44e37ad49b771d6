package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/wippyai/wasm-sandbox/bench"
	"github.com/wippyai/wasm-sandbox/metrics"
	"github.com/wippyai/wasm-sandbox/region"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func renderResults(results []bench.Result) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(helpStyle).
		Headers("workload", "iters", "per op", "min", "max", "status").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, res := range results {
		status := okStyle.Render("ok")
		if res.Err != nil {
			status = errorStyle.Render(res.Err.Error())
		}
		t.Row(
			res.Workload.ID(),
			strconv.Itoa(res.Iterations),
			res.PerOp().String(),
			res.Min.String(),
			res.Max.String(),
			status,
		)
	}
	return t.Render()
}

func renderTotals(s metrics.Snapshot, rs region.Stats) string {
	return helpStyle.Render(fmt.Sprintf(
		"runs %d (returned %d, trapped %d) • host calls %d (failed %d) • regions acquired %d, reused %d, mapped %d",
		s.Runs, s.Returned, s.Trapped, s.HostCalls, s.HostFailures, rs.Acquired, rs.Reused, rs.Mapped))
}
