package loadtest

import (
	"fmt"
	"strings"
	"time"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/handles"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

// SessionStats holds the latency statistics of one session, measured from ExecuteAsync to the return of Wait.
type SessionStats struct {
	ID         handles.SessionID
	Executions int
	Mismatches int
	Min, Max   time.Duration
	Total      time.Duration
}

func (s *SessionStats) record(latency time.Duration) {
	if s.Executions == 0 || latency < s.Min {
		s.Min = latency
	}
	s.Max = max(s.Max, latency)
	s.Total += latency
	s.Executions++
}

// Mean latency of the session.
func (s SessionStats) Mean() time.Duration {
	if s.Executions == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Executions)
}

// Report of a load test run.
type Report struct {
	RunID  string
	Config Config
	Driver string
	Model  handles.ModelID

	Executions int
	Mismatches int
	Duration   time.Duration

	// BoundBytes is the memory bound to all execution sets, AuxiliaryBytes the part of it allocated by
	// the framework for EXT regions.
	BoundBytes, AuxiliaryBytes int

	Sessions  []SessionStats
	DumpFiles []string
}

// Throughput in executions per second.
func (r *Report) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Executions) / r.Duration.Seconds()
}

var (
	headerStyle     = lipgloss.NewStyle().Reverse(true).Padding(0, 2).Align(lipgloss.Center)
	keyStyle        = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	valueStyle      = lipgloss.NewStyle().Padding(0, 1)
	faintValueStyle = valueStyle.Faint(true)
	mismatchStyle   = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			Padding(0, 1)
	tableBorderColor = "#705090"
)

// String renders the report as two tables: the summary and the per-session statistics.
func (r *Report) String() string {
	summary := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return keyStyle
			}
			return valueStyle
		})
	summary.Row("run", r.RunID)
	summary.Row("driver", r.Driver)
	summary.Row("model", r.Model.String())
	summary.Row("mode", string(r.Config.Mode))
	summary.Row("sessions", humanize.Comma(int64(r.Config.SessionCount)))
	summary.Row("executions", humanize.Comma(int64(r.Executions)))
	summary.Row("elapsed", r.Duration.Round(time.Millisecond).String())
	summary.Row("throughput", fmt.Sprintf("%s exec/s", humanize.CommafWithDigits(r.Throughput(), 1)))
	summary.Row("bound memory", humanize.IBytes(uint64(r.BoundBytes)))
	summary.Row("auxiliary memory", humanize.IBytes(uint64(r.AuxiliaryBytes)))
	summary.Row("mismatches", humanize.Comma(int64(r.Mismatches)))
	if len(r.DumpFiles) > 0 {
		summary.Row("dump files", strings.Join(r.DumpFiles, "\n"))
	}

	perSession := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers("session", "executions", "min", "mean", "max", "mismatches").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row < 0:
				return headerStyle
			case row < len(r.Sessions) && r.Sessions[row].Mismatches > 0:
				return mismatchStyle
			case row%2 == 1:
				return faintValueStyle.Align(lipgloss.Right)
			default:
				return valueStyle.Align(lipgloss.Right)
			}
		})
	for _, s := range r.Sessions {
		perSession.Row(s.ID.String(), humanize.Comma(int64(s.Executions)),
			s.Min.String(), s.Mean().String(), s.Max.String(), humanize.Comma(int64(s.Mismatches)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, summary.Render(), perSession.Render())
}
