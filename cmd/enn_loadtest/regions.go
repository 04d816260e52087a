package main

import (
	"fmt"
	"strconv"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/regions"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col < len(alignments) {
				s = s.Align(alignments[col])
			}
			return
		})
}

// showRegions prints the region table stored in path and, if convertPath is set, saves it there.
func showRegions(path, convertPath string) {
	table := must.M1(regions.Load(path))

	fmt.Println(titleStyle.Render(fmt.Sprintf("Regions of %s (%s)", path, humanize.IBytes(uint64(table.TotalSize())))))
	t := newPlainTable(lipgloss.Right, lipgloss.Left, lipgloss.Right, lipgloss.Right).
		Headers("index", "name", "size", "attributes")
	for _, r := range table.Regions() {
		t.Row(strconv.Itoa(r.Index), r.Name, humanize.IBytes(uint64(r.RequiredSize)), fmt.Sprintf("0x%x", r.Attributes))
	}
	fmt.Println(t.Render())

	fmt.Println(titleStyle.Render("Buffers"))
	t = newPlainTable(lipgloss.Left, lipgloss.Center, lipgloss.Right, lipgloss.Right, lipgloss.Right, lipgloss.Right).
		Headers("name", "direction", "index", "region", "offset", "size")
	for _, d := range table.Descriptors() {
		t.Row(d.Name, d.Direction.String(), strconv.Itoa(d.DirectionIndex), strconv.Itoa(d.RegionIndex),
			humanize.Comma(int64(d.Offset)), humanize.Comma(int64(d.Size)))
	}
	fmt.Println(t.Render())

	if convertPath != "" {
		must.M(regions.Save(table, convertPath))
		fmt.Printf("Saved to %s\n", convertPath)
	}
}
