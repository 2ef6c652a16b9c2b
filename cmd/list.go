package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"burstrank/internal/pipeline"
)

const maxNameLen = 40

// renderSummary lays out every group of a run, sharpest frame first
func renderSummary(res *pipeline.Result) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Group", "File", "Sharpness", "Rank"})

	for i, group := range res.Groups {
		for j, img := range group {
			id := ""
			if j == 0 {
				id = "#" + strconv.Itoa(i+1)
			}
			score := "-"
			if v, ok := img.ScoreValue(); ok {
				score = strconv.FormatFloat(v, 'f', 1, 64)
			}
			rank := "-"
			if img.Rank > 0 {
				rank = stars(img.Rank)
			}
			tw.AppendRow(table.Row{id, shortenName(img.Filename, maxNameLen), score, rank})
		}
		if i < len(res.Groups)-1 {
			tw.AppendSeparator()
		}
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft},
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 4, Align: text.AlignLeft},
	})
	tw.SetCaption(fmt.Sprintf("%d images in %d groups, %d sidecars written (sharpness: %s)",
		len(res.Images), len(res.Groups), res.Stats.Written, res.Focus))
	return tw.Render()
}

func stars(n int) string {
	return strings.Repeat("*", n) + " (" + strconv.Itoa(n) + ")"
}

// shortenName keeps the extension visible when truncating
func shortenName(name string, maxLen int) string {
	if len(name) <= maxLen {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) >= maxLen-3 {
		return "..." + name[len(name)-(maxLen-3):]
	}
	keep := maxLen - len(ext) - 3
	return name[:keep] + "..." + ext
}
