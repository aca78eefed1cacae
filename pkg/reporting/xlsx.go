package reporting

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/onaplatform/ona-api/pkg/graphmetrics"
	"github.com/xuri/excelize/v2"
)

// Sheet names of the XLSX report.
const (
	SheetSummary     = "Summary"
	SheetCentrality  = "Centrality"
	SheetCommunities = "Communities"
	SheetEdges       = "Edges"
)

// XLSXGenerator renders reports as Excel workbooks with one sheet per section.
type XLSXGenerator struct{}

func NewXLSXGenerator() *XLSXGenerator {
	return &XLSXGenerator{}
}

func (g *XLSXGenerator) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Generate creates an XLSX workbook from the provided data.
func (g *XLSXGenerator) Generate(data *ReportData) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("rename summary sheet: %w", err)
	}
	for _, name := range []string{SheetCentrality, SheetCommunities, SheetEdges} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#1E3A5F"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	sheets := []struct {
		name    string
		headers []string
		widths  []float64
		rows    [][]any
	}{
		{SheetSummary, []string{"Metric", "Value"}, []float64{28, 40}, summaryRows(data)},
		{SheetCentrality, []string{"Measure", "Rank", "Node", "Score"}, []float64{16, 8, 36, 14}, centralityRows(data)},
		{SheetCommunities, []string{"Community", "Size", "Members"}, []float64{12, 8, 80}, communityRows(data)},
		{SheetEdges, []string{"Source", "Target", "Weight"}, []float64{30, 30, 12}, edgeRows(data)},
	}
	for _, s := range sheets {
		if err := writeSheet(f, s.name, s.headers, s.widths, s.rows, headerStyle); err != nil {
			return nil, err
		}
	}
	f.SetActiveSheet(0)

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, widths []float64, rows [][]any, headerStyle int) error {
	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	for i, w := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheet, col, col, w); err != nil {
			return fmt.Errorf("set %s column width: %w", sheet, err)
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+2, err)
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func summaryRows(data *ReportData) [][]any {
	b := data.Basic
	rows := [][]any{
		{"Tenant", data.TenantID},
		{"Generated", data.GeneratedAt.Format("2006-01-02T15:04:05Z07:00")},
	}
	if data.Tier != "" {
		rows = append(rows, []any{"License tier", data.Tier})
	}
	return append(rows,
		[]any{"Nodes", b.NodeCount},
		[]any{"Edges", b.EdgeCount},
		[]any{"Density", b.Density},
		[]any{"Average degree", b.AvgDegree},
		[]any{"Average clustering", b.AvgClustering},
		[]any{"Transitivity", b.Transitivity},
		[]any{"Connected", b.IsConnected},
		[]any{"Components", b.Components},
		[]any{"Communities", len(data.Communities.Communities)},
		[]any{"Modularity", data.Communities.Modularity},
	)
}

func centralityRows(data *ReportData) [][]any {
	var rows [][]any
	for _, kind := range graphmetrics.Kinds {
		if reason, ok := data.Skipped[kind]; ok {
			rows = append(rows, []any{string(kind), "", "not available", reason})
			continue
		}
		for i, ns := range data.TopNodes[kind] {
			rows = append(rows, []any{string(kind), i + 1, ns.Node, ns.Score})
		}
	}
	return rows
}

func communityRows(data *ReportData) [][]any {
	rows := make([][]any, 0, len(data.Communities.Communities))
	for i, members := range data.Communities.Communities {
		rows = append(rows, []any{i + 1, len(members), strings.Join(members, ", ")})
	}
	return rows
}

func edgeRows(data *ReportData) [][]any {
	rows := make([][]any, 0, len(data.Edges))
	for _, e := range data.Edges {
		rows = append(rows, []any{e.Source, e.Target, e.Weight})
	}
	return rows
}
