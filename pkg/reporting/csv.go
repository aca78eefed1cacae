package reporting

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/onaplatform/ona-api/pkg/graphmetrics"
)

// CSVGenerator writes a report as "#"-headed sections in one CSV stream.
type CSVGenerator struct{}

func NewCSVGenerator() *CSVGenerator {
	return &CSVGenerator{}
}

func (g *CSVGenerator) ContentType() string { return "text/csv" }

// Generate creates a CSV report from the provided data.
func (g *CSVGenerator) Generate(data *ReportData) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	sections := []struct {
		name  string
		write func(*csv.Writer, *ReportData) error
	}{
		{"header", g.writeHeader},
		{"summary", g.writeSummary},
		{"centrality", g.writeCentrality},
		{"communities", g.writeCommunities},
	}
	for _, s := range sections {
		if err := s.write(w, data); err != nil {
			return nil, fmt.Errorf("write CSV %s section: %w", s.name, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSV write error: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *CSVGenerator) writeHeader(w *csv.Writer, data *ReportData) error {
	return w.WriteAll([][]string{
		{"# ONA Network Report"},
		{"# Title:", data.Title},
		{"# Tenant:", data.TenantID},
		{"# Generated:", data.GeneratedAt.Format(time.RFC3339)},
		{""},
	})
}

func (g *CSVGenerator) writeSummary(w *csv.Writer, data *ReportData) error {
	b := data.Basic
	return w.WriteAll([][]string{
		{"# SUMMARY"},
		{"Metric", "Value"},
		{"node_count", strconv.Itoa(b.NodeCount)},
		{"edge_count", strconv.Itoa(b.EdgeCount)},
		{"density", formatFloat(b.Density)},
		{"avg_degree", formatFloat(b.AvgDegree)},
		{"avg_clustering", formatFloat(b.AvgClustering)},
		{"transitivity", formatFloat(b.Transitivity)},
		{"is_connected", strconv.FormatBool(b.IsConnected)},
		{"components", strconv.Itoa(b.Components)},
		{"modularity", formatFloat(data.Communities.Modularity)},
		{""},
	})
}

func (g *CSVGenerator) writeCentrality(w *csv.Writer, data *ReportData) error {
	rows := [][]string{{"# CENTRALITY"}, {"Measure", "Rank", "Node", "Score"}}
	for _, kind := range graphmetrics.Kinds {
		if reason, ok := data.Skipped[kind]; ok {
			rows = append(rows, []string{"# " + string(kind) + " not available: " + reason})
			continue
		}
		for i, ns := range data.TopNodes[kind] {
			rows = append(rows, []string{string(kind), strconv.Itoa(i + 1), ns.Node, formatFloat(ns.Score)})
		}
	}
	rows = append(rows, []string{""})
	return w.WriteAll(rows)
}

func (g *CSVGenerator) writeCommunities(w *csv.Writer, data *ReportData) error {
	rows := [][]string{{"# COMMUNITIES"}, {"Community", "Size", "Members"}}
	for i, members := range data.Communities.Communities {
		rows = append(rows, []string{strconv.Itoa(i + 1), strconv.Itoa(len(members)), strings.Join(members, ";")})
	}
	return w.WriteAll(rows)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
