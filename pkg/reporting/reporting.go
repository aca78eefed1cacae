package reporting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onaplatform/ona-api/pkg/graphmetrics"
)

// ReportFormat represents the output format of a report
type ReportFormat string

const (
	FormatCSV  ReportFormat = "csv"
	FormatPDF  ReportFormat = "pdf"
	FormatXLSX ReportFormat = "xlsx"
)

// ErrUnknownFormat is returned by ForFormat.
var ErrUnknownFormat = errors.New("unknown report format")

// Generator renders a network report.
type Generator interface {
	Generate(data *ReportData) ([]byte, error)
	ContentType() string
}

// ForFormat returns the generator for format (case-insensitive).
func ForFormat(format string) (Generator, error) {
	switch ReportFormat(strings.ToLower(strings.TrimSpace(format))) {
	case FormatPDF, "":
		return NewPDFGenerator(), nil
	case FormatXLSX:
		return NewXLSXGenerator(), nil
	case FormatCSV:
		return NewCSVGenerator(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// ReportData is everything a network report shows.
type ReportData struct {
	Title       string
	TenantID    string
	Tier        string
	GeneratedAt time.Time

	Basic       graphmetrics.Basic
	TopNodes    map[graphmetrics.Kind][]graphmetrics.NodeScore
	Skipped     map[graphmetrics.Kind]string // kind -> reason it is missing
	Communities graphmetrics.CommunityResult
	Edges       []graphmetrics.Edge
}

// CollectOptions controls Collect.
type CollectOptions struct {
	TopN       int
	Centrality graphmetrics.Options
	Community  graphmetrics.CommunityOptions
}

// Collect computes the report contents for g. A centrality kind that fails
// (e.g. eigenvector not converging) is listed in Skipped rather than failing
// the report; context errors abort.
func Collect(ctx context.Context, tenantID string, g *graphmetrics.Graph, opts CollectOptions) (*ReportData, error) {
	if opts.TopN <= 0 {
		opts.TopN = 10
	}
	data := &ReportData{
		Title:       "Organisational Network Report",
		TenantID:    tenantID,
		GeneratedAt: time.Now().UTC(),
		Basic:       graphmetrics.BasicMetrics(g),
		TopNodes:    make(map[graphmetrics.Kind][]graphmetrics.NodeScore),
		Skipped:     make(map[graphmetrics.Kind]string),
		Edges:       g.Edges(),
	}

	for _, kind := range graphmetrics.Kinds {
		top, err := graphmetrics.TopNodes(ctx, g, kind, opts.TopN, opts.Centrality)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			data.Skipped[kind] = err.Error()
			continue
		}
		data.TopNodes[kind] = top
	}
	data.Communities = graphmetrics.Communities(g, opts.Community)
	return data, nil
}
