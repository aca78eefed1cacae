package reporting

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/onaplatform/ona-api/pkg/graphmetrics"
)

// Color scheme - dark navy theme
var (
	colorPrimary     = [3]int{30, 58, 95}    // Dark navy
	colorSecondary   = [3]int{52, 152, 219}  // Bright blue
	colorWarning     = [3]int{241, 196, 15}  // Yellow
	colorTextDark    = [3]int{44, 62, 80}    // Dark text
	colorTextMuted   = [3]int{127, 140, 141} // Muted text
	colorBackground  = [3]int{248, 249, 250} // Light gray bg
	colorTableHeader = [3]int{30, 58, 95}    // Navy header
	colorTableAlt    = [3]int{241, 245, 249} // Alternating row
	colorGridLine    = [3]int{220, 220, 220}
)

// maxCommunityRows caps the communities table; larger partitions are
// summarised in a footnote.
const maxCommunityRows = 25

// PDFGenerator renders reports with fpdf.
type PDFGenerator struct{}

func NewPDFGenerator() *PDFGenerator {
	return &PDFGenerator{}
}

func (g *PDFGenerator) ContentType() string { return "application/pdf" }

// Generate creates a PDF report from the provided data.
func (g *PDFGenerator) Generate(data *ReportData) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	g.writeCoverPage(pdf, tr, data)

	pdf.AddPage()
	g.addPageHeader(pdf, tr, data, "Network Summary")
	g.writeSummary(pdf, data)

	pdf.AddPage()
	g.addPageHeader(pdf, tr, data, "Key People")
	g.writeCentrality(pdf, tr, data)

	pdf.AddPage()
	g.addPageHeader(pdf, tr, data, "Communities")
	g.writeCommunities(pdf, tr, data)

	g.addPageNumbers(pdf)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func setText(pdf *fpdf.Fpdf, c [3]int) { pdf.SetTextColor(c[0], c[1], c[2]) }
func setFill(pdf *fpdf.Fpdf, c [3]int) { pdf.SetFillColor(c[0], c[1], c[2]) }
func setDraw(pdf *fpdf.Fpdf, c [3]int) { pdf.SetDrawColor(c[0], c[1], c[2]) }

func (g *PDFGenerator) writeCoverPage(pdf *fpdf.Fpdf, tr func(string) string, data *ReportData) {
	pdf.AddPage()
	pageWidth, pageHeight := pdf.GetPageSize()

	setFill(pdf, colorPrimary)
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(50)
	pdf.SetFont("Arial", "B", 32)
	setText(pdf, colorPrimary)
	pdf.CellFormat(0, 15, "ONA", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 12)
	setText(pdf, colorTextMuted)
	pdf.CellFormat(0, 8, "Organisational Network Analysis", "", 1, "C", false, 0, "")

	pdf.SetY(100)
	pdf.SetFont("Arial", "B", 24)
	setText(pdf, colorTextDark)
	pdf.CellFormat(0, 12, tr(data.Title), "", 1, "C", false, 0, "")

	pdf.SetY(130)
	boxX := 40.0
	boxWidth := pageWidth - 80
	setFill(pdf, colorBackground)
	setDraw(pdf, colorGridLine)
	pdf.RoundedRect(boxX, pdf.GetY(), boxWidth, 40, 3, "1234", "FD")

	rows := [][2]string{
		{"Tenant", data.TenantID},
		{"Generated", data.GeneratedAt.Format("2006-01-02 15:04 MST")},
	}
	if data.Tier != "" {
		rows = append(rows, [2]string{"License tier", strings.ToUpper(data.Tier)})
	}
	pdf.SetY(pdf.GetY() + 8)
	for _, row := range rows {
		pdf.SetX(boxX + 10)
		pdf.SetFont("Arial", "", 11)
		setText(pdf, colorTextMuted)
		pdf.CellFormat(40, 8, row[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "B", 11)
		setText(pdf, colorTextDark)
		pdf.CellFormat(boxWidth-60, 8, tr(row[1]), "", 1, "L", false, 0, "")
	}

	setFill(pdf, colorPrimary)
	pdf.Rect(0, pageHeight-8, pageWidth, 8, "F")
}

func (g *PDFGenerator) addPageHeader(pdf *fpdf.Fpdf, tr func(string) string, data *ReportData, section string) {
	pageWidth, _ := pdf.GetPageSize()

	setDraw(pdf, colorPrimary)
	pdf.SetLineWidth(0.5)
	pdf.Line(20, 15, pageWidth-20, 15)

	pdf.SetY(18)
	pdf.SetFont("Arial", "B", 9)
	setText(pdf, colorPrimary)
	pdf.CellFormat(0, 5, "ONA NETWORK REPORT", "", 0, "L", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	setText(pdf, colorTextMuted)
	pdf.CellFormat(0, 5, tr(data.TenantID), "", 1, "R", false, 0, "")

	pdf.SetY(30)
	pdf.SetFont("Arial", "B", 18)
	setText(pdf, colorTextDark)
	pdf.CellFormat(0, 10, section, "", 1, "L", false, 0, "")
	pdf.Ln(5)
}

// writeTableHeader draws a navy header row.
func writeTableHeader(pdf *fpdf.Fpdf, widths []float64, titles []string) {
	setFill(pdf, colorTableHeader)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 9)
	for i, title := range titles {
		pdf.CellFormat(widths[i], 7, title, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
}

// writeTableRow draws a body row; odd rows get the alternate fill.
func writeTableRow(pdf *fpdf.Fpdf, widths []float64, cells []string, row int) {
	setFill(pdf, colorTableAlt)
	setText(pdf, colorTextDark)
	pdf.SetFont("Arial", "", 9)
	for i, cell := range cells {
		align := "L"
		if i > 0 {
			align = "R"
		}
		pdf.CellFormat(widths[i], 6, cell, "1", 0, align, row%2 == 1, 0, "")
	}
	pdf.Ln(-1)
}

func (g *PDFGenerator) writeSummary(pdf *fpdf.Fpdf, data *ReportData) {
	b := data.Basic
	connected := "No"
	if b.IsConnected {
		connected = "Yes"
	}
	rows := [][]string{
		{"People (nodes)", fmt.Sprintf("%d", b.NodeCount)},
		{"Relationships (edges)", fmt.Sprintf("%d", b.EdgeCount)},
		{"Density", fmt.Sprintf("%.4f", b.Density)},
		{"Average degree", fmt.Sprintf("%.2f", b.AvgDegree)},
		{"Average clustering", fmt.Sprintf("%.4f", b.AvgClustering)},
		{"Transitivity", fmt.Sprintf("%.4f", b.Transitivity)},
		{"Connected", connected},
		{"Components", fmt.Sprintf("%d", b.Components)},
		{"Communities", fmt.Sprintf("%d", len(data.Communities.Communities))},
		{"Modularity", fmt.Sprintf("%.4f", data.Communities.Modularity)},
	}
	widths := []float64{100, 70}
	writeTableHeader(pdf, widths, []string{"Metric", "Value"})
	for i, row := range rows {
		writeTableRow(pdf, widths, row, i)
	}

	if b.NodeCount == 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "I", 10)
		setText(pdf, colorWarning)
		pdf.MultiCell(0, 6, "No relationships have been uploaded for this tenant yet.", "", "L", false)
	}
}

func (g *PDFGenerator) writeCentrality(pdf *fpdf.Fpdf, tr func(string) string, data *ReportData) {
	widths := []float64{20, 100, 50}
	for _, kind := range graphmetrics.Kinds {
		if pdf.GetY() > 220 {
			pdf.AddPage()
			g.addPageHeader(pdf, tr, data, "Key People (continued)")
		}
		pdf.SetFont("Arial", "B", 12)
		setText(pdf, colorSecondary)
		pdf.CellFormat(0, 8, kindTitle(kind), "", 1, "L", false, 0, "")

		if reason, ok := data.Skipped[kind]; ok {
			pdf.SetFont("Arial", "I", 9)
			setText(pdf, colorTextMuted)
			pdf.MultiCell(0, 5, tr("Not available: "+reason), "", "L", false)
			pdf.Ln(4)
			continue
		}
		top := data.TopNodes[kind]
		if len(top) == 0 {
			pdf.SetFont("Arial", "I", 9)
			setText(pdf, colorTextMuted)
			pdf.CellFormat(0, 6, "No nodes.", "", 1, "L", false, 0, "")
			pdf.Ln(4)
			continue
		}
		writeTableHeader(pdf, widths, []string{"Rank", "Node", "Score"})
		for i, ns := range top {
			writeTableRow(pdf, widths, []string{fmt.Sprintf("%d", i+1), tr(truncate(ns.Node, 48)), fmt.Sprintf("%.4f", ns.Score)}, i)
		}
		pdf.Ln(6)
	}
}

func (g *PDFGenerator) writeCommunities(pdf *fpdf.Fpdf, tr func(string) string, data *ReportData) {
	comms := data.Communities.Communities
	pdf.SetFont("Arial", "", 10)
	setText(pdf, colorTextMuted)
	pdf.CellFormat(0, 6, fmt.Sprintf("%d communities, modularity %.4f", len(comms), data.Communities.Modularity), "", 1, "L", false, 0, "")
	pdf.Ln(3)
	if len(comms) == 0 {
		return
	}

	widths := []float64{15, 20, 135}
	writeTableHeader(pdf, widths, []string{"#", "Size", "Members"})
	for i, members := range comms {
		if i == maxCommunityRows {
			break
		}
		writeTableRow(pdf, widths, []string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%d", len(members)),
			tr(truncate(strings.Join(members, ", "), 80)),
		}, i)
	}
	if len(comms) > maxCommunityRows {
		pdf.Ln(3)
		pdf.SetFont("Arial", "I", 9)
		setText(pdf, colorTextMuted)
		pdf.CellFormat(0, 6, fmt.Sprintf("%d smaller communities not shown. Export as XLSX for the full list.", len(comms)-maxCommunityRows), "", 1, "L", false, 0, "")
	}
}

// addPageNumbers numbers every page except the cover.
func (g *PDFGenerator) addPageNumbers(pdf *fpdf.Fpdf) {
	pdf.SetAutoPageBreak(false, 0)
	total := pdf.PageCount()
	for i := 2; i <= total; i++ {
		pdf.SetPage(i)
		pageWidth, pageHeight := pdf.GetPageSize()

		pdf.SetY(pageHeight - 15)
		pdf.SetFont("Arial", "", 8)
		setText(pdf, colorTextMuted)
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d of %d", i-1, total-1), "", 0, "C", false, 0, "")

		setDraw(pdf, colorGridLine)
		pdf.SetLineWidth(0.3)
		pdf.Line(20, pageHeight-20, pageWidth-20, pageHeight-20)
	}
}

func kindTitle(k graphmetrics.Kind) string {
	s := string(k)
	return strings.ToUpper(s[:1]) + s[1:] + " centrality"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
