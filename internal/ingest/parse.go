// Package ingest turns uploaded files and remote sources into tenant edge
// lists.
package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/onaplatform/ona-api/internal/graphstore"
	"github.com/xuri/excelize/v2"
)

// Format is a supported edge-list encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatGraphML Format = "graphml"
	FormatXLSX    Format = "xlsx"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var (
	// ErrUnsupportedType is wrapped by UnsupportedTypeError.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrMalformed is wrapped by ParseError.
	ErrMalformed = errors.New("malformed edge list")
)

// UnsupportedTypeError names a rejected content type.
type UnsupportedTypeError struct {
	ContentType string
}

func (e *UnsupportedTypeError) Error() string {
	return "Unsupported file type: " + e.ContentType
}

func (e *UnsupportedTypeError) Unwrap() error { return ErrUnsupportedType }

// ParseError locates a problem in an uploaded file. Row is 1-based; zero
// means the position is unknown.
type ParseError struct {
	Format Format
	Row    int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("%s row %d: %v", e.Format, e.Row, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrMalformed, e.Err} }

// FormatFor maps an upload's content type to a Format. The file name is
// only consulted when no content type was sent.
func FormatFor(contentType, filename string) (Format, error) {
	mediaType := strings.TrimSpace(contentType)
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}

	switch strings.ToLower(mediaType) {
	case "text/csv", "application/csv":
		return FormatCSV, nil
	case "application/json":
		return FormatJSON, nil
	case "text/xml", "application/xml", "application/graphml+xml":
		return FormatGraphML, nil
	case xlsxContentType:
		return FormatXLSX, nil
	case "":
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".csv":
			return FormatCSV, nil
		case ".json":
			return FormatJSON, nil
		case ".graphml", ".xml":
			return FormatGraphML, nil
		case ".xlsx":
			return FormatXLSX, nil
		}
	}
	return "", &UnsupportedTypeError{ContentType: contentType}
}

// Parse decodes r as format.
func Parse(format Format, r io.Reader) ([]graphstore.Edge, error) {
	switch format {
	case FormatCSV:
		return parseCSV(r)
	case FormatJSON:
		return parseJSON(r)
	case FormatGraphML:
		return parseGraphML(r)
	case FormatXLSX:
		return parseXLSX(r)
	default:
		return nil, &UnsupportedTypeError{ContentType: string(format)}
	}
}

func parseCSV(r io.Reader) ([]graphstore.Edge, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	rows, err := reader.ReadAll()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, &ParseError{Format: FormatCSV, Row: pe.Line, Err: pe.Err}
		}
		return nil, &ParseError{Format: FormatCSV, Err: err}
	}
	return rowsToEdges(FormatCSV, rows)
}

func parseXLSX(r io.Reader) ([]graphstore.Edge, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &ParseError{Format: FormatXLSX, Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &ParseError{Format: FormatXLSX, Err: errors.New("workbook has no sheets")}
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &ParseError{Format: FormatXLSX, Err: err}
	}
	return rowsToEdges(FormatXLSX, rows)
}

// rowsToEdges reads source,target[,weight] rows. A first row naming a
// "source" column is a header and may reorder the columns; any other
// header names mark columns that are ignored. A value in a column neither
// the header nor the source,target,weight layout accounts for is an error.
func rowsToEdges(format Format, rows [][]string) ([]graphstore.Edge, error) {
	srcCol, dstCol, weightCol := 0, 1, 2
	width := 3
	var named []bool
	start := 0
	if len(rows) > 0 && isHeader(rows[0]) {
		start = 1
		weightCol = -1
		width = len(rows[0])
		named = make([]bool, width)
		for i, name := range rows[0] {
			name = strings.ToLower(strings.TrimSpace(name))
			named[i] = name != ""
			switch name {
			case "source", "from", "src":
				srcCol = i
			case "target", "to", "dst":
				dstCol = i
			case "weight", "value", "strength":
				weightCol = i
			}
		}
	}

	edges := make([]graphstore.Edge, 0, len(rows)-start)
	for i := start; i < len(rows); i++ {
		row := rows[i]
		if blankRow(row) {
			continue
		}
		for col, raw := range row {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			if col >= width || (named != nil && !named[col]) {
				return nil, &ParseError{Format: format, Row: i + 1, Err: fmt.Errorf("unexpected value %q in column %d", strings.TrimSpace(raw), col+1)}
			}
		}
		cell := func(col int) string {
			if col < 0 || col >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[col])
		}
		weight := 1.0
		if raw := cell(weightCol); raw != "" {
			w, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, &ParseError{Format: format, Row: i + 1, Err: fmt.Errorf("invalid weight %q", raw)}
			}
			weight = w
		}
		e := graphstore.Edge{Source: cell(srcCol), Target: cell(dstCol), Weight: weight}
		if err := checkEdge(e); err != nil {
			return nil, &ParseError{Format: format, Row: i + 1, Err: err}
		}
		edges = append(edges, e)
	}
	return edges, nil
}

func isHeader(row []string) bool {
	for _, cell := range row {
		switch strings.ToLower(strings.TrimSpace(cell)) {
		case "source", "from", "src":
			return true
		}
	}
	return false
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func checkEdge(e graphstore.Edge) error {
	switch {
	case e.Source == "" || e.Target == "":
		return errors.New("source and target are required")
	case math.IsNaN(e.Weight) || math.IsInf(e.Weight, 0):
		return errors.New("weight must be finite")
	case e.Weight < 0:
		return errors.New("weight must not be negative")
	}
	return nil
}

type jsonEdge struct {
	Source any      `json:"source"`
	Target any      `json:"target"`
	Weight *float64 `json:"weight"`
}

type jsonDocument struct {
	Edges []jsonEdge `json:"edges"`
	Links []jsonEdge `json:"links"`
}

func parseJSON(r io.Reader) ([]graphstore.Edge, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)

	var raw []jsonEdge
	if len(data) > 0 && data[0] == '[' {
		err = json.Unmarshal(data, &raw)
	} else {
		var doc jsonDocument
		err = json.Unmarshal(data, &doc)
		raw = doc.Edges
		if len(raw) == 0 {
			raw = doc.Links
		}
	}
	if err != nil {
		return nil, &ParseError{Format: FormatJSON, Err: err}
	}

	edges := make([]graphstore.Edge, 0, len(raw))
	for i, je := range raw {
		e := graphstore.Edge{Source: nodeID(je.Source), Target: nodeID(je.Target), Weight: 1}
		if je.Weight != nil {
			e.Weight = *je.Weight
		}
		if err := checkEdge(e); err != nil {
			return nil, &ParseError{Format: FormatJSON, Row: i + 1, Err: err}
		}
		edges = append(edges, e)
	}
	return edges, nil
}

func nodeID(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

type graphMLDoc struct {
	Keys   []graphMLKey   `xml:"key"`
	Graphs []graphMLGraph `xml:"graph"`
}

type graphMLKey struct {
	ID      string `xml:"id,attr"`
	For     string `xml:"for,attr"`
	Name    string `xml:"attr.name,attr"`
	Default string `xml:"default"`
}

type graphMLGraph struct {
	Edges []graphMLEdge `xml:"edge"`
}

type graphMLEdge struct {
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphMLData `xml:"data"`
}

type graphMLData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

func parseGraphML(r io.Reader) ([]graphstore.Edge, error) {
	var doc graphMLDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &ParseError{Format: FormatGraphML, Err: err}
	}

	weightKey, weightDefault := "", "1"
	for _, k := range doc.Keys {
		if (k.For == "edge" || k.For == "all") && strings.EqualFold(k.Name, "weight") {
			weightKey = k.ID
			if d := strings.TrimSpace(k.Default); d != "" {
				weightDefault = d
			}
			break
		}
	}

	var edges []graphstore.Edge
	row := 0
	for _, g := range doc.Graphs {
		for _, ge := range g.Edges {
			row++
			raw := weightDefault
			for _, d := range ge.Data {
				if weightKey != "" && d.Key == weightKey {
					raw = strings.TrimSpace(d.Value)
				}
			}
			w, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, &ParseError{Format: FormatGraphML, Row: row, Err: fmt.Errorf("invalid weight %q", raw)}
			}
			e := graphstore.Edge{Source: strings.TrimSpace(ge.Source), Target: strings.TrimSpace(ge.Target), Weight: w}
			if err := checkEdge(e); err != nil {
				return nil, &ParseError{Format: FormatGraphML, Row: row, Err: err}
			}
			edges = append(edges, e)
		}
	}
	if edges == nil {
		edges = []graphstore.Edge{}
	}
	return edges, nil
}
