package core

// decode.go turns an uploaded CSV or XLSX file into a header row and data
// rows. Line numbers follow the spreadsheet (header on row 1 for a typical
// file) so errors can point users at the row they see in Excel.

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// File formats accepted by Decode.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ErrNoHeader is returned for files without any non-empty row.
var ErrNoHeader = errors.New("no header row found")

// ErrUnsupportedFormat is returned for files that are neither CSV nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported file type")

// zipMagic prefixes every XLSX file.
var zipMagic = []byte("PK\x03\x04")

// SheetRow is one non-empty data row.
type SheetRow struct {
	Line  int
	Cells []string
}

// Sheet is a decoded file: the first non-empty row is the header.
type Sheet struct {
	Format  string
	Headers []string
	Rows    []SheetRow
}

// DetectFormat picks the decoder for a file name, sniffing the content when
// the extension is missing or unknown. The returned reader replays any bytes
// consumed while sniffing.
func DetectFormat(name string, r io.Reader) (string, io.Reader, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", ".tsv":
		return FormatCSV, r, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, r, nil
	case ".xls":
		return "", r, fmt.Errorf("%w: legacy .xls workbooks must be saved as .xlsx", ErrUnsupportedFormat)
	}

	br := bufio.NewReader(r)
	head, err := br.Peek(len(zipMagic))
	if err != nil && err != io.EOF {
		return "", br, fmt.Errorf("read file: %w", err)
	}
	if bytes.Equal(head, zipMagic) {
		return FormatXLSX, br, nil
	}
	return FormatCSV, br, nil
}

// Decode reads a whole file of the detected format. limit caps the number of
// bytes read; exceeding it returns ErrFileTooLarge.
func Decode(name string, r io.Reader, limit int64) (*Sheet, error) {
	format, r, err := DetectFormat(name, r)
	if err != nil {
		return nil, err
	}
	if format == FormatXLSX {
		return DecodeXLSX(r, limit)
	}
	return DecodeCSV(r, limit)
}

// DecodeCSV reads a CSV file. A leading BOM is skipped, invalid UTF-8 is
// replaced and ragged rows are accepted.
func DecodeCSV(r io.Reader, limit int64) (*Sheet, error) {
	wrapped, counter := WrapForDecode(r, limit)

	cr := csv.NewReader(wrapped)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	sheet := &Sheet{Format: FormatCSV}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if counter.Exceeded() {
				return nil, ErrFileTooLarge
			}
			return nil, fmt.Errorf("parse CSV: %w", err)
		}
		line, _ := cr.FieldPos(0)
		sheet.add(line, record)
	}

	if sheet.Headers == nil {
		return nil, ErrNoHeader
	}
	return sheet, nil
}

// DecodeXLSX reads the active worksheet of a workbook. Cells are read raw so
// date cells arrive as Excel serial numbers, which ParseDate understands.
func DecodeXLSX(r io.Reader, limit int64) (*Sheet, error) {
	counter := NewCountingReader(r, limit)

	f, err := excelize.OpenReader(counter)
	if err != nil {
		if counter.Exceeded() {
			return nil, ErrFileTooLarge
		}
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	name := f.GetSheetName(f.GetActiveSheetIndex())
	if name == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrNoHeader
		}
		name = sheets[0]
	}

	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", name, err)
	}

	sheet := &Sheet{Format: FormatXLSX}
	for i, row := range rows {
		sheet.add(i+1, row)
	}
	if sheet.Headers == nil {
		return nil, ErrNoHeader
	}
	return sheet, nil
}

func (s *Sheet) add(line int, cells []string) {
	if isEmptyRow(cells) {
		return
	}
	if s.Headers == nil {
		s.Headers = cells
		return
	}
	s.Rows = append(s.Rows, SheetRow{Line: line, Cells: cells})
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
