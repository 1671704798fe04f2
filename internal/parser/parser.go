package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"document-qa/internal/models"

	"github.com/tmc/langchaingo/textsplitter"
	"github.com/xuri/excelize/v2"
)

var (
	ErrColumnNotFound    = fmt.Errorf("%w: column not found", models.ErrInvalidInput)
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported file format", models.ErrInvalidInput)
	ErrEmptyFile         = fmt.Errorf("%w: file has no header row", models.ErrInvalidInput)
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// separators are tried in order; "" splits into single characters so no chunk outgrows the window
var separators = []string{"\n", " ", ""}

// LoadText reads a tabular file and joins the values of column with single spaces, in row order.
// The format is picked from the filename extension; unknown or missing extensions are read as CSV.
func LoadText(filename string, r io.Reader, column string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".xlsx", ".xlsm":
		return parseXLSX(r, column)
	case ".xls", ".ods", ".pdf", ".docx", ".pptx":
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	default:
		return parseCSV(r, column)
	}
}

func parseCSV(r io.Reader, column string) (string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return "", ErrEmptyFile
	}
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse csv: %v", models.ErrInvalidInput, err)
	}

	idx, err := columnIndex(header, column)
	if err != nil {
		return "", err
	}

	var values []string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: failed to parse csv: %v", models.ErrInvalidInput, err)
		}
		values = append(values, cell(row, idx))
	}
	return strings.Join(values, " "), nil
}

func parseXLSX(r io.Reader, column string) (string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open spreadsheet: %v", models.ErrInvalidInput, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", ErrEmptyFile
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return "", fmt.Errorf("%w: failed to read sheet %s: %v", models.ErrInvalidInput, sheets[0], err)
	}
	if len(rows) == 0 {
		return "", ErrEmptyFile
	}

	idx, err := columnIndex(rows[0], column)
	if err != nil {
		return "", err
	}

	values := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		values = append(values, cell(row, idx))
	}
	return strings.Join(values, " "), nil
}

func columnIndex(header []string, column string) (int, error) {
	for i, name := range header {
		name = strings.TrimPrefix(name, "\ufeff")
		if strings.TrimSpace(name) == column {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrColumnNotFound, column)
}

// cell returns "" for rows shorter than the header
func cell(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}

// ChunkText splits text into windows of at most size characters, preferring newline
// boundaries, with up to overlap characters shared between neighbours.
func ChunkText(text string, size, overlap int) ([]models.Chunk, error) {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = min(defaultChunkOverlap, size/2)
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithSeparators(separators),
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithLenFunc(utf8.RuneCountInString),
	)
	parts, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split text: %w", err)
	}

	chunks := make([]models.Chunk, 0, len(parts))
	for i, part := range parts {
		chunks = append(chunks, models.Chunk{
			Content: part,
			ChunkID: i + 1,
		})
	}
	return chunks, nil
}
