package parser

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"document-qa/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestLoadText_CSV(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{
			name:  "single column",
			input: "text\nhello\nworld\n",
			want:  "hello world",
		},
		{
			name:  "keeps row order and ignores other columns",
			input: "id,text,score\n1,first row,0.5\n2,second row,0.7\n3,third,0.1\n",
			want:  "first row second row third",
		},
		{
			name:  "quoted values with commas and newlines",
			input: "text,id\n\"a, b\",1\n\"line one\nline two\",2\n",
			want:  "a, b line one\nline two",
		},
		{
			name:  "short rows contribute empty values",
			input: "id,text\n1,alpha\n2\n3,gamma\n",
			want:  "alpha  gamma",
		},
		{
			name:  "header only",
			input: "id,text\n",
			want:  "",
		},
		{
			name:  "byte order mark on header",
			input: "\ufefftext\nbom\n",
			want:  "bom",
		},
		{
			name:    "missing column",
			input:   "id,body\n1,hello\n",
			wantErr: ErrColumnNotFound,
		},
		{
			name:    "empty file",
			input:   "",
			wantErr: ErrEmptyFile,
		},
		{
			name:    "malformed quotes",
			input:   "text\n\"unterminated\n",
			wantErr: models.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LoadText("upload.csv", strings.NewReader(tt.input), "text")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, models.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadText_UnknownExtensionReadsCSV(t *testing.T) {
	got, err := LoadText("blob", strings.NewReader("text\nx\ny\n"), "text")
	require.NoError(t, err)
	assert.Equal(t, "x y", got)
}

func TestLoadText_UnsupportedFormat(t *testing.T) {
	_, err := LoadText("report.pdf", strings.NewReader("%PDF-1.4"), "text")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestLoadText_XLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	rows := [][]string{
		{"id", "text"},
		{"1", "spreadsheet one"},
		{"2", "spreadsheet two"},
	}
	for r, row := range rows {
		for c, value := range row {
			name, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, name, value))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	got, err := LoadText("sheet.xlsx", buf, "text")
	require.NoError(t, err)
	assert.Equal(t, "spreadsheet one spreadsheet two", got)
}

func TestLoadText_XLSXMissingColumn(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellValue(f.GetSheetName(0), "A1", "body"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	_, err = LoadText("sheet.xlsx", buf, "text")
	assert.ErrorIs(t, err, ErrColumnNotFound)
}

func TestLoadText_InvalidXLSX(t *testing.T) {
	_, err := LoadText("sheet.xlsx", strings.NewReader("not a zip"), "text")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("word%04d", i)
	}
	return strings.Join(parts, " ")
}

// sharedOverlap returns the longest suffix of prev (up to limit runes) that prefixes next
func sharedOverlap(prev, next string, limit int) int {
	p, n := []rune(prev), []rune(next)
	for k := min(len(p), len(n), limit); k > 0; k-- {
		if string(p[len(p)-k:]) == string(n[:k]) {
			return k
		}
	}
	return 0
}

func TestChunkText_Empty(t *testing.T) {
	chunks, err := ChunkText("", 1000, 200)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkText_ShortTextIsOneChunk(t *testing.T) {
	chunks, err := ChunkText("a short document", 1000, 200)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short document", chunks[0].Content)
	assert.Equal(t, 1, chunks[0].ChunkID)
}

func TestChunkText_BoundsAndOverlap(t *testing.T) {
	text := words(700)

	chunks, err := ChunkText(text, 1000, 200)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), 1000, "chunk %d too long", i)
		assert.Equal(t, i+1, c.ChunkID)
	}
	for i := 1; i < len(chunks); i++ {
		k := sharedOverlap(chunks[i-1].Content, chunks[i].Content, 200)
		assert.Greater(t, k, 0, "chunks %d and %d share no text", i-1, i)
		assert.LessOrEqual(t, k, 200)
	}

	// every word survives chunking
	joined := ""
	for _, c := range chunks {
		joined += c.Content + " "
	}
	for _, w := range strings.Fields(text) {
		assert.Contains(t, joined, w)
	}
}

func TestChunkText_PrefersNewlines(t *testing.T) {
	line := strings.Repeat("a", 300)
	lines := make([]string, 7)
	for i := range lines {
		lines[i] = line
	}

	chunks, err := ChunkText(strings.Join(lines, "\n"), 1000, 200)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), 1000)
		for _, l := range strings.Split(c.Content, "\n") {
			assert.Len(t, l, 300, "chunk split inside a line")
		}
	}
}

func TestChunkText_CountsCharactersNotBytes(t *testing.T) {
	text := strings.Repeat("é", 2500)

	chunks, err := ChunkText(text, 1000, 200)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), 1000)
	}
	assert.Equal(t, 1000, utf8.RuneCountInString(chunks[0].Content))
	assert.Equal(t, 200, sharedOverlap(chunks[0].Content, chunks[1].Content, 200))
}

func TestChunkText_Deterministic(t *testing.T) {
	text := words(400)
	a, err := ChunkText(text, 1000, 200)
	require.NoError(t, err)
	b, err := ChunkText(text, 1000, 200)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestChunkText_InvalidSettingsFallBack(t *testing.T) {
	chunks, err := ChunkText(words(300), 0, -5)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), 1000)
	}
}
