package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"pdf-rag/internal/models"
)

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func extract(t *testing.T, p *Parser, filename string, data []byte) Result {
	t.Helper()
	res, err := p.Extract(context.Background(), filename, data)
	require.NoError(t, err)
	assert.Equal(t, MethodDigital, res.Method)
	return res
}

func TestExtractText(t *testing.T) {
	res := extract(t, New(), "notes.TXT", []byte("  Zeile eins\r\nZeile zwei\n"))
	assert.Equal(t, "Zeile eins\nZeile zwei", res.Text)
	assert.Equal(t, 1, res.Pages)
}

func TestExtractUnsupported(t *testing.T) {
	_, err := New().Extract(context.Background(), "setup.exe", []byte("MZ"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)

	var extErr *models.ExtractionError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, "setup.exe", extErr.Path)

	assert.False(t, Supported("setup.exe"))
	assert.True(t, Supported("Scan.PDF"))
}

func TestExtractCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Extract(ctx, "a.txt", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractMalformedPDF(t *testing.T) {
	_, err := New().Extract(context.Background(), "broken.pdf", []byte("definitely not a pdf"))
	require.Error(t, err)
	var extErr *models.ExtractionError
	assert.True(t, errors.As(err, &extErr))
}

func TestExtractDOCX(t *testing.T) {
	data := zipBytes(t, map[string]string{
		"word/_rels/document.xml.rels": `<?xml version="1.0"?><Relationships/>`,
		"word/document.xml": `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>§ 1 Gegenstand</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Miete </w:t></w:r><w:r><w:tab/><w:t>Nebenkosten &amp; Strom</w:t></w:r></w:p>
<w:p></w:p>
</w:body></w:document>`,
	})

	res := extract(t, New(), "vertrag.docx", data)
	assert.Equal(t, "§ 1 Gegenstand\nMiete \tNebenkosten & Strom", res.Text)
}

func slideXML(text string) string {
	return `<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">` +
		`<p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
}

func TestExtractPPTX(t *testing.T) {
	data := zipBytes(t, map[string]string{
		"ppt/slides/slide10.xml":            slideXML("Zehn"),
		"ppt/slides/slide2.xml":             slideXML("Zwei"),
		"ppt/slides/slide1.xml":             slideXML("Eins"),
		"ppt/slides/_rels/slide1.xml.rels":  `<Relationships/>`,
		"ppt/slideLayouts/slideLayout1.xml": slideXML("Layout"),
	})

	res := extract(t, New(), "deck.pptx", data)
	assert.Equal(t, "# Slide 1\nEins\n# Slide 2\nZwei\n# Slide 10\nZehn", res.Text)
	assert.Equal(t, 3, res.Pages)

	res = extract(t, New(WithMaxPages(2)), "deck.pptx", data)
	assert.Equal(t, "# Slide 1\nEins\n# Slide 2\nZwei", res.Text)
	assert.Equal(t, 2, res.Pages)
}

func TestExtractODS(t *testing.T) {
	data := zipBytes(t, map[string]string{
		"mimetype": "application/vnd.oasis.opendocument.spreadsheet",
		"content.xml": `<?xml version="1.0"?>
<office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" xmlns:table="urn:oasis:names:tc:opendocument:xmlns:table:1.0" xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0">
<office:body><office:spreadsheet>
<table:table table:name="Preise">
<table:table-row><table:table-cell><text:p>Artikel</text:p></table:table-cell><table:table-cell><text:p>Preis</text:p></table:table-cell></table:table-row>
<table:table-row><table:table-cell><text:p>Schraube</text:p></table:table-cell><table:table-cell><text:p>0,10</text:p></table:table-cell><table:table-cell/></table:table-row>
</table:table>
</office:spreadsheet></office:body></office:document-content>`,
	})

	res := extract(t, New(), "preise.ods", data)
	assert.Equal(t, "## Sheet: Preise\nArtikel\tPreis\nSchraube\t0,10", res.Text)
	assert.Equal(t, 1, res.Pages)

	_, err := New().Extract(context.Background(), "empty.ods", zipBytes(t, map[string]string{"mimetype": "x"}))
	assert.Error(t, err)
}

func workbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", "Preise"))
	for cell, value := range map[string]string{"A1": "Artikel", "B1": "Preis", "A2": "Schraube  M4", "B2": "0,10"} {
		require.NoError(t, f.SetCellValue("Preise", cell, value))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestExtractSpreadsheets(t *testing.T) {
	data := workbook(t)
	want := "## Sheet: Preise\nArtikel\tPreis\nSchraube M4\t0,10"

	for _, name := range []string{"preise.xlsx", "preise.xlsm"} {
		t.Run(name, func(t *testing.T) {
			res := extract(t, New(), name, data)
			assert.Equal(t, want, res.Text)
			assert.Equal(t, 1, res.Pages)
		})
	}
}

func TestExtractMarkdown(t *testing.T) {
	src := strings.Join([]string{
		"# Handbuch",
		"",
		"Ein **fetter** Absatz",
		"mit Umbruch.",
		"",
		"| Modell | Leistung |",
		"|--------|----------|",
		"| X1     | 5 kW     |",
		"",
		"- eins",
		"- zwei",
		"",
		"```",
		"make install",
		"```",
	}, "\n")

	res := extract(t, New(), "README.md", []byte(src))
	assert.Equal(t, strings.Join([]string{
		"# Handbuch",
		"Ein fetter Absatz",
		"mit Umbruch.",
		"Modell\tLeistung",
		"X1\t5 kW",
		"- eins",
		"- zwei",
		"make install",
	}, "\n"), res.Text)
}

func TestPageWriter(t *testing.T) {
	var w PageWriter
	w.Add(1, " Seite eins ")
	w.Add(2, "  ")
	w.Add(3, "Seite drei")

	assert.Equal(t, "--- Seite 1 ---\nSeite eins\n\n--- Seite 3 ---\nSeite drei", w.String())
	assert.Equal(t, 3, w.Pages())
	assert.Equal(t, len("Seite eins\n\n\nSeite drei"), BodyLength(w.String()))
}

func TestTidyLines(t *testing.T) {
	assert.Equal(t, "a\t b\n\tc", tidyLines("a\t b \t\r\n\n   \n\tc\t"))
}

type fakeExtractor struct {
	res   Result
	err   error
	calls int
}

func (f *fakeExtractor) Extract(context.Context, string, []byte) (Result, error) {
	f.calls++
	return f.res, f.err
}

func TestFallbackExtractor(t *testing.T) {
	long := Result{Text: "--- Seite 1 ---\n" + strings.Repeat("Text ", 20), Pages: 1, Method: MethodDigital}
	short := Result{Text: "--- Seite 1 ---\n\n--- Seite 2 ---\nx", Pages: 2, Method: MethodDigital}
	ocrResult := Result{Text: "--- Seite 1 ---\nGescannt", Pages: 1, Method: MethodVision}

	tests := []struct {
		name     string
		file     string
		digital  *fakeExtractor
		wantOCR  bool
		wantText string
	}{
		{"text layer", "a.pdf", &fakeExtractor{res: long}, false, long.Text},
		{"scanned pdf", "scan.PDF", &fakeExtractor{res: short}, true, ocrResult.Text},
		{"digital error", "b.pdf", &fakeExtractor{err: errors.New("bad xref")}, true, ocrResult.Text},
		{"not a pdf", "c.txt", &fakeExtractor{res: Result{Text: "x"}}, false, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ocr := &fakeExtractor{res: ocrResult}
			res, err := NewFallbackExtractor(tt.digital, ocr, 0).Extract(context.Background(), tt.file, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, res.Text)
			assert.Equal(t, tt.wantOCR, ocr.calls == 1)
		})
	}

	digital := &fakeExtractor{}
	assert.Same(t, digital, NewFallbackExtractor(digital, nil, 0))
}
