package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

const sheetHeadingFmt = "## Sheet: %s\n"

// xmlLayout describes how an office XML part maps to text
type xmlLayout struct {
	// text elements whose character data is kept, by local name
	text map[string]bool
	// inserted when an element starts, e.g. tabs and line breaks
	start func(xml.StartElement) string
	// appended when an element ends, e.g. paragraphs and table rows
	end map[string]string
}

var (
	wordLayout = xmlLayout{
		text: map[string]bool{"t": true},
		start: func(se xml.StartElement) string {
			switch se.Name.Local {
			case "tab":
				return "\t"
			case "br", "cr":
				return "\n"
			}
			return ""
		},
		end: map[string]string{"p": "\n"},
	}

	slideLayout = xmlLayout{
		text: map[string]bool{"t": true},
		start: func(se xml.StartElement) string {
			if se.Name.Local == "br" {
				return "\n"
			}
			return ""
		},
		end: map[string]string{"p": "\n"},
	}

	spreadsheetLayout = xmlLayout{
		text: map[string]bool{"p": true},
		start: func(se xml.StartElement) string {
			switch se.Name.Local {
			case "table":
				for _, a := range se.Attr {
					if a.Name.Local == "name" {
						return "\n" + fmt.Sprintf(sheetHeadingFmt, a.Value)
					}
				}
			case "tab":
				return " "
			case "s":
				return " "
			}
			return ""
		},
		end: map[string]string{"table-cell": "\t", "table-row": "\n"},
	}
)

// xmlText walks an XML part and renders it with layout
func xmlText(r io.Reader, layout xmlLayout) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if layout.text[t.Name.Local] {
				depth++
			}
			if layout.start != nil {
				b.WriteString(layout.start(t))
			}
		case xml.EndElement:
			if layout.text[t.Name.Local] && depth > 0 {
				depth--
			}
			b.WriteString(layout.end[t.Name.Local])
		case xml.CharData:
			if depth > 0 {
				b.Write(t)
			}
		}
	}
}

func (p *Parser) parseDOCX(data []byte) (string, int, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}
	defer r.Close()

	text, err := xmlText(strings.NewReader(r.Editable().GetContent()), wordLayout)
	if err != nil {
		return "", 0, fmt.Errorf("document.xml: %w", err)
	}
	return tidyLines(text), 1, nil
}

var slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// parsePPTX renders each slide under a "# Slide N" heading in slide order
func (p *Parser) parsePPTX(data []byte) (string, int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}

	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		if m := slideNameRe.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			slides = append(slides, slide{n: n, f: f})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })
	if p.maxPages > 0 && len(slides) > p.maxPages {
		slides = slides[:p.maxPages]
	}

	var b strings.Builder
	for _, s := range slides {
		rc, err := s.f.Open()
		if err != nil {
			return "", 0, err
		}
		text, err := xmlText(rc, slideLayout)
		rc.Close()
		if err != nil {
			return "", 0, fmt.Errorf("%s: %w", s.f.Name, err)
		}
		if text = tidyLines(text); text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "# Slide %d\n%s", s.n, text)
	}
	return b.String(), len(slides), nil
}

// parseODS reads content.xml of an OpenDocument spreadsheet
func (p *Parser) parseODS(data []byte) (string, int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}
	for _, f := range zr.File {
		if f.Name != "content.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", 0, err
		}
		defer rc.Close()
		text, err := xmlText(rc, spreadsheetLayout)
		if err != nil {
			return "", 0, fmt.Errorf("content.xml: %w", err)
		}
		text = tidyLines(text)
		return text, strings.Count(text, "## Sheet: "), nil
	}
	return "", 0, errors.New("content.xml not found")
}

// parseXLSX renders every sheet as tab-separated rows
func (p *Parser) parseXLSX(data []byte) (string, int, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return "", 0, err
	}

	var b strings.Builder
	for _, sheet := range f.Sheets {
		fmt.Fprintf(&b, sheetHeadingFmt, sheet.Name)
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := make([]string, len(row.Cells))
			for i, cell := range row.Cells {
				cells[i] = cleanCell(cell.String())
			}
			writeRow(&b, cells)
		}
	}
	return tidyLines(b.String()), len(f.Sheets), nil
}

// parseWorkbook covers the macro and template workbook variants
func (p *Parser) parseWorkbook(data []byte) (string, int, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var b strings.Builder
	for _, name := range sheets {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", 0, fmt.Errorf("sheet %s: %w", name, err)
		}
		fmt.Fprintf(&b, sheetHeadingFmt, name)
		for _, row := range rows {
			cells := make([]string, len(row))
			for i, cell := range row {
				cells[i] = cleanCell(cell)
			}
			writeRow(&b, cells)
		}
	}
	return tidyLines(b.String()), len(sheets), nil
}

func cleanCell(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func writeRow(b *strings.Builder, cells []string) {
	for len(cells) > 0 && cells[len(cells)-1] == "" {
		cells = cells[:len(cells)-1]
	}
	if len(cells) == 0 {
		return
	}
	b.WriteString(strings.Join(cells, "\t"))
	b.WriteString("\n")
}
