package chunker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"pdf-rag/internal/models"
)

// invoicePages emits one chunk per non-empty page. Page numbers come from the
// page markers; text without markers is a single page 1. Text ahead of the
// first marker belongs to that marker's page.
func (c *Chunker) invoicePages(text string) []piece {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	markers := c.pageMarker.FindAllStringSubmatchIndex(text, -1)
	if len(markers) == 0 {
		return c.invoicePage(text, 1, nil)
	}

	var result []piece
	preamble := text[:markers[0][0]]
	for i, m := range markers {
		end := len(text)
		if i+1 < len(markers) {
			end = markers[i+1][0]
		}
		body := text[m[1]:end]
		if i == 0 && strings.TrimSpace(preamble) != "" {
			body = strings.TrimSpace(preamble) + "\n" + strings.TrimSpace(body)
		}
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			n = i + 1
		}
		result = c.invoicePage(body, n, result)
	}
	return result
}

func (c *Chunker) invoicePage(body string, page int, result []piece) []piece {
	body = strings.TrimSpace(body)
	if body == "" {
		return result
	}
	p := piece{
		text:        body,
		section:     fmt.Sprintf("Page %d", page),
		contentType: models.ContentTypeInvoicePage,
		page:        &page,
	}
	if f := c.invoiceFields(body); !f.IsZero() {
		p.invoice = &f
	}
	return append(result, p)
}

// invoiceFields pulls number, date and total from a page, best effort
func (c *Chunker) invoiceFields(text string) models.InvoiceFields {
	return models.InvoiceFields{
		Number: firstGroup(c.invoiceNumber, text),
		Date:   firstGroup(c.invoiceDate, text),
		Total:  firstGroup(c.invoiceTotal, text),
	}
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
