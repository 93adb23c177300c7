package models

import (
	"strconv"
	"time"
)

// DocType is the category a document is classified into
type DocType string

const (
	DocTypeInvoice   DocType = "invoice"
	DocTypeQuote     DocType = "quote"
	DocTypeContract  DocType = "contract"
	DocTypeForm      DocType = "form"
	DocTypeTechnical DocType = "technical"
	DocTypeGeneral   DocType = "general"
	DocTypeUnknown   DocType = "unknown"
)

// ParseDocType returns the DocType named by s
func ParseDocType(s string) (DocType, bool) {
	switch d := DocType(s); d {
	case DocTypeInvoice, DocTypeQuote, DocTypeContract, DocTypeForm,
		DocTypeTechnical, DocTypeGeneral, DocTypeUnknown:
		return d, true
	}
	return DocTypeUnknown, false
}

// ContentType tells which chunking strategy produced a chunk
type ContentType string

const (
	ContentTypeText           ContentType = "text"
	ContentTypeTable          ContentType = "table"
	ContentTypeInvoicePage    ContentType = "invoice_page"
	ContentTypeContractClause ContentType = "contract_clause"
)

const (
	DefaultSection         = "General"
	DefaultContractSection = "Preamble"
)

// InvoiceFields holds values extracted from an invoice page. Each field is
// empty when its pattern did not match.
type InvoiceFields struct {
	Number string `json:"invoice_number,omitempty"`
	Date   string `json:"invoice_date,omitempty"`
	Total  string `json:"invoice_total,omitempty"`
}

// IsZero reports whether nothing was extracted
func (f InvoiceFields) IsZero() bool {
	return f.Number == "" && f.Date == "" && f.Total == ""
}

// DocumentMeta is the provenance shared by all chunks of one document
type DocumentMeta struct {
	SourcePath string
	Filename   string
	DocType    DocType
}

// Chunk is a bounded span of document text with its provenance.
// Invoice is only set for ContentTypeInvoicePage chunks.
type Chunk struct {
	Text        string         `json:"text"`
	Section     string         `json:"section"`
	ContentType ContentType    `json:"content_type"`
	DocType     DocType        `json:"doc_type"`
	SourcePath  string         `json:"source_path"`
	Filename    string         `json:"filename"`
	PageNumber  *int           `json:"page_number,omitempty"`
	Invoice     *InvoiceFields `json:"invoice,omitempty"`
	ChunkIndex  int            `json:"chunk_index"`
	TotalChunks int            `json:"total_chunks"`
}

// EmbeddedChunk pairs a chunk with its embedding
type EmbeddedChunk struct {
	Chunk  Chunk
	Vector []float32
}

// Payload is the flat, non-vector metadata stored next to each vector
type Payload struct {
	Text          string      `json:"chunk_text"`
	Section       string      `json:"section"`
	ContentType   ContentType `json:"content_type"`
	DocType       DocType     `json:"doc_type"`
	SourcePath    string      `json:"source"`
	Filename      string      `json:"filename"`
	PageNumber    *int        `json:"page_number,omitempty"`
	InvoiceNumber string      `json:"invoice_number,omitempty"`
	InvoiceDate   string      `json:"invoice_date,omitempty"`
	InvoiceTotal  string      `json:"invoice_total,omitempty"`
	ChunkIndex    int         `json:"chunk_index"`
	TotalChunks   int         `json:"total_chunks"`
	IndexedAt     time.Time   `json:"indexed_at"`
}

// NewPayload flattens a chunk into its stored form
func NewPayload(c Chunk, indexedAt time.Time) Payload {
	p := Payload{
		Text:        c.Text,
		Section:     c.Section,
		ContentType: c.ContentType,
		DocType:     c.DocType,
		SourcePath:  c.SourcePath,
		Filename:    c.Filename,
		PageNumber:  c.PageNumber,
		ChunkIndex:  c.ChunkIndex,
		TotalChunks: c.TotalChunks,
		IndexedAt:   indexedAt.UTC(),
	}
	if c.Invoice != nil {
		p.InvoiceNumber = c.Invoice.Number
		p.InvoiceDate = c.Invoice.Date
		p.InvoiceTotal = c.Invoice.Total
	}
	return p
}

// Chunk rebuilds the chunk a payload was created from
func (p Payload) Chunk() Chunk {
	c := Chunk{
		Text:        p.Text,
		Section:     p.Section,
		ContentType: p.ContentType,
		DocType:     p.DocType,
		SourcePath:  p.SourcePath,
		Filename:    p.Filename,
		PageNumber:  p.PageNumber,
		ChunkIndex:  p.ChunkIndex,
		TotalChunks: p.TotalChunks,
	}
	if p.ContentType == ContentTypeInvoicePage {
		f := InvoiceFields{Number: p.InvoiceNumber, Date: p.InvoiceDate, Total: p.InvoiceTotal}
		if !f.IsZero() {
			c.Invoice = &f
		}
	}
	return c
}

// Field returns the value of an indexed payload field
func (p Payload) Field(name string) string {
	switch name {
	case FieldDocType:
		return string(p.DocType)
	case FieldFilename:
		return p.Filename
	case FieldContentType:
		return string(p.ContentType)
	}
	return ""
}

// Metadata renders the payload as string pairs, for stores that only keep strings
func (p Payload) Metadata() map[string]string {
	m := map[string]string{
		"section":        p.Section,
		FieldContentType: string(p.ContentType),
		FieldDocType:     string(p.DocType),
		"source":         p.SourcePath,
		FieldFilename:    p.Filename,
		"chunk_index":    strconv.Itoa(p.ChunkIndex),
		"total_chunks":   strconv.Itoa(p.TotalChunks),
		"indexed_at":     p.IndexedAt.Format(time.RFC3339Nano),
	}
	if p.PageNumber != nil {
		m["page_number"] = strconv.Itoa(*p.PageNumber)
	}
	if p.InvoiceNumber != "" {
		m["invoice_number"] = p.InvoiceNumber
	}
	if p.InvoiceDate != "" {
		m["invoice_date"] = p.InvoiceDate
	}
	if p.InvoiceTotal != "" {
		m["invoice_total"] = p.InvoiceTotal
	}
	return m
}

// PayloadFromMetadata is the inverse of Payload.Metadata
func PayloadFromMetadata(text string, m map[string]string) Payload {
	p := Payload{
		Text:          text,
		Section:       m["section"],
		ContentType:   ContentType(m[FieldContentType]),
		DocType:       DocType(m[FieldDocType]),
		SourcePath:    m["source"],
		Filename:      m[FieldFilename],
		InvoiceNumber: m["invoice_number"],
		InvoiceDate:   m["invoice_date"],
		InvoiceTotal:  m["invoice_total"],
	}
	p.ChunkIndex, _ = strconv.Atoi(m["chunk_index"])
	p.TotalChunks, _ = strconv.Atoi(m["total_chunks"])
	if v, ok := m["page_number"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			p.PageNumber = &n
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, m["indexed_at"]); err == nil {
		p.IndexedAt = t
	}
	return p
}

// Point is the persisted form of a chunk plus its embedding
type Point struct {
	ID      uint64
	Vector  []float32
	Payload Payload
}

// SearchResult is one ranked hit of a similarity search
type SearchResult struct {
	ID      uint64  `json:"id"`
	Score   float32 `json:"score"`
	Payload Payload `json:"payload"`
}
