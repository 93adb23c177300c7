// Package chunker splits extracted document text into retrieval chunks along
// structural boundaries, with strategies for generic, invoice and contract documents.
package chunker

import (
	"regexp"

	"pdf-rag/internal/models"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// Chunker holds the size settings and compiled pattern tables
type Chunker struct {
	chunkSize int
	overlap   int

	generic    []*regexp.Regexp
	contract   []*regexp.Regexp
	allCaps    *regexp.Regexp
	notHeading []*regexp.Regexp

	pageMarker    *regexp.Regexp
	invoiceNumber *regexp.Regexp
	invoiceDate   *regexp.Regexp
	invoiceTotal  *regexp.Regexp
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between size-split chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize:     DefaultChunkSize,
		overlap:       DefaultChunkOverlap,
		generic:       compileAll(models.GenericSectionPatterns),
		contract:      compileAll(models.ContractSectionPatterns),
		allCaps:       regexp.MustCompile(models.AllCapsHeadingRegex),
		notHeading:    compileAll(models.NotHeadingPatterns),
		pageMarker:    regexp.MustCompile(models.PageMarkerRegex),
		invoiceNumber: regexp.MustCompile(models.InvoiceNumberRegex),
		invoiceDate:   regexp.MustCompile(models.InvoiceDateRegex),
		invoiceTotal:  regexp.MustCompile(models.InvoiceTotalRegex),
	}
	for _, opt := range opts {
		opt(c)
	}

	// overlap must leave room for new content
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

func compileAll(patterns []string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		res = append(res, regexp.MustCompile(p))
	}
	return res
}

// ChunkSize returns the effective chunk size
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the effective overlap of the generic strategy
func (c *Chunker) Overlap() int { return c.overlap }

// ContractOverlap is the doubled overlap used for contracts and quotes,
// capped at half the chunk size.
func (c *Chunker) ContractOverlap() int {
	return min(2*c.overlap, c.chunkSize/2)
}

// ForDocType picks the strategy for a document type: invoice pages for
// invoices, clauses for contracts and quotes, plain text otherwise.
func ForDocType(docType models.DocType) models.ContentType {
	switch docType {
	case models.DocTypeInvoice:
		return models.ContentTypeInvoicePage
	case models.DocTypeContract, models.DocTypeQuote:
		return models.ContentTypeContractClause
	default:
		return models.ContentTypeText
	}
}

// Chunk splits text into ordered chunks. An empty hint selects the strategy
// from meta.DocType. Every chunk is stamped with the document's provenance,
// its position and the final chunk count.
func (c *Chunker) Chunk(text string, meta models.DocumentMeta, hint models.ContentType) []models.Chunk {
	if hint == "" {
		hint = ForDocType(meta.DocType)
	}

	var pieces []piece
	switch hint {
	case models.ContentTypeInvoicePage:
		pieces = c.invoicePages(text)
	case models.ContentTypeContractClause:
		pieces = c.scan(text, scanConfig{
			patterns:       c.contract,
			overlap:        c.ContractOverlap(),
			contentType:    models.ContentTypeContractClause,
			defaultSection: models.DefaultContractSection,
		})
	default:
		pieces = c.scan(text, scanConfig{
			patterns:       c.generic,
			overlap:        c.overlap,
			contentType:    models.ContentTypeText,
			defaultSection: models.DefaultSection,
		})
	}

	if len(pieces) == 0 {
		return nil
	}
	docType := meta.DocType
	if docType == "" {
		docType = models.DocTypeUnknown
	}
	chunks := make([]models.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = models.Chunk{
			Text:        p.text,
			Section:     p.section,
			ContentType: p.contentType,
			DocType:     docType,
			SourcePath:  meta.SourcePath,
			Filename:    meta.Filename,
			PageNumber:  p.page,
			Invoice:     p.invoice,
			ChunkIndex:  i,
			TotalChunks: len(pieces),
		}
	}
	return chunks
}

// piece is a chunk before document metadata is stamped on it
type piece struct {
	text        string
	section     string
	contentType models.ContentType
	page        *int
	invoice     *models.InvoiceFields
}
