package models

// Indexed payload fields. Only these can be used in a Filter.
const (
	FieldDocType     = "doc_type"
	FieldFilename    = "filename"
	FieldContentType = "content_type"
)

// IndexedFields lists the payload fields that carry a secondary index
var IndexedFields = []string{FieldDocType, FieldFilename, FieldContentType}

// DocTypeRule is one classifier category with its keyword patterns
type DocTypeRule struct {
	DocType  DocType
	Patterns []string
}

// DocTypeRules is evaluated in declaration order; the first category at the
// top score wins a tie.
var DocTypeRules = []DocTypeRule{
	{DocType: DocTypeInvoice, Patterns: []string{
		`\binvoice\b`,
		`\brechnung\b`,
		`\bvat\b`,
		`\bmwst\b|\bmehrwertsteuer\b|\bust\.?\b`,
		`\bdue date\b|\bfällig`,
		`\binvoice (number|no\.?)\b|\brechnungsnummer\b|\brechnungs-nr`,
		`\btotal amount\b|\bgesamtbetrag\b|\bendbetrag\b`,
		`\bpayment terms\b|\bzahlungsbedingungen\b|\bzahlbar\b`,
	}},
	{DocType: DocTypeQuote, Patterns: []string{
		`\bquote\b|\bquotation\b`,
		`\bangebot\b`,
		`\bvalid until\b|\bgültig bis\b`,
		`\boffer\b`,
		`\bkostenvoranschlag\b|\bestimate\b`,
		`\bangebotsnummer\b|\bquote (number|no\.?)\b`,
	}},
	{DocType: DocTypeContract, Patterns: []string{
		`\bagreement\b`,
		`\bvertrag\b`,
		`\btermination\b|\bkündigung\b`,
		`\bterm\b|\blaufzeit\b`,
		`\bparties\b|\bvertragsparteien\b`,
		`\bliability\b|\bhaftung\b`,
		`\bgoverning law\b|\bgerichtsstand\b`,
		`§\s*\d+`,
	}},
	{DocType: DocTypeForm, Patterns: []string{
		`\bform\b|\bformular\b`,
		`\bsignature\b|\bunterschrift\b`,
		`\bplease fill\b|\bbitte ausfüllen\b|\bausfüllen\b`,
		`\bdate of birth\b|\bgeburtsdatum\b`,
		`\bapplicant\b|\bantragsteller\b|\bantrag\b`,
		`_{5,}`,
	}},
	{DocType: DocTypeTechnical, Patterns: []string{
		`\bspecification\b|\bspezifikation\b`,
		`\btechnical\b|\btechnisch`,
		`\bmanual\b|\bhandbuch\b|\banleitung\b`,
		`\binstallation\b`,
		`\bconfiguration\b|\bkonfiguration\b`,
		`\bversion\s*\d`,
		`\bdatasheet\b|\bdatenblatt\b`,
	}},
}

// Structural line patterns shared by the generic and contract strategies
var GenericSectionPatterns = []string{
	`^§\s*\d+`,
	`^(\d+\.)+\d*\s+\p{Lu}`,
	`^-{3}\s*(Seite|Page)\s+\d+\s*-{3}$`,
	`^#{1,6}\s+\S`,
}

// AllCapsHeadingRegex marks upper-case title lines. The chunker also requires
// at least three letters making up most of the line.
const AllCapsHeadingRegex = `^\p{Lu}[\p{Lu}0-9 \-/&,.:()]{3,79}$`

// NotHeadingPatterns are date lines that would otherwise pass as numbered headers
var NotHeadingPatterns = []string{
	`(?i)^\d{1,2}\.\s*(januar|jänner|februar|märz|maerz|april|mai|juni|juli|august|september|oktober|november|dezember|january|february|march|may|june|july|october|december)\b`,
	`^\d{1,2}\.\d{1,2}\.(\d{4}|\d{2})\b`,
}

// Contract adds article, roman numeral and clause headers
var ContractSectionPatterns = append(append([]string{}, GenericSectionPatterns...),
	`^(Art\.|Artikel|Article)\s*\d+`,
	`^[IVXLC]+\.\s+\S`,
	`^(Section|Clause|Ziffer)\s+\d+`,
)

const (
	PageMarkerRegex = `(?m)^-{3}[ \t]*(?:Seite|Page)[ \t]+(\d+)[ \t]*-{3}[ \t]*$`
	PageMarkerFmt   = "--- Seite %d ---"

	InvoiceNumberRegex = `(?i)(?:rechnungs(?:nummer|-?nr\.?)|invoice\s*(?:number|no\.?|#))\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/]*)`
	InvoiceDateRegex   = `(?i)(?:rechnungsdatum|invoice\s*date|datum|date)\s*:?\s*(\d{1,2}[./-]\d{1,2}[./-]\d{2,4}|\d{4}-\d{2}-\d{2})`
	InvoiceTotalRegex  = `(?i)(?:gesamtbetrag|endbetrag|rechnungsbetrag|total\s*amount|amount\s*due|total|summe)\s*:?\s*(?:EUR|€|\$|USD)?\s*(\d{1,3}(?:[.,\s]\d{3})*(?:[.,]\d{2})?)`
)

const (
	ContextSeparator = "\n\n"
	SourcePrefixFmt  = "From %s: %s"

	// token headroom left for the model's formatting
	ContextTokenBuffer = 100

	NoResultsAnswer = "I could not find any relevant information in the indexed documents to answer this question."
)

var (
	AnswerSystemPrompt = `You are an assistant answering questions about a collection of business documents.
Use only the information in the provided documents. If the documents do not contain the answer, say so plainly.
Cite the file a fact comes from when it helps the reader. Answer in the language of the question.`

	AnswerPromptTemplate = `Documents:
%s

Question: %s`
)
