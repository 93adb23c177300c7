package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/models"
)

func TestClassify_Categories(t *testing.T) {
	tests := []struct {
		name string
		text string
		want models.DocType
	}{
		{
			name: "german invoice",
			text: "Rechnung\nRechnungsnummer: RE-2024-001\nGesamtbetrag: 1.190,00 EUR\nMwSt 19%\nZahlbar innerhalb 14 Tagen",
			want: models.DocTypeInvoice,
		},
		{
			name: "english invoice",
			text: "INVOICE\nInvoice number: 4711\nDue date: 2024-05-01\nVAT 20%\nTotal amount: 120.00",
			want: models.DocTypeInvoice,
		},
		{
			name: "quote",
			text: "Angebot Nr. 17\nGültig bis 30.06.2024\nKostenvoranschlag für die Sanierung",
			want: models.DocTypeQuote,
		},
		{
			name: "contract",
			text: "Vertrag\n§ 1 Vertragsgegenstand\nDie Laufzeit beträgt zwei Jahre.\nKündigung mit drei Monaten Frist.\nHaftung ist ausgeschlossen.\nGerichtsstand ist Berlin.",
			want: models.DocTypeContract,
		},
		{
			name: "form",
			text: "Bitte ausfüllen\nGeburtsdatum: ________\nUnterschrift",
			want: models.DocTypeForm,
		},
		{
			name: "technical",
			text: "Technical Specification\nInstallation manual version 2.1\nConfiguration of the device",
			want: models.DocTypeTechnical,
		},
		{
			name: "no keywords",
			text: "Lorem ipsum dolor sit amet",
			want: models.DocTypeGeneral,
		},
		{
			name: "empty",
			text: "",
			want: models.DocTypeGeneral,
		},
	}

	c := Default()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.text))
		})
	}
}

func TestClassify_TieGoesToFirstDeclared(t *testing.T) {
	// one keyword each for invoice and quote
	assert.Equal(t, models.DocTypeInvoice, Default().Classify("invoice quote"))

	rules := []models.DocTypeRule{
		{DocType: models.DocTypeForm, Patterns: []string{`alpha`}},
		{DocType: models.DocTypeTechnical, Patterns: []string{`beta`}},
	}
	assert.Equal(t, models.DocTypeForm, MustNew(rules).Classify("alpha beta"))

	rules[0], rules[1] = rules[1], rules[0]
	assert.Equal(t, models.DocTypeTechnical, MustNew(rules).Classify("alpha beta"))
}

func TestClassify_Deterministic(t *testing.T) {
	text := "Rechnung und Vertrag mit Angebot, Laufzeit und MwSt"
	c := Default()
	first := c.Classify(text)
	for i := 0; i < 50; i++ {
		require.Equal(t, first, c.Classify(text))
	}
}

func TestClassify_CaseInsensitive(t *testing.T) {
	c := Default()
	assert.Equal(t, c.Classify("RECHNUNG MWST ZAHLBAR"), c.Classify("rechnung mwst zahlbar"))
	assert.Equal(t, models.DocTypeInvoice, c.Classify("RECHNUNG MWST ZAHLBAR"))
}

func TestScores_CountsDistinctPatterns(t *testing.T) {
	scores := Default().Scores("invoice invoice invoice")
	assert.Equal(t, 1, scores[models.DocTypeInvoice])
	assert.Equal(t, 0, scores[models.DocTypeContract])
	assert.Len(t, scores, len(models.DocTypeRules))
}

func TestNew_BadPattern(t *testing.T) {
	_, err := New([]models.DocTypeRule{{DocType: models.DocTypeForm, Patterns: []string{`(`}}})
	require.Error(t, err)
}
