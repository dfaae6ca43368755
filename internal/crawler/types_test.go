package crawler

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldSetHoursDecoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		json string
		want *int
	}{
		{name: "number", json: `{"numero_di_ore": 18}`, want: intPtr(18)},
		{name: "float", json: `{"numero_di_ore": 9.0}`, want: intPtr(9)},
		{name: "numeric string", json: `{"numero_di_ore": "12"}`, want: intPtr(12)},
		{name: "string with unit", json: `{"numero_di_ore": "18 ore settimanali"}`, want: intPtr(18)},
		{name: "null", json: `{"numero_di_ore": null}`, want: nil},
		{name: "missing", json: `{}`, want: nil},
		{name: "no digits", json: `{"numero_di_ore": "cattedra intera"}`, want: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var fs FieldSet
			require.NoError(t, json.Unmarshal([]byte(tc.json), &fs))
			assert.Equal(t, tc.want, fs.WeeklyHours)
		})
	}
}

func TestFieldSetDecodesTextFields(t *testing.T) {
	t.Parallel()

	var fs FieldSet
	payload := `{"nome_scuola":" I.C. Manzoni ","indirizzo":"Via Roma 1","citta":"Lecco",
		"data_fine_incarico":"30/06/2025","classe_di_concorso":"A028","numero_di_ore":"6","tipo_cattedra":"spezzone"}`
	require.NoError(t, json.Unmarshal([]byte(payload), &fs))

	rec := fs.Record("Lecco", "https://example.org/doc.pdf")
	assert.Equal(t, "I.C. Manzoni", rec.SchoolName)
	assert.Equal(t, "Via Roma 1", rec.Address)
	assert.Equal(t, "A028", rec.ClassCode)
	assert.Equal(t, "Lecco", rec.Region)
	assert.Equal(t, "https://example.org/doc.pdf", rec.SourceURL)
	require.NotNil(t, rec.WeeklyHours)
	assert.Equal(t, 6, *rec.WeeklyHours)
	assert.True(t, rec.Valid())
}

func TestRecordValidAndKey(t *testing.T) {
	t.Parallel()

	rec := Record{SchoolName: "Liceo Volta", ClassCode: "A027", EndDate: "30/06", Region: "Como", SourceURL: "u"}
	assert.True(t, rec.Valid())
	other := rec
	other.SourceURL = "different"
	other.Region = "Lecco"
	assert.Equal(t, rec.Key(), other.Key())

	rec.SchoolName = ""
	assert.False(t, rec.Valid())
}

func TestPageURL(t *testing.T) {
	t.Parallel()

	base := "https://bg.istruzionelombardia.gov.it/argomento/interpelli-ricerca-supplenti/"
	assert.Equal(t, base, PageURL(base, 1))
	assert.Equal(t, base+"page/3/", PageURL(base, 3))
	assert.Equal(t, "https://x.org/list/page/2/", PageURL("https://x.org/list", 2))
}

func TestAnalysisHasLinks(t *testing.T) {
	t.Parallel()

	assert.False(t, Analysis{Inline: []FieldSet{{SchoolName: "x"}}}.HasLinks())
	assert.True(t, Analysis{Portal: []string{"https://p"}}.HasLinks())
}

func TestFilterValidate(t *testing.T) {
	t.Parallel()

	assert.True(t, errors.Is(Filter{}.Validate(), ErrInvalidFilter))
	assert.True(t, errors.Is(Filter{ClassCode: "A028", MinHours: intPtr(3)}.Validate(), ErrInvalidFilter))
	assert.NoError(t, Filter{ClassCode: "A028"}.Validate())
	assert.NoError(t, Filter{MinHours: intPtr(0)}.Validate())
}

func intPtr(v int) *int { return &v }
