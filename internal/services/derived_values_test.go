package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naturelog/client/internal/models"
)

func referencedForm() *models.ObservationForm {
	return &models.ObservationForm{
		UUID:               "form-1",
		Version:            1,
		TaxonomicReference: "field-taxon",
		TemporalReference:  "field-time",
	}
}

func TestTaxonFromDataset(t *testing.T) {
	form := referencedForm()

	t.Run("reads a typed taxon value", func(t *testing.T) {
		data := models.FieldMap{
			"field-taxon": models.Taxon{TaxonSource: "taxonomy.sources.col", TaxonNuid: "006", TaxonLatname: "Plantae"},
		}

		taxon := TaxonFromDataset(form, data)
		require.NotNil(t, taxon)
		assert.Equal(t, "006", taxon.TaxonNuid)
	})

	t.Run("reads a decoded json object", func(t *testing.T) {
		data := models.FieldMap{
			"field-taxon": map[string]any{
				"taxonSource": "taxonomy.sources.col",
				"taxonNuid":   "001008005",
			},
		}

		taxon := TaxonFromDataset(form, data)
		require.NotNil(t, taxon)
		assert.Equal(t, "001008005", taxon.TaxonNuid)
	})

	t.Run("fails closed on malformed values", func(t *testing.T) {
		assert.Nil(t, TaxonFromDataset(form, models.FieldMap{"field-taxon": "just a string"}))
		assert.Nil(t, TaxonFromDataset(form, models.FieldMap{"field-taxon": map[string]any{"taxonSource": "x"}}))
		assert.Nil(t, TaxonFromDataset(form, models.FieldMap{}))
		assert.Nil(t, TaxonFromDataset(&models.ObservationForm{UUID: "f"}, models.FieldMap{}))
	})
}

func TestDateFromDataset(t *testing.T) {
	form := referencedForm()

	t.Run("applies the recorded timezone offset", func(t *testing.T) {
		// 2026-08-01T12:00:00Z recorded at UTC+2 (offset in minutes)
		ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
		data := models.FieldMap{
			"field-time": models.TemporalValue{
				Type: "Temporal",
				Cron: models.CronValue{Type: "timestamp", Format: "unixtime", Timestamp: ts, TimezoneOffset: 120},
			},
		}

		got, ok := DateFromDataset(form, data)
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 8, 1, 14, 0, 0, 0, time.UTC), got)
	})

	t.Run("fails closed on missing or malformed values", func(t *testing.T) {
		_, ok := DateFromDataset(form, models.FieldMap{})
		assert.False(t, ok)

		_, ok = DateFromDataset(form, models.FieldMap{"field-time": "noon"})
		assert.False(t, ok)

		_, ok = DateFromDataset(&models.ObservationForm{UUID: "f"}, models.FieldMap{})
		assert.False(t, ok)
	})
}

func TestTaxonImageName(t *testing.T) {
	tests := []struct {
		name string
		nuid string
		want string
	}{
		{"odonata beats arthropoda", "00100300800h001", "Odonata"},
		{"lepidoptera", "00100300800b002", "Lepidoptera"},
		{"generic arthropod", "001003005", "Arthropoda"},
		{"plants", "006001", "Plantae"},
		{"aves", "001008005001", "Aves"},
		{"no match", "999", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TaxonImageName("taxonomy.sources.col", tt.nuid))
		})
	}

	t.Run("unknown source resolves nothing", func(t *testing.T) {
		assert.Empty(t, TaxonImageName("taxonomy.sources.custom", "006"))
	})
}

func TestPlaceholderImageName(t *testing.T) {
	t.Run("resolves via the selected taxon", func(t *testing.T) {
		dataset := &models.Dataset{
			ObservationForm: referencedForm(),
			Data: models.FieldMap{
				"field-taxon": models.Taxon{TaxonSource: "taxonomy.sources.col", TaxonNuid: "001008002005"},
			},
		}
		assert.Equal(t, "Amphibia", PlaceholderImageName(dataset))
	})

	t.Run("falls back to unknown", func(t *testing.T) {
		dataset := &models.Dataset{ObservationForm: referencedForm(), Data: models.FieldMap{}}
		assert.Equal(t, "unknown", PlaceholderImageName(dataset))
	})
}
