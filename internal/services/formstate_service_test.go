package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/naturelog/client/internal/models"
)

func restrictedField(required bool, restrictions ...models.TaxonomicRestriction) *models.FormField {
	return &models.FormField{
		UUID:                  "field-1",
		FieldClass:            models.FieldClassChar,
		Definition:            models.FieldDefinition{Required: required},
		TaxonomicRestrictions: restrictions,
	}
}

func colTaxon(nuid string) *models.Taxon {
	return &models.Taxon{TaxonSource: "taxonomy.sources.col", TaxonNuid: nuid}
}

func TestResolveFieldState(t *testing.T) {
	t.Run("unrestricted fields keep their definition defaults", func(t *testing.T) {
		state := ResolveFieldState(restrictedField(true), colTaxon("001"))
		assert.False(t, state.Hidden)
		assert.True(t, state.Required)
	})

	t.Run("exists restriction hides the field for other taxa", func(t *testing.T) {
		field := restrictedField(true, models.TaxonomicRestriction{
			TaxonSource:     "taxonomy.sources.col",
			TaxonNuid:       "006",
			RestrictionType: models.RestrictionExists,
		})

		state := ResolveFieldState(field, colTaxon("001003"))
		assert.True(t, state.Hidden)
		assert.False(t, state.Required)

		// a matched exists restriction shows the field but never requires it,
		// even when the definition itself does
		state = ResolveFieldState(field, colTaxon("006002"))
		assert.False(t, state.Hidden)
		assert.False(t, state.Required)
	})

	t.Run("required restriction forces requiredness on match only", func(t *testing.T) {
		field := restrictedField(false, models.TaxonomicRestriction{
			TaxonSource:     "taxonomy.sources.col",
			TaxonNuid:       "001008005",
			RestrictionType: models.RestrictionRequired,
		})

		state := ResolveFieldState(field, colTaxon("001008005003"))
		assert.False(t, state.Hidden)
		assert.True(t, state.Required)

		state = ResolveFieldState(field, colTaxon("006"))
		assert.False(t, state.Hidden)
		assert.False(t, state.Required)
	})

	t.Run("most specific matching restriction wins", func(t *testing.T) {
		field := restrictedField(false,
			models.TaxonomicRestriction{
				TaxonSource:     "taxonomy.sources.col",
				TaxonNuid:       "001",
				RestrictionType: models.RestrictionRequired,
			},
			models.TaxonomicRestriction{
				TaxonSource:     "taxonomy.sources.col",
				TaxonNuid:       "0010",
				RestrictionType: models.RestrictionOptional,
			},
		)

		// both prefixes match; the longer one, marked optional, decides
		state := ResolveFieldState(field, colTaxon("00100300800h"))
		assert.False(t, state.Hidden)
		assert.False(t, state.Required)
	})

	t.Run("order does not change which restriction wins", func(t *testing.T) {
		field := restrictedField(false,
			models.TaxonomicRestriction{
				TaxonSource:     "taxonomy.sources.col",
				TaxonNuid:       "0010",
				RestrictionType: models.RestrictionOptional,
			},
			models.TaxonomicRestriction{
				TaxonSource:     "taxonomy.sources.col",
				TaxonNuid:       "001",
				RestrictionType: models.RestrictionRequired,
			},
		)

		state := ResolveFieldState(field, colTaxon("00100300800h"))
		assert.False(t, state.Required)
	})

	t.Run("nil taxon applies the last fallback", func(t *testing.T) {
		field := restrictedField(false,
			models.TaxonomicRestriction{
				TaxonSource:     "taxonomy.sources.col",
				TaxonNuid:       "001",
				RestrictionType: models.RestrictionExists,
			},
			models.TaxonomicRestriction{
				TaxonSource:     "taxonomy.sources.col",
				TaxonNuid:       "006",
				RestrictionType: models.RestrictionOptional,
			},
		)

		state := ResolveFieldState(field, nil)
		assert.False(t, state.Hidden)
		assert.True(t, state.Required)
	})

	t.Run("different taxon source never matches", func(t *testing.T) {
		field := restrictedField(false, models.TaxonomicRestriction{
			TaxonSource:     "taxonomy.sources.col",
			TaxonNuid:       "001",
			RestrictionType: models.RestrictionExists,
		})

		other := &models.Taxon{TaxonSource: "taxonomy.sources.custom", TaxonNuid: "001"}
		state := ResolveFieldState(field, other)
		assert.True(t, state.Hidden)
	})
}

func TestResolveFieldStates(t *testing.T) {
	form := &models.ObservationForm{
		UUID:    "form-1",
		Version: 1,
		Fields: []models.FormField{
			{UUID: "plain", Definition: models.FieldDefinition{Required: true}},
			{
				UUID: "plants-only",
				TaxonomicRestrictions: []models.TaxonomicRestriction{{
					TaxonSource:     "taxonomy.sources.col",
					TaxonNuid:       "006",
					RestrictionType: models.RestrictionExists,
				}},
			},
		},
	}

	states := ResolveFieldStates(form, colTaxon("001003"))
	assert.Len(t, states, 2)
	assert.False(t, states["plain"].Hidden)
	assert.True(t, states["plain"].Required)
	assert.True(t, states["plants-only"].Hidden)
}
