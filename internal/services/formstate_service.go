package services

import (
	"strings"

	"github.com/naturelog/client/internal/models"
)

// ResolveFieldStates computes the visibility and requiredness of every form
// field for the given selected taxon. Fields without taxonomic restrictions
// keep their definition defaults.
func ResolveFieldStates(form *models.ObservationForm, taxon *models.Taxon) map[string]models.FieldState {
	states := make(map[string]models.FieldState, len(form.Fields))
	for i := range form.Fields {
		field := &form.Fields[i]
		states[field.UUID] = ResolveFieldState(field, taxon)
	}
	return states
}

// ResolveFieldState resolves one field. When several restrictions match the
// taxon, the one with the longest nuid prefix wins, as it names the most
// specific clade. When none match, the last restriction's fallback applies.
func ResolveFieldState(field *models.FormField, taxon *models.Taxon) models.FieldState {
	state := models.FieldState{Hidden: false, Required: field.Definition.Required}
	if len(field.TaxonomicRestrictions) == 0 {
		return state
	}

	var matched *models.TaxonomicRestriction
	for i := range field.TaxonomicRestrictions {
		restriction := &field.TaxonomicRestrictions[i]
		if restrictionMatches(restriction, taxon) {
			if matched == nil || len(restriction.TaxonNuid) > len(matched.TaxonNuid) {
				matched = restriction
			}
		} else if matched == nil {
			state = fallbackState(restriction.RestrictionType)
		}
	}

	if matched != nil {
		return matchedState(matched.RestrictionType, field)
	}
	return state
}

// restrictionMatches reports whether the taxon sits inside the restriction's
// clade. Nuids nest by prefix, so membership is a prefix test within the
// same taxonomic source.
func restrictionMatches(restriction *models.TaxonomicRestriction, taxon *models.Taxon) bool {
	if taxon == nil {
		return false
	}
	return restriction.TaxonSource == taxon.TaxonSource &&
		strings.HasPrefix(taxon.TaxonNuid, restriction.TaxonNuid)
}

func matchedState(restrictionType models.RestrictionType, field *models.FormField) models.FieldState {
	switch restrictionType {
	case models.RestrictionExists:
		return models.FieldState{Hidden: false, Required: false}
	case models.RestrictionRequired:
		return models.FieldState{Hidden: false, Required: true}
	case models.RestrictionOptional:
		return models.FieldState{Hidden: false, Required: false}
	default:
		return models.FieldState{Hidden: false, Required: field.Definition.Required}
	}
}

func fallbackState(restrictionType models.RestrictionType) models.FieldState {
	switch restrictionType {
	case models.RestrictionExists:
		return models.FieldState{Hidden: true, Required: false}
	case models.RestrictionRequired:
		return models.FieldState{Hidden: false, Required: false}
	case models.RestrictionOptional:
		return models.FieldState{Hidden: false, Required: true}
	default:
		return models.FieldState{Hidden: false, Required: false}
	}
}
