package services

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/naturelog/client/internal/models"
)

// TaxonFromDataset extracts the taxon recorded in the form's taxonomic
// reference field. Fails closed: returns nil when the field is absent or its
// value is not an object.
func TaxonFromDataset(form *models.ObservationForm, data models.FieldMap) *models.Taxon {
	if form == nil || form.TaxonomicReference == "" {
		return nil
	}
	value, ok := data[form.TaxonomicReference]
	if !ok {
		return nil
	}

	taxon := &models.Taxon{}
	if !decodeObject(value, taxon) || taxon.TaxonSource == "" || taxon.TaxonNuid == "" {
		return nil
	}
	return taxon
}

// DateFromDataset extracts the observation time from the form's temporal
// reference field, with the recorded timezone offset (minutes) applied.
// Fails closed like TaxonFromDataset.
func DateFromDataset(form *models.ObservationForm, data models.FieldMap) (time.Time, bool) {
	if form == nil || form.TemporalReference == "" {
		return time.Time{}, false
	}
	value, ok := data[form.TemporalReference]
	if !ok {
		return time.Time{}, false
	}

	temporal := &models.TemporalValue{}
	if !decodeObject(value, temporal) || temporal.Cron.Timestamp == 0 {
		return time.Time{}, false
	}

	offsetMs := temporal.Cron.TimezoneOffset * 60 * 1000
	return time.UnixMilli(temporal.Cron.Timestamp + offsetMs).UTC(), true
}

// decodeObject re-decodes a JSON-shaped value (map or typed struct) into dst.
// Scalars and arrays are rejected.
func decodeObject(value any, dst any) bool {
	switch value.(type) {
	case map[string]any, models.Taxon, *models.Taxon, models.TemporalValue, *models.TemporalValue:
	default:
		return false
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// taxonImageNuidMap maps higher-taxon nuid prefixes to placeholder image
// names bundled with the app. Ordered from specific to broad where prefixes
// nest; lookup scans for any matching prefix.
var taxonImageNuidMap = map[string]map[string]string{
	"taxonomy.sources.col": {
		"00100300800h": "Odonata",
		"001008002001": "Anura",
		"00100300800b": "Lepidoptera",
		"00100800a":    "Mammalia",
		"001003001":    "Arachnida",
		"001008002":    "Amphibia",
		"00100800c":    "Reptilia",
		"001008005":    "Aves",
		"001008001":    "Fish",
		"001008007":    "Fish",
		"001008008":    "Fish",
		"00100800d":    "Fish",
		"001003":       "Arthropoda",
		"00100j":       "Mollusca",
		"006":          "Plantae",
	},
}

// TaxonImageName resolves the placeholder image name for a taxon, or ""
func TaxonImageName(taxonSource, taxonNuid string) string {
	prefixes, ok := taxonImageNuidMap[taxonSource]
	if !ok {
		return ""
	}

	best := ""
	name := ""
	for prefix, candidate := range prefixes {
		if len(prefix) > len(best) && strings.HasPrefix(taxonNuid, prefix) {
			best = prefix
			name = candidate
		}
	}
	return name
}

// PlaceholderImageName picks the taxonomy placeholder for a dataset without
// stored images; "unknown" when the taxon cannot be resolved.
func PlaceholderImageName(dataset *models.Dataset) string {
	taxon := TaxonFromDataset(dataset.ObservationForm, dataset.Data)
	if taxon != nil {
		if name := TaxonImageName(taxon.TaxonSource, taxon.TaxonNuid); name != "" {
			return name
		}
	}
	return "unknown"
}
