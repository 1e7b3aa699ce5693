package models

// FieldClass identifies the widget/value type of an observation form field
type FieldClass string

const (
	FieldClassPicture  FieldClass = "PictureField"
	FieldClassTaxon    FieldClass = "TaxonField"
	FieldClassTemporal FieldClass = "DateTimeJSONField"
	FieldClassPoint    FieldClass = "PointJSONField"
	FieldClassChar     FieldClass = "CharField"
	FieldClassDecimal  FieldClass = "DecimalField"
	FieldClassChoice   FieldClass = "ChoiceField"
	FieldClassBool     FieldClass = "BooleanField"
)

// RestrictionType conditions a field's state on the selected taxon
type RestrictionType string

const (
	RestrictionExists   RestrictionType = "exists"
	RestrictionRequired RestrictionType = "required"
	RestrictionOptional RestrictionType = "optional"
)

// TaxonomicRestriction limits a field to a taxon subtree. TaxonNuid is a
// hierarchical path prefix: a taxon belongs to the subtree when its own nuid
// starts with the restriction's nuid and both share a taxon source.
type TaxonomicRestriction struct {
	TaxonSource     string          `json:"taxonSource"`
	TaxonNuid       string          `json:"taxonNuid"`
	TaxonLatname    string          `json:"taxonLatname,omitempty"`
	RestrictionType RestrictionType `json:"restrictionType"`
}

// FieldDefinition holds per-field rendering and validation settings
type FieldDefinition struct {
	Label        string `json:"label,omitempty"`
	HelpText     string `json:"helpText,omitempty"`
	Required     bool   `json:"required"`
	Unit         string `json:"unit,omitempty"`
	InitialValue any    `json:"initialValue,omitempty"`
}

// FormField is one field of an observation form
type FormField struct {
	UUID                  string                 `json:"uuid"`
	FieldClass            FieldClass             `json:"fieldClass"`
	Role                  string                 `json:"role"`
	Definition            FieldDefinition        `json:"definition"`
	Position              int                    `json:"position"`
	TaxonomicRestrictions []TaxonomicRestriction `json:"taxonomicRestrictions,omitempty"`
}

// ObservationForm is the versioned schema an observation is recorded against.
// Datasets embed a snapshot of the form they were created with, so records
// keep rendering correctly after the schema evolves.
type ObservationForm struct {
	UUID                string      `json:"uuid"`
	Name                string      `json:"name,omitempty"`
	Version             int         `json:"version"`
	Fields              []FormField `json:"fields"`
	TaxonomicReference  string      `json:"taxonomicReference,omitempty"`
	TemporalReference   string      `json:"temporalReference,omitempty"`
	GeographicReference string      `json:"geographicReference,omitempty"`
}

// Field returns the field with the given uuid, or nil
func (f *ObservationForm) Field(uuid string) *FormField {
	for i := range f.Fields {
		if f.Fields[i].UUID == uuid {
			return &f.Fields[i]
		}
	}
	return nil
}

// Taxon is a taxonomy entry selected in an observation
type Taxon struct {
	TaxonSource  string `json:"taxonSource"`
	TaxonNuid    string `json:"taxonNuid"`
	TaxonLatname string `json:"taxonLatname,omitempty"`
	TaxonAuthor  string `json:"taxonAuthor,omitempty"`
	NameUUID     string `json:"nameUuid,omitempty"`
}

// CronValue carries a point in time as recorded in the field
type CronValue struct {
	Type           string `json:"type,omitempty"`
	Format         string `json:"format,omitempty"`
	Timestamp      int64  `json:"timestamp"`
	TimezoneOffset int64  `json:"timezoneOffset"`
}

// TemporalValue is the value shape of a temporal reference field
type TemporalValue struct {
	Type string    `json:"type,omitempty"`
	Cron CronValue `json:"cron"`
}

// FieldState is the resolved visibility/requiredness of one form field
type FieldState struct {
	Hidden   bool `json:"hidden"`
	Required bool `json:"required"`
}
