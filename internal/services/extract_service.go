package services

import (
	"github.com/naturelog/client/internal/models"
)

// ExtractedImages holds the picture-field files moved out of a raw
// observation payload, keyed by field uuid. Field order follows the form's
// field order so downstream position assignment stays deterministic.
type ExtractedImages struct {
	fieldOrder []string
	byField    map[string][]models.SourceFile
}

// Fields returns the field uuids that carried files, in form order
func (e *ExtractedImages) Fields() []string {
	return e.fieldOrder
}

// Files returns the ordered file list of one field
func (e *ExtractedImages) Files(fieldUUID string) []models.SourceFile {
	return e.byField[fieldUUID]
}

// Total counts all extracted files
func (e *ExtractedImages) Total() int {
	n := 0
	for _, files := range e.byField {
		n += len(files)
	}
	return n
}

// Empty reports whether no files were extracted
func (e *ExtractedImages) Empty() bool {
	return len(e.byField) == 0
}

// ExtractImages splits a raw payload into picture files and the remaining
// non-file fields. The input map is not mutated; the returned remainder is a
// copy with every picture-field value removed, so it contains no raw file
// handles.
func ExtractImages(form *models.ObservationForm, data models.FieldMap) (*ExtractedImages, models.FieldMap) {
	extracted := &ExtractedImages{byField: map[string][]models.SourceFile{}}
	remaining := data.Clone()
	if form == nil {
		return extracted, remaining
	}

	for _, field := range form.Fields {
		if field.FieldClass != models.FieldClassPicture {
			continue
		}
		value, ok := remaining[field.UUID]
		if !ok {
			continue
		}
		delete(remaining, field.UUID)

		files := coerceFiles(value)
		if len(files) == 0 {
			continue
		}
		extracted.fieldOrder = append(extracted.fieldOrder, field.UUID)
		extracted.byField[field.UUID] = files
	}

	return extracted, remaining
}

func coerceFiles(value any) []models.SourceFile {
	switch v := value.(type) {
	case []models.SourceFile:
		return v
	case models.SourceFile:
		return []models.SourceFile{v}
	case *models.SourceFile:
		if v != nil {
			return []models.SourceFile{*v}
		}
	}
	return nil
}
