package photos

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/planboo/photoreview/internal/directus"
)

const dateOnly = "2006-01-02"

// PhotoFilters narrows FetchPhotos. Zero values match everything.
type PhotoFilters struct {
	ProjectID string      `form:"projectId" json:"projectId,omitempty"`
	Company   string      `form:"company" json:"company,omitempty"`
	Type      []PhotoType `form:"type" json:"type,omitempty" validate:"omitempty,dive,oneof=cook mixture field"`
	Name      []string    `form:"name" json:"name,omitempty" validate:"omitempty,dive,required"`
	DateFrom  string      `form:"dateFrom" json:"dateFrom,omitempty" validate:"omitempty,photodate"`
	DateTo    string      `form:"dateTo" json:"dateTo,omitempty" validate:"omitempty,photodate"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("photodate", func(fl validator.FieldLevel) bool {
		_, err := parseDate(fl.Field().String())
		return err == nil
	})
	return v
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(dateOnly, s)
}

// Validate checks the filter values and that the date range is ordered.
func (f PhotoFilters) Validate() error {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("invalid %s: %v", fe.Field(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if f.DateFrom != "" && f.DateTo != "" {
		from, _ := parseDate(f.DateFrom)
		to, _ := parseDate(f.DateTo)
		if from.After(to) {
			return fmt.Errorf("invalid date range: %s is after %s", f.DateFrom, f.DateTo)
		}
	}
	return nil
}

// Empty reports whether no filter is set.
func (f PhotoFilters) Empty() bool {
	return f.ProjectID == "" && f.Company == "" && len(f.Type) == 0 &&
		len(f.Name) == 0 && f.DateFrom == "" && f.DateTo == ""
}

// BuildFilter translates filters into a backend filter using the field names
// of one collection.
func BuildFilter(fields FieldMap, f PhotoFilters) directus.Filter {
	filter := directus.Filter{}
	if f.ProjectID != "" {
		filter[fields.ProjectID] = map[string]any{"_eq": f.ProjectID}
	}
	if f.Company != "" {
		filter[fields.Company] = map[string]any{"_eq": f.Company}
	}
	if len(f.Type) > 0 {
		filter[fields.Type] = map[string]any{"_in": f.Type}
	}
	if len(f.Name) > 0 {
		filter[fields.Name] = map[string]any{"_in": f.Name}
	}
	if f.DateFrom != "" || f.DateTo != "" {
		dateRange := map[string]any{}
		if f.DateFrom != "" {
			dateRange["_gte"] = f.DateFrom
		}
		if f.DateTo != "" {
			dateRange["_lte"] = f.DateTo
		}
		filter[fields.DateCreated] = dateRange
	}
	return filter
}
