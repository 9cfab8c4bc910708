package models

import (
	"fmt"
	"strings"
)

// Category names one of the four analytical perspectives served by the API.
type Category string

const (
	CategoryDescriptive  Category = "descriptive"
	CategoryDiagnostic   Category = "diagnostic"
	CategoryPredictive   Category = "predictive"
	CategoryPrescriptive Category = "prescriptive"
)

// Categories lists every category in dashboard order.
var Categories = []Category{
	CategoryDescriptive,
	CategoryDiagnostic,
	CategoryPredictive,
	CategoryPrescriptive,
}

// ParseCategory resolves a category name, ignoring case and surrounding space.
func ParseCategory(name string) (Category, error) {
	candidate := Category(strings.ToLower(strings.TrimSpace(name)))
	for _, c := range Categories {
		if c == candidate {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown analytics category %q", name)
}

func (c Category) String() string { return string(c) }
