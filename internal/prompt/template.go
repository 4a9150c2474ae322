package prompt

import (
	"fmt"
	"strings"
)

// Category is one extraction heading in the default prompt.
type Category struct {
	Name  string
	Note  string
	Items []Category
}

// Categories lists the top-level extraction categories in prompt order.
var Categories = []Category{
	{Name: "MATERIAL_SIZE_GRADES_MANUFACTURING"},
	{Name: "YEAR_RESTRICTIONS"},
	{Name: "CLIENT_APPROVED_VENDOR_LIST"},
	{Name: "CERTIFICATES"},
	{Name: "HEAT_TREATMENT"},
	{Name: "SURFACE_TREATMENT"},
	{Name: "CHEMICAL_REQUIREMENTS"},
	{Name: "PMI_REQUIREMENTS"},
	{Name: "MECHANICAL_REQUIREMENTS", Items: []Category{
		{Name: "TENSILE"},
		{Name: "IMPACT_OR_CHARPY"},
		{Name: "HARDNESS"},
		{Name: "OTHER_MECHANICAL_REQUIREMENTS"},
	}},
	{Name: "NDT_REQUIREMENTS", Items: []Category{
		{Name: "UT", Note: "Ultrasonic Testing"},
		{Name: "RT", Note: "Radiographic Testing"},
		{Name: "MPI_OR_MT", Note: "Magnetic Particle Inspection/Testing"},
		{Name: "EMI", Note: "Electromagnetic Inspection"},
		{Name: "LPT", Note: "Liquid Penetrant Testing"},
		{Name: "OTHER_NDT_REQUIREMENTS"},
	}},
	{Name: "DWT_TEST", Note: "Drop Weight Tear Test"},
	{Name: "IGC_TEST", Note: "Intergranular Corrosion Test"},
	{Name: "CORROSION_TEST"},
	{Name: "SOUR_SERVICES_NACE"},
	{Name: "GRAIN_SIZE"},
	{Name: "DIMENSION", Items: []Category{
		{Name: "OUTER_DIAMETER"},
		{Name: "THICKNESS"},
		{Name: "OUT_OF_ROUNDNESS_OR_OVALITY"},
		{Name: "SPECNESS"},
		{Name: "OTHER_DIMENSION"},
	}},
	{Name: "MARKING"},
	{Name: "PAINTING_COATING"},
	{Name: "THREADING"},
	{Name: "COLOUR_CODING"},
	{Name: "PACKING_PRESERVATION"},
	{Name: "THIRD_PARTY_INSPECTION_REQUIREMENT"},
	{Name: "OTHER_TECHNICAL_SPECIFICATIONS"},
}

const outputShape = `{
  "category_name": {
    "data_points": [
      {
        "specification": "exact value with units",
        "context": "what it refers to",
        "standard": "referenced standard",
        "source": "page/section location"
      }
    ]
  }
}`

// DataPointFields are the keys every extracted data point carries.
var DataPointFields = []string{"specification", "context", "standard", "source"}

var defaultTemplate = buildTemplate(Categories)

// DefaultTemplate returns the fixed extraction prompt.
func DefaultTemplate() string {
	return defaultTemplate
}

func buildTemplate(categories []Category) string {
	var b strings.Builder
	b.WriteString("Prompt:\n\n")
	fmt.Fprintf(&b, "Extract ALL technical specifications from this combined document across these %d categories. "+
		"Use EXACT values, units, and preserve original context:\n\n", len(categories))
	for i, c := range categories {
		fmt.Fprintf(&b, "%d %s\n", i+1, label(c))
		for j, item := range c.Items {
			fmt.Fprintf(&b, "%d.%d. %s\n", i+1, j+1, label(item))
		}
	}
	b.WriteString("\nFor each category found, return in this JSON format:\n")
	b.WriteString(outputShape)
	return b.String()
}

func label(c Category) string {
	if c.Note == "" {
		return c.Name
	}
	return c.Name + " (" + c.Note + ")"
}

// OutputSchema is a JSON schema for the object shape the default prompt asks
// the workflow to return: category names mapping to lists of data points.
func OutputSchema() string {
	props := make([]string, 0, len(DataPointFields))
	for _, f := range DataPointFields {
		props = append(props, fmt.Sprintf("%q: {\"type\": \"string\"}", f))
	}
	return `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "minProperties": 1,
  "additionalProperties": {
    "type": "object",
    "required": ["data_points"],
    "properties": {
      "data_points": {
        "type": "array",
        "items": {
          "type": "object",
          "properties": {` + strings.Join(props, ", ") + `}
        }
      }
    }
  }
}`
}
