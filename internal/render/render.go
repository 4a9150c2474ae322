package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"docrelay/internal/models"
	"docrelay/internal/prompt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const fallbackPDFName = "processed-document.pdf"

// headlineFields are checked in order for a top-level string worth showing above the JSON.
var headlineFields = []string{"message", "text", "result"}

// View is what the page shows for one relay result.
type View struct {
	Kind            models.ResultKind `json:"kind"`
	Content         string            `json:"content,omitempty"`
	ParsedAsJSON    bool              `json:"parsed_as_json,omitempty"`
	Headline        string            `json:"headline,omitempty"`
	MatchesTemplate bool              `json:"matches_template,omitempty"`
	Message         string            `json:"message,omitempty"`
	SizeBytes       int64             `json:"size_bytes,omitempty"`
	SizeLabel       string            `json:"size_label,omitempty"`
	CanCopy         bool              `json:"can_copy"`
	CanDownload     bool              `json:"can_download"`
	DownloadName    string            `json:"download_name,omitempty"`
	DownloadType    string            `json:"download_type,omitempty"`
}

// Download is the attachment served for a result.
type Download struct {
	Name        string
	ContentType string
	Data        []byte
}

// Renderer turns relay results into views.
type Renderer struct {
	schema *jsonschema.Schema
}

func NewRenderer() (*Renderer, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extraction.json", strings.NewReader(prompt.OutputSchema())); err != nil {
		return nil, fmt.Errorf("add extraction schema: %w", err)
	}
	schema, err := compiler.Compile("extraction.json")
	if err != nil {
		return nil, fmt.Errorf("compile extraction schema: %w", err)
	}
	return &Renderer{schema: schema}, nil
}

// Build produces the view for result. originalName is the uploaded file's name.
func (r *Renderer) Build(result *models.RelayResult, originalName string) View {
	if result == nil {
		return View{}
	}
	switch result.Kind {
	case models.ResultBinary:
		size := int64(len(result.Bytes))
		return View{
			Kind:         models.ResultBinary,
			SizeBytes:    size,
			SizeLabel:    fmt.Sprintf("%.2f MB", float64(size)/(1<<20)),
			CanDownload:  true,
			DownloadName: binaryName(result),
			DownloadType: binaryType(result),
		}
	case models.ResultText:
		v := View{
			Kind:         models.ResultText,
			Content:      result.Content,
			ParsedAsJSON: result.ParsedAsJSON,
			CanCopy:      true,
			CanDownload:  true,
			DownloadName: textName(originalName),
			DownloadType: "text/plain; charset=utf-8",
		}
		if result.ParsedAsJSON {
			v.Headline, v.MatchesTemplate = r.inspectJSON(result.Content)
		}
		return v
	default:
		return View{Kind: models.ResultFailure, Message: result.Message}
	}
}

// Download returns the attachment for result, or false for failures.
func (r *Renderer) Download(result *models.RelayResult, originalName string) (Download, bool) {
	if result == nil {
		return Download{}, false
	}
	switch result.Kind {
	case models.ResultBinary:
		return Download{Name: binaryName(result), ContentType: binaryType(result), Data: result.Bytes}, true
	case models.ResultText:
		return Download{Name: textName(originalName), ContentType: "text/plain; charset=utf-8", Data: []byte(result.Content)}, true
	}
	return Download{}, false
}

func (r *Renderer) inspectJSON(content string) (string, bool) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader([]byte(content)))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return "", false
	}
	var headline string
	if obj, ok := doc.(map[string]any); ok {
		for _, field := range headlineFields {
			if s, ok := obj[field].(string); ok && s != "" {
				headline = s
				break
			}
		}
	}
	matches := r.schema != nil && r.schema.Validate(doc) == nil
	return headline, matches
}

func binaryName(result *models.RelayResult) string {
	if result.SuggestedFilename != "" {
		return result.SuggestedFilename
	}
	return fallbackPDFName
}

func binaryType(result *models.RelayResult) string {
	if result.ContentType != "" {
		return result.ContentType
	}
	return "application/pdf"
}

func textName(originalName string) string {
	if originalName == "" {
		originalName = "result"
	}
	return "extracted-text-" + originalName + ".txt"
}
