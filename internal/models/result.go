package models

type ResultKind string

const (
	ResultBinary  ResultKind = "binary"
	ResultText    ResultKind = "text"
	ResultFailure ResultKind = "failure"
)

// RelayResult is the tagged outcome of one relay. Exactly the fields that
// belong to Kind are populated.
type RelayResult struct {
	Kind ResultKind `json:"kind"`

	// binary
	Bytes             []byte `json:"-"`
	SuggestedFilename string `json:"suggested_filename,omitempty"`
	ContentType       string `json:"content_type,omitempty"`

	// text
	Content      string `json:"content,omitempty"`
	ParsedAsJSON bool   `json:"parsed_as_json,omitempty"`

	// failure
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}

func BinaryResult(data []byte, filename, contentType string) *RelayResult {
	return &RelayResult{Kind: ResultBinary, Bytes: data, SuggestedFilename: filename, ContentType: contentType}
}

func TextResult(content string, parsed bool) *RelayResult {
	return &RelayResult{Kind: ResultText, Content: content, ParsedAsJSON: parsed}
}

func FailureResult(message string, err error) *RelayResult {
	return &RelayResult{Kind: ResultFailure, Message: message, Err: err}
}
