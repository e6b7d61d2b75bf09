// Package qajson defines the subset of the QA-JSON document fields that the
// grid-check engine consumes and produces. The schema itself (and every
// field not touched by the engine) is an external collaborator; this
// package only models the slice of it the engine actually reads and
// writes.
package qajson

import "time"

// Param is a single named check parameter. Value holds a bool, float64, or
// string.
type Param struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// FileRef is one entry of a check's input file list.
type FileRef struct {
	Path        string `json:"path"`
	FileType    string `json:"file_type"`
	Description string `json:"description,omitempty"`
}

// File type tags recognised by the input resolver.
const (
	FileTypeSurveyDTMs   = "Survey DTMs"
	FileTypeCoverageArea = "Coverage Area"
)

// Inputs is the input section of a QA-JSON check entry.
type Inputs struct {
	Files  []FileRef `json:"files"`
	Params []Param   `json:"params"`
}

// Group is the check's grouping metadata, carried through unmodified.
type Group struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Info identifies a check class: its UUID, display name, and version.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
	Group       Group  `json:"group,omitempty"`
}

// Execution records when a check ran, whether it completed, and any error.
type Execution struct {
	Start  *time.Time `json:"start,omitempty"`
	End    *time.Time `json:"end,omitempty"`
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// Outputs is the result of running a check, in QA-JSON form.
type Outputs struct {
	Execution  Execution              `json:"execution"`
	Files      interface{}            `json:"files"`
	Count      interface{}            `json:"count"`
	Percentage interface{}            `json:"percentage"`
	Messages   []string               `json:"messages"`
	Data       map[string]interface{} `json:"data,omitempty"`
	CheckState string                 `json:"check_state"`
}

// Check is one entry of a QA-JSON document's check list: what to run
// (Info), what to run it on (Inputs), and the result once it has (Outputs).
type Check struct {
	Info    Info     `json:"info"`
	Inputs  Inputs   `json:"inputs"`
	Outputs *Outputs `json:"outputs"`
}

// Document is the root object the CLI reads and writes. Only the check
// list is modeled here; every other field the real schema carries is an
// external collaborator out of scope for this engine.
type Document struct {
	Checks []*Check `json:"checks"`
}

// ISOTimestamp formats t with microsecond precision, as required of
// QA-JSON execution timestamps.
func ISOTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
}
