package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

type InputType string

const (
	TypeURL       InputType = "url"
	TypeImage     InputType = "image"
	TypeImagesDir InputType = "images_dir"
	TypeDocument  InputType = "document"
	TypeAudio     InputType = "audio"
)

// errorMarker prefixes failed outcomes on the wire so consumers can
// tell an extraction error from extracted text.
const errorMarker = "Error: "

// Outcome is the result of one extraction kind for one unit. It is a
// three-state value: present (carries text), absent (extraction ran,
// nothing found) or failed (carries an error message). Absent
// serializes as null, failed as an "Error: ..." string.
type Outcome struct {
	value  string
	errMsg string
	state  outcomeState
}

type outcomeState uint8

const (
	outcomeAbsent outcomeState = iota
	outcomePresent
	outcomeFailed
)

func Text(v string) Outcome { return Outcome{value: v, state: outcomePresent} }

func None() Outcome { return Outcome{} }

func Fail(msg string) Outcome { return Outcome{errMsg: msg, state: outcomeFailed} }

func (o Outcome) Present() bool { return o.state == outcomePresent }
func (o Outcome) Absent() bool  { return o.state == outcomeAbsent }
func (o Outcome) Failed() bool  { return o.state == outcomeFailed }

// Value returns the extracted text. Empty unless Present.
func (o Outcome) Value() string { return o.value }

// Err returns the error message. Empty unless Failed.
func (o Outcome) Err() string { return o.errMsg }

func (o Outcome) MarshalJSON() ([]byte, error) {
	switch o.state {
	case outcomePresent:
		return json.Marshal(o.value)
	case outcomeFailed:
		return json.Marshal(errorMarker + o.errMsg)
	default:
		return []byte("null"), nil
	}
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = None()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if strings.HasPrefix(s, errorMarker) {
		*o = Fail(strings.TrimPrefix(s, errorMarker))
		return nil
	}
	*o = Text(s)
	return nil
}

// UnitResult holds the four extraction kinds for a single image or
// page. All four keys are always serialized.
type UnitResult struct {
	OCRText     Outcome `json:"ocr_text"`
	Description Outcome `json:"image_description"`
	TableData   Outcome `json:"table_data"`
	Flowchart   Outcome `json:"flowchart"`
}

// FailedUnit marks every extraction kind with the same error. The
// document pipeline records one for a page whose extraction failed
// outright so the run can continue.
func FailedUnit(err error) UnitResult {
	f := Fail(err.Error())
	return UnitResult{OCRText: f, Description: f, TableData: f, Flowchart: f}
}

// Failed reports whether every extraction kind failed.
func (u UnitResult) Failed() bool {
	return u.OCRText.Failed() && u.Description.Failed() && u.TableData.Failed() && u.Flowchart.Failed()
}

type PageResult struct {
	Page   string     `json:"page"`
	Result UnitResult `json:"result"`
}

type ImageResult struct {
	Image  string     `json:"image"`
	Result UnitResult `json:"result"`
}

// Aggregate folds per-unit results into document-level views. Only
// present, non-empty values contribute; absent and failed outcomes
// stay visible in Pages.
type Aggregate struct {
	Pages        []UnitResult `json:"pages"`
	CombinedText *string      `json:"combined_text"`
	Tables       []string     `json:"tables"`
	Descriptions []string     `json:"descriptions"`
	Flowcharts   []string     `json:"flowcharts"`
}

// NewAggregate builds the folded view of units in order. CombinedText
// is nil, never empty, when no unit produced OCR text.
func NewAggregate(units []UnitResult) *Aggregate {
	agg := &Aggregate{
		Pages:        units,
		Tables:       []string{},
		Descriptions: []string{},
		Flowcharts:   []string{},
	}
	if agg.Pages == nil {
		agg.Pages = []UnitResult{}
	}
	var texts []string
	for _, u := range units {
		if v := u.OCRText; v.Present() && v.Value() != "" {
			texts = append(texts, v.Value())
		}
		if v := u.TableData; v.Present() && v.Value() != "" {
			agg.Tables = append(agg.Tables, v.Value())
		}
		if v := u.Description; v.Present() && v.Value() != "" {
			agg.Descriptions = append(agg.Descriptions, v.Value())
		}
		if v := u.Flowchart; v.Present() && v.Value() != "" {
			agg.Flowcharts = append(agg.Flowcharts, v.Value())
		}
	}
	if len(texts) > 0 {
		joined := strings.Join(texts, "\n\n")
		agg.CombinedText = &joined
	}
	return agg
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Transcript struct {
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

type CrawlResult struct {
	RawMarkdown string `json:"raw_markdown"`
	FitMarkdown string `json:"fit_markdown"`
	RawLength   int    `json:"raw_length"`
	FitLength   int    `json:"fit_length"`
}

// Record is the single output of a run. Which payload fields are
// serialized depends on Type.
type Record struct {
	Source     string
	Type       InputType
	Content    string
	Crawl      *CrawlResult
	Images     []ImageResult
	Pages      []PageResult
	Aggregated *Aggregate
	LLMSummary map[string]any
	Transcript *Transcript
}

func (r *Record) MarshalJSON() ([]byte, error) {
	switch r.Type {
	case TypeURL:
		return json.Marshal(struct {
			Source  string       `json:"source"`
			Type    InputType    `json:"type"`
			Content string       `json:"content"`
			Crawl   *CrawlResult `json:"crawl"`
		}{r.Source, r.Type, r.Content, r.Crawl})
	case TypeImage, TypeImagesDir:
		images := r.Images
		if images == nil {
			images = []ImageResult{}
		}
		return json.Marshal(struct {
			Source string        `json:"source"`
			Type   InputType     `json:"type"`
			Images []ImageResult `json:"images"`
		}{r.Source, r.Type, images})
	case TypeDocument:
		pages := r.Pages
		if pages == nil {
			pages = []PageResult{}
		}
		return json.Marshal(struct {
			Source     string         `json:"source"`
			Type       InputType      `json:"type"`
			Pages      []PageResult   `json:"pages"`
			Aggregated *Aggregate     `json:"aggregated"`
			LLMSummary map[string]any `json:"llm_summary,omitempty"`
		}{r.Source, r.Type, pages, r.Aggregated, r.LLMSummary})
	case TypeAudio:
		return json.Marshal(struct {
			Source     string      `json:"source"`
			Type       InputType   `json:"type"`
			Transcript *Transcript `json:"transcript"`
		}{r.Source, r.Type, r.Transcript})
	}
	return nil, fmt.Errorf("models: unknown record type %q", r.Type)
}
