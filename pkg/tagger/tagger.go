// Package tagger analyzes images with Google Vision and Gemini and writes
// the generated title, description and keywords back into each file's
// embedded metadata.
package tagger

import (
	"time"
)

// Supported languages for generated text.
const (
	LangFrench  = "fr"
	LangEnglish = "en"
)

// Config holds configuration for a tagging run.
type Config struct {
	CredentialsPath string
	Project         string
	Location        string
	Model           string
	Lang            string

	Workers     int
	Retries     int
	RetryDelay  time.Duration
	CallTimeout time.Duration

	Rename    bool
	Backup    bool
	Recursive bool

	// MaxFileSize rejects oversized inputs at validation time. Zero disables
	// the check.
	MaxFileSize int64
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Location:    "us-central1",
		Model:       "gemini-1.5-pro-latest",
		Lang:        LangFrench,
		Workers:     4,
		Retries:     3,
		RetryDelay:  2 * time.Second,
		CallTimeout: 60 * time.Second,
		Rename:      true,
		MaxFileSize: 20 << 20,
	}
}

// ImageJob is one input file under processing.
type ImageJob struct {
	Path     string
	Ext      string
	MimeType string
	Size     int64
}

// NormalizedImage is a resized byte buffer derived from an ImageJob, bounded
// to the upload edge limit. Width and Height are the original dimensions,
// kept for reporting; they are (0,0) when the source could not be decoded.
type NormalizedImage struct {
	Bytes    []byte
	MimeType string
	Width    int
	Height   int
}

// VisionResult is the normalized output of the vision annotation call. It is
// always present, possibly all-empty, even after exhausting retries.
type VisionResult struct {
	Labels      []Label  `json:"labels"`
	WebEntities []string `json:"web_entities"`
	Colors      []string `json:"dominant_colors"`
	Objects     []string `json:"objects"`
	Landmarks   []string `json:"landmarks"`
}

// Label is one (description, confidence) pair from label detection.
type Label struct {
	Description string  `json:"description"`
	Score       float32 `json:"score"`
}

// TagRecord is the validated metadata record written into an image. It is
// only constructed through repairTagRecord, so the codec never sees a record
// with an empty title, description or main genre.
type TagRecord struct {
	Title                    string   `json:"title,omitempty"`
	Description              string   `json:"description,omitempty"`
	Comment                  string   `json:"comment,omitempty"`
	Story                    string   `json:"story,omitempty"`
	MainGenre                string   `json:"main_genre,omitempty"`
	SecondaryGenre           string   `json:"secondary_genre,omitempty"`
	ContentKeywords          []string `json:"content_keywords,omitempty"`
	TechnicalCharacteristics []string `json:"technical_characteristics,omitempty"`
	// Keywords is the de-duplicated concatenation of content keywords then
	// technical characteristics, in first-occurrence order.
	Keywords []string `json:"keywords,omitempty"`
	// ErrorGemini carries the last generative-call error when the record had
	// to fall back to defaults, so the failure stays visible in the output.
	ErrorGemini string `json:"error_gemini,omitempty"`
}

// Result is one row of the final JSON output array. A row with Error set
// never carries TagRecord fields.
type Result struct {
	OriginalFile       string `json:"original_file"`
	NewFile            string `json:"new_file,omitempty"`
	Path               string `json:"path,omitempty"`
	OriginalDimensions []int  `json:"original_dimensions,omitempty"`

	TagRecord

	MetadataWritten *bool   `json:"metadata_written,omitempty"`
	ProcessingTime  float64 `json:"processing_time"`

	Error string `json:"error,omitempty"`
}

// Failed reports whether the job terminated with an error before producing
// a TagRecord.
func (r *Result) Failed() bool {
	return r.Error != ""
}
