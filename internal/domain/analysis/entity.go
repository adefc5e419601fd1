package analysis

import (
	"github.com/agroia/agroia-backend/internal/domain/timestamp"
)

// ID identifies one persisted analysis.
type ID string

// Severity enum
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Quality enum
type Quality string

const (
	QualityGood Quality = "good"
	QualityFair Quality = "fair"
	QualityPoor Quality = "poor"
)

// Detection is one pest identified in an image.
type Detection struct {
	PestType    string   `json:"pestType" firestore:"pestType"`
	Confidence  float64  `json:"confidence" firestore:"confidence"`
	Description string   `json:"description" firestore:"description"`
	Treatment   string   `json:"treatment" firestore:"treatment"`
	Severity    Severity `json:"severity" firestore:"severity"`
}

type Dimensions struct {
	Width  int `json:"width" firestore:"width"`
	Height int `json:"height" firestore:"height"`
}

// ImageAnalysis holds the quality metrics of the submitted photo.
type ImageAnalysis struct {
	Brightness float64    `json:"brightness" firestore:"brightness"`
	Contrast   float64    `json:"contrast" firestore:"contrast"`
	Quality    Quality    `json:"quality" firestore:"quality"`
	Dimensions Dimensions `json:"dimensions" firestore:"dimensions"`
	FileSize   int64      `json:"fileSize" firestore:"fileSize"`
}

// Result is the classifier outcome stored with every record.
type Result struct {
	HasPest         bool          `json:"hasPest" firestore:"hasPest"`
	Detections      []Detection   `json:"detections" firestore:"detections"`
	ImageAnalysis   ImageAnalysis `json:"imageAnalysis" firestore:"imageAnalysis"`
	Recommendations []string      `json:"recommendations" firestore:"recommendations"`
}

// MeanConfidence is the average detection confidence, 0 without detections.
func (r Result) MeanConfidence() float64 {
	if len(r.Detections) == 0 {
		return 0
	}
	var sum float64
	for _, d := range r.Detections {
		sum += d.Confidence
	}
	return sum / float64(len(r.Detections))
}

// Metadata is the optional free-form context supplied with a photo.
type Metadata struct {
	CropType string `json:"cropType,omitempty" firestore:"cropType,omitempty"`
	Location string `json:"location,omitempty" firestore:"location,omitempty"`
	Notes    string `json:"notes,omitempty" firestore:"notes,omitempty"`
}

func (m *Metadata) IsEmpty() bool {
	return m == nil || (m.CropType == "" && m.Location == "" && m.Notes == "")
}

// Record is one analysis event owned by a single user.
//
// CapturedAt is the instant the analysis is attributed to: the client photo
// timestamp when one was sent, otherwise the insertion time. Stores may hold
// it in several shapes, so repositories keep the raw value and the
// normalized instant side by side.
type Record struct {
	ID            ID                `json:"id"`
	OwnerID       string            `json:"userId"`
	ImagePayload  string            `json:"imageData,omitempty"`
	ImageURL      string            `json:"imageUrl"`
	Result        Result            `json:"analysisResult"`
	Metadata      *Metadata         `json:"metadata,omitempty"`
	CapturedAt    timestamp.Instant `json:"createdAt"`
	UpdatedAt     timestamp.Instant `json:"updatedAt"`
	RawCapturedAt any               `json:"-"`
}

// Normalize fills CapturedAt from RawCapturedAt when a repository has only
// set the raw value.
func (r *Record) Normalize() {
	if r.RawCapturedAt != nil {
		r.CapturedAt = timestamp.Normalize(r.RawCapturedAt)
	}
}
