package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return Status(raw), true
	}
	return "", false
}

// Terminal reports whether the job has settled. Status only moves forward:
// pending, optionally processing, then completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one analysis request. CreditsReserved and AccountID never change
// after creation.
type Job struct {
	ID              snowflake.ID   `json:"id"`
	AccountID       snowflake.ID   `json:"-"`
	Tier            string         `json:"plan"`
	Status          Status         `json:"status"`
	CreditsReserved int64          `json:"creditsUsed"`
	ImageURL        string         `json:"imageUrl,omitempty"`
	ImageID         string         `json:"imageId,omitempty"`
	Result          datatypes.JSON `json:"result,omitempty"`
	ErrorMessage    *string        `json:"errorMessage,omitempty"`
	ProcessingTime  *float64       `json:"processingTime,omitempty"`
	IsPublic        bool           `json:"isPublic"`
	ShareToken      *string        `json:"shareToken,omitempty"`
	SettledAt       *time.Time     `json:"settledAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Summary drops the result payload for list views.
func (j Job) Summary() Job {
	j.Result = nil
	j.ShareToken = nil
	return j
}

// Result is the subset of the pipeline payload the API reads back. The
// stored payload is kept verbatim.
type Result struct {
	MBTI                string        `json:"mbti"`
	PersonalityTraits   []string      `json:"personalityTraits"`
	LoveStyle           string        `json:"loveStyle"`
	RedFlags            []string      `json:"redFlags"`
	Strengths           []string      `json:"strengths"`
	Weaknesses          []string      `json:"weaknesses"`
	Compatibility       Compatibility `json:"compatibility"`
	Celebrities         Celebrities   `json:"celebrities"`
	Tips                []string      `json:"tips"`
	ConversationScripts []string      `json:"conversationScripts"`
	InfographicURL      string        `json:"infographicUrl"`
	QRCode              string        `json:"qrCode"`
}

type Compatibility struct {
	PassionScore *float64 `json:"passionScore"`
	IdealColor   string   `json:"idealColor"`
	IdealMatch   string   `json:"idealMatch"`
}

type Celebrities struct {
	Brazilian     *Celebrity `json:"brazilian"`
	International *Celebrity `json:"international"`
}

type Celebrity struct {
	Name        string   `json:"name"`
	Similarity  *float64 `json:"similarity"`
	Description string   `json:"description"`
}

// ParseResult decodes a stored payload. An empty payload yields a zero
// Result.
func ParseResult(raw datatypes.JSON) (Result, error) {
	var result Result
	if len(raw) == 0 {
		return result, nil
	}
	err := json.Unmarshal(raw, &result)
	return result, err
}

// Teaser is what non-owners see of a public analysis.
type Teaser struct {
	MBTI                   string   `json:"mbti,omitempty"`
	PassionScore           *float64 `json:"passionScore,omitempty"`
	IdealColor             string   `json:"idealColor,omitempty"`
	BrazilianCelebrity     string   `json:"brazilianCelebrity,omitempty"`
	InternationalCelebrity string   `json:"internationalCelebrity,omitempty"`
}

func (r Result) Teaser() Teaser {
	teaser := Teaser{
		MBTI:         r.MBTI,
		PassionScore: r.Compatibility.PassionScore,
		IdealColor:   r.Compatibility.IdealColor,
	}
	if r.Celebrities.Brazilian != nil {
		teaser.BrazilianCelebrity = r.Celebrities.Brazilian.Name
	}
	if r.Celebrities.International != nil {
		teaser.InternationalCelebrity = r.Celebrities.International.Name
	}
	return teaser
}

type StatusCounts struct {
	Total      int64
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
}
