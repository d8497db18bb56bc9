package api

import (
	"time"

	"github.com/MrWong99/mockview/internal/interview"
	"github.com/MrWong99/mockview/pkg/provider/stt"
)

// StartRequest describes the interview to create.
type StartRequest struct {
	Role            string   `json:"role"`
	ExperienceLevel string   `json:"experience_level,omitempty"`
	Skills          []string `json:"skills,omitempty"`
	QuestionCount   int      `json:"question_count,omitempty"`
}

// StartResponse identifies a newly created interview.
type StartResponse struct {
	InterviewID string `json:"interview_id"`
	Status      string `json:"status"`

	// SocketURL overrides the configured socket base when set.
	SocketURL string `json:"websocket_url,omitempty"`
}

// Status is the server-side state of one interview.
type Status struct {
	InterviewID     string              `json:"interview_id"`
	Status          string              `json:"status"`
	Role            string              `json:"role,omitempty"`
	CurrentQuestion *interview.Question `json:"current_question,omitempty"`
	Progress        interview.Progress  `json:"progress"`
	Completed       bool                `json:"is_completed"`
}

// TranscriptionToken is a short-lived credential for the speech provider.
type TranscriptionToken struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// Credential converts t into a provider credential issued at now.
func (t TranscriptionToken) Credential(now time.Time) stt.Credential {
	c := stt.Credential{Kind: stt.CredentialToken, Value: t.Token}
	if t.ExpiresIn > 0 {
		c.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return c
}

// QuestionReport is the per-question section of a report.
type QuestionReport struct {
	QuestionID string  `json:"question_id"`
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Score      float64 `json:"score"`
	Feedback   string  `json:"feedback"`
}

// Report is the final assessment of a completed interview.
type Report struct {
	InterviewID  string           `json:"interview_id"`
	Status       string           `json:"status"`
	OverallScore float64          `json:"overall_score"`
	Summary      string           `json:"summary"`
	Strengths    []string         `json:"strengths"`
	Weaknesses   []string         `json:"weaknesses"`
	Questions    []QuestionReport `json:"questions"`
}

// InterviewSummary is one row of the interview history.
type InterviewSummary struct {
	InterviewID  string    `json:"interview_id"`
	Role         string    `json:"role"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	OverallScore *float64  `json:"overall_score,omitempty"`
}
