package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Job stage names shared by pipelines and the SSE bridge.
const (
	StageParse                = "parse"
	StageChunk                = "chunk"
	StageEmbed                = "embed"
	StageStoreVectors         = "store_vectors"
	StageSummarizeNarratives  = "summarize_narratives"
	StageSynthesizeStructured = "synthesize_structured"
	StagePrepareContext       = "prepare_context"
	StageGenerateArtifact     = "generate_artifact"
)

// Job is the durable ledger row for one pipeline execution. Exactly one of
// the four owner fields is non-null (repository guard + check constraint).
type Job struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"job_id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	JobType string `gorm:"column:job_type;not null;index" json:"job_type"`

	// Owner fields: exactly one non-null.
	ExtractionID      *uuid.UUID `gorm:"type:uuid;column:extraction_id;index" json:"extraction_id,omitempty"`
	DocumentID        *uuid.UUID `gorm:"type:uuid;column:document_id;index" json:"document_id,omitempty"`
	WorkflowRunID     *uuid.UUID `gorm:"type:uuid;column:workflow_run_id;index" json:"workflow_run_id,omitempty"`
	TemplateFillRunID *uuid.UUID `gorm:"type:uuid;column:template_fill_run_id;index" json:"template_fill_run_id,omitempty"`

	Status          string         `gorm:"column:status;not null;default:queued;index" json:"status"`
	CurrentStage    string         `gorm:"column:current_stage" json:"current_stage,omitempty"`
	ProgressPercent int            `gorm:"column:progress_percent;not null;default:0" json:"progress_percent"`
	Message         string         `gorm:"column:message" json:"message,omitempty"`
	Details         datatypes.JSON `gorm:"type:jsonb;column:details" json:"details,omitempty"`

	// Per-stage completion flags.
	ParsingCompleted     bool `gorm:"column:parsing_completed;not null;default:false" json:"parsing_completed"`
	ChunkingCompleted    bool `gorm:"column:chunking_completed;not null;default:false" json:"chunking_completed"`
	EmbeddingCompleted   bool `gorm:"column:embedding_completed;not null;default:false" json:"embedding_completed"`
	StoringCompleted     bool `gorm:"column:storing_completed;not null;default:false" json:"storing_completed"`
	SummarizingCompleted bool `gorm:"column:summarizing_completed;not null;default:false" json:"summarizing_completed"`
	SynthesisCompleted   bool `gorm:"column:synthesis_completed;not null;default:false" json:"synthesis_completed"`

	// Durable intermediate artifact keys, recorded per stage for resume.
	RawTextPath         string `gorm:"column:raw_text_path" json:"raw_text_path,omitempty"`
	ChunksPath          string `gorm:"column:chunks_path" json:"chunks_path,omitempty"`
	SummariesPath       string `gorm:"column:summaries_path" json:"summaries_path,omitempty"`
	CombinedContextPath string `gorm:"column:combined_context_path" json:"combined_context_path,omitempty"`
	RawResponsePath     string `gorm:"column:raw_response_path" json:"raw_response_path,omitempty"`

	ErrorStage       string `gorm:"column:error_stage" json:"error_stage,omitempty"`
	ErrorMessage     string `gorm:"column:error_message" json:"error_message,omitempty"`
	ErrorType        string `gorm:"column:error_type" json:"error_type,omitempty"`
	ErrorIsRetryable bool   `gorm:"column:error_is_retryable;not null;default:false" json:"error_is_retryable"`

	Attempts    int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`

	Payload datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload,omitempty"`

	CreatedAt   time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;default:now()" json:"updated_at"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (Job) TableName() string { return "job" }

// OwnerCount reports how many owner fields are set. Valid jobs have exactly 1.
func (j *Job) OwnerCount() int {
	n := 0
	for _, id := range []*uuid.UUID{j.ExtractionID, j.DocumentID, j.WorkflowRunID, j.TemplateFillRunID} {
		if id != nil && *id != uuid.Nil {
			n++
		}
	}
	return n
}

// ResumeArtifactPath returns the artifact key the failed stage would resume
// from, or "" when the job is only restartable by full re-upload.
func (j *Job) ResumeArtifactPath() string {
	switch j.ErrorStage {
	case StageSynthesizeStructured, StageGenerateArtifact:
		return j.CombinedContextPath
	case StageSummarizeNarratives, StageEmbed, StagePrepareContext:
		return j.ChunksPath
	case StageStoreVectors:
		return j.ChunksPath
	case StageChunk:
		return j.RawTextPath
	default:
		return ""
	}
}
