package domain

// Status values shared across entities.
const (
	StatusQueued         = "queued"
	StatusProcessing     = "processing"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusAwaitingReview = "awaiting_review"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// AllModels is the AutoMigrate list, ordered parents-first.
func AllModels() []interface{} {
	return []interface{}{
		&Document{},
		&Chunk{},
		&Collection{},
		&CollectionDocument{},
		&Session{},
		&SessionDocument{},
		&Message{},
		&Job{},
		&Extraction{},
		&Workflow{},
		&WorkflowRun{},
		&Template{},
		&TemplateFillRun{},
		&Feedback{},
	}
}
