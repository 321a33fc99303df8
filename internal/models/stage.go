package models

// StageName identifies one step of the fixed run pipeline.
type StageName string

// Pipeline stages in execution order
const (
	StageFetchTask     StageName = "fetch_task"
	StageAnalyzeTarget StageName = "analyze_target"
	StageDesign        StageName = "design"
	StageCode          StageName = "code"
	StageTest          StageName = "test"
	StageReview        StageName = "review"
	StagePublish       StageName = "publish"
	StageNotes         StageName = "notes"
)

// Pipeline returns the fixed stage order. The returned slice is a fresh copy.
func Pipeline() []StageName {
	return []StageName{
		StageFetchTask,
		StageAnalyzeTarget,
		StageDesign,
		StageCode,
		StageTest,
		StageReview,
		StagePublish,
		StageNotes,
	}
}

// IsSideEffecting reports whether the stage mutates the repository or a remote
// system and must therefore pass the guardrail before it runs.
func (s StageName) IsSideEffecting() bool {
	return s == StageCode || s == StagePublish
}

// Index returns the position of the stage in the pipeline, or -1 if unknown.
func (s StageName) Index() int {
	for i, name := range Pipeline() {
		if name == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s names a pipeline stage.
func (s StageName) Valid() bool {
	return s.Index() >= 0
}
