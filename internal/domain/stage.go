package domain

// Stage is an element of the strictly-ordered progression a job's
// checkpoint moves through. Index order is the source of truth for
// is_stage_completed comparisons; never compare stage strings directly.
type Stage string

const (
	StageInitialized         Stage = "initialized"
	StageDownloaded          Stage = "downloaded"
	StageAnalyzed            Stage = "analyzed"
	StageThumbnailsGenerated Stage = "thumbnails_generated"
	StageTranscoded          Stage = "transcoded"
	StageUploaded            Stage = "uploaded"
	StageCompleted           Stage = "completed"
	// StageFailed is a sibling terminal stage reachable from any
	// non-completed stage; it has no position in the strict order.
	StageFailed Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageInitialized:         0,
	StageDownloaded:          1,
	StageAnalyzed:            2,
	StageThumbnailsGenerated: 3,
	StageTranscoded:          4,
	StageUploaded:            5,
	StageCompleted:           6,
}

// StageIndex returns the position of s in the strict order, or -1 for the
// terminal StageFailed sibling, which has no position.
func StageIndex(s Stage) int {
	if idx, ok := stageOrder[s]; ok {
		return idx
	}
	return -1
}

// IsPast reports whether stage a is strictly past stage b in the order.
// StageFailed is never past anything.
func IsPast(a, b Stage) bool {
	ai, bi := StageIndex(a), StageIndex(b)
	if ai < 0 || bi < 0 {
		return false
	}
	return ai > bi
}
