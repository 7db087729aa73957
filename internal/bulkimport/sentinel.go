package bulkimport

import "strings"

// Transcript sentinels. While a call record's transcript equals one of these
// the transcription stage is in flight; consumers must never treat them as
// real transcript text.
const (
	SentinelProcessing   = "Processing..."
	SentinelTranscribing = "Transcribing audio..."
)

// AdvisoryCallLogSkipped is the fixed marker substring carried by the
// non-fatal "no call log present" advisory. Status consumers filter messages
// containing it out of error displays.
const AdvisoryCallLogSkipped = "call log mapping skipped"

// Heuristic fallback tagging. Every record and objection produced by the
// local keyword classifier carries exactly this confidence and a notes value
// starting with this marker, so low-trust output is distinguishable from the
// primary engine's.
const (
	HeuristicConfidence  = 0.3
	HeuristicNotesMarker = "heuristic keyword analysis"
)

// IsSentinelTranscript reports whether t is one of the in-flight placeholders.
func IsSentinelTranscript(t string) bool {
	return t == SentinelProcessing || t == SentinelTranscribing
}

// IsDegradedTranscript reports whether a final (non-sentinel) transcript is
// an error-bearing string rather than real speech text. Consumers key off
// the transcript content here, not the file status: a degraded transcript
// still advanced the transcribe stage.
func IsDegradedTranscript(t string) bool {
	if t == "" || IsSentinelTranscript(t) {
		return false
	}
	lower := strings.ToLower(t)
	return strings.Contains(lower, "timeout") || strings.Contains(lower, "error")
}

// IsAdvisoryMessage reports whether msg is a non-fatal advisory rather than a
// real error.
func IsAdvisoryMessage(msg string) bool {
	return strings.Contains(msg, AdvisoryCallLogSkipped)
}

// IsHeuristicNotes reports whether the categorization notes mark heuristic
// fallback output.
func IsHeuristicNotes(notes string) bool {
	return strings.HasPrefix(notes, HeuristicNotesMarker)
}
