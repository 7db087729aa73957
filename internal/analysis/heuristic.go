package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tidewater.systems/callintake/internal/bulkimport"
)

// Heuristic is the offline fallback classifier. It scans the transcript for
// keyword families and emits a result tagged with the fixed heuristic
// confidence and notes marker so downstream consumers can tell it apart from
// engine output.
type Heuristic struct{}

var _ Engine = Heuristic{}

var categoryKeywords = map[string][]string{
	"pricing":      {"price", "pricing", "cost", "quote", "estimate", "how much"},
	"scheduling":   {"schedule", "appointment", "consultation", "book", "available", "reschedule"},
	"billing":      {"invoice", "bill", "billing", "refund", "charge", "payment"},
	"support":      {"problem", "issue", "broken", "not working", "complaint", "fix"},
	"new business": {"interested", "services", "first time", "referred", "heard about"},
}

var objectionKeywords = map[string][]string{
	"price":      {"too expensive", "can't afford", "cheaper", "over budget", "costs too much"},
	"timing":     {"not right now", "call back later", "too busy", "next month", "bad time"},
	"competitor": {"other company", "another quote", "competitor", "shopping around"},
	"trust":      {"not sure about", "never heard of", "reviews", "guarantee"},
}

var overcomeCues = []string{
	"what if we", "we can offer", "i understand, but", "let me explain",
	"we could work with", "flexible", "discount",
}

var consultCues = []string{
	"booked", "scheduled you", "see you on", "confirmed your appointment",
	"put you down for",
}

var titler = cases.Title(language.English)

func (Heuristic) Analyze(_ context.Context, transcript, _ string) (*Result, error) {
	lower := strings.ToLower(transcript)

	category, matched := bestCategory(lower)
	callType := "inquiry"
	if category == "Scheduling" {
		callType = "consultation"
	}

	consult := false
	for _, cue := range consultCues {
		if strings.Contains(lower, cue) {
			consult = true
			break
		}
	}

	var objections []Objection
	var overcomes []Overcome
	for _, typ := range sortedKeys(objectionKeywords) {
		for _, kw := range objectionKeywords[typ] {
			if !strings.Contains(lower, kw) {
				continue
			}
			objections = append(objections, Objection{
				Type:       typ,
				Text:       kw,
				Confidence: bulkimport.HeuristicConfidence,
			})
			break
		}
	}
	if len(objections) > 0 {
		for _, cue := range overcomeCues {
			if strings.Contains(lower, cue) {
				overcomes = append(overcomes, Overcome{
					ObjectionIndex: 0,
					Method:         "verbal reassurance",
					Quote:          cue,
					Confidence:     bulkimport.HeuristicConfidence,
				})
				break
			}
		}
	}

	notes := bulkimport.HeuristicNotesMarker
	if len(matched) > 0 {
		notes = fmt.Sprintf("%s: matched %s", bulkimport.HeuristicNotesMarker, strings.Join(matched, ", "))
	}

	return &Result{
		Category:          category,
		CallType:          callType,
		Confidence:        bulkimport.HeuristicConfidence,
		Notes:             notes,
		ConsultScheduled:  consult,
		ObjectionDetected: len(objections) > 0,
		Objections:        objections,
		Overcomes:         overcomes,
	}, nil
}

// bestCategory returns the title-cased label of the category with the most
// keyword hits, plus the keywords that matched. Ties break alphabetically so
// the result is stable; no hits at all yields "General Inquiry".
func bestCategory(lower string) (string, []string) {
	best := ""
	bestHits := 0
	var bestMatched []string
	for _, cat := range sortedKeys(categoryKeywords) {
		hits := 0
		var matched []string
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(lower, kw) {
				hits++
				matched = append(matched, kw)
			}
		}
		if hits > bestHits {
			best, bestHits, bestMatched = cat, hits, matched
		}
	}
	if best == "" {
		return "General Inquiry", nil
	}
	return titler.String(best), bestMatched
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
