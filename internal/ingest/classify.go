package ingest

import "strings"

// durableSignals are lowercase cues that a turn states something worth
// remembering: identity, preferences, or explicit corrections. Purely
// transactional turns ("thanks", "run it again") carry none of these.
var durableSignals = []string{
	"my name is",
	"call me",
	"i am ",
	"i'm ",
	"i work",
	"i live",
	"i use",
	"i prefer",
	"i like",
	"i love",
	"i hate",
	"i always",
	"i never",
	"my favorite",
	"my job",
	"my role",
	"my team",
	"my birthday",
	"actually",
	"correction",
	"not anymore",
	"from now on",
	"remember that",
	"remember my",
}

// minDurableLength filters out fragments too short to state a fact.
const minDurableLength = 8

// CarriesDurableInfo is the cheap pre-filter that decides whether a turn is
// worth the extraction call at all. It errs toward true: the extractor makes
// the final call, this only skips obvious small talk.
func CarriesDurableInfo(userText string) bool {
	text := strings.ToLower(strings.TrimSpace(userText))
	if len(text) < minDurableLength {
		return false
	}
	for _, signal := range durableSignals {
		if strings.Contains(text, signal) {
			return true
		}
	}
	return false
}
