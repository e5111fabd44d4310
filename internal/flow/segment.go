package flow

import (
	"strings"
	"time"
	"unicode"
)

// Segment is one sentence-level chunk of a response, independently timed
// and deliverable.
type Segment struct {
	Index             int           `json:"index"`
	Text              string        `json:"text"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
}

// speakingRateWPS approximates a natural tutoring speech rate.
const speakingRateWPS = 2.5

const minSegmentDuration = time.Second

// Common abbreviations that end with a period mid-sentence. Lowercased,
// without the trailing dot.
var abbreviations = map[string]bool{
	"mr":   true,
	"mrs":  true,
	"ms":   true,
	"dr":   true,
	"prof": true,
	"sr":   true,
	"jr":   true,
	"st":   true,
	"vs":   true,
	"etc":  true,
	"e.g":  true,
	"i.e":  true,
	"fig":  true,
	"approx": true,
}

// SegmentText splits response text into sentence-level segments on .!?
// boundaries, keeping original punctuation and avoiding false splits on
// abbreviations and decimal numbers.
func SegmentText(text string) []Segment {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var segments []Segment
	start := 0
	i := 0
	for i < len(runes) {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			i++
			continue
		}

		if r == '.' && !isSentenceBoundary(runes, i) {
			i++
			continue
		}

		// Swallow runs of terminal punctuation ("?!", "...").
		end := i
		for end+1 < len(runes) {
			n := runes[end+1]
			if n == '.' || n == '!' || n == '?' {
				end++
				continue
			}
			break
		}

		raw := strings.TrimSpace(string(runes[start : end+1]))
		if raw != "" {
			segments = append(segments, newSegment(len(segments), raw))
		}
		i = end + 1
		start = i
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		segments = append(segments, newSegment(len(segments), tail))
	}
	return segments
}

func newSegment(index int, text string) Segment {
	return Segment{
		Index:             index,
		Text:              text,
		EstimatedDuration: EstimateSpeechDuration(text),
	}
}

// EstimateSpeechDuration derives an estimated speaking time from word count
// at a constant rate, with a floor so short segments still get airtime.
func EstimateSpeechDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		return minSegmentDuration
	}
	d := time.Duration(float64(words) / speakingRateWPS * float64(time.Second))
	if d < minSegmentDuration {
		return minSegmentDuration
	}
	return d
}

// isSentenceBoundary reports whether the period at runes[i] ends a sentence.
func isSentenceBoundary(runes []rune, i int) bool {
	// A sentence-ending period is followed by whitespace, closing
	// punctuation, more terminal punctuation, or end of text. Anything else
	// ("e.g.", URLs, version numbers) continues the sentence.
	if i+1 < len(runes) {
		switch n := runes[i+1]; {
		case unicode.IsSpace(n):
		case n == '"' || n == '\'' || n == ')' || n == ']':
		case n == '.' || n == '!' || n == '?':
		default:
			return false
		}
	}

	// Decimal number: digit on both sides.
	if i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
		return false
	}

	// Abbreviation: the word immediately before the period matches a known
	// abbreviation (possibly with internal dots, like "e.g").
	word := wordBefore(runes, i)
	if word != "" && abbreviations[strings.ToLower(word)] {
		return false
	}

	// Single capital initial ("J. Smith").
	if len(word) == 1 && unicode.IsUpper([]rune(word)[0]) {
		return false
	}

	return true
}

func wordBefore(runes []rune, i int) string {
	end := i
	start := end
	for start > 0 {
		r := runes[start-1]
		if unicode.IsLetter(r) || r == '.' {
			start--
			continue
		}
		break
	}
	w := string(runes[start:end])
	return strings.Trim(w, ".")
}
