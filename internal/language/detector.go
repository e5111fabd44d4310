package language

import (
	"strings"
	"unicode"
)

// Detection is a best-guess language with confidence and the heuristic that
// produced it. Deliberately cheap: this runs per-utterance on the
// latency-sensitive path, so no model inference.
type Detection struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// AudioMetrics are the energy statistics available when no transcript is.
type AudioMetrics struct {
	Energy          float64 `json:"energy"`
	BackgroundNoise float64 `json:"background_noise"`
	VADThreshold    float64 `json:"vad_threshold"`
}

var spanishFunctionWords = map[string]bool{
	"el": true, "la": true, "los": true, "las": true,
	"de": true, "que": true, "es": true, "una": true, "uno": true,
	"como": true, "pero": true, "para": true, "por": true,
	"gracias": true, "hola": true, "donde": true, "cuando": true,
}

// DetectFromText applies fast script/diacritic heuristics. Empty input falls
// back to English at reduced confidence.
func DetectFromText(text string) Detection {
	text = strings.TrimSpace(text)
	if text == "" {
		return Detection{Language: "en", Confidence: 0.5, Method: "fallback"}
	}

	if containsCyrillic(text) {
		return Detection{Language: "ru", Confidence: 0.9, Method: "script"}
	}
	if hasSpanishMarkers(text) {
		return Detection{Language: "es", Confidence: 0.8, Method: "markers"}
	}
	return Detection{Language: "en", Confidence: 0.7, Method: "default"}
}

func containsCyrillic(text string) bool {
	for _, r := range text {
		if unicode.In(r, unicode.Cyrillic) {
			return true
		}
	}
	return false
}

func hasSpanishMarkers(text string) bool {
	if strings.ContainsAny(text, "¿¡ñÑ") {
		return true
	}
	for _, r := range text {
		switch r {
		case 'á', 'é', 'í', 'ó', 'ú', 'Á', 'É', 'Í', 'Ó', 'Ú', 'ü':
			return true
		}
	}

	words := strings.Fields(strings.ToLower(text))
	hits := 0
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'")
		if spanishFunctionWords[w] {
			hits++
		}
	}
	// One stray "la" in an English sentence should not flip the language.
	return hits >= 2
}

// AnalyzeAudioCharacteristics scores languages from audio statistics alone.
// It returns a score map, not a decision: callers combine it with text
// detection when the transcript is missing or very short.
func AnalyzeAudioCharacteristics(m AudioMetrics) map[string]float64 {
	scores := map[string]float64{
		"en": 0.4,
		"es": 0.3,
		"ru": 0.3,
	}

	if m.Energy <= 0 {
		return scores
	}

	// Clean, well-separated speech skews toward the session default; noisy
	// captures flatten the distribution so text detection dominates later.
	snr := m.Energy - m.BackgroundNoise
	if snr > m.VADThreshold*2 {
		scores["en"] += 0.1
	} else if snr < m.VADThreshold {
		for k := range scores {
			scores[k] = 1.0 / 3.0
		}
	}
	return scores
}

// Combine merges a text detection with audio scores, trusting text unless
// its confidence is weak.
func Combine(text Detection, audioScores map[string]float64) Detection {
	if text.Confidence >= 0.7 || len(audioScores) == 0 {
		return text
	}
	best := text.Language
	bestScore := 0.0
	for lang, s := range audioScores {
		if s > bestScore {
			best, bestScore = lang, s
		}
	}
	if best == text.Language {
		return text
	}
	return Detection{Language: best, Confidence: bestScore, Method: "audio"}
}
