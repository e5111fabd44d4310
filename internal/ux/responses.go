package ux

import (
	"math/rand"
	"sync"
	"time"
)

// phraseBank holds per-language response templates. en is the fallback arm
// for unsupported languages; every key must have an en entry.
var phraseBank = map[string]map[string][]string{
	"interruption_ack": {
		"en": {
			"Oh, go ahead.",
			"Sorry, you first.",
			"Yes? I'm listening.",
			"Of course, what's on your mind?",
		},
		"es": {
			"Ah, adelante.",
			"Perdón, tú primero.",
			"¿Sí? Te escucho.",
			"Claro, dime.",
		},
		"ru": {
			"Да, слушаю.",
			"Конечно, говорите.",
			"Извините, продолжайте.",
		},
	},
	"continuation_offer": {
		"en": {
			"Want me to pick up where I left off?",
			"Should I continue what I was explaining?",
		},
		"es": {
			"¿Quieres que continúe donde lo dejé?",
			"¿Sigo con la explicación?",
		},
		"ru": {
			"Продолжить с того места, где я остановился?",
			"Хотите, чтобы я продолжил объяснение?",
		},
	},
	"choice_continue": {
		"en": {"Continue where we left off"},
		"es": {"Continuar donde quedamos"},
		"ru": {"Продолжить с этого места"},
	},
	"choice_restart": {
		"en": {"Start the explanation over"},
		"es": {"Empezar la explicación de nuevo"},
		"ru": {"Начать объяснение заново"},
	},
	"choice_new_topic": {
		"en": {"Move to something else"},
		"es": {"Pasar a otro tema"},
		"ru": {"Перейти к другой теме"},
	},
	"choice_finish": {
		"en": {"Finish for now"},
		"es": {"Terminar por ahora"},
		"ru": {"Закончить на этом"},
	},
	"error_apology": {
		"en": {
			"Sorry, something went wrong on my end. Let's try that again.",
			"I hit a snag there. One moment.",
		},
		"es": {
			"Perdón, algo salió mal. Intentémoslo de nuevo.",
			"Tuve un problema, un momento.",
		},
		"ru": {
			"Извините, что-то пошло не так. Давайте попробуем ещё раз.",
			"Небольшая заминка, секунду.",
		},
	},
	"error_recurring": {
		"en": {"I'm having repeated trouble with audio. We can keep going in text if that's easier."},
		"es": {"Sigo teniendo problemas con el audio. Podemos continuar por texto si prefieres."},
		"ru": {"У меня повторяются проблемы со звуком. Можем продолжить текстом."},
	},
	"help_pacing": {
		"en": {"I notice I keep getting cut off. Would shorter answers work better?"},
		"es": {"Veo que me interrumpes seguido. ¿Prefieres respuestas más cortas?"},
		"ru": {"Похоже, я говорю слишком длинно. Отвечать короче?"},
	},
	"help_clarification": {
		"en": {"Let me try explaining that a different way."},
		"es": {"Déjame explicarlo de otra manera."},
		"ru": {"Давайте я объясню по-другому."},
	},
	"help_emotional_support": {
		"en": {"This can be frustrating. Let's slow down and take it one step at a time."},
		"es": {"Esto puede ser frustrante. Vamos paso a paso."},
		"ru": {"Понимаю, это непросто. Давайте разберём по шагам."},
	},
	"help_reengagement": {
		"en": {"Still with me? We can jump back in wherever you like."},
		"es": {"¿Sigues ahí? Podemos retomar donde quieras."},
		"ru": {"Вы ещё здесь? Можем продолжить с любого места."},
	},
	"help_calming": {
		"en": {"I hear you. Let me address that directly."},
		"es": {"Te escucho. Voy directo al punto."},
		"ru": {"Я вас слышу. Перейду сразу к делу."},
	},
	"help_general": {
		"en": {"Is there something I can clarify?"},
		"es": {"¿Hay algo que pueda aclarar?"},
		"ru": {"Могу я что-то уточнить?"},
	},
	"waiting_filler": {
		"en": {"Let me think about that for a second.", "Good question, give me a moment."},
		"es": {"Déjame pensarlo un segundo.", "Buena pregunta, un momento."},
		"ru": {"Секунду, подумаю.", "Хороший вопрос, минутку."},
	},
}

// Generator selects natural-language responses with light randomized
// variation. The random source is injected so tests are deterministic, and
// the anti-repetition cache is an owned, bounded state object rather than a
// package global.
type Generator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	cache *phraseCache
}

func NewGenerator(rng *rand.Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{
		rng:   rng,
		cache: newPhraseCache(64),
	}
}

// NaturalResponse returns a phrase for the context key in the requested
// language, avoiding back-to-back repetition of the same variant.
// Unsupported languages fall back to the English bank rather than failing.
func (g *Generator) NaturalResponse(key, lang string) string {
	bank, ok := phraseBank[key]
	if !ok {
		return ""
	}
	phrases, ok := bank[lang]
	if !ok || len(phrases) == 0 {
		phrases = bank["en"]
	}
	if len(phrases) == 0 {
		return ""
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	idx := g.rng.Intn(len(phrases))
	if len(phrases) > 1 {
		if last, ok := g.cache.get(key + "/" + lang); ok && last == idx {
			idx = (idx + 1) % len(phrases)
		}
	}
	g.cache.put(key+"/"+lang, idx)
	return phrases[idx]
}

// SupportedLanguages lists the languages with native phrase banks.
func SupportedLanguages() []string {
	return []string{"en", "es", "ru"}
}

// phraseCache remembers the last variant served per key, bounded by evicting
// the least-accessed entry once full.
type phraseCache struct {
	max     int
	entries map[string]*phraseCacheEntry
}

type phraseCacheEntry struct {
	value    int
	accesses int
}

func newPhraseCache(max int) *phraseCache {
	if max <= 0 {
		max = 64
	}
	return &phraseCache{max: max, entries: make(map[string]*phraseCacheEntry)}
}

func (c *phraseCache) get(key string) (int, bool) {
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	e.accesses++
	return e.value, true
}

func (c *phraseCache) put(key string, value int) {
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.accesses++
		return
	}
	if len(c.entries) >= c.max {
		c.evictColdest()
	}
	c.entries[key] = &phraseCacheEntry{value: value, accesses: 1}
}

func (c *phraseCache) evictColdest() {
	coldKey := ""
	coldCount := -1
	for k, e := range c.entries {
		if coldCount == -1 || e.accesses < coldCount {
			coldKey, coldCount = k, e.accesses
		}
	}
	if coldKey != "" {
		delete(c.entries, coldKey)
	}
}
