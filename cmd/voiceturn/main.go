package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lumenlearn/voiceturn/internal/config"
	"github.com/lumenlearn/voiceturn/internal/engine"
	"github.com/lumenlearn/voiceturn/internal/httpapi"
	"github.com/lumenlearn/voiceturn/internal/observability"
	"github.com/lumenlearn/voiceturn/internal/prefs"
	"github.com/lumenlearn/voiceturn/internal/session"
	"github.com/lumenlearn/voiceturn/internal/synth"
	"github.com/lumenlearn/voiceturn/internal/ux"
)

func main() {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	window := observability.NewStageWindow(256)

	ctx := context.Background()
	prefsStore, err := prefs.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("preferences store init failed: %v", err)
	}
	defer prefsStore.Close()
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Printf("preferences store: in-memory")
	} else {
		log.Printf("preferences store: postgres")
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	gen := ux.NewGenerator(nil)
	synthesizer := synth.NewReliableSynthesizer(
		synth.NewMockSynthesizer(cfg.SampleRate),
		synth.NewFillerSource(gen, cfg.SampleRate),
		synth.ReliableConfig{Timeout: cfg.SynthesisTimeout},
	)

	eng := engine.New(cfg, sessions, prefsStore, metrics, window, synthesizer, tutorResponder(gen), gen)

	api := httpapi.New(cfg, sessions, eng, prefsStore, metrics, window)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

var tutorTemplates = map[string]string{
	"en": "%s You said: %s. Let's look at that together.",
	"es": "%s Dijiste: %s. Vamos a verlo juntos.",
	"ru": "%s Вы сказали: %s. Давайте разберём это вместе.",
}

// tutorResponder is the built-in reply source. It acknowledges the learner's
// turn and restates it, which keeps the conversation loop exercisable without
// an external dialogue backend.
func tutorResponder(gen *ux.Generator) engine.Responder {
	return engine.ResponderFunc(func(_ context.Context, _, userText, lang string) (string, error) {
		tmpl, ok := tutorTemplates[lang]
		if !ok {
			tmpl = tutorTemplates["en"]
		}
		lead := gen.NaturalResponse("waiting_filler", lang)
		return fmt.Sprintf(tmpl, lead, strings.TrimSpace(userText)), nil
	})
}
