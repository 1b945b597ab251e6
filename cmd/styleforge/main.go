package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"strings"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"styleforge/internal/artifact"
	"styleforge/internal/config"
	"styleforge/internal/engine"
	"styleforge/internal/llmclient"
	"styleforge/internal/server"
	"styleforge/internal/session"
	"styleforge/internal/styles"
)

func main() {
	port := flag.String("port", "", "server port (overrides PORT)")
	model := flag.String("model", "", "Gemini model id (overrides STYLEFORGE_MODEL)")
	fake := flag.Bool("fake", false, "use the canned offline client instead of Gemini")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if *port != "" {
		cfg.Port = *port
		if !strings.HasPrefix(cfg.Port, ":") {
			cfg.Port = ":" + cfg.Port
		}
	}
	if *model != "" {
		cfg.Model = *model
	}

	ctx := context.Background()

	var llm llmclient.Client
	if *fake {
		llm = llmclient.NewFakeClient()
	} else {
		if cfg.APIKey == "" {
			log.Fatal("GEMINI_API_KEY is not set (use -fake for offline mode)")
		}
		llm, err = llmclient.NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			log.Fatal(err)
		}
	}
	llm = llmclient.Wrap(llm, llmclient.Logging(), llmclient.RateLimitFromEnv())
	defer llm.Close()

	store := session.NewStore()
	hub := server.NewHub()
	opts := engine.Options{
		MaxRetries:   cfg.Engine.MaxRetries,
		BackoffBase:  cfg.Engine.BackoffBase,
		RequestDelay: cfg.Engine.RequestDelay,
	}
	eng := engine.New(store, llm, opts, hub)
	orch := engine.NewOrchestrator(store, llm, eng, opts)

	stylesStore := styles.NewFromConfig(cfg.Styles.Path, cfg.Styles.PGDSN)
	defer stylesStore.Close()

	var guides *artifact.S3Store
	if cfg.Artifact.Enabled {
		guides, err = artifact.NewS3Store(artifact.S3Config{
			Endpoint:  cfg.Artifact.Endpoint,
			Region:    cfg.Artifact.Region,
			AccessKey: cfg.Artifact.AccessKey,
			SecretKey: cfg.Artifact.SecretKey,
			Bucket:    cfg.Artifact.Bucket,
			UseSSL:    cfg.Artifact.UseSSL,
		})
		if err != nil {
			log.Fatalf("artifact store: %v", err)
		}
		log.Printf("artifact uploads enabled (bucket %s)", cfg.Artifact.Bucket)
	}

	srv := server.New(store, orch, stylesStore, guides, hub)

	// Simple CORS middleware
	h := http.Handler(srv.BuildMux())
	h = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Vary", "Origin")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, PATCH, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
			w.Header().Set("Access-Control-Expose-Headers", "X-Styleforge-Artifact, Content-Disposition")
			if r.Method == "OPTIONS" {
				return
			}
			next.ServeHTTP(w, r)
		})
	}(h)

	log.Printf("Starting styleforge server on %s (model %s, env %s)", cfg.Port, cfg.Model, cfg.Env)
	log.Fatal(http.ListenAndServe(cfg.Port, h2c.NewHandler(h, &http2.Server{})))
}
