// forgectl is a one-shot CLI: seed -> themed session -> all variations
// materialized -> portable style guide written to disk.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"styleforge/internal/artifact"
	"styleforge/internal/config"
	"styleforge/internal/engine"
	"styleforge/internal/llmclient"
	"styleforge/internal/model"
	"styleforge/internal/portable"
	"styleforge/internal/session"
	"styleforge/internal/styles"
)

func main() {
	seedText := flag.String("seed", "", "seed text describing the desired vibe")
	seedImage := flag.String("seed-image", "", "path to a seed image (png/jpeg/webp)")
	out := flag.String("out", "style-guide.html", "output path for the exported guide")
	model := flag.String("model", "", "Gemini model id (overrides STYLEFORGE_MODEL)")
	fake := flag.Bool("fake", false, "use the canned offline client instead of Gemini")
	save := flag.String("save", "", "also save the finished session under this style name")
	upload := flag.Bool("upload", false, "upload the guide to object storage when configured")
	flag.Parse()

	if *seedText == "" && *seedImage == "" {
		log.Fatal("-seed or -seed-image is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
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
	llm = llmclient.Wrap(llm, llmclient.RateLimitFromEnv())
	defer llm.Close()

	seed := engine.Seed{Text: strings.TrimSpace(*seedText)}
	if *seedImage != "" {
		data, err := os.ReadFile(*seedImage)
		if err != nil {
			log.Fatal(err)
		}
		seed.Image = &llmclient.ImagePayload{MIMEType: mimeFor(*seedImage), Data: data}
	}

	store := session.NewStore()
	opts := engine.Options{
		MaxRetries:   cfg.Engine.MaxRetries,
		BackoffBase:  cfg.Engine.BackoffBase,
		RequestDelay: cfg.Engine.RequestDelay,
	}
	eng := engine.New(store, llm, opts, progressObserver{})
	orch := engine.NewOrchestrator(store, llm, eng, opts)

	sess, err := orch.CreateSession(ctx, seed)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("session %s: theme %q, %d modules", sess.ID, sess.StyleTheme, len(sess.Architecture))

	if err := orch.MaterializeAll(ctx, sess.ID); err != nil {
		log.Printf("some variations failed: %v", err)
	}

	sess, ok := store.Get(sess.ID)
	if !ok {
		log.Fatal("session disappeared")
	}
	doc, err := portable.Export(sess)
	if err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile(*out, doc, 0o644); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %s (%d bytes)", *out, len(doc))

	if *upload && cfg.Artifact.Enabled {
		s3, err := artifact.NewS3Store(artifact.S3Config{
			Endpoint:  cfg.Artifact.Endpoint,
			Region:    cfg.Artifact.Region,
			AccessKey: cfg.Artifact.AccessKey,
			SecretKey: cfg.Artifact.SecretKey,
			Bucket:    cfg.Artifact.Bucket,
			UseSSL:    cfg.Artifact.UseSSL,
		})
		if err != nil {
			log.Fatal(err)
		}
		key, err := s3.PutGuide(ctx, sess.ID, doc)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("uploaded %s", key)
	}

	if *save != "" {
		stylesStore := styles.NewFromConfig(cfg.Styles.Path, cfg.Styles.PGDSN)
		defer stylesStore.Close()
		if err := stylesStore.Save(ctx, *save, sess); err != nil {
			log.Fatal(err)
		}
		log.Printf("saved style %q", *save)
	}
}

type progressObserver struct{}

func (progressObserver) VariationUpdated(sessionID string, v model.ComponentVariation) {
	switch v.Status {
	case model.StatusComplete:
		log.Printf("  %s: complete (%d bytes)", v.ComponentID, len(v.HTML))
	case model.StatusError:
		log.Printf("  %s: error: %s", v.ComponentID, v.Error)
	}
}

func mimeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/png"
	}
}
