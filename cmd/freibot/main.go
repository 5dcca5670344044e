// Command freibot downloads, indexes and answers questions about the
// publications of the City of Freiburg from the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/zhouzirui/freibot/backend/internal/app"
	"github.com/zhouzirui/freibot/backend/internal/config"
	"github.com/zhouzirui/freibot/backend/pkg/logger"
)

type options struct {
	download    bool
	processDocs bool
	question    string
	model       string
	interactive bool
	pdfDir      string
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("freibot", flag.ContinueOnError)
	fs.BoolVar(&opts.download, "download", false, "Neue PDF-Veröffentlichungen herunterladen")
	fs.BoolVar(&opts.processDocs, "process-docs", false, "PDFs verarbeiten und den Index neu aufbauen")
	fs.StringVarP(&opts.question, "question", "q", "", "Eine einzelne Frage stellen")
	fs.StringVarP(&opts.model, "model", "m", "", "Ark-Modell (überschreibt ARK_MODEL)")
	fs.BoolVarP(&opts.interactive, "interactive", "i", false, "Interaktiver Modus")
	fs.StringVar(&opts.pdfDir, "pdf-dir", "", "Verzeichnis mit den PDF-Dateien")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	if !opts.download && !opts.processDocs && opts.question == "" {
		opts.interactive = true
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		logger.Debugf("no .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("Konfiguration konnte nicht geladen werden: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)
	if opts.model != "" {
		cfg.AI.Model = opts.model
	}
	if opts.pdfDir != "" {
		cfg.Ingest.PDFDir = opts.pdfDir
	}

	services, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer services.Close()

	out := os.Stdout

	if opts.download {
		fmt.Fprintf(out, "🌐 Lade Veröffentlichungen nach %s ...\n", cfg.Ingest.PDFDir)
		res, err := services.Download(ctx, cfg.Ingest.PDFDir)
		if err != nil {
			return fmt.Errorf("Download fehlgeschlagen: %w", err)
		}
		fmt.Fprintf(out, "✅ %d gefunden, %d heruntergeladen, %d übersprungen, %d fehlgeschlagen\n",
			res.Found, res.Downloaded, res.Skipped, len(res.Failed))
	}

	if opts.processDocs {
		fmt.Fprintln(out, "🔄 Verarbeite Dokumente ...")
		stats, err := services.Ingest(ctx, cfg.Ingest.PDFDir)
		if err != nil {
			return fmt.Errorf("Verarbeitung fehlgeschlagen: %w", err)
		}
		fmt.Fprintf(out, "✅ %d Dateien, %d Seiten, %d Textabschnitte indexiert\n", stats.Files, stats.Pages, stats.Chunks)
	}

	if opts.question == "" && !opts.interactive {
		return nil
	}

	if services.Conversation == nil {
		return errors.New("RAG-System nicht verfügbar: OPENAI_API_KEY und Ark-Zugangsdaten setzen und zuerst --process-docs ausführen")
	}

	fmt.Fprintf(out, "🧠 Modell: %s\n", cfg.AI.Model)
	session := newCLISession(services.Conversation, out)

	if opts.question != "" {
		return session.ask(ctx, opts.question)
	}
	return session.loop(ctx, os.Stdin)
}
