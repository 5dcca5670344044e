package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/zhouzirui/freibot/backend/internal/model/document"
	"github.com/zhouzirui/freibot/backend/internal/service/rag"
)

const helpText = `Befehle:
  help, h          Diese Hilfe anzeigen
  quit, exit, q    Beenden

Beispielfragen:
  Wie hat sich die Einwohnerzahl Freiburgs entwickelt?
  Was sagt der Sozialbericht über die Stadtteile?
  Welche Ergebnisse hatte die letzte Bürgerumfrage?`

// converser is the part of the conversation service the terminal uses.
type converser interface {
	Converse(ctx context.Context, sessionID, question string) (*rag.Answer, string, error)
}

// cliSession keeps one conversation for the lifetime of the process.
type cliSession struct {
	conv      converser
	out       io.Writer
	sessionID string
}

func newCLISession(conv converser, out io.Writer) *cliSession {
	return &cliSession{conv: conv, out: out, sessionID: "cli-" + uuid.NewString()}
}

func (s *cliSession) ask(ctx context.Context, question string) error {
	fmt.Fprintln(s.out, "🔎 Durchsuche die Dokumente ...")
	ans, id, err := s.conv.Converse(ctx, s.sessionID, question)
	s.sessionID = id
	if err != nil {
		if errors.Is(err, rag.ErrEmptyIndex) {
			return errors.New("keine Dokumente indexiert, bitte zuerst --process-docs ausführen")
		}
		return err
	}

	fmt.Fprintf(s.out, "\n💡 Antwort:\n%s\n", ans.Answer)
	printSources(s.out, ans.Sources)
	return nil
}

// loop reads questions from in until EOF or a quit command.
func (s *cliSession) loop(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(s.out, "Stellen Sie Ihre Frage zu Freiburg. 'help' zeigt die Befehle, 'quit' beendet.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "\n🤔 Ihre Frage: ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out, "\n👋 Auf Wiedersehen!")
			return scanner.Err()
		}

		question := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(question) {
		case "":
			continue
		case "quit", "exit", "q":
			fmt.Fprintln(s.out, "👋 Auf Wiedersehen!")
			return nil
		case "help", "h":
			fmt.Fprintln(s.out, helpText)
			continue
		}

		if err := s.ask(ctx, question); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(s.out, "❌ Fehler: %v\n", err)
		}
	}
}

func printSources(out io.Writer, sources []document.SourceCitation) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(out, "\n📚 Quellen:")
	for i, src := range sources {
		fmt.Fprintf(out, "  %d. %s (%s)\n", i+1, src.Title, src.Year)
		fmt.Fprintf(out, "     Typ: %s, Seite: %s\n", src.DocumentType, src.Page)
	}
}
