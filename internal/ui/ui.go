package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/bz888/labchain-ml/internal/api"
	"github.com/bz888/labchain-ml/internal/logger"
	"github.com/bz888/labchain-ml/internal/protocol"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const requestTimeout = 30 * time.Second

type UI struct {
	app          *tview.Application
	client       *api.Client
	log          *logger.Logger
	debugConsole *tview.TextView
	textView     *tview.TextView
	textArea     *tview.TextArea
	mainFlex     *tview.Flex

	mu           sync.Mutex
	debugShown   bool
	experimentID string
}

func New(client *api.Client, dev bool) *UI {
	u := &UI{
		app:        tview.NewApplication(),
		client:     client,
		log:        logger.NewNop(),
		debugShown: dev,
	}
	u.app.EnablePaste(true)
	u.app.EnableMouse(true)

	u.debugConsole = u.newTextView("Debugger")
	u.textView = u.newTextView("Protocol")
	u.textView.SetScrollable(true)

	u.textArea = tview.NewTextArea()
	u.textArea.SetTitle("Raw protocol text").SetBorder(true)
	return u
}

func (u *UI) newTextView(title string) *tview.TextView {
	view := tview.NewTextView().
		SetChangedFunc(func() {
			u.app.Draw()
		}).
		SetDynamicColors(true).
		SetRegions(true).
		SetWordWrap(true)
	view.SetTitle(title).SetBorder(true)
	view.ScrollToEnd()
	return view
}

// DebugConsole is the sink for the logger while the TUI owns the terminal.
func (u *UI) DebugConsole() io.Writer {
	return u.debugConsole
}

func (u *UI) SetLogger(l *logger.Logger) {
	u.log = l.WithTag("views")
}

func (u *UI) Run() error {
	u.textView.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEnter {
			u.app.SetFocus(u.textArea)
		}
		return event
	})

	subFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(u.textView, 0, 1, false).
		AddItem(u.textArea, 8, 2, true)
	u.mainFlex = tview.NewFlex().
		AddItem(subFlex, 0, 2, false)
	if u.debugShown {
		u.mainFlex.AddItem(u.debugConsole, 0, 1, false)
	}

	u.setInputCapture()
	fmt.Fprintf(u.textView, "Type protocol text and press Enter. /help lists commands.\n\n")

	return u.app.SetRoot(u.mainFlex, true).SetFocus(u.textArea).Run()
}

func (u *UI) setInputCapture() {
	u.textArea.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyESC:
			if u.textView.GetText(false) != "" {
				u.app.SetFocus(u.textView)
			}
			return event
		case tcell.KeyEnter:
		default:
			return event
		}

		content := u.textArea.GetText()
		if strings.TrimSpace(content) == "" {
			return nil
		}
		u.textArea.SetText("", true)

		if cmd, arg, ok := parseCommand(content); ok {
			u.runCommand(cmd, arg)
			return nil
		}

		u.textArea.SetDisabled(true)
		go func() {
			u.standardize(content)
			u.app.QueueUpdateDraw(func() {
				u.textArea.SetDisabled(false)
			})
		}()
		return nil
	})
}

func (u *UI) runCommand(cmd, arg string) {
	switch cmd {
	case "/help":
		fmt.Fprint(u.textView, helpText)
	case "/bye", "/quit", "/exit":
		fmt.Fprintf(u.textView, "Bye bye\n")
		u.log.Info("Shutting down gracefully")
		u.app.Stop()
	case "/debug":
		u.toggleDebugConsole()
	case "/health":
		go u.health()
	case "/experiment":
		u.mu.Lock()
		u.experimentID = arg
		u.mu.Unlock()
		if arg == "" {
			fmt.Fprintf(u.textView, "\nExperiment cleared\n\n")
		} else {
			fmt.Fprintf(u.textView, "\nUsing experiment: %s\n\n", tview.Escape(arg))
		}
	default:
		fmt.Fprintf(u.textView, "\n[red::]Unknown command %s[-], try /help\n\n", tview.Escape(cmd))
	}
}

func (u *UI) standardize(content string) {
	u.mu.Lock()
	experimentID := u.experimentID
	u.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	u.log.Info("Standardize request", "chars", len(content), "experiment_id", experimentID)
	res, err := u.client.Standardize(ctx, content, experimentID)
	u.app.QueueUpdateDraw(func() {
		fmt.Fprintf(u.textView, "[red::]You:[-]\n%s\n\n", tview.Escape(content))
		if err != nil {
			u.log.Error("Standardize failed", "error", err)
			fmt.Fprintf(u.textView, "[red::]Error:[-] %s\n\n", tview.Escape(err.Error()))
			return
		}
		fmt.Fprint(u.textView, formatResult(res))
	})
}

func (u *UI) health() {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	h, err := u.client.Health(ctx)
	u.app.QueueUpdateDraw(func() {
		if err != nil {
			u.log.Warn("Health check failed", "error", err)
			fmt.Fprintf(u.textView, "\n[red::]Server unreachable:[-] %s\n\n", tview.Escape(err.Error()))
			return
		}
		fmt.Fprintf(u.textView, "\n%s: %s\n\n", h.Service, h.Status)
	})
}

func (u *UI) toggleDebugConsole() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.debugShown {
		u.mainFlex.RemoveItem(u.debugConsole)
		fmt.Fprintf(u.textView, "\nDebug console disabled\n")
	} else {
		u.mainFlex.AddItem(u.debugConsole, 0, 1, false)
		fmt.Fprintf(u.textView, "\nDebug console enabled\n")
	}
	u.debugShown = !u.debugShown
}

// parseCommand splits "/cmd arg..." input. Text not starting with a slash
// is protocol text, not a command.
func parseCommand(input string) (cmd, arg string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") || strings.Contains(input, "\n") {
		return "", "", false
	}
	cmd, arg, _ = strings.Cut(input, " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg), true
}

func formatResult(res protocol.Result) string {
	var b strings.Builder
	b.WriteString("[green::]Protocol:[-]\n")
	if len(res.Protocol.Steps) == 0 {
		b.WriteString("  (no steps)\n")
	}
	for _, step := range res.Protocol.Steps {
		fmt.Fprintf(&b, "  %d. %s\n", step.Order+1, tview.Escape(step.Content))
	}

	fmt.Fprintf(&b, "[::d]confidence %.2f", res.Confidence)
	if id := res.Protocol.Metadata.ExperimentID; id != nil {
		fmt.Fprintf(&b, ", experiment %s", tview.Escape(*id))
	}
	if ts := res.Protocol.Metadata.Timestamp; ts != "" {
		fmt.Fprintf(&b, ", %s", ts)
	}
	b.WriteString("[-:-:-]\n\n")
	return b.String()
}

const helpText = `
Here are some commands you can use:
- /help: Display this help message
- /bye: Exit the application
- /debug: Toggle the debug console
- /health: Check the ml-server
- /experiment <id>: Tag requests with an experiment id, no id clears it

`
