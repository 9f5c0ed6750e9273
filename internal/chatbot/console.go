package chatbot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"StreamChat/internal/catalog"
	"StreamChat/internal/session"
)

// Console is the line-oriented terminal front end. Assistant replies are
// printed as they stream in.
type Console struct {
	ctrl   *Controller
	lister catalog.Lister
	out    io.Writer
	logger *slog.Logger

	mu       sync.Mutex
	streamID string
	printed  string
}

// NewConsole creates a console writing to out. lister is used by /reload and
// may be nil.
func NewConsole(ctrl *Controller, lister catalog.Lister, out io.Writer) *Console {
	return &Console{
		ctrl:   ctrl,
		lister: lister,
		out:    out,
		logger: ctrl.logger,
	}
}

// onChange echoes the growth of the message being streamed
func (c *Console) onChange(ch session.Change) {
	if ch.Kind != session.ChangeMessagePatched || ch.MessageID != c.ctrl.Target() {
		return
	}
	sess, ok := c.ctrl.Store().Get(ch.SessionID)
	if !ok {
		return
	}
	var text string
	for _, m := range sess.Messages {
		if m.ID == ch.MessageID {
			text = m.Text
			break
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ch.MessageID != c.streamID {
		c.streamID = ch.MessageID
		c.printed = ""
	}
	if strings.HasPrefix(text, c.printed) {
		fmt.Fprint(c.out, text[len(c.printed):])
	} else {
		// Replaced by an error marker
		fmt.Fprintf(c.out, "\n%s", text)
	}
	c.printed = text
}

// Run reads lines from in until EOF or /quit
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	unsubscribe := c.ctrl.Store().Subscribe(c.onChange)
	defer unsubscribe()

	sess, _ := c.ctrl.Store().Active()
	fmt.Fprintln(c.out, "=== StreamChat ===")
	fmt.Fprintf(c.out, "Session: %s\n", sess.ID)
	fmt.Fprintf(c.out, "Model: %s\n", c.ctrl.Catalog().DisplayName(sess.ModelID))
	if err := c.ctrl.Catalog().Err(); err != nil {
		fmt.Fprintf(c.out, "Model list unavailable: %v\n", err)
	}
	fmt.Fprintln(c.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(c.out)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.out, "You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := c.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
				c.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		fmt.Fprint(c.out, "Bot: ")
		turn, err := c.ctrl.Send(ctx, input)
		if err != nil {
			fmt.Fprintf(c.out, "\nError: %v\n", err)
			c.logger.Error("failed to send message", "error", err)
			continue
		}
		if turn.Err != nil {
			c.logger.Debug("turn ended with failure", "session_id", turn.SessionID, "error", turn.Err)
		}
		fmt.Fprint(c.out, "\n\n")
	}

	fmt.Fprintln(c.out, "Goodbye!")
	return scanner.Err()
}

func (c *Console) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		sess := c.ctrl.NewChat()
		fmt.Fprintln(c.out, "Started new chat:", sess.ID)
		return false, nil

	case "/sessions":
		active := c.ctrl.Store().ActiveID()
		fmt.Fprintln(c.out, "\nSessions:")
		for i, s := range c.ctrl.Store().List() {
			marker := " "
			if s.ID == active {
				marker = "*"
			}
			fmt.Fprintf(c.out, "%s %d. %s [%s] %s\n", marker, i+1, s.Title,
				c.ctrl.Catalog().DisplayName(s.ModelID), s.UpdatedAt.Format("15:04"))
		}
		fmt.Fprintln(c.out)
		return false, nil

	case "/switch":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /switch <number|id>")
		}
		id := parts[1]
		if n, err := strconv.Atoi(id); err == nil {
			list := c.ctrl.Store().List()
			if n < 1 || n > len(list) {
				return false, fmt.Errorf("no session number %d", n)
			}
			id = list[n-1].ID
		}
		if err := c.ctrl.SelectSession(id); err != nil {
			return false, err
		}
		sess, _ := c.ctrl.Store().Active()
		fmt.Fprintf(c.out, "Switched to %q\n", sess.Title)
		return false, nil

	case "/history":
		sess, _ := c.ctrl.Store().Active()
		if len(sess.Messages) == 0 {
			fmt.Fprintln(c.out, "No messages yet.")
			return false, nil
		}
		for _, m := range sess.Messages {
			label := "You"
			if m.Role == session.RoleAssistant {
				label = "Bot"
			}
			fmt.Fprintf(c.out, "%s: %s\n", label, m.Text)
		}
		return false, nil

	case "/models":
		cat := c.ctrl.Catalog()
		if err := cat.Err(); err != nil {
			fmt.Fprintf(c.out, "Model list unavailable: %v\n", err)
		}
		sess, _ := c.ctrl.Store().Active()
		fmt.Fprintln(c.out, "\nAvailable models:")
		for i, m := range cat.Options() {
			current := ""
			if m.ID == sess.ModelID {
				current = " (current)"
			}
			fmt.Fprintf(c.out, "%d. %s - %s%s\n", i+1, m.ID, m.Name, current)
		}
		fmt.Fprintln(c.out)
		return false, nil

	case "/model":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /model <id>")
		}
		if err := c.ctrl.SelectModel(parts[1]); err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "Model set to: %s\n", c.ctrl.Catalog().DisplayName(parts[1]))
		return false, nil

	case "/reload":
		if c.lister == nil {
			return false, fmt.Errorf("no model source configured")
		}
		if err := c.ctrl.LoadCatalog(ctx, c.lister); err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "Loaded %d models\n", len(c.ctrl.Catalog().Models()))
		return false, nil

	case "/help":
		fmt.Fprintln(c.out, "Available commands:")
		fmt.Fprintln(c.out, "  /quit, /exit       - Exit the chat")
		fmt.Fprintln(c.out, "  /new               - Start a new chat")
		fmt.Fprintln(c.out, "  /sessions          - List chats, newest first")
		fmt.Fprintln(c.out, "  /switch <n|id>     - Switch to another chat")
		fmt.Fprintln(c.out, "  /history           - Show the current transcript")
		fmt.Fprintln(c.out, "  /models            - List available models")
		fmt.Fprintln(c.out, "  /model <id>        - Set the model for this chat")
		fmt.Fprintln(c.out, "  /reload            - Fetch the model list again")
		fmt.Fprintln(c.out, "  /help              - Show this help message")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s", parts[0])
	}
}
