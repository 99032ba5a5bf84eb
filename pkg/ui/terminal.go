package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/chzyer/readline"
	"golang.org/x/term"
	"k8s.io/klog/v2"
)

const prompt = ">>> "

// TerminalOptions configure a TerminalUI. Zero values select stdin/stdout.
type TerminalOptions struct {
	Out io.Writer
	In  io.Reader

	// UseTTYForInput reads queries from /dev/tty; used when stdin carried the first query.
	UseTTYForInput bool

	// HistoryFile keeps readline history; defaults to a file in the temp dir.
	HistoryFile string
}

type TerminalUI struct {
	out              io.Writer
	markdownRenderer *glamour.TermRenderer

	mu sync.Mutex

	in          io.Reader
	historyFile string

	// Input handling fields (initialized once)
	rlInstance        *readline.Instance // For readline input
	ttyFile           *os.File           // For TTY input
	ttyReaderInstance *bufio.Reader      // For TTY or piped input

	// This is useful in cases where stdin is already been used for providing the input to the agent (caller in this case)
	// in such cases, stdin is already consumed and closed and reading input results in IO error.
	// In such cases, we open /dev/tty and use it for taking input.
	useTTYForInput bool
}

var _ UI = &TerminalUI{}

// terminalWidth returns the width to wrap markdown at, or 0 to use glamour's default.
func terminalWidth() int {
	// Check for user-configured width via environment variable
	if widthStr := os.Getenv("SEARCHAGENT_TERM_WIDTH"); widthStr != "" {
		if width, err := strconv.Atoi(widthStr); err == nil && width > 0 {
			return width
		}
		klog.Warningf("Invalid SEARCHAGENT_TERM_WIDTH value %q, using default", widthStr)
	}
	if fd := int(os.Stdout.Fd()); term.IsTerminal(fd) {
		if width, _, err := term.GetSize(fd); err == nil && width > 0 {
			return width
		}
	}
	return 0
}

func NewTerminalUI(opts TerminalOptions) (*TerminalUI, error) {
	options := []glamour.TermRendererOption{
		glamour.WithAutoStyle(),
		glamour.WithPreservedNewLines(),
		glamour.WithEmoji(),
	}

	// Only add WordWrap if a valid width is configured
	if width := terminalWidth(); width > 0 {
		options = append(options, glamour.WithWordWrap(width))
	}

	mdRenderer, err := glamour.NewTermRenderer(options...)
	if err != nil {
		return nil, fmt.Errorf("error initializing the markdown renderer: %w", err)
	}

	u := &TerminalUI{
		out:              opts.Out,
		in:               opts.In,
		historyFile:      opts.HistoryFile,
		markdownRenderer: mdRenderer,
		useTTYForInput:   opts.UseTTYForInput,
	}
	if u.out == nil {
		u.out = os.Stdout
	}
	if u.historyFile == "" {
		u.historyFile = filepath.Join(os.TempDir(), "searchagent-history")
	}
	return u, nil
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func (u *TerminalUI) lineReader() (*bufio.Reader, error) {
	if u.ttyReaderInstance != nil {
		return u.ttyReaderInstance, nil
	}
	if !u.useTTYForInput {
		u.ttyReaderInstance = bufio.NewReader(u.in)
		return u.ttyReaderInstance, nil
	}
	// Initialize TTY input
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening tty for input: %w", err)
	}
	u.ttyFile = tty // Store file handle for closing
	u.ttyReaderInstance = bufio.NewReader(tty)
	return u.ttyReaderInstance, nil
}

func (u *TerminalUI) readlineInstance() (*readline.Instance, error) {
	if u.rlInstance != nil {
		return u.rlInstance, nil
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      prompt,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		HistoryFile: u.historyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("creating readline instance: %w", err)
	}
	u.rlInstance = rl
	return u.rlInstance, nil
}

// ReadQuery reads the next line typed by the user. It returns io.EOF when the
// user is done, including on Ctrl+C and Ctrl+D.
func (u *TerminalUI) ReadQuery(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.in == nil && !u.useTTYForInput {
		rl, err := u.readlineInstance()
		if err != nil {
			return "", err
		}
		rl.SetPrompt(prompt)
		query, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			return "", io.EOF
		}
		return query, err
	}

	reader, err := u.lineReader()
	if err != nil {
		return "", err
	}
	fmt.Fprint(u.out, "\n"+prompt) // Print prompt manually
	query, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && query != "" {
			return strings.TrimRight(query, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(query, "\r\n"), nil
}

func (u *TerminalUI) RenderOutput(ctx context.Context, s string, styleOptions ...StyleOption) {
	computedStyle := &style{}
	for _, opt := range styleOptions {
		opt(computedStyle)
	}

	printText := s
	if computedStyle.renderMarkdown && printText != "" {
		out, err := u.markdownRenderer.Render(printText)
		if err != nil {
			klog.FromContext(ctx).Error(err, "Error rendering markdown")
		} else {
			printText = out
		}
	}

	reset := ""
	if computedStyle.foreground != "" {
		if code, ok := ansiColors[computedStyle.foreground]; ok {
			printText = code + printText
			reset = ansiReset
		} else {
			klog.FromContext(ctx).Info("foreground color not supported by TerminalUI", "color", computedStyle.foreground)
		}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintf(u.out, "%s%s", printText, reset)
}

func (u *TerminalUI) ClearScreen() {
	fmt.Fprint(u.out, "\033[H\033[2J")
}

func (u *TerminalUI) Close() error {
	var errs []error
	// Close the initialized input handler
	if u.rlInstance != nil {
		if err := u.rlInstance.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing readline instance: %w", err))
		}
	}
	if u.ttyFile != nil {
		if err := u.ttyFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing tty file: %w", err))
		}
	}
	return errors.Join(errs...)
}
