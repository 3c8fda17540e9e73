// Package notify shows the outcome of a mutation to the user, optionally
// offering a follow-up action such as Undo or Retry.
package notify

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jedib0t/go-pretty/v6/text"
)

// Action is a follow-up the user may trigger from a notification.
type Action struct {
	Label string
	Run   func(ctx context.Context) error
}

type Notifier interface {
	Success(ctx context.Context, title string, action *Action)
	Failure(ctx context.Context, title, message string, action *Action)
}

// Console prints notifications to out. With Prompt set, it asks on in
// whether to run the attached action.
type Console struct {
	Out    io.Writer
	In     io.Reader
	Prompt bool

	once   sync.Once
	reader *bufio.Reader
}

func NewConsole(out io.Writer, in io.Reader, prompt bool) *Console {
	return &Console{Out: out, In: in, Prompt: prompt}
}

func (c *Console) Success(ctx context.Context, title string, action *Action) {
	fmt.Fprintf(c.Out, "%s %s\n", text.FgGreen.Sprint("✔"), title)
	c.offer(ctx, action)
}

func (c *Console) Failure(ctx context.Context, title, message string, action *Action) {
	fmt.Fprintf(c.Out, "%s %s: %s\n", text.FgRed.Sprint("✘"), title, message)
	c.offer(ctx, action)
}

func (c *Console) offer(ctx context.Context, action *Action) {
	if action == nil || !c.Prompt || c.In == nil {
		return
	}
	c.once.Do(func() { c.reader = bufio.NewReader(c.In) })
	fmt.Fprintf(c.Out, "  %s? [y/N] ", text.Bold.Sprint(action.Label))
	line, _ := c.reader.ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	if answer != "y" && answer != "yes" {
		return
	}
	if err := action.Run(ctx); err != nil {
		fmt.Fprintf(c.Out, "%s %s failed: %v\n", text.FgRed.Sprint("✘"), action.Label, err)
	}
}

type Note struct {
	Success bool
	Title   string
	Message string
	Action  *Action
}

// Recorder keeps notifications in memory so callers can inspect and run
// their actions later.
type Recorder struct {
	mu    sync.Mutex
	notes []Note
}

func (r *Recorder) Success(_ context.Context, title string, action *Action) {
	r.add(Note{Success: true, Title: title, Action: action})
}

func (r *Recorder) Failure(_ context.Context, title, message string, action *Action) {
	r.add(Note{Title: title, Message: message, Action: action})
}

func (r *Recorder) add(n Note) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *Recorder) Notes() []Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Note(nil), r.notes...)
}

// Last returns the most recent notification.
func (r *Recorder) Last() (Note, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notes) == 0 {
		return Note{}, false
	}
	return r.notes[len(r.notes)-1], true
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Success(context.Context, string, *Action)         {}
func (Discard) Failure(context.Context, string, string, *Action) {}
