package tui

import (
	"fmt"
	"io"
	"sync"
	"time"

	tea "charm.land/bubbletea/v2"
)

// Displayer abstracts all output of the CLI. Implementations must be safe
// for concurrent use: calls arrive from many request goroutines.
type Displayer interface {
	Banner()
	CredentialsFound(source string)
	CredentialsNotFound(source string)
	CredentialsSeeded()
	Requesting(calls int, path string)
	Refreshing()
	RefreshOK()
	RefreshFailed(err error)
	CallOK(id int, body string)
	CallFailed(id int, err error)
	SessionExpired()
	Done(summary Summary)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *PlainDisplayer) Banner() {
	p.printf("=== AuthGate API Client Demo (single-flight refresh) ===\n\n")
}

func (p *PlainDisplayer) CredentialsFound(source string) {
	p.printf("Found stored credentials in %s\n", source)
}

func (p *PlainDisplayer) CredentialsNotFound(source string) {
	p.printf("No credentials in %s, calls will be unauthenticated\n", source)
}

func (p *PlainDisplayer) CredentialsSeeded() {
	p.printf("Stored the provided credential pair\n")
}

func (p *PlainDisplayer) Requesting(calls int, path string) {
	p.printf("Issuing %d concurrent calls to %s...\n", calls, path)
}

func (p *PlainDisplayer) Refreshing() {
	p.printf("Access credential rejected (401), refreshing...\n")
}

func (p *PlainDisplayer) RefreshOK() {
	p.printf("Credential refreshed, replaying waiting calls\n")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	p.printf("Refresh failed: %v\n", err)
}

func (p *PlainDisplayer) CallOK(id int, body string) {
	if body != "" {
		p.printf("Call #%d OK: %s\n", id, body)
		return
	}
	p.printf("Call #%d OK\n", id)
}

func (p *PlainDisplayer) CallFailed(id int, err error) {
	p.printf("Call #%d failed: %v\n", id, err)
}

func (p *PlainDisplayer) SessionExpired() {
	p.printf("Session expired, please log in again\n")
}

func (p *PlainDisplayer) Done(s Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, "\n========================================")
	fmt.Fprintf(p.w, "Calls:      %d (%d ok, %d failed)\n", s.Calls, s.Succeeded, s.Failed)
	fmt.Fprintf(p.w, "Refreshes:  %d\n", s.Refreshes)
	fmt.Fprintf(p.w, "Elapsed:    %s\n", s.Elapsed.Round(time.Millisecond))
	if s.Access != "" {
		fmt.Fprintf(p.w, "Credential: %s\n", s.Access)
	}
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	p.printf("Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                    {}
func (NoopDisplayer) CredentialsFound(string)    {}
func (NoopDisplayer) CredentialsNotFound(string) {}
func (NoopDisplayer) CredentialsSeeded()         {}
func (NoopDisplayer) Requesting(int, string)     {}
func (NoopDisplayer) Refreshing()                {}
func (NoopDisplayer) RefreshOK()                 {}
func (NoopDisplayer) RefreshFailed(error)        {}
func (NoopDisplayer) CallOK(int, string)         {}
func (NoopDisplayer) CallFailed(int, error)      {}
func (NoopDisplayer) SessionExpired()            {}
func (NoopDisplayer) Done(Summary)               {}
func (NoopDisplayer) Fatal(error)                {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() { t.p.Send(MsgBanner{}) }

func (t *ProgramDisplayer) CredentialsFound(source string) {
	t.p.Send(MsgCredentialsFound{Source: source})
}

func (t *ProgramDisplayer) CredentialsNotFound(source string) {
	t.p.Send(MsgCredentialsNotFound{Source: source})
}

func (t *ProgramDisplayer) CredentialsSeeded() { t.p.Send(MsgCredentialsSeeded{}) }

func (t *ProgramDisplayer) Requesting(calls int, path string) {
	t.p.Send(MsgRequesting{Calls: calls, Path: path})
}

func (t *ProgramDisplayer) Refreshing() { t.p.Send(MsgRefreshing{}) }

func (t *ProgramDisplayer) RefreshOK() { t.p.Send(MsgRefreshOK{}) }

func (t *ProgramDisplayer) RefreshFailed(err error) { t.p.Send(MsgRefreshFailed{Err: err}) }

func (t *ProgramDisplayer) CallOK(id int, body string) {
	t.p.Send(MsgCallOK{ID: id, Body: body})
}

func (t *ProgramDisplayer) CallFailed(id int, err error) {
	t.p.Send(MsgCallFailed{ID: id, Err: err})
}

func (t *ProgramDisplayer) SessionExpired() { t.p.Send(MsgSessionExpired{}) }

func (t *ProgramDisplayer) Done(summary Summary) { t.p.Send(MsgDone{Summary: summary}) }

func (t *ProgramDisplayer) Fatal(err error) { t.p.Send(MsgFatal{Err: err}) }
