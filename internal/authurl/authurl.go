// Package authurl pulls the OAuth login URL out of `gcloud auth login
// --no-launch-browser` diagnostics. Parsing is kept apart from process
// handling so the fragile part can be tested and replaced on its own.
package authurl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Marker is the vendor's trailer line printed after the URL.
const Marker = "Once finished"

var (
	loginURL = regexp.MustCompile(`https://accounts\.google\.com/o/oauth2/auth\?\S+`)

	// ErrURLNotFound is returned when the output held no login URL.
	ErrURLNotFound = errors.New("auth url not found in output")
)

// NotFoundError carries the raw output that failed to yield a URL.
type NotFoundError struct {
	Output string
}

func (e *NotFoundError) Error() string { return ErrURLNotFound.Error() }

func (e *NotFoundError) Unwrap() error { return ErrURLNotFound }

// Extract returns the login URL embedded in raw CLI output. The vendor wraps
// the URL across lines, so all line breaks and spaces are removed first.
func Extract(raw string) (string, bool) {
	clean := strings.NewReplacer("\r", "", "\n", "", " ", "").Replace(raw)
	m := loginURL.FindString(clean)
	if m == "" {
		return "", false
	}
	url, _, _ := strings.Cut(m, "Once")
	return url, true
}

// Grabber runs the cloud CLI and extracts the URL from its stderr.
type Grabber struct {
	Path string
	Args []string
	Wait time.Duration
}

// NewGrabber creates a grabber for the CLI binary at path.
func NewGrabber(path string, wait time.Duration) *Grabber {
	return &Grabber{
		Path: path,
		Args: []string{"auth", "login", "--no-launch-browser"},
		Wait: wait,
	}
}

// Grab starts the CLI, reads stderr until the marker line or the wait elapses,
// terminates the process and returns the extracted URL.
func (g *Grabber) Grab(ctx context.Context) (string, error) {
	if g.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Wait)
		defer cancel()
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	cmd := exec.CommandContext(ctx, g.Path, g.Args...)
	cmd.WaitDelay = time.Second
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to open stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start %s: %w", g.Path, err)
	}

	output := collect(stderr)

	// The CLI keeps waiting for a verification code; it is always killed here.
	stop()
	_ = cmd.Wait()

	url, ok := Extract(output)
	if !ok {
		return "", &NotFoundError{Output: output}
	}
	return url, nil
}

func collect(r io.Reader) string {
	var b strings.Builder
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		b.WriteString(line)
		b.WriteByte('\n')
		if strings.Contains(line, Marker) {
			break
		}
	}
	return b.String()
}
