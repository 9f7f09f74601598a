// Package portal obtains the encoded score payload from the academic portal.
//
// Logging in requires a browser session and captcha recognition, which live in an external
// automation command. This package only defines the boundary: credentials in, payload out.
package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrEmptyPayload is returned when a source yields no payload.
var ErrEmptyPayload = errors.New("portal returned an empty payload")

// Credentials identify the account and the term to query.
type Credentials struct {
	UserID   string
	Password string
	Year     string
	Semester string
}

// Validate checks the fields every fetch needs.
func (c Credentials) Validate() error {
	if c.UserID == "" {
		return errors.New("user id is required")
	}
	if c.Year == "" {
		return errors.New("year is required")
	}
	return nil
}

// Fetcher returns the base64 score payload for the credentials.
type Fetcher interface {
	Fetch(ctx context.Context, creds Credentials) (string, error)
}

// FileFetcher reads a previously saved payload from disk.
type FileFetcher struct {
	Path string
}

// Fetch implements Fetcher. Credentials are ignored.
func (f FileFetcher) Fetch(ctx context.Context, _ Credentials) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read payload file: %w", err)
	}
	blob := strings.TrimSpace(string(data))
	if blob == "" {
		return "", ErrEmptyPayload
	}
	return blob, nil
}

// CommandFetcher runs an automation command that prints the payload on stdout.
// Credentials are passed through SCORE_USER_ID, SCORE_PASSWORD, SCORE_YEAR and SCORE_SEMESTER.
type CommandFetcher struct {
	command string
	args    []string
	timeout time.Duration
	logger  *zap.Logger
}

// NewCommandFetcher splits commandLine on whitespace into program and arguments.
func NewCommandFetcher(commandLine string, timeout time.Duration, logger *zap.Logger) (*CommandFetcher, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, errors.New("fetch command is empty")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandFetcher{command: fields[0], args: fields[1:], timeout: timeout, logger: logger}, nil
}

// Fetch implements Fetcher.
func (f *CommandFetcher) Fetch(ctx context.Context, creds Credentials) (string, error) {
	if err := creds.Validate(); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.command, f.args...)
	cmd.Env = append(os.Environ(),
		"SCORE_USER_ID="+creds.UserID,
		"SCORE_PASSWORD="+creds.Password,
		"SCORE_YEAR="+creds.Year,
		"SCORE_SEMESTER="+creds.Semester,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children that inherit stdout must not hold Run open past cancellation.
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("fetch command timed out after %s: %w", f.timeout, ctx.Err())
		}
		return "", fmt.Errorf("fetch command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	f.logger.Debug("fetch command finished",
		zap.String("command", f.command),
		zap.String("user_id", creds.UserID),
		zap.Duration("duration", time.Since(start)),
		zap.Int("bytes", stdout.Len()))

	blob := strings.TrimSpace(stdout.String())
	if blob == "" {
		return "", ErrEmptyPayload
	}
	return blob, nil
}
