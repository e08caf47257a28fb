package sink

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
)

// Destination path tokens. A sink path may begin with one of the
// directory tokens, optionally followed by further path segments, or
// consist solely of one of the stream tokens.
const (
	TokenTemp    = "<temp>"
	TokenHome    = "<home>"
	TokenCurrent = "<current>"
	TokenStdout  = "<cout>"
	TokenLog     = "<clog>"
	TokenStderr  = "<cerr>"
)

// ProgramName returns the base name of the running program.
func ProgramName() string {
	return filepath.Base(os.Args[0])
}

// ResolveDirectory expands a leading directory token, canonicalizes
// the remainder, and creates the directory. An empty path resolves to
// the current directory.
func ResolveDirectory(path string) (string, error) {
	var dir, rest string
	switch {
	case strings.HasPrefix(path, TokenTemp):
		dir = os.TempDir()
		rest = strings.TrimPrefix(path, TokenTemp)
	case strings.HasPrefix(path, TokenHome):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "resolving home directory")
		}
		dir = home
		rest = strings.TrimPrefix(path, TokenHome)
	case strings.HasPrefix(path, TokenCurrent):
		rest = strings.TrimPrefix(path, TokenCurrent)
		fallthrough
	case path == "":
		cwd, err := os.Getwd()
		if err != nil {
			return "", errors.Wrap(err, "resolving current directory")
		}
		dir = cwd
	default:
		rest = path
	}

	full := filepath.Clean(filepath.Join(dir, rest))
	if err := os.MkdirAll(full, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating output directory %s", full)
	}
	return full, nil
}

// Filename builds the per-process output file name,
// "<program>-<pid>-<4-digit-random>.<ext>".
func Filename(extension string) string {
	ext := strings.TrimPrefix(extension, ".")
	salt := rand.Intn(10000)
	return fmt.Sprintf("%s-%d-%04d.%s", ProgramName(), os.Getpid(), salt, ext)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// OutputWriter opens the destination described by path. Stream tokens
// return a synchronized wrapper over the process stream that is not
// closed by the sink; anything else resolves to a freshly created
// file named by Filename under the resolved directory. The returned
// string is the file path, empty for streams.
func OutputWriter(path, extension string) (io.WriteCloser, string, error) {
	switch path {
	case TokenStdout:
		return nopWriteCloser{newSyncWriter(os.Stdout)}, "", nil
	case TokenStderr, TokenLog:
		return nopWriteCloser{newSyncWriter(os.Stderr)}, "", nil
	}

	dir, err := ResolveDirectory(path)
	if err != nil {
		return nil, "", err
	}
	full := filepath.Join(dir, Filename(extension))
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, "", errors.Wrapf(err, "opening record log %s", full)
	}
	grip.Infoln("writing instrumentation records to", full)
	return f, full, nil
}
