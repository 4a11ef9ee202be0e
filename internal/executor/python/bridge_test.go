package python

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/codetrace/internal/apperror"
	"github.com/sakif/codetrace/internal/executor"
	"github.com/sakif/codetrace/internal/model"
)

// The bridge only cares about the argv/stdout contract, so these tests stand in a
// shell script for the interpreter and shell scripts for the helper.
const fakeInterpreter = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "Python 3.12.0"
  exit 0
fi
exec /bin/sh "$@"
`

type bridgeFixture struct {
	bridge  *Bridge
	scratch string
	dir     string
}

func newFixture(t *testing.T, helperScript string, timeout time.Duration) *bridgeFixture {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}

	dir := t.TempDir()
	interp := filepath.Join(dir, "fake-python")
	require.NoError(t, os.WriteFile(interp, []byte(fakeInterpreter), 0o755))

	helper := filepath.Join(dir, "helper.sh")
	require.NoError(t, os.WriteFile(helper, []byte(helperScript), 0o644))

	scratch := filepath.Join(dir, "scratch")
	b := New(Config{
		Timeout:    timeout,
		ScratchDir: scratch,
		HelperPath: helper,
	}, LocalRunner{}, NewResolver([]string{interp}, time.Minute), slog.New(slog.NewTextHandler(io.Discard, nil)))

	return &bridgeFixture{bridge: b, scratch: scratch, dir: dir}
}

func (f *bridgeFixture) run(t *testing.T, source string) *model.ExecutionResult {
	t.Helper()
	res, err := f.bridge.Execute(context.Background(), model.ExecutionRequest{Language: model.Python, Source: source})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func (f *bridgeFixture) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp source files must be removed")
}

func TestBridge_Success(t *testing.T) {
	f := newFixture(t, `
cat "$1" > "$(dirname "$0")/seen.py"
printf '%s\n' '{"status":"ok","stdout":"3\n","traces":[
  {"event":"line","line":1,"stack":["<module>"],"locals":{}},
  {"event":"line","line":2,"stack":["<module>"],"locals":{"a":"1","b":"2"}}
]}'
`, 5*time.Second)

	res := f.run(t, "a = 1\nb = 2\nprint(a + b)\n")

	assert.False(t, res.Failed)
	assert.Empty(t, res.Message)
	assert.Equal(t, "3\n", res.Output)
	require.Len(t, res.Events, 2)
	assert.Equal(t, model.KindStep, res.Events[1].Kind)
	assert.Equal(t, 2, res.Events[1].Line)
	assert.Equal(t, "line", res.Events[1].Phase)

	seen, err := os.ReadFile(filepath.Join(f.dir, "seen.py"))
	require.NoError(t, err)
	assert.Equal(t, "a = 1\nb = 2\nprint(a + b)\n", string(seen), "helper must receive the submitted source")

	f.assertScratchEmpty(t)
}

func TestBridge_TempFileNamedUniquely(t *testing.T) {
	f := newFixture(t, `
basename "$1" >> "$(dirname "$0")/names.txt"
printf '%s\n' '{"status":"ok","stdout":"","traces":[]}'
`, 5*time.Second)

	f.run(t, "pass")
	f.run(t, "pass")

	data, err := os.ReadFile(filepath.Join(f.dir, "names.txt"))
	require.NoError(t, err)
	names := strings.Fields(string(data))
	require.Len(t, names, 2)
	assert.NotEqual(t, names[0], names[1])
	for _, n := range names {
		assert.True(t, strings.HasSuffix(n, ".py"), n)
	}
	f.assertScratchEmpty(t)
}

func TestBridge_UserError(t *testing.T) {
	f := newFixture(t, `
printf '%s\n' '{"status":"error","stdout":"before\n","error":"name '"'"'x'"'"' is not defined","traces":[
  {"event":"line","line":1,"stack":["<module>"],"locals":{}}
]}'
`, 5*time.Second)

	res := f.run(t, "print('before')\nprint(x)\n")

	assert.True(t, res.Failed)
	assert.Equal(t, "name 'x' is not defined", res.Message)
	assert.Equal(t, "before\n", res.Output)
	require.Len(t, res.Events, 2)
	assert.Equal(t, model.KindError, res.Events[1].Kind)
	assert.Equal(t, "name 'x' is not defined", res.Events[1].Message)
	assert.Equal(t, 1, res.Events[1].Line)
	f.assertScratchEmpty(t)
}

func TestBridge_InfrastructureFailures(t *testing.T) {
	tests := []struct {
		name        string
		helper      string
		timeout     time.Duration
		wantMessage string
	}{
		{
			name:        "non-zero exit",
			helper:      "echo boom >&2\nexit 3\n",
			timeout:     5 * time.Second,
			wantMessage: "python tracer exited with code 3",
		},
		{
			name:        "unparseable output",
			helper:      "echo 'this is not json'\n",
			timeout:     5 * time.Second,
			wantMessage: "could not parse python tracer output",
		},
		{
			name:        "unknown status",
			helper:      `printf '%s\n' '{"status":"weird","traces":[],"stdout":""}'` + "\n",
			timeout:     5 * time.Second,
			wantMessage: "could not parse python tracer output",
		},
		{
			name:        "timeout kill",
			helper:      "exec sleep 5\n",
			timeout:     200 * time.Millisecond,
			wantMessage: "Python execution timed out after 200ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.helper, tt.timeout)

			start := time.Now()
			res := f.run(t, "print(1)")

			assert.True(t, res.Failed)
			assert.Equal(t, tt.wantMessage, res.Message)
			assert.NotNil(t, res.Events)
			assert.Empty(t, res.Events)
			assert.Empty(t, res.Output)
			assert.Less(t, time.Since(start), 4*time.Second)
			f.assertScratchEmpty(t)
		})
	}
}

func TestBridge_NoInterpreter(t *testing.T) {
	dir := t.TempDir()
	scratch := filepath.Join(dir, "scratch")
	b := New(Config{ScratchDir: scratch},
		LocalRunner{},
		NewResolver([]string{"codetrace-no-such-python-3"}, time.Minute),
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := b.Execute(context.Background(), model.ExecutionRequest{Language: model.Python, Source: "print(1)"})

	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConfig))
	_, statErr := os.Stat(scratch)
	assert.True(t, os.IsNotExist(statErr), "no scratch dir or temp file may be created")
}

func TestBridge_ObserverReceivesEvents(t *testing.T) {
	f := newFixture(t, `printf '%s\n' '{"status":"ok","stdout":"","traces":[{"event":"line","line":1,"locals":{}},{"event":"line","line":2,"locals":{}}]}'`, 5*time.Second)

	var seen []int
	ctx := executor.WithObserver(context.Background(), func(e model.TraceEvent) { seen = append(seen, e.Line) })
	_, err := f.bridge.Execute(ctx, model.ExecutionRequest{Language: model.Python, Source: "pass"})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, seen)
}

// TestBridge_RealInterpreter exercises the embedded helper end to end.
func TestBridge_RealInterpreter(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}

	scratch := filepath.Join(t.TempDir(), "scratch")
	b := New(Config{Timeout: 10 * time.Second, ScratchDir: scratch},
		LocalRunner{},
		NewResolver([]string{"python3"}, time.Minute),
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	t.Run("ok", func(t *testing.T) {
		res, err := b.Execute(context.Background(), model.ExecutionRequest{
			Language: model.Python,
			Source:   "def double(n):\n    return n * 2\n\nvalue = double(21)\nprint(value)\n",
		})
		require.NoError(t, err)
		assert.False(t, res.Failed, res.Message)
		assert.Equal(t, "42\n", res.Output)

		var returned []string
		for _, e := range res.Events {
			if e.Phase == "return" && e.Function == "double" {
				returned = append(returned, e.Return)
			}
		}
		assert.Equal(t, []string{"42"}, returned)
	})

	t.Run("undefined name", func(t *testing.T) {
		res, err := b.Execute(context.Background(), model.ExecutionRequest{
			Language: model.Python,
			Source:   "print('hi')\nprint(x)\n",
		})
		require.NoError(t, err)
		assert.True(t, res.Failed)
		assert.Equal(t, "name 'x' is not defined", res.Message)
		assert.Equal(t, "hi\n", res.Output)
		assert.Equal(t, model.KindError, res.Events[len(res.Events)-1].Kind)
	})

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, helperFileName, e.Name(), "only the helper may remain in scratch")
	}
}
