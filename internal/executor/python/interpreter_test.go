package python

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/codetrace/internal/apperror"
)

func writeExecutable(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestResolver_ProbesInOrder(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	dir := t.TempDir()
	broken := writeExecutable(t, dir, "broken-python", "#!/bin/sh\nexit 1\n")
	working := writeExecutable(t, dir, "working-python", fakeInterpreter)

	r := NewResolver([]string{filepath.Join(dir, "missing"), broken, working}, time.Minute)

	got, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, working, got)
}

func TestResolver_NothingFound(t *testing.T) {
	r := NewResolver([]string{"codetrace-missing-a", "codetrace-missing-b"}, time.Minute)

	got, err := r.Resolve(context.Background())
	assert.Empty(t, got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConfig))
	assert.Equal(t, "Python executable not found on the server.", err.Error())
}

func TestResolver_CacheExpires(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	dir := t.TempDir()
	interp := writeExecutable(t, dir, "python", fakeInterpreter)

	now := time.Now()
	r := NewResolver([]string{interp}, 30*time.Second)
	r.now = func() time.Time { return now }

	_, err := r.Resolve(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(interp))

	got, err := r.Resolve(context.Background())
	require.NoError(t, err, "cached result is served within the TTL")
	assert.Equal(t, interp, got)

	now = now.Add(31 * time.Second)
	_, err = r.Resolve(context.Background())
	assert.True(t, errors.Is(err, apperror.ErrConfig), "interpreter removal is noticed once the TTL passes")
}
