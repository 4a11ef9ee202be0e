package python

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/sakif/codetrace/internal/apperror"
)

// Resolver finds a usable Python interpreter by probing candidate command names
// in order. A hit is remembered for TTL so the environment can change under a
// running server without a restart.
type Resolver struct {
	candidates []string
	ttl        time.Duration

	mu       sync.Mutex
	resolved string
	expires  time.Time
	now      func() time.Time
}

// NewResolver creates a Resolver over candidates, e.g. ["python3", "python"].
func NewResolver(candidates []string, ttl time.Duration) *Resolver {
	return &Resolver{
		candidates: append([]string(nil), candidates...),
		ttl:        ttl,
		now:        time.Now,
	}
}

// Resolve returns the absolute path of the first candidate that exists on PATH
// and answers `--version`. It returns an apperror.ErrConfig error when none does.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved != "" && r.now().Before(r.expires) {
		return r.resolved, nil
	}
	r.resolved = ""

	for _, name := range r.candidates {
		path, err := exec.LookPath(name)
		if err != nil {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = exec.CommandContext(probeCtx, path, "--version").Run()
		cancel()
		if err != nil {
			continue
		}
		r.resolved = path
		r.expires = r.now().Add(r.ttl)
		return path, nil
	}
	return "", apperror.ConfigMissing("Python executable not found on the server.")
}
