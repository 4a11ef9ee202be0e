package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sakif/codetrace/internal/apperror"
	"github.com/sakif/codetrace/internal/executor"
	"github.com/sakif/codetrace/internal/model"
)

// Registry maps declared language names to the pathway that runs them.
type Registry struct {
	mu        sync.RWMutex
	executors map[model.Language]executor.Executor
	aliases   map[string]model.Language
}

func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[model.Language]executor.Executor),
		aliases:   make(map[string]model.Language),
	}
}

// Register installs exec for lang. Aliases ("js", "py") resolve to lang.
func (r *Registry) Register(lang model.Language, exec executor.Executor, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[lang] = exec
	r.aliases[string(lang)] = lang
	for _, a := range aliases {
		r.aliases[strings.ToLower(a)] = lang
	}
}

// Get resolves name (case-insensitive, aliases allowed). An unknown name is a
// validation failure: the caller asked for something this service does not run.
func (r *Registry) Get(name string) (model.Language, executor.Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", nil, apperror.ValidationFailed("language",
			fmt.Sprintf("unsupported language: %s", name))
	}
	return lang, r.executors[lang], nil
}

// List returns the registered languages, sorted.
func (r *Registry) List() []model.Language {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]model.Language, 0, len(r.executors))
	for l := range r.executors {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool { return langs[i] < langs[j] })
	return langs
}
