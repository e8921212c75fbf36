package query

import (
	"fmt"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"twodo/internal/task"
)

const defaultTokenCacheSize = 4096

// Source provides the live task collection.
type Source interface {
	Tasks() []task.Task
}

// Engine runs specs against whatever Source holds at call time. It keeps no
// task state of its own and is safe for concurrent use.
type Engine struct {
	src   Source
	words *tokenizer
}

func New(src Source) *Engine {
	words, err := newTokenizer(defaultTokenCacheSize)
	if err != nil {
		panic(fmt.Sprintf("query: %v", err))
	}
	return &Engine{src: src, words: words}
}

// Query validates spec, filters the current tasks, and sorts the result.
func (e *Engine) Query(spec Spec) ([]task.Task, error) {
	if spec == nil {
		return nil, ErrInvalidQuery
	}
	if k, ok := spec.(Keyword); ok {
		k.words = e.words
		spec = k
	}
	return Run(e.src.Tasks(), spec)
}

// Run filters tasks with spec and applies the fixed sort.
func Run(tasks []task.Task, spec Spec) ([]task.Task, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	out := make([]task.Task, 0, len(tasks))
	for _, t := range tasks {
		if spec.Match(t) {
			out = append(out, t)
		}
	}
	Sort(out)
	return out, nil
}

// Sort orders deadline tasks first by end date, then floating tasks by name.
func Sort(tasks []task.Task) {
	slices.SortStableFunc(tasks, compare)
}

func compare(a, b task.Task) int {
	switch {
	case a.Deadline != nil && b.Deadline != nil:
		return a.Deadline.End.Compare(b.Deadline.End)
	case a.Deadline != nil:
		return -1
	case b.Deadline != nil:
		return 1
	default:
		return strings.Compare(a.Name, b.Name)
	}
}

// tokenizer splits text into lower-cased whitespace-separated words and
// remembers recent results.
type tokenizer struct {
	cache *lru.Cache[string, []string]
}

func newTokenizer(size int) (*tokenizer, error) {
	c, err := lru.New[string, []string](size)
	if err != nil {
		return nil, fmt.Errorf("token cache: %w", err)
	}
	return &tokenizer{cache: c}, nil
}

// words works on a nil tokenizer, without caching.
func (z *tokenizer) words(s string) []string {
	if z == nil {
		return strings.Fields(strings.ToLower(s))
	}
	if w, ok := z.cache.Get(s); ok {
		return w
	}
	w := strings.Fields(strings.ToLower(s))
	z.cache.Add(s, w)
	return w
}
