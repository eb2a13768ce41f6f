package render

import (
	"regexp"
	"sync"
)

// regexpStore caches compiled highlight patterns so repeated renders do not
// recompile them.
type regexpStore struct {
	l     sync.Mutex
	store map[string]*regexp.Regexp
}

func newRegexpStore() *regexpStore {
	return &regexpStore{
		store: make(map[string]*regexp.Regexp),
	}
}

func (rxps *regexpStore) get(raw string) (*regexp.Regexp, error) {
	rxps.l.Lock()
	defer rxps.l.Unlock()

	r, exists := rxps.store[raw]
	if exists {
		return r, nil
	}

	c, err := regexp.Compile(raw)
	if err != nil {
		return nil, err
	}
	rxps.store[raw] = c
	return c, nil
}
