package scripting

import (
	"regexp"
	"sync"

	"github.com/robertkrimen/otto"
)

// regexCacheCapacity bounds the process-global compiled-pattern cache.
const regexCacheCapacity = 512

// sharedRegexCache is the process-wide, thread-safe compiled-regex LRU
// every VM's regex module goes through.
var sharedRegexCache = newRegexCache(regexCacheCapacity)

type regexCacheEntry struct {
	pattern string
	re      *regexp.Regexp
}

// regexCache is a concurrent-map LRU of compiled patterns; unlike the
// hot-cache used by storage it carries no TTL, only a capacity bound.
type regexCache struct {
	mu       sync.Mutex
	capacity int
	order    []string
	byKey    map[string]*regexCacheEntry
}

func newRegexCache(capacity int) *regexCache {
	return &regexCache{capacity: capacity, byKey: make(map[string]*regexCacheEntry)}
}

func (c *regexCache) compile(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	if e, ok := c.byKey[pattern]; ok {
		c.touch(pattern)
		c.mu.Unlock()
		return e.re, nil
	}
	c.mu.Unlock()

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.byKey, oldest)
	}
	c.byKey[pattern] = &regexCacheEntry{pattern: pattern, re: re}
	c.order = append(c.order, pattern)
	return re, nil
}

// touch moves pattern to the back of the eviction order. Caller must hold
// c.mu.
func (c *regexCache) touch(pattern string) {
	for i, p := range c.order {
		if p == pattern {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, pattern)
}

// registerRegex exposes regex.match(pattern, text), regex.find_all, and
// regex.replace, all routed through the shared compiled-pattern cache.
func registerRegex(v *VM) error {
	obj, err := v.otto.Object(`({})`)
	if err != nil {
		return err
	}
	obj.Set("match", func(call otto.FunctionCall) otto.Value {
		pattern, _ := call.Argument(0).ToString()
		text, _ := call.Argument(1).ToString()
		re, err := sharedRegexCache.compile(pattern)
		if err != nil {
			r, _ := otto.ToValue(false)
			return r
		}
		r, _ := otto.ToValue(re.MatchString(text))
		return r
	})
	obj.Set("find_all", func(call otto.FunctionCall) otto.Value {
		pattern, _ := call.Argument(0).ToString()
		text, _ := call.Argument(1).ToString()
		re, err := sharedRegexCache.compile(pattern)
		if err != nil {
			r, _ := v.otto.ToValue([]string{})
			return r
		}
		matches := re.FindAllString(text, -1)
		r, _ := v.otto.ToValue(matches)
		return r
	})
	obj.Set("replace", func(call otto.FunctionCall) otto.Value {
		pattern, _ := call.Argument(0).ToString()
		text, _ := call.Argument(1).ToString()
		repl, _ := call.Argument(2).ToString()
		re, err := sharedRegexCache.compile(pattern)
		if err != nil {
			r, _ := otto.ToValue(text)
			return r
		}
		r, _ := otto.ToValue(re.ReplaceAllString(text, repl))
		return r
	})
	return v.otto.Set("regex", obj)
}
