package rpc

import "sync"

// Validator tells whether a response may be cached.
type Validator func(response interface{}) bool

// Rules holds the validators of the responses of (daemon, command). Rules are only ever added.
type Rules struct {
	mu sync.RWMutex
	m  map[string][]Validator
}

// NewRules returns an empty rule registry.
func NewRules() *Rules {
	return &Rules{m: map[string][]Validator{}}
}

func ruleKey(daemon, command string) string { return daemon + "\x00" + command }

// Add appends validators for the responses of command on daemon.
func (r *Rules) Add(daemon, command string, v ...Validator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := ruleKey(daemon, command)
	r.m[k] = append(r.m[k], v...)
}

// Pass reports whether every validator of (daemon, command) accepts response.
func (r *Rules) Pass(daemon, command string, response interface{}) bool {
	r.mu.RLock()
	vs := r.m[ruleKey(daemon, command)]
	r.mu.RUnlock()

	for _, v := range vs {
		if !v(response) {
			return false
		}
	}

	return true
}
