package subprocess

import (
	"sync"
	"time"

	"reasond/internal/core"
)

// Pool maps session IDs to live REPL handlers. A dead handler is replaced
// at most once per Execute call; a second consecutive failure surfaces.
type Pool struct {
	cfg      Config
	mu       sync.Mutex
	handlers map[string]*Handler
}

// NewPool builds an empty pool.
func NewPool(cfg Config) *Pool {
	return &Pool{cfg: cfg, handlers: make(map[string]*Handler)}
}

func (p *Pool) handlerFor(sessionID string) (*Handler, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.handlers[sessionID]; ok && h.Alive() {
		return h, nil
	}
	h, err := Start(p.cfg)
	if err != nil {
		return nil, err
	}
	p.handlers[sessionID] = h
	return h, nil
}

func (p *Pool) drop(sessionID string, h *Handler) {
	p.mu.Lock()
	if p.handlers[sessionID] == h {
		delete(p.handlers, sessionID)
	}
	p.mu.Unlock()
	h.Close()
}

// Execute runs a script in the session's REPL. On a crash the process is
// recreated once and the script retried; timeouts are not retried.
func (p *Pool) Execute(sessionID, script string, timeout time.Duration) (core.EvalResult, error) {
	h, err := p.handlerFor(sessionID)
	if err != nil {
		return core.EvalResult{}, err
	}
	res, err := h.Execute(script, timeout)
	if err == nil {
		return res, nil
	}
	p.drop(sessionID, h)
	if !core.IsKind(err, core.KindProcessCrashed) {
		return core.EvalResult{}, err
	}

	h, startErr := p.handlerFor(sessionID)
	if startErr != nil {
		return core.EvalResult{}, startErr
	}
	res, err = h.Execute(script, timeout)
	if err != nil {
		p.drop(sessionID, h)
		return core.EvalResult{}, err
	}
	return res, nil
}

// Release closes and removes a session's handler.
func (p *Pool) Release(sessionID string) {
	p.mu.Lock()
	h, ok := p.handlers[sessionID]
	delete(p.handlers, sessionID)
	p.mu.Unlock()
	if ok {
		h.Close()
	}
}

// Close shuts every handler down.
func (p *Pool) Close() {
	p.mu.Lock()
	handlers := p.handlers
	p.handlers = make(map[string]*Handler)
	p.mu.Unlock()
	for _, h := range handlers {
		h.Close()
	}
}

// Size reports the number of live handlers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}
