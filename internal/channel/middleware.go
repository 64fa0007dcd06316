package channel

import (
	"strconv"
	"sync"

	"github.com/sourcegraph/conc/panics"

	"github.com/coachpo/eventline/errs"
)

// Middleware observes every raw inbound event before validation. A returned
// error or a panic is logged and does not stop later middleware or dispatch.
type Middleware func(event string, raw any) error

type pipeline struct {
	mu  sync.RWMutex
	fns []Middleware
}

func (p *pipeline) use(fn Middleware) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.fns = append(p.fns, fn)
	p.mu.Unlock()
}

func (p *pipeline) len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.fns)
}

// run invokes every middleware in registration order and returns the faults.
func (p *pipeline) run(event string, raw any) []error {
	p.mu.RLock()
	fns := p.fns
	p.mu.RUnlock()

	var faults []error
	for i, fn := range fns {
		var err error
		var catcher panics.Catcher
		catcher.Try(func() { err = fn(event, raw) })
		if recovered := catcher.Recovered(); recovered != nil {
			err = recovered.AsError()
		}
		if err != nil {
			faults = append(faults, errs.New(event, errs.CodeMiddleware,
				errs.WithMessage("middleware failed"),
				errs.WithField("index", strconv.Itoa(i)),
				errs.WithCause(err)))
		}
	}
	return faults
}
