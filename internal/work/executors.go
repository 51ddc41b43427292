package work

import (
	"fmt"

	"github.com/qerplab/qerp/internal/clients/qruntime"
	"github.com/qerplab/qerp/internal/clients/simulator"
	"github.com/qerplab/qerp/internal/domain"
)

// buildExecutor constructs the backend named by the resolved run config.
// "simulator" runs in-process. Any other value targets the remote runtime,
// with the literal "qruntime" deferring to the configured backend id.
func (p *Processor) buildExecutor(rcfg domain.RunConfig) (domain.Executor, error) {
	if rcfg.Backend == "" || rcfg.Backend == "simulator" {
		return simulator.New(simulator.Config{
			Shots:           rcfg.Shots,
			Seed:            rcfg.Seed,
			ReadoutError:    p.cfg.Backend.ReadoutError,
			MemoryCeilingMB: int(p.cfg.Backend.MemoryCeilingMB),
		}, p.log), nil
	}

	if p.cfg.Backend.RuntimeURL == "" {
		return nil, fmt.Errorf("backend %q needs a runtime URL", rcfg.Backend)
	}
	backend := rcfg.Backend
	if backend == "qruntime" {
		backend = p.cfg.Backend.RuntimeBackend
	}
	return qruntime.NewClient(qruntime.Config{
		BaseURL:        p.cfg.Backend.RuntimeURL,
		Backend:        backend,
		Shots:          rcfg.Shots,
		Seed:           rcfg.Seed,
		RequestTimeout: p.cfg.Backend.RequestTimeout,
		MaxRetries:     p.cfg.Backend.MaxRetries,
		RetryBaseDelay: p.cfg.Backend.RetryBaseDelay,
		RetryMaxDelay:  p.cfg.Backend.RetryMaxDelay,
	}, p.log), nil
}
