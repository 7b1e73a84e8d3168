package terminal

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Reaper periodically closes expired sessions. One reaper runs for the
// process lifetime of the service; each tick is a single Reap pass.
type Reaper struct {
	svc         *Service
	idleTimeout time.Duration
	hardTimeout time.Duration
	interval    time.Duration

	cron *cron.Cron
}

func NewReaper(svc *Service, interval, idleTimeout, hardTimeout time.Duration) *Reaper {
	return &Reaper{
		svc:         svc,
		idleTimeout: idleTimeout,
		hardTimeout: hardTimeout,
		interval:    interval,
	}
}

// Start schedules the reaping tick at the configured interval.
func (r *Reaper) Start() {
	if r.cron != nil {
		return
	}
	r.cron = cron.New()
	r.cron.Schedule(cron.Every(r.interval), cron.FuncJob(r.Tick))
	r.cron.Start()
	log.Printf("[reaper] started (interval=%s idle=%s hard=%s)", r.interval, r.idleTimeout, r.hardTimeout)
}

// Tick runs one reaping pass.
func (r *Reaper) Tick() {
	if n := r.svc.Reap(time.Now(), r.idleTimeout, r.hardTimeout); n > 0 {
		log.Printf("[reaper] closed %d expired session(s)", n)
	}
}

// Stop prevents further ticks and waits for an in-flight tick to finish
// before returning. Safe to call more than once.
func (r *Reaper) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	log.Printf("[reaper] stopped")
}
