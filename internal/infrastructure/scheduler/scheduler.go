package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Scheduler runs recurring jobs on cron schedules. Specs use the
// standard five fields; a sixth leading seconds field is accepted for
// sub-minute cadences.
type Scheduler struct {
	parser cron.Parser
	cron   *cron.Cron
	jobs   []entry
}

type entry struct {
	schedule cron.Schedule
	run      func(context.Context)
}

func New() *Scheduler {
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	return &Scheduler{
		parser: parser,
		cron:   cron.New(cron.WithParser(parser)),
	}
}

// Schedule validates spec and registers run to fire on it once Run starts.
func (s *Scheduler) Schedule(spec string, run func(context.Context)) error {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	s.jobs = append(s.jobs, entry{schedule: schedule, run: run})
	return nil
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits
// for any in-flight job to finish before returning.
func (s *Scheduler) Run(ctx context.Context) {
	for _, e := range s.jobs {
		run := e.run
		s.cron.Schedule(e.schedule, cron.FuncJob(func() { run(ctx) }))
	}
	s.cron.Start()
	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
}
