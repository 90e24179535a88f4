package jobs

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler runs the maintenance jobs on cron specs. A job still running
// when its next tick fires is skipped, and a panicking job is recovered.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

func NewScheduler() *Scheduler {
	logger := cron.PrintfLogger(logrus.WithField("component", "Scheduler"))
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers job under name on a standard five-field cron spec
func (s *Scheduler) Add(name, spec string, job cron.Job) error {
	id, err := s.cron.AddJob(spec, job)
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.entries[name] = id

	logrus.WithFields(logrus.Fields{
		"component": "Scheduler",
		"job":       name,
		"spec":      spec,
	}).Info("Job scheduled")
	return nil
}

// Jobs returns the registered job names
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logrus.WithField("component", "Scheduler").Info("Cron started")
}

// Stop stops scheduling and waits for running jobs to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logrus.WithField("component", "Scheduler").Info("Cron stopped")
}
