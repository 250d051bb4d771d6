package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const (
	updateIntervalFlag  = "update-interval"
	cleanupIntervalFlag = "cleanup-interval"
	dailyResetAtFlag    = "daily-reset-at"
	populateAtFlag      = "populate-at"
	quietWindowFlag     = "midnight-quiet-window"
	tickFlag            = "scheduler-tick"
)

func RegisterFlags(f []cli.Flag) []cli.Flag {
	return append(f,
		cli.DurationFlag{
			Name:   updateIntervalFlag,
			Usage:  "catalog update interval",
			Value:  10 * time.Minute,
			EnvVar: "UPDATE_INTERVAL",
		},
		cli.DurationFlag{
			Name:   cleanupIntervalFlag,
			Usage:  "cleanup interval",
			Value:  time.Hour,
			EnvVar: "CLEANUP_INTERVAL",
		},
		cli.StringFlag{
			Name:   dailyResetAtFlag,
			Usage:  "time of daily download counters reset (HH:MM, tracker time zone)",
			Value:  "00:01",
			EnvVar: "DAILY_RESET_AT",
		},
		cli.StringFlag{
			Name:   populateAtFlag,
			Usage:  "time of daily populate (HH:MM, tracker time zone)",
			Value:  "05:00",
			EnvVar: "POPULATE_AT",
		},
		cli.DurationFlag{
			Name:   quietWindowFlag,
			Usage:  "updates are not started this close to tracker midnight",
			Value:  15 * time.Minute,
			EnvVar: "MIDNIGHT_QUIET_WINDOW",
		},
		cli.DurationFlag{
			Name:   tickFlag,
			Usage:  "how often due jobs are checked",
			Value:  30 * time.Second,
			EnvVar: "SCHEDULER_TICK",
		},
	)
}

type Config struct {
	UpdateInterval  time.Duration
	CleanupInterval time.Duration
	DailyResetAt    TimeOfDay
	PopulateAt      TimeOfDay
	QuietWindow     time.Duration
	Tick            time.Duration
}

func ConfigFromCLI(c *cli.Context) (*Config, error) {
	reset, err := ParseTimeOfDay(c.String(dailyResetAtFlag))
	if err != nil {
		return nil, err
	}
	populate, err := ParseTimeOfDay(c.String(populateAtFlag))
	if err != nil {
		return nil, err
	}
	return &Config{
		UpdateInterval:  c.Duration(updateIntervalFlag),
		CleanupInterval: c.Duration(cleanupIntervalFlag),
		DailyResetAt:    reset,
		PopulateAt:      populate,
		QuietWindow:     c.Duration(quietWindowFlag),
		Tick:            c.Duration(tickFlag),
	}, nil
}

type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, errors.Wrapf(err, "failed to parse time of day %q", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

type Task func(ctx context.Context) error

type Job struct {
	name  string
	task  Task
	next  func(prev time.Time) time.Time
	first func(now time.Time) time.Time
	skip  func(now time.Time) bool
	due   time.Time
}

// Every runs task right away and then each d.
func Every(name string, d time.Duration, task Task) *Job {
	return &Job{
		name: name,
		task: task,
		next: func(prev time.Time) time.Time {
			return prev.Add(d)
		},
		first: func(now time.Time) time.Time {
			return now
		},
	}
}

// DailyAt runs task once a day at the given wall clock time of loc.
func DailyAt(name string, at TimeOfDay, loc *time.Location, task Task) *Job {
	next := func(prev time.Time) time.Time {
		p := prev.In(loc)
		t := time.Date(p.Year(), p.Month(), p.Day(), at.Hour, at.Minute, 0, 0, loc)
		if !t.After(p) {
			t = time.Date(p.Year(), p.Month(), p.Day()+1, at.Hour, at.Minute, 0, 0, loc)
		}
		return t
	}
	return &Job{
		name:  name,
		task:  task,
		next:  next,
		first: next,
	}
}

// SkipWhen postpones the job to the following trigger while f holds.
func (j *Job) SkipWhen(f func(now time.Time) bool) *Job {
	j.skip = f
	return j
}

func (j *Job) Name() string {
	return j.name
}

// NearMidnight reports whether t is closer than window to midnight of loc.
func NearMidnight(loc *time.Location, window time.Duration) func(t time.Time) bool {
	return func(t time.Time) bool {
		l := t.In(loc)
		sinceMidnight := time.Duration(l.Hour())*time.Hour +
			time.Duration(l.Minute())*time.Minute +
			time.Duration(l.Second())*time.Second
		return sinceMidnight < window || 24*time.Hour-sinceMidnight < window
	}
}

// Scheduler runs due jobs one after another on a single goroutine.
type Scheduler struct {
	jobs []*Job
	tick time.Duration
	now  func() time.Time
}

func New(tick time.Duration, jobs ...*Job) *Scheduler {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	return &Scheduler{
		jobs: jobs,
		tick: tick,
		now:  time.Now,
	}
}

func (s *Scheduler) init(now time.Time) {
	for _, j := range s.jobs {
		j.due = j.first(now)
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	s.init(s.now())
	log.WithField("jobs", len(s.jobs)).Info("scheduler started")
	t := time.NewTicker(s.tick)
	defer t.Stop()
	for {
		s.runDue(ctx, s.now())
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return nil
		case <-t.C:
		}
	}
}

// runDue runs every job whose trigger passed and returns their names.
func (s *Scheduler) runDue(ctx context.Context, now time.Time) []string {
	var ran []string
	for _, j := range s.jobs {
		if ctx.Err() != nil {
			break
		}
		if now.Before(j.due) {
			continue
		}
		j.due = j.next(now)
		l := log.WithField("job", j.name)
		if j.skip != nil && j.skip(now) {
			l.Info("job postponed")
			continue
		}
		started := s.now()
		l.Info("job started")
		if err := j.task(ctx); err != nil {
			l.WithError(err).Error("job failed")
		} else {
			l.WithField("duration", s.now().Sub(started)).Info("job finished")
		}
		ran = append(ran, j.name)
	}
	return ran
}
