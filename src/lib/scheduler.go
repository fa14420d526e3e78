package lib

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

var scheduler gocron.Scheduler

func NewScheduler(s gocron.Scheduler) {
	scheduler = s
}

func GetScheduler() (gocron.Scheduler, error) {
	if scheduler != nil {
		return scheduler, nil
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Printf("Error initializing Scheduler: %s\n", err.Error())
		return nil, err
	}
	scheduler = sched
	return sched, nil
}

// ScheduleEvery runs task on a fixed interval. A run still in progress when
// the next one is due causes that tick to be skipped.
func ScheduleEvery(ctx context.Context, s gocron.Scheduler, name string, every time.Duration, task func(ctx context.Context)) (string, error) {
	j, err := s.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			task(ctx)
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		log.Printf("Error creating job %s: %s\n", name, err.Error())
		return "", err
	}
	id := j.ID().String()
	log.Printf("Job: %s %s every %s\n", id, j.Name(), every)
	return id, nil
}
