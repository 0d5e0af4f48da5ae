package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	DefaultInterval   = 40 * time.Minute
	DefaultWorkStart  = 10
	DefaultWorkEnd    = 20
	DefaultTimezone   = "Europe/Moscow"
	DefaultWorkers    = 4
	DefaultRatePerSec = 20

	// TokenEnv overrides telegram.token so the secret can stay out of the file.
	TokenEnv = "DRILLBOT_TOKEN"
)

// Training is the resolved form of TrainingConfig.
type Training struct {
	Interval     time.Duration
	WorkStart    int
	WorkEnd      int
	Location     *time.Location
	ScenarioPath string
}

// Delivery is the resolved form of DeliveryConfig.
type Delivery struct {
	Workers    int
	RatePerSec int
}

func (c *Config) TrainingSettings() (Training, error) {
	t := c.Training
	interval, err := ParseDurationOr("training.interval", t.Interval, DefaultInterval)
	if err != nil {
		return Training{}, err
	}
	if interval < time.Minute {
		return Training{}, fmt.Errorf("training.interval must be >= 1m, got %s", interval)
	}
	start, end := DefaultWorkStart, DefaultWorkEnd
	if t.WorkStartHour != nil {
		start = *t.WorkStartHour
	}
	if t.WorkEndHour != nil {
		end = *t.WorkEndHour
	}
	if start < 0 || start > 23 {
		return Training{}, fmt.Errorf("training.work_start_hour must be in 0..23, got %d", start)
	}
	if end < 1 || end > 24 {
		return Training{}, fmt.Errorf("training.work_end_hour must be in 1..24, got %d", end)
	}
	if start >= end {
		return Training{}, fmt.Errorf("training: work_start_hour (%d) must be before work_end_hour (%d)", start, end)
	}
	tz := strings.TrimSpace(t.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Training{}, fmt.Errorf("training.timezone: invalid %q: %w", tz, err)
	}
	return Training{
		Interval:     interval,
		WorkStart:    start,
		WorkEnd:      end,
		Location:     loc,
		ScenarioPath: strings.TrimSpace(t.ScenarioPath),
	}, nil
}

func (c *Config) DeliverySettings() (Delivery, error) {
	d := Delivery{Workers: c.Delivery.Workers, RatePerSec: c.Delivery.RatePerSec}
	if d.Workers < 0 || d.RatePerSec < 0 {
		return Delivery{}, errors.New("delivery.workers and delivery.rate_per_sec must be >= 0")
	}
	if d.Workers == 0 {
		d.Workers = DefaultWorkers
	}
	if d.RatePerSec == 0 {
		d.RatePerSec = DefaultRatePerSec
	}
	return d, nil
}

// Validate checks everything that can be checked without side effects.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if _, err := ParseDuration("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDuration("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := c.TrainingSettings(); err != nil {
		return err
	}
	if _, err := c.DeliverySettings(); err != nil {
		return err
	}
	return nil
}

func applyEnv(c *Config) {
	if v := strings.TrimSpace(os.Getenv(TokenEnv)); v != "" {
		c.Telegram.Token = v
	}
}
