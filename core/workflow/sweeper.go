package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"kestrel-qms/config"
	"kestrel-qms/core/store"
	"kestrel-qms/core/utils"
)

// Sweeper periodically stamps overdue open events, incidents and remediation
// actions onto the workflow timeline so they surface on the dashboard without
// anyone asking.
type Sweeper struct {
	cfg       config.SweeperConfig
	events    store.EventsStore
	incidents store.IncidentsStore
	logger    *utils.Logger
	cron      *cron.Cron
}

func NewSweeper(cfg config.SweeperConfig, events store.EventsStore, incidents store.IncidentsStore, logger *utils.Logger) *Sweeper {
	return &Sweeper{cfg: cfg, events: events, incidents: incidents, logger: logger}
}

func (s *Sweeper) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	schedule := s.cfg.Schedule
	if schedule == "" {
		schedule = "@every 5m"
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.SweepOnce(ctx); err != nil && s.logger != nil {
			s.logger.Errorf("overdue sweep: %v", err)
		}
	}); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	if s.logger != nil {
		s.logger.Printf("overdue sweeper scheduled (%s)", schedule)
	}
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// SweepOnce stamps every open record whose due date has passed. Repeat stamps
// on consecutive sweeps are acceptable; the timeline is append-only and the
// dashboard dedupes by record.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	now := utils.NowUTC()
	overdueEvents, err := s.events.ListEvents(ctx, store.EventFilter{OpenOnly: true, DueBefore: &now})
	if err != nil {
		return err
	}
	for _, ev := range overdueEvents {
		entry := &store.TimelineEntry{
			RecordType: "event",
			RecordID:   ev.ID,
			EventType:  "overdue",
			Message:    fmt.Sprintf("%s past due (%s)", ev.RegNo, ev.DueDate.Format("2006-01-02")),
		}
		if err := s.incidents.AddTimelineEntry(ctx, entry); err != nil {
			return err
		}
	}
	overdueIncidents, err := s.incidents.ListIncidents(ctx, store.IncidentFilter{OpenOnly: true, DueBefore: &now})
	if err != nil {
		return err
	}
	for _, inc := range overdueIncidents {
		entry := &store.TimelineEntry{
			RecordType: "incident",
			RecordID:   inc.ID,
			EventType:  "overdue",
			Message:    fmt.Sprintf("%s past due (%s)", inc.RegNo, inc.DueDate.Format("2006-01-02")),
		}
		if err := s.incidents.AddTimelineEntry(ctx, entry); err != nil {
			return err
		}
	}
	overdueActions, err := s.incidents.ListOverdueActions(ctx, now)
	if err != nil {
		return err
	}
	for _, a := range overdueActions {
		entry := &store.TimelineEntry{
			RecordType: "incident",
			RecordID:   a.IncidentID,
			EventType:  "overdue",
			Message:    fmt.Sprintf("action %q past due (%s)", a.Title, a.DueDate.Format("2006-01-02")),
		}
		if err := s.incidents.AddTimelineEntry(ctx, entry); err != nil {
			return err
		}
	}
	if s.logger != nil && (len(overdueEvents)+len(overdueIncidents)+len(overdueActions) > 0) {
		s.logger.Printf("sweep stamped %d overdue events, %d overdue incidents, %d overdue actions", len(overdueEvents), len(overdueIncidents), len(overdueActions))
	}
	return nil
}
