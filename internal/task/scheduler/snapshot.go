package scheduler

import "time"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	snap := Snapshot{
		Enabled:   s.cfg.Enabled,
		Running:   s.c != nil,
		Timezone:  loc.String(),
		Schedules: make([]ScheduleInfo, 0, len(s.defs)),
	}
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		switch {
		case s.c != nil && d.entryID != 0:
			e := s.c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		default:
			if sched, err := s.parser.Parse(d.spec); err == nil {
				it.Next = sched.Next(time.Now().In(loc))
			}
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	return snap
}
