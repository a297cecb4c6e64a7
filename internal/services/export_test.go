package services

import "time"

func (s *DigestService) SetClock(now func() time.Time) {
	s.now = now
}
