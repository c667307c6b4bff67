package types

import "time"

// Stats holds rolling counters for executed statements. Counters only grow;
// ResetStatistics on the manager replaces the whole value.
type Stats struct {
	TotalQueries      int64         `json:"total_queries"`
	SuccessfulQueries int64         `json:"successful_queries"`
	FailedQueries     int64         `json:"failed_queries"`
	LastQueryTime     time.Time     `json:"last_query_time"`
	AvgQueryTime      time.Duration `json:"avg_query_time"`
}

// Record folds one executed statement into the counters, keeping
// AvgQueryTime a running mean over TotalQueries.
func (s *Stats) Record(success bool, elapsed time.Duration) {
	s.TotalQueries++
	if success {
		s.SuccessfulQueries++
	} else {
		s.FailedQueries++
	}
	s.LastQueryTime = time.Now()
	s.AvgQueryTime += (elapsed - s.AvgQueryTime) / time.Duration(s.TotalQueries)
}
