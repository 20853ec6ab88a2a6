package passcode

import (
	"context"
	"time"
)

// StatsConfig carries the tunables of derived statistics.
type StatsConfig struct {
	// OnlineThreshold is the maximum audit-trail silence before a device is
	// considered offline.
	OnlineThreshold time.Duration
}

// StatsAggregator derives usage statistics and device liveness from the
// audit trail. It only reads; it never mutates stored state.
type StatsAggregator struct {
	log       AuditLog
	threshold time.Duration
}

func NewStatsAggregator(log AuditLog, cfg StatsConfig) *StatsAggregator {
	if cfg.OnlineThreshold <= 0 {
		cfg.OnlineThreshold = 5 * time.Minute
	}
	return &StatsAggregator{log: log, threshold: cfg.OnlineThreshold}
}

// ComputeStats aggregates attempts matching the filter. SuccessRate is a
// percentage and defined as 0 when no attempts matched.
func (s *StatsAggregator) ComputeStats(ctx context.Context, f AttemptFilter) (Stats, error) {
	f.Result = ""
	total, err := s.log.CountByRange(ctx, f)
	if err != nil {
		return Stats{}, err
	}

	sf := f
	sf.Result = ResultSuccess
	success, err := s.log.CountByRange(ctx, sf)
	if err != nil {
		return Stats{}, err
	}

	byHour, err := s.log.HourlyCounts(ctx, f)
	if err != nil {
		return Stats{}, err
	}
	byDevice, err := s.log.DeviceActivity(ctx, f)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Total:    total,
		Success:  success,
		Failed:   total - success,
		ByHour:   byHour,
		ByDevice: byDevice,
	}
	if total > 0 {
		stats.SuccessRate = float64(success) / float64(total) * 100
	}
	return stats, nil
}

// DeviceStatus derives a device's liveness from audit-trail recency at the
// given instant. A device with no records at all is unknown rather than
// offline.
func (s *StatsAggregator) DeviceStatus(ctx context.Context, deviceID string, now time.Time) (DeviceStatus, error) {
	st := DeviceStatus{DeviceID: deviceID, State: DeviceUnknown}

	last, seen, err := s.log.LastActivity(ctx, deviceID)
	if err != nil {
		return DeviceStatus{}, err
	}
	if !seen {
		return st, nil
	}

	last = last.UTC()
	st.LastActivity = &last
	if now.Sub(last) <= s.threshold {
		st.IsOnline = true
		st.State = DeviceActive
	} else {
		st.State = DeviceOffline
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	st.TodayCount, err = s.log.CountByRange(ctx, AttemptFilter{
		DeviceID: deviceID,
		From:     midnight,
		To:       now,
	})
	if err != nil {
		return DeviceStatus{}, err
	}

	hourStart := now.Truncate(time.Hour)
	st.CurrentHourCount, err = s.log.CountByRange(ctx, AttemptFilter{
		DeviceID: deviceID,
		From:     hourStart,
		To:       now,
	})
	if err != nil {
		return DeviceStatus{}, err
	}
	return st, nil
}
