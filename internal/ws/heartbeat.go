package ws

import (
	"time"

	"github.com/whisper/moderation/internal/metrics"
)

// HeartbeatConfig controls liveness checks. A zero Interval disables them.
type HeartbeatConfig struct {
	Interval time.Duration // ping period
	Timeout  time.Duration // grace after a missed ping
}

// DefaultHeartbeatConfig pings every 30s and evicts after 40s of silence.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// IdleLimit is how long a connection may go without any inbound frame.
func (c HeartbeatConfig) IdleLimit() time.Duration {
	return c.Interval + c.Timeout
}

func (s *Server) runHeartbeat() {
	ticker := time.NewTicker(s.config.Heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			if n := s.sweep(now); n > 0 {
				s.log.WithField("evicted", n).Debug("heartbeat sweep")
			}
		}
	}
}

// sweep closes connections idle past the limit and pings the others. Pongs
// count as reads, so a healthy client never reaches the limit. It returns the
// number of evicted connections.
func (s *Server) sweep(now time.Time) int {
	limit := s.config.Heartbeat.IdleLimit()
	evicted := 0

	for _, c := range s.conns.All() {
		reason := ""
		if idle := now.Sub(c.LastSeen()); idle > limit {
			reason = "timeout"
			s.log.WithField("session", c.ID).WithField("idle", idle.Round(time.Second).String()).Info("heartbeat timeout")
		} else if err := c.WritePing(); err != nil {
			reason = "ping_failed"
			s.log.WithField("session", c.ID).WithError(err).Warn("heartbeat ping failed")
		}
		if reason == "" {
			continue
		}
		metrics.WSEvictions.WithLabelValues(reason).Inc()
		s.RemoveConnection(c)
		evicted++
	}
	return evicted
}
