package services

import (
	"context"
	"time"

	"github.com/yeremiapane/qrtable/utils"
)

// SessionSweeper periodically deactivates expired table sessions.
type SessionSweeper struct {
	Sessions *SessionService
	StopChan chan struct{}
	Interval time.Duration
	Timeout  time.Duration
}

func NewSessionSweeper(sessions *SessionService, interval time.Duration) *SessionSweeper {
	return &SessionSweeper{
		Sessions: sessions,
		StopChan: make(chan struct{}),
		Interval: interval,
		Timeout:  30 * time.Second,
	}
}

// Start runs the sweep loop in the background. A non-positive interval disables it.
func (sw *SessionSweeper) Start() {
	if sw.Interval <= 0 {
		utils.InfoLogger.Println("Session sweeper disabled")
		return
	}
	go func() {
		ticker := time.NewTicker(sw.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sw.Sweep()
			case <-sw.StopChan:
				return
			}
		}
	}()
	utils.InfoLogger.Printf("Session sweeper started (every %s)", sw.Interval)
}

func (sw *SessionSweeper) Stop() {
	close(sw.StopChan)
}

// Sweep runs one pass; failures are logged and retried on the next tick.
func (sw *SessionSweeper) Sweep() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), sw.Timeout)
	defer cancel()

	count, err := sw.Sessions.SweepExpired(ctx)
	if err != nil {
		utils.ErrorLogger.Printf("Error sweeping expired sessions: %v", err)
		return 0
	}
	return count
}
