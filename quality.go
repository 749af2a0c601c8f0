// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 The imsmedia authors

package imsmedia

import (
	"sync"
	"time"

	"github.com/goims/imsmedia/config"
	"github.com/goims/imsmedia/jitter"
	"github.com/goims/imsmedia/media"
)

// qualityMonitor implements the media quality thresholds of one session:
// RTP/RTCP inactivity deadlines, packet loss over consecutive fixed
// windows and jitter. Inactivity and loss events are reported at most once
// per hysteresis interval; the jitter status is reported on every check
// while jitter is at or over a limit.
type qualityMonitor struct {
	mu sync.Mutex

	thr     config.MediaQualityThreshold
	emit    func(ev Event, arg uint32)
	status  func(config.MediaQualityStatus)
	metrics *managerMetrics
	session string

	lastRTPms  int64
	lastRTCPms int64

	windowStart int64
	received    int
	lost        int

	currBufferFill int
	jitterMs       int32

	lastNotified map[Event]int64

	stop chan struct{}
	done chan struct{}
}

func newQualityMonitor(sessionLabel string, metrics *managerMetrics, emit func(Event, uint32), status func(config.MediaQualityStatus)) *qualityMonitor {
	return &qualityMonitor{
		emit:         emit,
		status:       status,
		metrics:      metrics,
		session:      sessionLabel,
		lastNotified: map[Event]int64{},
	}
}

func (q *qualityMonitor) setThreshold(thr config.MediaQualityThreshold) {
	q.mu.Lock()
	q.thr = thr
	q.mu.Unlock()
}

func (q *qualityMonitor) start() {
	q.stop = make(chan struct{})
	q.done = make(chan struct{})
	now := media.NowMillis()
	q.mu.Lock()
	q.lastRTPms = now
	q.lastRTCPms = now
	q.windowStart = now
	q.mu.Unlock()
	go q.watch()
}

func (q *qualityMonitor) stopWatch() {
	if q.stop == nil {
		return
	}
	close(q.stop)
	<-q.done
	q.stop = nil
}

// OnRxStatus implements jitter.StatusCollector.
func (q *qualityMonitor) OnRxStatus(seq uint16, status jitter.RxStatus) {
	now := media.NowMillis()

	q.mu.Lock()
	switch status {
	case jitter.RxNotReceived:
		q.lost++
	case jitter.RxNormal, jitter.RxLate:
		q.received++
		q.lastRTPms = now
	default:
		q.received++
	}
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.rxStatus.WithLabelValues(status.String()).Inc()
	}
}

// OnBufferStatus implements jitter.StatusCollector.
func (q *qualityMonitor) OnBufferStatus(curr, max int) {
	q.mu.Lock()
	q.currBufferFill = curr
	q.mu.Unlock()
	if q.metrics != nil {
		q.metrics.bufferFill.WithLabelValues(q.session).Set(float64(curr))
	}
}

// onRTCPReceived refreshes the RTCP watchdog.
func (q *qualityMonitor) onRTCPReceived(now int64) {
	q.mu.Lock()
	q.lastRTCPms = now
	q.mu.Unlock()
}

func (q *qualityMonitor) onJitter(ms int32) {
	q.mu.Lock()
	q.jitterMs = ms
	q.mu.Unlock()
}

func (q *qualityMonitor) watch() {
	defer close(q.done)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.check(media.NowMillis())
		}
	}
}

// notifyOnce applies hysteresis: one notification per event kind per
// hysteresis interval.
func (q *qualityMonitor) notifyOnce(now int64, ev Event, arg uint32) {
	hold := int64(q.thr.RtpHysteresisTimeInMillis)
	if hold <= 0 {
		hold = 1000
	}
	if last, ok := q.lastNotified[ev]; ok && now-last < hold {
		return
	}
	q.lastNotified[ev] = now

	if q.metrics != nil {
		q.metrics.events.WithLabelValues(ev.String()).Inc()
	}
	q.emit(ev, arg)
}

func (q *qualityMonitor) check(now int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// RTP inactivity: each configured timer fires once at its deadline
	for _, t := range q.thr.RtpInactivityTimerMillis {
		if t > 0 && now-q.lastRTPms >= int64(t) {
			q.notifyOnce(now, EventMediaInactivityRTP, uint32(t))
		}
	}

	if t := q.thr.RtcpInactivityTimerMillis; t > 0 && now-q.lastRTCPms >= int64(t) {
		q.notifyOnce(now, EventMediaInactivityRTCP, uint32(t))
	}

	// packet loss over the configured window
	if dur := int64(q.thr.RtpPacketLossDurationMillis); dur > 0 && now-q.windowStart >= dur {
		total := q.received + q.lost
		if total > 0 {
			rate := q.lost * 100 / total
			for _, lim := range q.thr.RtpPacketLossRate {
				if lim > 0 && rate >= int(lim) {
					q.notifyOnce(now, EventPacketLoss, uint32(rate))
					q.reportStatus(now, int32(rate))
					break
				}
			}
		}
		q.windowStart = now
		q.received = 0
		q.lost = 0
	}

	for _, lim := range q.thr.RtpJitterMillis {
		if lim > 0 && q.jitterMs >= lim {
			q.reportStatus(now, 0)
			break
		}
	}
}

func (q *qualityMonitor) reportStatus(now int64, lossRate int32) {
	if q.status == nil {
		return
	}
	st := config.MediaQualityStatus{
		RtpInactivityTimeMillis:  int32(now - q.lastRTPms),
		RtcpInactivityTimeMillis: int32(now - q.lastRTCPms),
		RtpPacketLossRate:        lossRate,
		RtpJitterMillis:          q.jitterMs,
	}
	q.status(st)
}
