package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lookout-server/internal/model"
)

// ErrMissingUserID marks a malformed transport callback. Recoverable: the
// handler reports it and moves on.
var ErrMissingUserID = errors.New("missing userId")

const (
	PhaseConnect    = "connect"
	PhaseDisconnect = "disconnect"
)

// ReconcileReport is the outcome of one reconciliation pass. It is logged,
// never returned as a failure: the presence/session writes that precede
// reconciliation are the guarantee that matters.
type ReconcileReport struct {
	Corrected int
	Warnings  []string
	Errors    []string
}

// Lifecycle reacts to transport connect/disconnect notifications, drives
// the tracker and the session machine, and reconciles the transport's live
// registry against store-reported presence.
//
// Connect runs a light pass: timeout-bounded and advisory, because connect
// handling is latency-sensitive. Disconnect runs a full pass to completion,
// since a disconnect is the strongest signal that presence has drifted.
type Lifecycle struct {
	tracker      *Tracker
	sessions     *Sessions
	presence     PresenceStore
	gateway      Gateway
	logger       *zap.Logger
	grace        time.Duration
	lightTimeout time.Duration
	now          func() int64
}

func NewLifecycle(tracker *Tracker, sessions *Sessions, presence PresenceStore, gateway Gateway, logger *zap.Logger, grace, lightTimeout time.Duration) *Lifecycle {
	return &Lifecycle{
		tracker:      tracker,
		sessions:     sessions,
		presence:     presence,
		gateway:      gateway,
		logger:       logger,
		grace:        grace,
		lightTimeout: lightTimeout,
		now:          func() int64 { return time.Now().UnixMilli() },
	}
}

// HandleEvent dispatches a transport connection event by phase.
func (l *Lifecycle) HandleEvent(ctx context.Context, userID, connectionID, phase string) error {
	switch phase {
	case PhaseConnect:
		return l.Connect(ctx, userID, connectionID)
	case PhaseDisconnect:
		return l.Disconnect(ctx, userID, connectionID)
	default:
		return fmt.Errorf("unknown phase %q", phase)
	}
}

// Connect marks the user online, then runs the light reconciliation pass.
// The pass is bounded by the configured timeout and its outcome is only
// logged; the connect response never waits on or fails from it.
func (l *Lifecycle) Connect(ctx context.Context, userID, connectionID string) error {
	if userID == "" {
		return ErrMissingUserID
	}

	if err := l.tracker.SetOnline(ctx, userID); err != nil {
		return err
	}
	l.logger.Info("client connected",
		zap.String("userId", userID), zap.String("connectionId", connectionID))

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.lightTimeout)
	defer cancel()
	report := l.reconcile(lctx)
	l.logReport("light", userID, report)
	return nil
}

// Disconnect marks the user offline, force-stops any active session with
// reason DISCONNECT, then runs the full reconciliation pass.
func (l *Lifecycle) Disconnect(ctx context.Context, userID, connectionID string) error {
	if userID == "" {
		return ErrMissingUserID
	}

	if err := l.tracker.SetOffline(ctx, userID); err != nil {
		return err
	}
	if _, err := l.sessions.Stop(ctx, userID, model.StopReasonDisconnect); err != nil {
		return err
	}
	l.logger.Info("client disconnected",
		zap.String("userId", userID), zap.String("connectionId", connectionID))

	report := l.reconcile(context.WithoutCancel(ctx))
	l.logReport("full", userID, report)
	return nil
}

// Reconcile runs an authoritative sweep outside any connection event, for
// periodic background correction.
func (l *Lifecycle) Reconcile(ctx context.Context) ReconcileReport {
	report := l.reconcile(ctx)
	l.logReport("periodic", "", report)
	return report
}

// reconcile cross-checks every store row marked Online against the
// transport's live registry and forces Offline for users absent from it.
// Rows younger than the grace window are skipped so a user mid-handshake
// is not flapped offline.
func (l *Lifecycle) reconcile(ctx context.Context) ReconcileReport {
	var report ReconcileReport

	liveUsers, err := l.gateway.ListLiveConnections()
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("list live connections: %v", err))
		return report
	}
	live := make(map[string]struct{}, len(liveUsers))
	for _, id := range liveUsers {
		live[id] = struct{}{}
	}

	online, err := l.presence.ListOnline(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("list online: %v", err))
		return report
	}

	cutoff := l.now() - l.grace.Milliseconds()
	for _, rec := range online {
		if _, ok := live[rec.UserID]; ok {
			continue
		}
		if rec.LastChangedAt > cutoff {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("user %s stale-online but within grace window", rec.UserID))
			continue
		}
		if err := l.tracker.SetOffline(ctx, rec.UserID); err != nil {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("force offline %s: %v", rec.UserID, err))
			continue
		}
		report.Corrected++
	}
	return report
}

func (l *Lifecycle) logReport(mode, userID string, report ReconcileReport) {
	fields := []zap.Field{
		zap.String("mode", mode),
		zap.Int("corrected", report.Corrected),
		zap.Int("warnings", len(report.Warnings)),
		zap.Int("errors", len(report.Errors)),
	}
	if userID != "" {
		fields = append(fields, zap.String("userId", userID))
	}
	if len(report.Errors) > 0 {
		fields = append(fields, zap.Strings("errorDetails", report.Errors))
		l.logger.Warn("reconciliation finished with errors", fields...)
		return
	}
	if report.Corrected > 0 || len(report.Warnings) > 0 {
		fields = append(fields, zap.Strings("warningDetails", report.Warnings))
		l.logger.Info("reconciliation corrected drift", fields...)
		return
	}
	l.logger.Debug("reconciliation clean", fields...)
}
