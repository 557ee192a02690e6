// Package watcher polls a named instance and reports state transitions.
package watcher

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/sirupsen/logrus"

	"github.com/armandmcqueen/ec2-cluster/pkg/cloud"
	"github.com/armandmcqueen/ec2-cluster/pkg/node"
)

// StateAbsent is reported when no instance carries the watched name.
const StateAbsent = "absent"

// Watcher observes one logical name in the foreground. It only describes the
// instance; it never mutates it or acts on what it sees.
type Watcher struct {
	name     string
	api      cloud.EC2API
	interval time.Duration
	logger   *logrus.Logger

	lastState string
}

// New creates a watcher for the given name polling at interval.
func New(name string, api cloud.EC2API, interval time.Duration, logger *logrus.Logger) *Watcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Watcher{
		name:     name,
		api:      api,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks, polling until ctx is cancelled. The first poll happens
// immediately; every observed transition (including the instance appearing
// or disappearing) is logged at info level.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.WithFields(logrus.Fields{
		"node":     w.name,
		"interval": w.interval,
	}).Info("Watching instance state")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce()

	for {
		select {
		case <-ctx.Done():
			w.logger.WithField("node", w.name).Info("Watcher stopped")
			return nil
		case <-ticker.C:
			w.RunOnce()
		}
	}
}

// RunOnce polls a single time and logs any transition since the last poll.
func (w *Watcher) RunOnce() {
	w.observe()
}

// observe polls once and logs a transition if the state changed since the
// previous poll.
func (w *Watcher) observe() {
	state, err := w.currentState()
	if err != nil {
		w.logger.WithField("node", w.name).WithError(err).Warn("Failed to poll instance state")
		return
	}

	if state != w.lastState {
		if w.lastState == "" {
			w.logger.WithFields(logrus.Fields{
				"node":  w.name,
				"state": state,
			}).Info("Observed instance state")
		} else {
			w.logger.WithFields(logrus.Fields{
				"node":      w.name,
				"old_state": w.lastState,
				"new_state": state,
			}).Info("Instance state changed")
		}
		w.lastState = state
	}
}

// currentState describes the name across all states. Unlike name resolution,
// the watcher also sees instances outside running/pending, so shutdowns and
// stops are visible. When several instances carry the name (e.g. an old one
// still shutting down next to its replacement), the live one wins.
func (w *Watcher) currentState() (string, error) {
	out, err := w.api.DescribeInstances(&ec2.DescribeInstancesInput{
		Filters: []*ec2.Filter{
			{
				Name:   aws.String("tag:Name"),
				Values: []*string{aws.String(w.name)},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe instances: %w", err)
	}

	state := StateAbsent
	for _, reservation := range out.Reservations {
		for _, instance := range reservation.Instances {
			current := aws.StringValue(instance.State.Name)
			if state == StateAbsent || current == node.StateRunning || current == node.StatePending {
				state = current
			}
		}
	}
	return state, nil
}
