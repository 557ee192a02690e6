package node

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"

	"github.com/sirupsen/logrus"
)

// Default wait budget, matching the EC2 waiters' 40 attempts at 15 second
// intervals.
const (
	DefaultWaitTimeout      = 10 * time.Minute
	DefaultWaitPollInterval = 15 * time.Second
)

// WaitConfig bounds a blocking state wait. Zero values fall back to the
// defaults above. There is no cancellation beyond the timeout: a wait, once
// issued, runs until it succeeds or the budget is spent.
type WaitConfig struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

func (c WaitConfig) withDefaults() WaitConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultWaitTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultWaitPollInterval
	}
	return c
}

// waiterOptions translates the config into SDK waiter options. The attempt
// count is derived from the timeout so either bound ends the wait.
func (c WaitConfig) waiterOptions() []request.WaiterOption {
	attempts := int(c.Timeout / c.PollInterval)
	if attempts < 1 {
		attempts = 1
	}
	return []request.WaiterOption{
		request.WithWaiterDelay(request.ConstantWaiterDelay(c.PollInterval)),
		request.WithWaiterMaxAttempts(attempts),
	}
}

// WaitForRunning blocks until an instance with the node's name reaches the
// running state, or the wait budget is spent. The wait filters by name, not
// instance id, so it works before the instance has ever been resolved. A
// non-running terminal state (such as terminated) fails the wait.
func (n *Node) WaitForRunning(cfg WaitConfig) error {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	n.log.WithField("timeout", cfg.Timeout).Info("Waiting for instance to be running")
	err := n.api.WaitUntilInstanceRunningWithContext(ctx, &ec2.DescribeInstancesInput{
		Filters: []*ec2.Filter{
			{
				Name:   aws.String("tag:" + nameTagKey),
				Values: []*string{aws.String(n.Name)},
			},
		},
	}, cfg.waiterOptions()...)
	if err != nil {
		return fmt.Errorf("wait for running failed: %w", err)
	}
	return nil
}

// WaitForStatusOK blocks until the instance passes the EC2 status checks.
// Status OK is distinct from and later than running; it is the practical
// signal that the instance will accept SSH connections. Requires a
// resolvable instance.
func (n *Node) WaitForStatusOK(cfg WaitConfig) error {
	instanceID, err := n.InstanceID()
	if err != nil {
		return err
	}

	cfg = cfg.withDefaults()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	n.log.WithFields(logrus.Fields{
		"instance_id": instanceID,
		"timeout":     cfg.Timeout,
	}).Info("Waiting for instance status checks to pass")
	err = n.api.WaitUntilInstanceStatusOkWithContext(ctx, &ec2.DescribeInstanceStatusInput{
		InstanceIds: []*string{aws.String(instanceID)},
	}, cfg.waiterOptions()...)
	if err != nil {
		return fmt.Errorf("wait for status ok failed: %w", err)
	}
	return nil
}

// WaitForTerminated blocks until the instance reaches the terminated state.
// It waits by instance id, so the handle must have resolved the instance
// before it left the running or pending states (a Terminate call on this
// handle is enough).
func (n *Node) WaitForTerminated(cfg WaitConfig) error {
	instanceID, err := n.InstanceID()
	if err != nil {
		return err
	}

	cfg = cfg.withDefaults()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	n.log.WithFields(logrus.Fields{
		"instance_id": instanceID,
		"timeout":     cfg.Timeout,
	}).Info("Waiting for instance to be terminated")
	err = n.api.WaitUntilInstanceTerminatedWithContext(ctx, &ec2.DescribeInstancesInput{
		Filters: []*ec2.Filter{
			{
				Name:   aws.String("instance-id"),
				Values: []*string{aws.String(instanceID)},
			},
		},
	}, cfg.waiterOptions()...)
	if err != nil {
		return fmt.Errorf("wait for terminated failed: %w", err)
	}
	return nil
}
