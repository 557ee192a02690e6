// Package node manages the lifecycle of a single named EC2 instance.
//
// A Node maps a caller-chosen logical name onto at most one live instance
// through the EC2 "Name" tag, with no local control plane: the tag is the
// only durable identity across sessions. Name-based lookup only sees
// instances in the running or pending states. Everything else is invisible,
// which keeps a terminated name immediately reusable, but also means a
// stopped instance that someone starts by hand can collide with a fresh
// launch under the same name.
//
// A Node expects one controller per name at a time. Behavior is undefined
// when two live instances share a name or when two callers race the same
// name; see Launch for the documented race.
package node

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/sirupsen/logrus"

	"github.com/armandmcqueen/ec2-cluster/pkg/cloud"
)

// Instance states as reported by the EC2 API.
const (
	StatePending      = "pending"
	StateRunning      = "running"
	StateShuttingDown = "shutting-down"
	StateTerminated   = "terminated"
	StateStopping     = "stopping"
	StateStopped      = "stopped"
)

// nameTagKey is reserved for node identity and may not appear in caller tags.
const nameTagKey = "Name"

// Node is a handle to one named EC2 instance.
//
// The instance description is fetched lazily on first attribute access and
// memoized for the life of the handle; it is never refreshed and goes stale
// after any external change. Discard the handle and construct a new one to
// observe fresh state.
type Node struct {
	Name   string
	Region string

	api  cloud.EC2API
	log  *logrus.Entry
	info *ec2.Instance
}

// New returns a handle for the instance named name in region. The handle
// performs no API calls until an operation needs one. A nil logger gets a
// quiet default.
func New(name, region string, api cloud.EC2API, logger *logrus.Logger) *Node {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Node{
		Name:   name,
		Region: region,
		api:    api,
		log:    logger.WithFields(logrus.Fields{"node": name, "region": region}),
	}
}

// Resolve queries EC2 for the running or pending instance tagged with the
// node's name. It returns ErrNotFound when no instance matches and
// ErrAmbiguousName when more than one does. Resolve itself never reads or
// writes the snapshot cache.
func (n *Node) Resolve() (*ec2.Instance, error) {
	n.log.Debug("Resolving instance by Name tag")

	out, err := n.api.DescribeInstances(&ec2.DescribeInstancesInput{
		Filters: n.nameStateFilters(StateRunning, StatePending),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instances: %w", err)
	}

	var matches []*ec2.Instance
	for _, reservation := range out.Reservations {
		matches = append(matches, reservation.Instances...)
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("instance %q: %w", n.Name, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("instance %q matched %d instances: %w", n.Name, len(matches), ErrAmbiguousName)
	}
}

// snapshot returns the memoized instance description, resolving on first use.
func (n *Node) snapshot() (*ec2.Instance, error) {
	if n.info == nil {
		info, err := n.Resolve()
		if err != nil {
			return nil, err
		}
		n.info = info
	}
	return n.info, nil
}

// InstanceID returns the EC2 instance id from the snapshot.
func (n *Node) InstanceID() (string, error) {
	info, err := n.snapshot()
	if err != nil {
		return "", err
	}
	return aws.StringValue(info.InstanceId), nil
}

// PrivateIP returns the instance's private IP from the snapshot.
func (n *Node) PrivateIP() (string, error) {
	info, err := n.snapshot()
	if err != nil {
		return "", err
	}
	return aws.StringValue(info.PrivateIpAddress), nil
}

// PublicIP returns the instance's public IP from the snapshot, or an empty
// string when EC2 did not assign one. Absence is not an error.
func (n *Node) PublicIP() (string, error) {
	info, err := n.snapshot()
	if err != nil {
		return "", err
	}
	return aws.StringValue(info.PublicIpAddress), nil
}

// SecurityGroups returns the ids of the security groups attached to the
// instance, from the snapshot.
func (n *Node) SecurityGroups() ([]string, error) {
	info, err := n.snapshot()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(info.SecurityGroups))
	for _, sg := range info.SecurityGroups {
		ids = append(ids, aws.StringValue(sg.GroupId))
	}
	return ids, nil
}

// IsInState reports whether an instance with the node's name currently
// exists in any of the given states. Always a fresh API call; the snapshot
// cache is neither read nor written.
func (n *Node) IsInState(states ...string) (bool, error) {
	out, err := n.api.DescribeInstances(&ec2.DescribeInstancesInput{
		Filters: n.nameStateFilters(states...),
	})
	if err != nil {
		return false, fmt.Errorf("failed to describe instances: %w", err)
	}

	for _, reservation := range out.Reservations {
		if len(reservation.Instances) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// IsRunningOrPending reports whether the named instance is running or pending.
func (n *Node) IsRunningOrPending() (bool, error) {
	return n.IsInState(StateRunning, StatePending)
}

// DetachSecurityGroup removes sgID from the instance's attached security
// groups with a single modify-attribute call. Removing a group that is not
// attached is a no-op, not an error. The instance must be running or
// pending. The snapshot cache is not updated: SecurityGroups keeps returning
// the pre-detach set for this handle.
func (n *Node) DetachSecurityGroup(sgID string) error {
	ok, err := n.IsRunningOrPending()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cannot detach security group %s: %w", sgID, ErrInvalidOperation)
	}

	current, err := n.SecurityGroups()
	if err != nil {
		return err
	}

	groups := make([]*string, 0, len(current))
	for _, id := range current {
		if id != sgID {
			groups = append(groups, aws.String(id))
		}
	}

	instanceID, err := n.InstanceID()
	if err != nil {
		return err
	}

	n.log.WithFields(logrus.Fields{
		"instance_id":    instanceID,
		"security_group": sgID,
	}).Info("Detaching security group")

	_, err = n.api.ModifyInstanceAttribute(&ec2.ModifyInstanceAttributeInput{
		InstanceId: aws.String(instanceID),
		Groups:     groups,
	})
	if err != nil {
		return fmt.Errorf("failed to modify security groups for %s: %w", instanceID, err)
	}
	return nil
}

// Terminate issues a terminate call for the resolved instance, then removes
// its Name tag so a replacement can launch under the same name without
// waiting for the old instance to finish shutting down. It does not wait for
// the terminated state; use WaitForTerminated for that. With dryRun the API
// reports a DryRunOperation error and the tag is left in place.
func (n *Node) Terminate(dryRun bool) error {
	instanceID, err := n.InstanceID()
	if err != nil {
		return err
	}

	n.log.WithFields(logrus.Fields{
		"instance_id": instanceID,
		"dry_run":     dryRun,
	}).Info("Terminating instance")

	_, err = n.api.TerminateInstances(&ec2.TerminateInstancesInput{
		InstanceIds: []*string{aws.String(instanceID)},
		DryRun:      aws.Bool(dryRun),
	})
	if err != nil {
		return fmt.Errorf("failed to terminate instance %s: %w", instanceID, err)
	}

	_, err = n.api.DeleteTags(&ec2.DeleteTagsInput{
		Resources: []*string{aws.String(instanceID)},
		Tags:      []*ec2.Tag{{Key: aws.String(nameTagKey)}},
	})
	if err != nil {
		return fmt.Errorf("failed to remove Name tag from %s: %w", instanceID, err)
	}
	return nil
}

func (n *Node) nameStateFilters(states ...string) []*ec2.Filter {
	return []*ec2.Filter{
		{
			Name:   aws.String("tag:" + nameTagKey),
			Values: []*string{aws.String(n.Name)},
		},
		{
			Name:   aws.String("instance-state-name"),
			Values: aws.StringSlice(states),
		},
	}
}
