package node

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/sirupsen/logrus"
)

// eiaTypePrefix is the supported elastic inference accelerator family, e.g.
// "eia1.large".
const eiaTypePrefix = "eia1"

// rootDeviceName is where the EBS root volume is attached.
const rootDeviceName = "/dev/xvda"

// LaunchSpec describes the instance to launch. Required fields mirror the
// RunInstances call; optional fields are zero-valued when unused.
type LaunchSpec struct {
	AvailabilityZone string `json:"availability_zone"`
	SubnetID         string `json:"subnet_id"`
	AMIID            string `json:"ami_id"`
	InstanceType     string `json:"instance_type"`

	EBSSnapshotID string `json:"ebs_snapshot_id,omitempty"`
	VolumeSizeGB  int64  `json:"volume_size_gb"`
	VolumeType    string `json:"volume_type"`
	IOPS          int64  `json:"iops,omitempty"` // required for io1/io2 volumes

	KeyName          string   `json:"key_name"`
	SecurityGroupIDs []string `json:"security_group_ids"`
	IAMRoleName      string   `json:"iam_role_name"`

	PlacementGroup string `json:"placement_group,omitempty"`
	EIAType        string `json:"eia_type,omitempty"`
	EBSOptimized   bool   `json:"ebs_optimized"`

	// Tags are appended after the Name tag. The "Name" key is reserved.
	Tags map[string]string `json:"tags,omitempty"`
}

// Validate checks the spec locally. It runs before any API call; a failing
// spec never reaches EC2.
func (s *LaunchSpec) Validate() error {
	if len(s.SecurityGroupIDs) == 0 {
		return fmt.Errorf("%w: security group list must be non-empty", ErrValidation)
	}
	if s.EIAType != "" && !strings.HasPrefix(s.EIAType, eiaTypePrefix) {
		return fmt.Errorf("%w: accelerator type %q must be in the form %q", ErrValidation, s.EIAType, eiaTypePrefix+".large")
	}
	if requiresProvisionedIOPS(s.VolumeType) && s.IOPS == 0 {
		return fmt.Errorf("%w: volume type %s requires an IOPS value", ErrValidation, s.VolumeType)
	}
	for key := range s.Tags {
		if key == nameTagKey {
			return fmt.Errorf("%w: tag key %q is reserved, the node name is applied automatically", ErrValidation, nameTagKey)
		}
	}
	return nil
}

func requiresProvisionedIOPS(volumeType string) bool {
	return volumeType == ec2.VolumeTypeIo1 || volumeType == ec2.VolumeTypeIo2
}

// Launch validates spec, refuses to proceed when an instance with the node's
// name is already running or pending, and issues a single RunInstances call
// with the name injected as the Name tag and caller tags appended. It
// returns the raw reservation.
//
// The duplicate check and the create call are not atomic: two callers
// racing the same name can still both launch. That is a caller
// responsibility, not something Launch guards against.
//
// With dryRun the API validates the request server-side without creating
// anything and reports a DryRunOperation error.
func (n *Node) Launch(spec LaunchSpec, dryRun bool) (*ec2.Reservation, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	exists, err := n.IsRunningOrPending()
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("instance %q: %w", n.Name, ErrAlreadyExists)
	}

	ebs := &ec2.EbsBlockDevice{
		SnapshotId: aws.String(spec.EBSSnapshotID),
		VolumeSize: aws.Int64(spec.VolumeSizeGB),
		VolumeType: aws.String(spec.VolumeType),
	}
	if spec.IOPS > 0 {
		ebs.Iops = aws.Int64(spec.IOPS)
	}

	placement := &ec2.Placement{AvailabilityZone: aws.String(spec.AvailabilityZone)}
	if spec.PlacementGroup != "" {
		placement.GroupName = aws.String(spec.PlacementGroup)
	}

	var accelerators []*ec2.ElasticInferenceAccelerator
	if spec.EIAType != "" {
		accelerators = []*ec2.ElasticInferenceAccelerator{{Type: aws.String(spec.EIAType)}}
	}

	tags := []*ec2.Tag{{Key: aws.String(nameTagKey), Value: aws.String(n.Name)}}
	for key, value := range spec.Tags {
		tags = append(tags, &ec2.Tag{Key: aws.String(key), Value: aws.String(value)})
	}

	n.log.WithFields(logrus.Fields{
		"instance_type": spec.InstanceType,
		"ami":           spec.AMIID,
		"az":            spec.AvailabilityZone,
		"dry_run":       dryRun,
	}).Info("Launching instance")

	reservation, err := n.api.RunInstances(&ec2.RunInstancesInput{
		BlockDeviceMappings: []*ec2.BlockDeviceMapping{
			{
				DeviceName: aws.String(rootDeviceName),
				Ebs:        ebs,
			},
		},
		ImageId:      aws.String(spec.AMIID),
		InstanceType: aws.String(spec.InstanceType),
		KeyName:      aws.String(spec.KeyName),
		MinCount:     aws.Int64(1),
		MaxCount:     aws.Int64(1),
		Monitoring: &ec2.RunInstancesMonitoringEnabled{
			Enabled: aws.Bool(false),
		},
		Placement:        placement,
		SecurityGroupIds: aws.StringSlice(spec.SecurityGroupIDs),
		SubnetId:         aws.String(spec.SubnetID),
		DryRun:           aws.Bool(dryRun),
		EbsOptimized:     aws.Bool(spec.EBSOptimized),
		IamInstanceProfile: &ec2.IamInstanceProfileSpecification{
			Name: aws.String(spec.IAMRoleName),
		},
		ElasticInferenceAccelerators: accelerators,
		TagSpecifications: []*ec2.TagSpecification{
			{
				ResourceType: aws.String(ec2.ResourceTypeInstance),
				Tags:         tags,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch instance %q: %w", n.Name, err)
	}
	return reservation, nil
}
