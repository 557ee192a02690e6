package node_test

import (
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armandmcqueen/ec2-cluster/pkg/node"
)

func validSpec() node.LaunchSpec {
	return node.LaunchSpec{
		AvailabilityZone: "us-east-1f",
		SubnetID:         "subnet-11112222",
		AMIID:            "ami-0123456789abcdef0",
		InstanceType:     "p3.16xlarge",
		EBSSnapshotID:    "snap-0aabbccdd",
		VolumeSizeGB:     100,
		VolumeType:       "gp2",
		KeyName:          "cluster-key",
		SecurityGroupIDs: []string{"sg-aaa11122"},
		IAMRoleName:      "cluster-node",
		EBSOptimized:     true,
	}
}

func dryRunError() error {
	return awserr.New("DryRunOperation", "Request would have succeeded, but DryRun flag is set.", nil)
}

func TestLaunchSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*node.LaunchSpec)
		wantErr bool
	}{
		{
			name:    "valid spec",
			mutate:  func(s *node.LaunchSpec) {},
			wantErr: false,
		},
		{
			name:    "empty security group list",
			mutate:  func(s *node.LaunchSpec) { s.SecurityGroupIDs = nil },
			wantErr: true,
		},
		{
			name: "io1 without iops",
			mutate: func(s *node.LaunchSpec) {
				s.VolumeType = "io1"
				s.IOPS = 0
			},
			wantErr: true,
		},
		{
			name: "io2 without iops",
			mutate: func(s *node.LaunchSpec) {
				s.VolumeType = "io2"
				s.IOPS = 0
			},
			wantErr: true,
		},
		{
			name: "io1 with iops",
			mutate: func(s *node.LaunchSpec) {
				s.VolumeType = "io1"
				s.IOPS = 4000
			},
			wantErr: false,
		},
		{
			name:    "reserved Name tag key",
			mutate:  func(s *node.LaunchSpec) { s.Tags = map[string]string{"Name": "x"} },
			wantErr: true,
		},
		{
			name:    "custom tags allowed",
			mutate:  func(s *node.LaunchSpec) { s.Tags = map[string]string{"team": "research"} },
			wantErr: false,
		},
		{
			name:    "accelerator outside supported family",
			mutate:  func(s *node.LaunchSpec) { s.EIAType = "eia2.large" },
			wantErr: true,
		},
		{
			name:    "accelerator in supported family",
			mutate:  func(s *node.LaunchSpec) { s.EIAType = "eia1.large" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)

			err := spec.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, node.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLaunch_ValidationFailsBeforeAnyAPICall(t *testing.T) {
	fake := &fakeEC2{}
	n := newTestNode(fake)

	spec := validSpec()
	spec.VolumeType = "io1"
	spec.IOPS = 0

	_, err := n.Launch(spec, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, node.ErrValidation)
	assert.Empty(t, fake.describeCalls, "validation failure must not reach the API")
	assert.Empty(t, fake.runCalls)
}

func TestLaunch_ReservedTagFailsBeforeAnyAPICall(t *testing.T) {
	fake := &fakeEC2{}
	n := newTestNode(fake)

	spec := validSpec()
	spec.Tags = map[string]string{"Name": "x"}

	_, err := n.Launch(spec, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, node.ErrValidation)
	assert.Empty(t, fake.describeCalls)
	assert.Empty(t, fake.runCalls)
}

func TestLaunch_DuplicateName(t *testing.T) {
	fake := &fakeEC2{}
	fake.describeQueue = append(fake.describeQueue, describeOutput(runningInstance("i-existing")))
	n := newTestNode(fake)

	_, err := n.Launch(validSpec(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, node.ErrAlreadyExists)
	assert.Empty(t, fake.runCalls)
}

func TestLaunch_SecondLaunchFails(t *testing.T) {
	fake := &fakeEC2{}
	fake.describeQueue = append(fake.describeQueue,
		describeOutput(),                            // first duplicate check: name is free
		describeOutput(runningInstance("i-new123")), // second check sees the first launch
	)
	n := newTestNode(fake)

	_, err := n.Launch(validSpec(), false)
	require.NoError(t, err)

	_, err = n.Launch(validSpec(), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, node.ErrAlreadyExists)
	assert.Len(t, fake.runCalls, 1)
}

func TestLaunch_RequestShape(t *testing.T) {
	fake := &fakeEC2{}
	n := newTestNode(fake)

	spec := validSpec()
	spec.Tags = map[string]string{"team": "research"}

	_, err := n.Launch(spec, false)
	require.NoError(t, err)
	require.Len(t, fake.runCalls, 1)

	input := fake.runCalls[0]
	assert.Equal(t, int64(1), aws.Int64Value(input.MinCount))
	assert.Equal(t, int64(1), aws.Int64Value(input.MaxCount))
	assert.Equal(t, "ami-0123456789abcdef0", aws.StringValue(input.ImageId))
	assert.Equal(t, "p3.16xlarge", aws.StringValue(input.InstanceType))
	assert.Equal(t, "cluster-key", aws.StringValue(input.KeyName))
	assert.Equal(t, "subnet-11112222", aws.StringValue(input.SubnetId))
	assert.Equal(t, []string{"sg-aaa11122"}, aws.StringValueSlice(input.SecurityGroupIds))
	assert.Equal(t, "cluster-node", aws.StringValue(input.IamInstanceProfile.Name))
	assert.True(t, aws.BoolValue(input.EbsOptimized))
	assert.False(t, aws.BoolValue(input.DryRun))
	assert.False(t, aws.BoolValue(input.Monitoring.Enabled))
	assert.Equal(t, "us-east-1f", aws.StringValue(input.Placement.AvailabilityZone))
	assert.Nil(t, input.Placement.GroupName)
	assert.Empty(t, input.ElasticInferenceAccelerators)

	require.Len(t, input.BlockDeviceMappings, 1)
	mapping := input.BlockDeviceMappings[0]
	assert.Equal(t, "/dev/xvda", aws.StringValue(mapping.DeviceName))
	assert.Equal(t, "snap-0aabbccdd", aws.StringValue(mapping.Ebs.SnapshotId))
	assert.Equal(t, int64(100), aws.Int64Value(mapping.Ebs.VolumeSize))
	assert.Equal(t, "gp2", aws.StringValue(mapping.Ebs.VolumeType))
	assert.Nil(t, mapping.Ebs.Iops)

	require.Len(t, input.TagSpecifications, 1)
	tagSpec := input.TagSpecifications[0]
	assert.Equal(t, "instance", aws.StringValue(tagSpec.ResourceType))
	require.Len(t, tagSpec.Tags, 2)
	assert.Equal(t, "Name", aws.StringValue(tagSpec.Tags[0].Key))
	assert.Equal(t, "test-node", aws.StringValue(tagSpec.Tags[0].Value))
	assert.Equal(t, "team", aws.StringValue(tagSpec.Tags[1].Key))
	assert.Equal(t, "research", aws.StringValue(tagSpec.Tags[1].Value))
}

func TestLaunch_OptionalFields(t *testing.T) {
	fake := &fakeEC2{}
	n := newTestNode(fake)

	spec := validSpec()
	spec.VolumeType = "io1"
	spec.IOPS = 4000
	spec.PlacementGroup = "tight-cluster"
	spec.EIAType = "eia1.large"

	_, err := n.Launch(spec, false)
	require.NoError(t, err)

	input := fake.runCalls[0]
	assert.Equal(t, int64(4000), aws.Int64Value(input.BlockDeviceMappings[0].Ebs.Iops))
	assert.Equal(t, "tight-cluster", aws.StringValue(input.Placement.GroupName))
	require.Len(t, input.ElasticInferenceAccelerators, 1)
	assert.Equal(t, "eia1.large", aws.StringValue(input.ElasticInferenceAccelerators[0].Type))
}

func TestLaunch_DryRunPassthrough(t *testing.T) {
	fake := &fakeEC2{runErr: dryRunError()}
	n := newTestNode(fake)

	_, err := n.Launch(validSpec(), true)
	require.Error(t, err)

	var aerr awserr.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "DryRunOperation", aerr.Code())
	assert.True(t, aws.BoolValue(fake.runCalls[0].DryRun))
}

func TestLaunch_ReturnsRawReservation(t *testing.T) {
	reservation := &ec2.Reservation{
		Instances: []*ec2.Instance{{InstanceId: aws.String("i-raw")}},
	}
	fake := &fakeEC2{runResult: reservation}
	n := newTestNode(fake)

	got, err := n.Launch(validSpec(), false)
	require.NoError(t, err)
	assert.Same(t, reservation, got)
}
