package node_test

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
)

// fakeEC2 implements cloud.EC2API in memory. DescribeInstances responses are
// served from a queue; the last queued response repeats once the queue is
// drained, and an empty queue means "no instances".
type fakeEC2 struct {
	describeQueue []*ec2.DescribeInstancesOutput
	describeErr   error
	describeCalls []*ec2.DescribeInstancesInput

	runResult *ec2.Reservation
	runErr    error
	runCalls  []*ec2.RunInstancesInput

	terminateErr   error
	terminateCalls []*ec2.TerminateInstancesInput

	modifyErr   error
	modifyCalls []*ec2.ModifyInstanceAttributeInput

	deleteTagsCalls []*ec2.DeleteTagsInput

	waitErr              error
	waitRunningInputs    []*ec2.DescribeInstancesInput
	waitStatusOKInputs   []*ec2.DescribeInstanceStatusInput
	waitTerminatedInputs []*ec2.DescribeInstancesInput
}

func (f *fakeEC2) DescribeInstances(input *ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
	f.describeCalls = append(f.describeCalls, input)
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	if len(f.describeQueue) == 0 {
		return &ec2.DescribeInstancesOutput{}, nil
	}
	out := f.describeQueue[0]
	if len(f.describeQueue) > 1 {
		f.describeQueue = f.describeQueue[1:]
	}
	return out, nil
}

func (f *fakeEC2) RunInstances(input *ec2.RunInstancesInput) (*ec2.Reservation, error) {
	f.runCalls = append(f.runCalls, input)
	if f.runErr != nil {
		return nil, f.runErr
	}
	if f.runResult != nil {
		return f.runResult, nil
	}
	return &ec2.Reservation{
		Instances: []*ec2.Instance{
			{
				InstanceId: aws.String("i-new00000000"),
				State:      &ec2.InstanceState{Name: aws.String("pending")},
			},
		},
	}, nil
}

func (f *fakeEC2) TerminateInstances(input *ec2.TerminateInstancesInput) (*ec2.TerminateInstancesOutput, error) {
	f.terminateCalls = append(f.terminateCalls, input)
	if f.terminateErr != nil {
		return nil, f.terminateErr
	}
	return &ec2.TerminateInstancesOutput{}, nil
}

func (f *fakeEC2) ModifyInstanceAttribute(input *ec2.ModifyInstanceAttributeInput) (*ec2.ModifyInstanceAttributeOutput, error) {
	f.modifyCalls = append(f.modifyCalls, input)
	if f.modifyErr != nil {
		return nil, f.modifyErr
	}
	return &ec2.ModifyInstanceAttributeOutput{}, nil
}

func (f *fakeEC2) DeleteTags(input *ec2.DeleteTagsInput) (*ec2.DeleteTagsOutput, error) {
	f.deleteTagsCalls = append(f.deleteTagsCalls, input)
	return &ec2.DeleteTagsOutput{}, nil
}

func (f *fakeEC2) WaitUntilInstanceRunningWithContext(ctx aws.Context, input *ec2.DescribeInstancesInput, opts ...request.WaiterOption) error {
	f.waitRunningInputs = append(f.waitRunningInputs, input)
	return f.waitErr
}

func (f *fakeEC2) WaitUntilInstanceStatusOkWithContext(ctx aws.Context, input *ec2.DescribeInstanceStatusInput, opts ...request.WaiterOption) error {
	f.waitStatusOKInputs = append(f.waitStatusOKInputs, input)
	return f.waitErr
}

func (f *fakeEC2) WaitUntilInstanceTerminatedWithContext(ctx aws.Context, input *ec2.DescribeInstancesInput, opts ...request.WaiterOption) error {
	f.waitTerminatedInputs = append(f.waitTerminatedInputs, input)
	return f.waitErr
}

// describeOutput wraps instances in a single reservation.
func describeOutput(instances ...*ec2.Instance) *ec2.DescribeInstancesOutput {
	if len(instances) == 0 {
		return &ec2.DescribeInstancesOutput{}
	}
	return &ec2.DescribeInstancesOutput{
		Reservations: []*ec2.Reservation{{Instances: instances}},
	}
}

// runningInstance builds a running instance description for the fake.
func runningInstance(id string, securityGroupIDs ...string) *ec2.Instance {
	groups := make([]*ec2.GroupIdentifier, 0, len(securityGroupIDs))
	for _, sgID := range securityGroupIDs {
		groups = append(groups, &ec2.GroupIdentifier{GroupId: aws.String(sgID)})
	}
	return &ec2.Instance{
		InstanceId:       aws.String(id),
		State:            &ec2.InstanceState{Name: aws.String("running")},
		PrivateIpAddress: aws.String("10.0.1.5"),
		PublicIpAddress:  aws.String("54.1.2.3"),
		SecurityGroups:   groups,
	}
}

// filterValues returns the values of the named filter, or nil if absent.
func filterValues(filters []*ec2.Filter, name string) []string {
	for _, filter := range filters {
		if aws.StringValue(filter.Name) == name {
			return aws.StringValueSlice(filter.Values)
		}
	}
	return nil
}
