// Package aws constructs the EC2 client used by the rest of the tool.
package aws

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
)

// NewClient creates an EC2 client for the given region. When accessKey and
// secretKey are both empty the SDK's default credential chain is used, so
// shared credential files and instance profiles keep working.
func NewClient(region, accessKey, secretKey string) (*ec2.EC2, error) {
	if region == "" {
		return nil, errors.New("region is required")
	}

	cfg := &aws.Config{Region: aws.String(region)}
	if accessKey != "" || secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return ec2.New(sess), nil
}

// ValidateCredentials makes a cheap read-only call to confirm the client can
// reach the EC2 API with its current credentials.
func ValidateCredentials(client *ec2.EC2) error {
	_, err := client.DescribeRegions(&ec2.DescribeRegionsInput{})
	if err != nil {
		return fmt.Errorf("invalid AWS credentials: %w", err)
	}
	return nil
}
