package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/armandmcqueen/ec2-cluster/internal/utils"
	"github.com/armandmcqueen/ec2-cluster/internal/watcher"
	"github.com/armandmcqueen/ec2-cluster/pkg/aws"
	"github.com/armandmcqueen/ec2-cluster/pkg/config"
	"github.com/armandmcqueen/ec2-cluster/pkg/node"
	"github.com/armandmcqueen/ec2-cluster/pkg/storage"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	nodeName   string
	region     string
	configPath string
	logLevel   string

	// launch flags
	availabilityZone string
	subnetID         string
	amiID            string
	instanceType     string
	ebsSnapshotID    string
	volumeSizeGB     int64
	volumeType       string
	iops             int64
	keyName          string
	securityGroups   []string
	iamRole          string
	placementGroup   string
	eiaType          string
	ebsOptimized     bool
	tags             map[string]string
	templateName     string
	saveTemplate     string

	dryRun       bool
	waitAfter    bool
	waitFor      string
	waitTimeout  string
	pollInterval string
	groupID      string
	watchEvery   string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "ec2node",
		Short: "Manage a single named EC2 instance",
		Long: "Manage the lifecycle of a single EC2 instance identified by its Name tag.\n" +
			"The name is the durable identity: the tool queries EC2 for a running or\n" +
			"pending instance with that name instead of keeping local state.",
	}

	rootCmd.PersistentFlags().StringVarP(&nodeName, "name", "n", "", "Logical name of the instance (required)")
	rootCmd.PersistentFlags().StringVar(&region, "region", "", "AWS region (overrides config)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	// Launch command
	var launchCmd = &cobra.Command{
		Use:   "launch",
		Short: "Launch the named instance",
		Long:  "Launch an EC2 instance tagged with the logical name. Fails if an instance with the name is already running or pending.",
		RunE:  runLaunch,
	}

	launchCmd.Flags().StringVarP(&availabilityZone, "availability-zone", "z", "", "Availability zone, e.g. us-east-1f")
	launchCmd.Flags().StringVar(&subnetID, "subnet-id", "", "Subnet id")
	launchCmd.Flags().StringVar(&amiID, "ami-id", "", "AMI id")
	launchCmd.Flags().StringVarP(&instanceType, "instance-type", "t", "", "Instance type, e.g. p3.16xlarge")
	launchCmd.Flags().StringVar(&ebsSnapshotID, "ebs-snapshot-id", "", "EBS snapshot id for the root volume")
	launchCmd.Flags().Int64Var(&volumeSizeGB, "volume-size", 0, "Root volume size in GB")
	launchCmd.Flags().StringVar(&volumeType, "volume-type", "gp2", "Root volume type (gp2, gp3, io1, io2, ...)")
	launchCmd.Flags().Int64Var(&iops, "iops", 0, "Provisioned IOPS (required for io1/io2 volumes)")
	launchCmd.Flags().StringVarP(&keyName, "key-name", "k", "", "EC2 key pair name")
	launchCmd.Flags().StringSliceVar(&securityGroups, "security-group-ids", nil, "Security group ids (comma separated)")
	launchCmd.Flags().StringVar(&iamRole, "iam-role", "", "IAM EC2 role name (the name, not the ARN)")
	launchCmd.Flags().StringVar(&placementGroup, "placement-group", "", "Placement group name")
	launchCmd.Flags().StringVar(&eiaType, "eia-type", "", "Elastic inference accelerator type, e.g. eia1.large")
	launchCmd.Flags().BoolVar(&ebsOptimized, "ebs-optimized", true, "Launch an EBS optimized instance")
	launchCmd.Flags().StringToStringVar(&tags, "tag", nil, "Extra instance tag (key=value, repeatable)")
	launchCmd.Flags().StringVarP(&templateName, "template", "T", "", "Start from a stored launch template")
	launchCmd.Flags().StringVar(&saveTemplate, "save-template", "", "Save the resulting launch spec under this template name")
	launchCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the request with EC2 without launching")
	launchCmd.Flags().BoolVar(&waitAfter, "wait", false, "Block until the instance is running")

	// Status command
	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show whether the named instance is live",
		Long:  "Check whether an instance with the logical name is running or pending, and show its details if so.",
		RunE:  runStatus,
	}

	// Describe command
	var describeCmd = &cobra.Command{
		Use:   "describe",
		Short: "Print the instance's id, addresses and security groups",
		RunE:  runDescribe,
	}

	// Wait command
	var waitCmd = &cobra.Command{
		Use:   "wait",
		Short: "Block until the instance reaches a target condition",
		Long:  "Block until the instance is running, passes its status checks (status-ok), or is terminated.",
		RunE:  runWait,
	}

	waitCmd.Flags().StringVar(&waitFor, "for", "running", "Target condition (running, status-ok, terminated)")
	waitCmd.Flags().StringVar(&waitTimeout, "timeout", "10m", "Wait budget (e.g. 10m, 600s)")
	waitCmd.Flags().StringVar(&pollInterval, "poll-interval", "15s", "Poll cadence (e.g. 15s)")

	// Detach security group command
	var detachSgCmd = &cobra.Command{
		Use:   "detach-sg",
		Short: "Detach a security group from the instance",
		Long:  "Remove a security group from the running instance. Detaching a group that is not attached is a no-op.",
		RunE:  runDetachSg,
	}

	detachSgCmd.Flags().StringVarP(&groupID, "group-id", "g", "", "Security group id to detach (required)")
	if err := detachSgCmd.MarkFlagRequired("group-id"); err != nil {
		log.Fatal(err)
	}

	// Terminate command
	var terminateCmd = &cobra.Command{
		Use:   "terminate",
		Short: "Terminate the named instance",
		Long:  "Terminate the instance and remove its Name tag so the name can be reused immediately.",
		RunE:  runTerminate,
	}

	terminateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate the request with EC2 without terminating")
	terminateCmd.Flags().BoolVar(&waitAfter, "wait", false, "Block until the instance is terminated")

	// Watch command
	var watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Poll the instance and log state transitions",
		Long:  "Poll the named instance in the foreground and log every state transition until interrupted.",
		RunE:  runWatch,
	}

	watchCmd.Flags().StringVar(&watchEvery, "interval", "15s", "Poll cadence (e.g. 15s, 1m)")

	// Template commands
	var templateCmd = &cobra.Command{
		Use:   "template",
		Short: "Manage stored launch templates",
	}

	var templateListCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored launch templates",
		RunE:  runTemplateList,
	}

	var templateShowCmd = &cobra.Command{
		Use:   "show <template>",
		Short: "Show a stored launch template",
		Args:  cobra.ExactArgs(1),
		RunE:  runTemplateShow,
	}

	var templateDeleteCmd = &cobra.Command{
		Use:   "delete <template>",
		Short: "Delete a stored launch template",
		Args:  cobra.ExactArgs(1),
		RunE:  runTemplateDelete,
	}

	templateCmd.AddCommand(templateListCmd)
	templateCmd.AddCommand(templateShowCmd)
	templateCmd.AddCommand(templateDeleteCmd)

	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(waitCmd)
	rootCmd.AddCommand(detachSgCmd)
	rootCmd.AddCommand(terminateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(templateCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// setup loads config and builds the logger and node handle shared by most
// commands.
func setup() (*config.Config, *logrus.Logger, *node.Node, error) {
	if nodeName == "" {
		return nil, nil, nil, errors.New("--name is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if region != "" {
		cfg.AWS.Region = region
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger := cfg.Log.NewLogger()

	client, err := aws.NewClient(cfg.AWS.Region, cfg.AWS.AccessKey, cfg.AWS.SecretKey)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create EC2 client: %w", err)
	}

	return cfg, logger, node.New(nodeName, cfg.AWS.Region, client, logger), nil
}

func runLaunch(cmd *cobra.Command, args []string) error {
	cfg, _, n, err := setup()
	if err != nil {
		return err
	}

	store := storage.NewTemplateStore(cfg.Templates.Path)

	var spec node.LaunchSpec
	if templateName != "" {
		record, err := store.Get(templateName)
		if err != nil {
			return fmt.Errorf("failed to load template: %w", err)
		}
		spec = record.Spec
	}

	applyLaunchFlags(cmd, &spec)

	if spec.AvailabilityZone != "" {
		if err := utils.ValidateAvailabilityZone(spec.AvailabilityZone); err != nil {
			return fmt.Errorf("invalid availability zone: %w", err)
		}
	}

	if saveTemplate != "" {
		if err := store.Save(saveTemplate, spec); err != nil {
			return fmt.Errorf("failed to save template: %w", err)
		}
		fmt.Printf("Saved launch template %q\n", saveTemplate)
	}

	reservation, err := n.Launch(spec, dryRun)
	if err != nil {
		if dryRun && isDryRunSuccess(err) {
			fmt.Println("Dry run succeeded: EC2 accepted the launch request.")
			return nil
		}
		return err
	}

	if len(reservation.Instances) == 0 {
		return errors.New("no instance returned from RunInstances")
	}

	instance := reservation.Instances[0]
	fmt.Printf("Instance launched!\n")
	fmt.Printf("  Name: %s\n", nodeName)
	fmt.Printf("  Instance ID: %s\n", *instance.InstanceId)
	fmt.Printf("  State: %s\n", *instance.State.Name)

	if waitAfter {
		if err := n.WaitForRunning(node.WaitConfig{}); err != nil {
			return err
		}
		fmt.Println("Instance is running.")
	}

	return nil
}

// applyLaunchFlags overlays explicitly set launch flags onto spec, so flags
// override template values but template values survive otherwise.
func applyLaunchFlags(cmd *cobra.Command, spec *node.LaunchSpec) {
	flags := cmd.Flags()
	if flags.Changed("availability-zone") {
		spec.AvailabilityZone = availabilityZone
	}
	if flags.Changed("subnet-id") {
		spec.SubnetID = subnetID
	}
	if flags.Changed("ami-id") {
		spec.AMIID = amiID
	}
	if flags.Changed("instance-type") {
		spec.InstanceType = instanceType
	}
	if flags.Changed("ebs-snapshot-id") {
		spec.EBSSnapshotID = ebsSnapshotID
	}
	if flags.Changed("volume-size") {
		spec.VolumeSizeGB = volumeSizeGB
	}
	if flags.Changed("volume-type") || spec.VolumeType == "" {
		spec.VolumeType = volumeType
	}
	if flags.Changed("iops") {
		spec.IOPS = iops
	}
	if flags.Changed("key-name") {
		spec.KeyName = keyName
	}
	if flags.Changed("security-group-ids") {
		spec.SecurityGroupIDs = securityGroups
	}
	if flags.Changed("iam-role") {
		spec.IAMRoleName = iamRole
	}
	if flags.Changed("placement-group") {
		spec.PlacementGroup = placementGroup
	}
	if flags.Changed("eia-type") {
		spec.EIAType = eiaType
	}
	if flags.Changed("ebs-optimized") || templateName == "" {
		spec.EBSOptimized = ebsOptimized
	}
	if flags.Changed("tag") {
		spec.Tags = tags
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, _, n, err := setup()
	if err != nil {
		return err
	}

	live, err := n.IsRunningOrPending()
	if err != nil {
		return err
	}
	if !live {
		fmt.Printf("No running or pending instance named %q.\n", nodeName)
		return nil
	}

	info, err := n.Resolve()
	if err != nil {
		return err
	}

	fmt.Printf("Instance Status:\n")
	fmt.Printf("  Name: %s\n", nodeName)
	fmt.Printf("  Instance ID: %s\n", *info.InstanceId)
	fmt.Printf("  State: %s\n", *info.State.Name)
	if info.PublicIpAddress != nil {
		fmt.Printf("  Public IP: %s\n", *info.PublicIpAddress)
	}
	if info.PrivateIpAddress != nil {
		fmt.Printf("  Private IP: %s\n", *info.PrivateIpAddress)
	}

	return nil
}

func runDescribe(cmd *cobra.Command, args []string) error {
	_, _, n, err := setup()
	if err != nil {
		return err
	}

	instanceID, err := n.InstanceID()
	if err != nil {
		return err
	}
	privateIP, err := n.PrivateIP()
	if err != nil {
		return err
	}
	publicIP, err := n.PublicIP()
	if err != nil {
		return err
	}
	securityGroupIDs, err := n.SecurityGroups()
	if err != nil {
		return err
	}

	fmt.Printf("Instance %q:\n", nodeName)
	fmt.Printf("  Instance ID: %s\n", instanceID)
	fmt.Printf("  Private IP: %s\n", privateIP)
	if publicIP != "" {
		fmt.Printf("  Public IP: %s\n", publicIP)
	} else {
		fmt.Printf("  Public IP: (none assigned)\n")
	}
	fmt.Printf("  Security Groups: %s\n", strings.Join(securityGroupIDs, ", "))

	return nil
}

func runWait(cmd *cobra.Command, args []string) error {
	_, _, n, err := setup()
	if err != nil {
		return err
	}

	timeout, err := utils.ParseDuration(waitTimeout)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	interval, err := utils.ParseDuration(pollInterval)
	if err != nil {
		return fmt.Errorf("invalid poll interval: %w", err)
	}
	waitCfg := node.WaitConfig{Timeout: timeout, PollInterval: interval}

	switch waitFor {
	case "running":
		err = n.WaitForRunning(waitCfg)
	case "status-ok":
		err = n.WaitForStatusOK(waitCfg)
	case "terminated":
		err = n.WaitForTerminated(waitCfg)
	default:
		return fmt.Errorf("unknown wait target %q (expected running, status-ok or terminated)", waitFor)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Instance %q reached %s.\n", nodeName, waitFor)
	return nil
}

func runDetachSg(cmd *cobra.Command, args []string) error {
	_, _, n, err := setup()
	if err != nil {
		return err
	}

	if err := utils.ValidateSecurityGroupID(groupID); err != nil {
		return err
	}

	if err := n.DetachSecurityGroup(groupID); err != nil {
		return err
	}

	fmt.Printf("Security group %s detached from %q.\n", groupID, nodeName)
	return nil
}

func runTerminate(cmd *cobra.Command, args []string) error {
	_, _, n, err := setup()
	if err != nil {
		return err
	}

	if err := n.Terminate(dryRun); err != nil {
		if dryRun && isDryRunSuccess(err) {
			fmt.Println("Dry run succeeded: EC2 accepted the terminate request.")
			return nil
		}
		return err
	}

	fmt.Printf("Instance %q is terminating; its name is free for reuse.\n", nodeName)

	if waitAfter {
		if err := n.WaitForTerminated(node.WaitConfig{}); err != nil {
			return err
		}
		fmt.Println("Instance is terminated.")
	}

	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, _, err := setup()
	if err != nil {
		return err
	}

	interval, err := utils.ParseDuration(watchEvery)
	if err != nil {
		return fmt.Errorf("invalid interval: %w", err)
	}

	client, err := aws.NewClient(cfg.AWS.Region, cfg.AWS.AccessKey, cfg.AWS.SecretKey)
	if err != nil {
		return fmt.Errorf("failed to create EC2 client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
	}()

	fmt.Printf("Watching instance %q every %s. Press Ctrl+C to stop.\n", nodeName, utils.FormatDuration(interval))
	return watcher.New(nodeName, client, interval, logger).Run(ctx)
}

func runTemplateList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store := storage.NewTemplateStore(cfg.Templates.Path)
	records, err := store.List()
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No launch templates stored.")
		return nil
	}

	fmt.Printf("Launch Templates:\n\n")
	for _, record := range records {
		fmt.Printf("%s\n", record.Name)
		fmt.Printf("  Instance Type: %s\n", record.Spec.InstanceType)
		fmt.Printf("  AMI: %s\n", record.Spec.AMIID)
		fmt.Printf("  Availability Zone: %s\n", record.Spec.AvailabilityZone)
		fmt.Printf("  Updated: %s\n", record.UpdatedAt.Format("2006-01-02 15:04:05"))
		fmt.Println()
	}
	return nil
}

func runTemplateShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store := storage.NewTemplateStore(cfg.Templates.Path)
	record, err := store.Get(args[0])
	if err != nil {
		return err
	}

	spec := record.Spec
	fmt.Printf("Template %q:\n", record.Name)
	fmt.Printf("  Availability Zone: %s\n", spec.AvailabilityZone)
	fmt.Printf("  Subnet: %s\n", spec.SubnetID)
	fmt.Printf("  AMI: %s\n", spec.AMIID)
	fmt.Printf("  Instance Type: %s\n", spec.InstanceType)
	fmt.Printf("  Volume: %dGB %s", spec.VolumeSizeGB, spec.VolumeType)
	if spec.IOPS > 0 {
		fmt.Printf(" (%d IOPS)", spec.IOPS)
	}
	fmt.Println()
	fmt.Printf("  Key Name: %s\n", spec.KeyName)
	fmt.Printf("  Security Groups: %s\n", strings.Join(spec.SecurityGroupIDs, ", "))
	fmt.Printf("  IAM Role: %s\n", spec.IAMRoleName)
	if spec.PlacementGroup != "" {
		fmt.Printf("  Placement Group: %s\n", spec.PlacementGroup)
	}
	if spec.EIAType != "" {
		fmt.Printf("  Accelerator: %s\n", spec.EIAType)
	}
	fmt.Printf("  EBS Optimized: %t\n", spec.EBSOptimized)
	for key, value := range spec.Tags {
		fmt.Printf("  Tag: %s=%s\n", key, value)
	}
	return nil
}

func runTemplateDelete(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store := storage.NewTemplateStore(cfg.Templates.Path)
	if err := store.Delete(args[0]); err != nil {
		return err
	}

	fmt.Printf("Template %q deleted.\n", args[0])
	return nil
}

// isDryRunSuccess reports whether err is EC2's way of saying a dry-run
// request would have succeeded.
func isDryRunSuccess(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code() == "DryRunOperation"
	}
	return false
}
