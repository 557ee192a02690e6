package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses a duration string with support for common units
func ParseDuration(durationStr string) (time.Duration, error) {
	// Handle common duration formats
	durationStr = strings.ToLower(strings.TrimSpace(durationStr))

	// If it's just a number, assume minutes
	if val, err := strconv.Atoi(durationStr); err == nil {
		return time.Duration(val) * time.Minute, nil
	}

	// Try parsing as standard Go duration
	duration, err := time.ParseDuration(durationStr)
	if err == nil {
		return duration, nil
	}

	// Handle formats like "2 hours", "30 minutes", etc.
	parts := strings.Fields(durationStr)
	if len(parts) == 2 {
		val, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, fmt.Errorf("invalid duration value: %s", parts[0])
		}

		unit := parts[1]
		switch {
		case strings.HasPrefix(unit, "second"):
			return time.Duration(val) * time.Second, nil
		case strings.HasPrefix(unit, "minute"):
			return time.Duration(val) * time.Minute, nil
		case strings.HasPrefix(unit, "hour"):
			return time.Duration(val) * time.Hour, nil
		default:
			return 0, fmt.Errorf("unknown duration unit: %s", unit)
		}
	}

	return 0, fmt.Errorf("invalid duration format: %s", durationStr)
}

// FormatDuration formats a duration in a human-readable way
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		if seconds == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if minutes == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh%dm", hours, minutes)
}

// ValidateAvailabilityZone checks if the availability zone format is valid
func ValidateAvailabilityZone(az string) error {
	if az == "" {
		return fmt.Errorf("availability zone cannot be empty")
	}

	// Basic validation for AWS AZ format (e.g., us-east-1a)
	parts := strings.Split(az, "-")
	if len(parts) < 3 {
		return fmt.Errorf("invalid availability zone format: %s", az)
	}

	// Check if it ends with a zone letter after the region number
	lastPart := parts[len(parts)-1]
	if len(lastPart) < 2 {
		return fmt.Errorf("invalid availability zone format: %s", az)
	}

	return nil
}

// ValidateSecurityGroupID checks if a security group id has the expected format
func ValidateSecurityGroupID(sgID string) error {
	if sgID == "" {
		return fmt.Errorf("security group id cannot be empty")
	}
	if !strings.HasPrefix(sgID, "sg-") {
		return fmt.Errorf("invalid security group id format: %s", sgID)
	}
	return nil
}
