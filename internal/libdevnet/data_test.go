package libdevnet

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateInstanceID(t *testing.T) {
	id1 := GenerateInstanceID()

	// Sleep briefly to ensure different timestamp
	time.Sleep(time.Millisecond)
	id2 := GenerateInstanceID()

	if id1 == id2 {
		t.Error("GenerateInstanceID should generate unique IDs")
	}

	if len(id1) == 0 {
		t.Error("GenerateInstanceID should not return empty string")
	}

	if !strings.HasPrefix(id1, "devnet-") {
		t.Errorf("GenerateInstanceID should start with 'devnet-', got: %s", id1)
	}
}

func TestNewBaseLabels(t *testing.T) {
	instanceID := "test-instance-123"

	labels := NewBaseLabels(instanceID)

	requiredLabels := []string{LabelDevnetInstance, LabelDevnetCreated}
	for _, label := range requiredLabels {
		if _, exists := labels[label]; !exists {
			t.Errorf("NewBaseLabels should include label %s", label)
		}
	}

	if labels[LabelDevnetInstance] != instanceID {
		t.Errorf("Expected instance ID %s, got %s", instanceID, labels[LabelDevnetInstance])
	}

	// Check that created timestamp is valid RFC3339
	createdStr := labels[LabelDevnetCreated]
	_, err := time.Parse(time.RFC3339, createdStr)
	if err != nil {
		t.Errorf("Created timestamp should be valid RFC3339 format: %v", err)
	}
}

func TestRoleConstants(t *testing.T) {
	expectedRoles := map[string]string{
		RoleL1:        "l1",
		RoleL2:        "l2",
		RoleSequencer: "sequencer",
	}

	for constant, expected := range expectedRoles {
		if constant != expected {
			t.Errorf("Expected %s to equal %s", constant, expected)
		}
	}
}

func TestLabelConstants(t *testing.T) {
	labels := []string{
		LabelDevnetInstance,
		LabelDevnetRole,
		LabelDevnetImage,
		LabelDevnetCreated,
	}

	for _, label := range labels {
		if !strings.HasPrefix(label, "devnet.") {
			t.Errorf("Label %s should have 'devnet.' prefix", label)
		}
	}
}

func TestSanitizeNameComponent(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"l1", "l1"},
		{"geth/devnet", "geth-devnet"},
		{"client_b", "client_b"},
		{"-leading", "leading"},
		{".", "container"},
		{"UPPER.lower-0", "UPPER.lower-0"},
	}
	for _, test := range tests {
		if got := SanitizeNameComponent(test.input); got != test.want {
			t.Errorf("SanitizeNameComponent(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestGenerateNodeContainerName(t *testing.T) {
	name := GenerateNodeContainerName(RoleSequencer)
	if !strings.HasPrefix(name, "devnet-sequencer-") {
		t.Errorf("container name should start with 'devnet-sequencer-', got: %s", name)
	}
}

func TestCleanupOptions(t *testing.T) {
	opts := CleanupOptions{
		InstanceID: "test-instance",
		OlderThan:  time.Hour,
		DryRun:     true,
		Role:       RoleL1,
	}

	if opts.InstanceID != "test-instance" {
		t.Errorf("Expected InstanceID 'test-instance', got %s", opts.InstanceID)
	}
	if opts.OlderThan != time.Hour {
		t.Errorf("Expected OlderThan 1h, got %v", opts.OlderThan)
	}
	if !opts.DryRun {
		t.Error("Expected DryRun to be true")
	}
	if opts.Role != RoleL1 {
		t.Errorf("Expected Role %s, got %s", RoleL1, opts.Role)
	}
}
