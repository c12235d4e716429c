package libdevnet_test

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/blockblaz/native-quickstart/internal/libdevnet"
)

const testInventory = `
l1ChainId: 1337
l2ChainId: 61972
cliquePeriod: 2
jwtSecret: "0x7365637265747365637265747365637265747365637265747365637265743030"
prefund:
  "0x7435f87d1ec2bdbf1bd86163e2b1d2624b1ebbc6": "0x8ac7230489e80000"
nodes:
  - role: l1
    image: ethereum/client-go:v1.13.15
    port: 8545
  - role: l2
    image: blockblaz/zeam:devnet
    port: 8545
    env:
      NODE_MODE: follower
  - role: sequencer
    image: blockblaz/zeam:devnet
    port: 8545
    env:
      NODE_MODE: sequencer
`

func writeInventory(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "devnet.yaml")
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return file
}

func TestLoadInventory(t *testing.T) {
	inv, err := libdevnet.LoadInventory(writeInventory(t, testInventory))
	if err != nil {
		t.Fatal("LoadInventory failed:", err)
	}

	if inv.L1ChainID != 1337 || inv.L2ChainID != 61972 {
		t.Errorf("wrong chain IDs: l1=%d l2=%d", inv.L1ChainID, inv.L2ChainID)
	}
	for _, role := range []string{libdevnet.RoleL1, libdevnet.RoleL2, libdevnet.RoleSequencer} {
		if !inv.HasRole(role) {
			t.Errorf("HasRole(%q) = false, want true", role)
		}
	}
	if inv.HasRole("validator") {
		t.Error("HasRole(validator) = true, want false")
	}

	seq, ok := inv.Node(libdevnet.RoleSequencer)
	if !ok {
		t.Fatal("Node(sequencer) not found")
	}
	if seq.Image != "blockblaz/zeam:devnet" || seq.Port != 8545 {
		t.Errorf("wrong sequencer definition: %+v", seq)
	}
	if seq.Env["NODE_MODE"] != "sequencer" {
		t.Errorf("wrong sequencer env: %v", seq.Env)
	}
}

func TestLoadInventoryInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errSub  string
	}{
		{"missing l1 chain", "l2ChainId: 2\nnodes: [{role: l1, image: img}]", "missing l1ChainId"},
		{"missing l2 chain", "l1ChainId: 1\nnodes: [{role: l1, image: img}]", "missing l2ChainId"},
		{"equal chains", "l1ChainId: 5\nl2ChainId: 5\nnodes: [{role: l1, image: img}]", "must differ"},
		{"no image", "l1ChainId: 1\nl2ChainId: 2\nnodes: [{role: l1}]", "has no image"},
		{"no role", "l1ChainId: 1\nl2ChainId: 2\nnodes: [{image: img}]", "without role"},
		{"duplicate role", "l1ChainId: 1\nl2ChainId: 2\nnodes: [{role: l1, image: a}, {role: l1, image: b}]", "duplicate"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := libdevnet.LoadInventory(writeInventory(t, test.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), test.errSub) {
				t.Errorf("error %q does not contain %q", err, test.errSub)
			}
		})
	}
}

func TestMatchRoles(t *testing.T) {
	var inv libdevnet.Inventory
	inv.AddNode(libdevnet.NodeDefinition{Role: "l1", Image: "a"})
	inv.AddNode(libdevnet.NodeDefinition{Role: "l2", Image: "b"})
	inv.AddNode(libdevnet.NodeDefinition{Role: "sequencer", Image: "c"})

	tests := []struct {
		expr string
		want []string
	}{
		{"", nil},
		{".*", []string{"l1", "l2", "sequencer"}},
		{"l", []string{"l1", "l2"}},
		{"^l1$", []string{"l1"}},
		{"seq", []string{"sequencer"}},
	}
	for _, test := range tests {
		got, err := inv.MatchRoles(test.expr)
		if err != nil {
			t.Fatalf("MatchRoles(%q) error: %v", test.expr, err)
		}
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("MatchRoles(%q) = %v, want %v", test.expr, got, test.want)
		}
	}

	if _, err := inv.MatchRoles("("); err == nil {
		t.Error("expected error for invalid regexp")
	}
}
