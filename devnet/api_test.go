package devnet_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/core"
	"github.com/gorilla/mux"

	"github.com/blockblaz/native-quickstart/devnet"
	"github.com/blockblaz/native-quickstart/internal/fakes"
	"github.com/blockblaz/native-quickstart/internal/libdevnet"
)

func startedTestDevnet(t *testing.T) *devnet.Devnet {
	t.Helper()
	d := newTestDevnet(t, &fakes.BackendHooks{})
	if err := d.Start(context.Background()); err != nil {
		t.Fatal("start failed:", err)
	}
	t.Cleanup(func() { d.Stop() })
	return d
}

func TestAPIRoutes(t *testing.T) {
	handler := devnet.NewAPI(startedTestDevnet(t))
	router := handler.(*mux.Router)

	routes := []struct {
		path   string
		method string
	}{
		{"/status", "GET"},
		{"/nodes", "GET"},
		{"/nodes/{role}", "GET"},
		{"/nodes/{role}/exec", "POST"},
		{"/genesis/{chain}", "GET"},
		{"/execute", "POST"},
		{"/execute/gas", "POST"},
	}
	for _, route := range routes {
		if !router.Match(&http.Request{Method: route.method, URL: &url.URL{Path: route.path}}, &mux.RouteMatch{}) {
			t.Errorf("Route %s %s not registered", route.method, route.path)
		}
	}
}

func TestAPIStatus(t *testing.T) {
	srv := httptest.NewServer(devnet.NewAPI(startedTestDevnet(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var status struct {
		L1ChainID uint64 `json:"l1ChainId"`
		L2ChainID uint64 `json:"l2ChainId"`
		Nodes     int    `json:"nodes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.L1ChainID != 1337 || status.L2ChainID != 61972 {
		t.Errorf("wrong chain IDs: %+v", status)
	}
	if status.Nodes != 3 {
		t.Errorf("wrong node count: %d", status.Nodes)
	}
}

func TestAPINodes(t *testing.T) {
	srv := httptest.NewServer(devnet.NewAPI(startedTestDevnet(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nodes")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var nodes []libdevnet.NodeInfo
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 3 {
		t.Fatalf("got %d nodes, want 3", len(nodes))
	}

	resp, err = http.Get(srv.URL + "/nodes/" + libdevnet.RoleSequencer)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var node libdevnet.NodeInfo
	if err := json.NewDecoder(resp.Body).Decode(&node); err != nil {
		t.Fatal(err)
	}
	if node.Role != libdevnet.RoleSequencer {
		t.Errorf("wrong role: %s", node.Role)
	}

	resp, err = http.Get(srv.URL + "/nodes/validator")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown role: status %d, want 404", resp.StatusCode)
	}
}

func TestAPIGenesis(t *testing.T) {
	srv := httptest.NewServer(devnet.NewAPI(startedTestDevnet(t)))
	defer srv.Close()

	for chain, wantID := range map[string]uint64{"l1": 1337, "l2": 61972} {
		resp, err := http.Get(srv.URL + "/genesis/" + chain)
		if err != nil {
			t.Fatal(err)
		}
		var g core.Genesis
		err = json.NewDecoder(resp.Body).Decode(&g)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("%s genesis does not decode: %v", chain, err)
		}
		if g.Config.ChainID.Uint64() != wantID {
			t.Errorf("%s genesis chain ID %v, want %d", chain, g.Config.ChainID, wantID)
		}
	}

	resp, err := http.Get(srv.URL + "/genesis/l3")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown chain: status %d, want 404", resp.StatusCode)
	}
}

func TestAPIExecInNode(t *testing.T) {
	srv := httptest.NewServer(devnet.NewAPI(startedTestDevnet(t)))
	defer srv.Close()

	body := strings.NewReader(`["cat", "/genesis.json"]`)
	resp, err := http.Post(srv.URL+"/nodes/l1/exec", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var result struct {
		Output string `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Output == "" {
		t.Error("empty exec output")
	}

	resp, err = http.Post(srv.URL+"/nodes/l1/exec", "application/json", strings.NewReader(`[]`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty command: status %d, want 400", resp.StatusCode)
	}
}

func TestAPIExecuteNoGateway(t *testing.T) {
	// Devnet not started: no L2 node means no gateway to dispatch through.
	srv := httptest.NewServer(devnet.NewAPI(newTestDevnet(t, &fakes.BackendHooks{})))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/execute", "application/octet-stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status %d, want 503", resp.StatusCode)
	}
}

func TestAPIExecuteInvalidChainID(t *testing.T) {
	srv := httptest.NewServer(devnet.NewAPI(startedTestDevnet(t)))
	defer srv.Close()

	// The chain ID header is checked before the oracle is consulted, so a
	// bad header must be rejected without the L2 RPC ever being reached.
	header := make([]byte, 96)
	big.NewInt(999).FillBytes(header[:32])
	for _, path := range []string{"/execute", "/execute/gas"} {
		resp, err := http.Post(srv.URL+path, "application/octet-stream", bytes.NewReader(header))
		if err != nil {
			t.Fatal(err)
		}
		var apiErr struct {
			Error string `json:"error"`
		}
		err = json.NewDecoder(resp.Body).Decode(&apiErr)
		resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", path, resp.StatusCode)
		}
		if !strings.Contains(apiErr.Error, "invalid chain id") {
			t.Errorf("%s: error %q", path, apiErr.Error)
		}
	}
}
