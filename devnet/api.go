package devnet

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"gopkg.in/inconshreveable/log15.v2"

	"github.com/blockblaz/native-quickstart/internal/libdevnet"
	"github.com/blockblaz/native-quickstart/nativerollup"
)

// NewAPI creates handlers for the devnet status API.
func NewAPI(d *Devnet) http.Handler {
	api := &devnetAPI{d: d}

	// API routes.
	router := mux.NewRouter()
	router.HandleFunc("/status", api.getStatus).Methods("GET")
	router.HandleFunc("/nodes", api.getNodes).Methods("GET")
	router.HandleFunc("/nodes/{role}", api.getNode).Methods("GET")
	router.HandleFunc("/nodes/{role}/exec", api.execInNode).Methods("POST")
	router.HandleFunc("/genesis/{chain}", api.getGenesis).Methods("GET")
	router.HandleFunc("/execute", api.execute).Methods("POST")
	router.HandleFunc("/execute/gas", api.executeGasUsed).Methods("POST")
	return router
}

type devnetAPI struct {
	d *Devnet
}

type statusResponse struct {
	L1ChainID      uint64 `json:"l1ChainId"`
	L2ChainID      uint64 `json:"l2ChainId"`
	Nodes          int    `json:"nodes"`
	GatewayAddress string `json:"gatewayAddress,omitempty"`
}

func (api *devnetAPI) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		L1ChainID: api.d.config.L1.NetworkID,
		L2ChainID: api.d.config.L2.NetworkID,
		Nodes:     len(api.d.Nodes()),
	}
	if rollup := api.d.Rollup(); rollup != nil {
		resp.GatewayAddress = rollup.Address().Hex()
	}
	serveJSON(w, resp)
}

func (api *devnetAPI) getNodes(w http.ResponseWriter, r *http.Request) {
	nodes := api.d.Nodes()
	resp := make([]*libdevnet.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		resp = append(resp, n.NodeInfo)
	}
	serveJSON(w, resp)
}

func (api *devnetAPI) getNode(w http.ResponseWriter, r *http.Request) {
	role := mux.Vars(r)["role"]
	node := api.d.Node(role)
	if node == nil {
		serveError(w, errors.New("no such node"), http.StatusNotFound)
		return
	}
	serveJSON(w, node.NodeInfo)
}

// execInNode runs a command in a node container. The body is a JSON array
// of command arguments.
func (api *devnetAPI) execInNode(w http.ResponseWriter, r *http.Request) {
	role := mux.Vars(r)["role"]
	var cmd []string
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		serveError(w, err, http.StatusBadRequest)
		return
	}
	if len(cmd) == 0 {
		serveError(w, errors.New("empty command"), http.StatusBadRequest)
		return
	}
	out, err := api.d.Exec(r.Context(), role, cmd)
	if err != nil {
		serveError(w, err, http.StatusInternalServerError)
		return
	}
	serveJSON(w, struct {
		Output string `json:"output"`
	}{Output: out})
}

func (api *devnetAPI) getGenesis(w http.ResponseWriter, r *http.Request) {
	var g *Genesis
	var err error
	switch mux.Vars(r)["chain"] {
	case "l1":
		g, err = encodeGenesisFile(api.d.config.BuildL1Genesis())
	case "l2":
		g, err = encodeGenesisFile(api.d.config.BuildL2Genesis(api.d.gatewayCode))
	default:
		serveError(w, errors.New("unknown chain, want l1 or l2"), http.StatusNotFound)
		return
	}
	if err != nil {
		serveError(w, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(g.JSON)
}

type executeResponse struct {
	GasConsumed *hexutil.Big  `json:"gasConsumed"`
	Succeeded   bool          `json:"succeeded"`
	ReturnData  hexutil.Bytes `json:"returnData"`
}

// execute validates and relays an EXECUTE trace through the gateway and
// returns the decoded oracle response.
func (api *devnetAPI) execute(w http.ResponseWriter, r *http.Request) {
	trace, gw, ok := api.requestTrace(w, r)
	if !ok {
		return
	}
	resp, err := gw.Execute(r.Context(), trace)
	if err != nil {
		serveExecuteError(w, err)
		return
	}
	serveJSON(w, executeResponse{
		GasConsumed: (*hexutil.Big)(resp.GasConsumed),
		Succeeded:   resp.Succeeded,
		ReturnData:  resp.ReturnData,
	})
}

func (api *devnetAPI) executeGasUsed(w http.ResponseWriter, r *http.Request) {
	trace, gw, ok := api.requestTrace(w, r)
	if !ok {
		return
	}
	gas, err := gw.ExecuteGasUsed(r.Context(), trace)
	if err != nil {
		serveExecuteError(w, err)
		return
	}
	serveJSON(w, (*hexutil.Big)(gas))
}

// serveExecuteError maps the gateway's typed errors onto HTTP statuses: a
// rejected chain ID header is the caller's fault, an oracle failure is the
// L2 node's.
func serveExecuteError(w http.ResponseWriter, err error) {
	var chainErr *nativerollup.InvalidChainIDError
	var callErr *nativerollup.ExecuteCallFailedError
	switch {
	case errors.As(err, &chainErr):
		serveError(w, err, http.StatusBadRequest)
	case errors.As(err, &callErr):
		serveError(w, err, http.StatusBadGateway)
	default:
		serveError(w, err, http.StatusInternalServerError)
	}
}

// requestTrace reads the request body, accepting raw binary or a JSON-quoted
// 0x hex string, and checks the gateway is available.
func (api *devnetAPI) requestTrace(w http.ResponseWriter, r *http.Request) ([]byte, *nativerollup.Gateway, bool) {
	gw := api.d.Gateway()
	if gw == nil {
		serveError(w, errors.New("no l2 node running"), http.StatusServiceUnavailable)
		return nil, nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8<<20))
	if err != nil {
		serveError(w, err, http.StatusBadRequest)
		return nil, nil, false
	}
	trace := body
	if r.Header.Get("content-type") == "application/json" {
		var hex hexutil.Bytes
		if err := json.Unmarshal(body, &hex); err != nil {
			serveError(w, err, http.StatusBadRequest)
			return nil, nil, false
		}
		trace = hex
	}
	return trace, gw, true
}

func serveJSON(w http.ResponseWriter, value interface{}) {
	resp, err := json.Marshal(value)
	if err != nil {
		log15.Error("API: internal error while encoding response", "error", err)
		serveError(w, errors.New("internal error"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(resp)
}

type apiError struct {
	Error string `json:"error"`
}

func serveError(w http.ResponseWriter, err error, status int) {
	resp, _ := json.Marshal(&apiError{Error: err.Error()})
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	w.Write(resp)
}
