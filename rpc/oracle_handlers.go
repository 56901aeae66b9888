package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"oraclechain/native/oracle"
)

type oracleCreateParams struct {
	Creator       string   `json:"creator"`
	Name          string   `json:"name"`
	SourceLimit   uint8    `json:"sourceLimit"`
	Period        int64    `json:"period"`
	AggregatePart int64    `json:"aggregatePart"`
	AssetID       uint64   `json:"assetId"`
	Slots         []string `json:"slots"`
}

type oraclePushParams struct {
	OracleID     uint64   `json:"oracleId"`
	Source       string   `json:"source"`
	Observations []string `json:"observations"`
}

type oracleCalculateParams struct {
	OracleID uint64 `json:"oracleId"`
	Slot     uint8  `json:"slot"`
}

type oracleReadParams struct {
	OracleID uint64 `json:"oracleId"`
	Slot     uint8  `json:"slot"`
}

type oracleGetParams struct {
	OracleID uint64 `json:"oracleId"`
}

type oracleValueJSON struct {
	Value       string `json:"value"`
	LastChanged int64  `json:"lastChanged,omitempty"`
	Set         bool   `json:"set"`
}

type oracleJSON struct {
	ID          uint64            `json:"id"`
	Name        string            `json:"name"`
	Table       uint64            `json:"table"`
	SourceLimit uint8             `json:"sourceLimit"`
	Slots       []string          `json:"slots"`
	Sources     []string          `json:"sources"`
	Values      []oracleValueJSON `json:"values"`
}

func formatOracleValue(v oracle.ExternalValue) oracleValueJSON {
	if !v.IsSet() {
		return oracleValueJSON{}
	}
	return oracleValueJSON{Value: v.Value.String(), LastChanged: int64(v.LastChanged), Set: true}
}

func formatOracleJSON(id oracle.OracleId, o *oracle.Oracle) oracleJSON {
	slots := make([]string, len(o.Names))
	for i, n := range o.Names {
		slots[i] = string(n)
	}
	sources := make([]string, 0, len(o.Sources))
	for src := range o.Sources {
		sources = append(sources, formatAddress([20]byte(src)))
	}
	values := make([]oracleValueJSON, len(o.Values))
	for i, v := range o.Values {
		values[i] = formatOracleValue(v)
	}
	return oracleJSON{
		ID:          uint64(id),
		Name:        string(o.Name),
		Table:       uint64(o.Table),
		SourceLimit: o.SourceLimit,
		Slots:       slots,
		Sources:     sources,
		Values:      values,
	}
}

func (s *Server) handleOracleCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params oracleCreateParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	creator, err := parseBech32Address(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "name required")
		return
	}
	if len(params.Slots) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "at least one slot required")
		return
	}
	slotNames := make([][]byte, len(params.Slots))
	for i, slot := range params.Slots {
		slotNames[i] = []byte(slot)
	}
	id, err := s.node.OracleCreate(creator, []byte(name), params.SourceLimit, oracle.Moment(params.Period), oracle.Moment(params.AggregatePart), params.AssetID, slotNames)
	if err != nil {
		writeOracleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"oracleId": uint64(id)})
}

func (s *Server) handleOraclePush(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params oraclePushParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	source, err := parseBech32Address(params.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if len(params.Observations) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "at least one observation required")
		return
	}
	observations := make([]oracle.Value, len(params.Observations))
	for i, raw := range params.Observations {
		n, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
		if !ok || n.Sign() < 0 {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "observation must be a non-negative base-10 integer")
			return
		}
		v, err := oracle.ValueFromBig(n.Bytes())
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		observations[i] = v
	}
	if err := s.node.OraclePush(oracle.OracleId(params.OracleID), source, observations); err != nil {
		writeOracleError(w, req.ID, err)
		return
	}
	response := map[string]any{"ok": true}
	if traceID := traceIDFromRPCContext(r.Context()); traceID != "" {
		response["traceId"] = traceID
	}
	writeResult(w, req.ID, response)
}

func (s *Server) handleOracleCalculate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params oracleCalculateParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	value, err := s.node.OracleCalculate(oracle.OracleId(params.OracleID), oracle.SlotIndex(params.Slot))
	if err != nil {
		writeOracleError(w, req.ID, err)
		return
	}
	response := map[string]any{"value": value.String()}
	if traceID := traceIDFromRPCContext(r.Context()); traceID != "" {
		response["traceId"] = traceID
	}
	writeResult(w, req.ID, response)
}

func (s *Server) handleOracleGetValue(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params oracleReadParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	value, lastChanged, err := s.node.OracleRead(oracle.OracleId(params.OracleID), oracle.SlotIndex(params.Slot))
	if err != nil {
		writeOracleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{"value": value.String(), "lastChanged": int64(lastChanged)})
}

func (s *Server) handleOracleGetOracle(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "exactly one parameter object expected")
		return
	}
	var params oracleGetParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id := oracle.OracleId(params.OracleID)
	o, err := s.node.OracleGet(id)
	if err != nil {
		writeOracleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatOracleJSON(id, o))
}

func (s *Server) handleOracleListOracles(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	ids, err := s.node.OracleList()
	if err != nil {
		writeOracleError(w, req.ID, err)
		return
	}
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	writeResult(w, req.ID, map[string]interface{}{"oracleIds": out})
}

func writeOracleError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeServerError
	message := "internal_error"
	switch oracle.ToWireError(err) {
	case oracle.WireWrongPeriods, oracle.WireWrongValuesCount, oracle.WireWrongValueId,
		oracle.WireNotAggregationTime, oracle.WireNotCalculateTime,
		oracle.WireNotEnoughSources, oracle.WireNotEnoughValues, oracle.WireNotCalculatedValue:
		status = http.StatusBadRequest
		code = codeInvalidParams
		message = "invalid_params"
	case oracle.WireAccountPermissionDenied:
		status = http.StatusForbidden
		code = codeUnauthorized
		message = "forbidden"
	}
	if strings.Contains(err.Error(), "unknown oracle id") {
		status = http.StatusNotFound
		code = codeInvalidParams
		message = "not_found"
	}
	writeError(w, status, id, code, message, err.Error())
}
