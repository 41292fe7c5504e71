package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"pintochain/native/silo"
	"pintochain/native/well"
)

type sourceParam struct {
	Asset string `json:"asset,omitempty"`
	Order string `json:"order,omitempty"`
}

type policyParam struct {
	MinStem                string `json:"minStem,omitempty"`
	MaxStem                string `json:"maxStem,omitempty"`
	MaxGrownStalkPerBDV    string `json:"maxGrownStalkPerBdv,omitempty"`
	ExcludeBase            bool   `json:"excludeBase,omitempty"`
	ExcludeGerminating     bool   `json:"excludeGerminating,omitempty"`
	LowGrownStalkMode      string `json:"lowGrownStalkMode,omitempty"`
	LowGrownStalkThreshold string `json:"lowGrownStalkThreshold,omitempty"`
}

type planParams struct {
	Owner     string        `json:"owner"`
	TargetBDV string        `json:"targetBdv"`
	Sources   []sourceParam `json:"sources"`
	Policy    *policyParam  `json:"policy,omitempty"`
}

type planExcludingParams struct {
	planParams
	Prior *planResult `json:"prior"`
}

type lotResult struct {
	Stem   string `json:"stem"`
	Amount string `json:"amount"`
}

type assetPlanResult struct {
	Asset        string      `json:"asset"`
	Lots         []lotResult `json:"lots"`
	AvailableBDV string      `json:"availableBdv"`
}

type planResult struct {
	Assets            []assetPlanResult `json:"assets"`
	TotalAvailableBDV string            `json:"totalAvailableBdv"`
}

type executeParams struct {
	Owner       string      `json:"owner"`
	Recipient   string      `json:"recipient,omitempty"`
	SlippageBps *uint64     `json:"slippageBps,omitempty"`
	Plan        *planResult `json:"plan"`
}

type executeResult struct {
	DeliveredBDV string `json:"deliveredBdv"`
	Recipient    string `json:"recipient"`
}

type depositsParams struct {
	Owner string `json:"owner"`
	Asset string `json:"asset"`
}

type depositResult struct {
	Stem   string `json:"stem"`
	Amount string `json:"amount"`
	BDV    string `json:"bdv"`
}

type depositParams struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func parseAddress(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s is not a valid address", field)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s is not a valid integer", field)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be positive", field)
	}
	return amount, nil
}

func parseOptionalBig(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%s is not a valid integer", field)
	}
	return parsed, nil
}

func parseSources(params []sourceParam) ([]silo.SourceSelector, error) {
	sources := make([]silo.SourceSelector, 0, len(params))
	for i, p := range params {
		switch {
		case p.Asset != "" && p.Order != "":
			return nil, fmt.Errorf("source %d: asset and order are mutually exclusive", i)
		case p.Asset != "":
			addr, err := parseAddress("asset", p.Asset)
			if err != nil {
				return nil, fmt.Errorf("source %d: %w", i, err)
			}
			sources = append(sources, silo.SourceAsset(addr))
		case p.Order == "ascendingPrice":
			sources = append(sources, silo.SourceByAscendingPrice())
		case p.Order == "ascendingSeeds":
			sources = append(sources, silo.SourceByAscendingSeeds())
		default:
			return nil, fmt.Errorf("source %d: asset or order required", i)
		}
	}
	return sources, nil
}

func parsePolicy(param *policyParam) (silo.FilterPolicy, error) {
	policy := silo.FilterPolicy{}
	if param == nil {
		return policy, nil
	}
	var err error
	if policy.MinStem, err = parseOptionalBig("minStem", param.MinStem); err != nil {
		return policy, err
	}
	if policy.MaxStem, err = parseOptionalBig("maxStem", param.MaxStem); err != nil {
		return policy, err
	}
	if raw := strings.TrimSpace(param.MaxGrownStalkPerBDV); raw != "" {
		ratio, ok := new(big.Rat).SetString(raw)
		if !ok {
			return policy, fmt.Errorf("maxGrownStalkPerBdv is not a valid ratio")
		}
		policy.MaxGrownStalkPerBDV = ratio
	}
	policy.ExcludeBase = param.ExcludeBase
	policy.ExcludeGerminating = param.ExcludeGerminating
	switch strings.TrimSpace(param.LowGrownStalkMode) {
	case "", "use":
		policy.LowGrownStalkMode = silo.LowGrownStalkUse
	case "useLast":
		policy.LowGrownStalkMode = silo.LowGrownStalkUseLast
	case "omit":
		policy.LowGrownStalkMode = silo.LowGrownStalkOmit
	default:
		return policy, fmt.Errorf("unknown lowGrownStalkMode %q", param.LowGrownStalkMode)
	}
	if policy.LowGrownStalkThreshold, err = parseOptionalBig("lowGrownStalkThreshold", param.LowGrownStalkThreshold); err != nil {
		return policy, err
	}
	return policy, nil
}

func encodePlan(plan *silo.Plan) *planResult {
	result := &planResult{
		Assets:            make([]assetPlanResult, 0, len(plan.Assets)),
		TotalAvailableBDV: plan.TotalAvailableBDV.String(),
	}
	for _, asset := range plan.Assets {
		encoded := assetPlanResult{
			Asset:        asset.Asset.Hex(),
			Lots:         make([]lotResult, 0, len(asset.Stems)),
			AvailableBDV: asset.AvailableBDV.String(),
		}
		for i := range asset.Stems {
			encoded.Lots = append(encoded.Lots, lotResult{
				Stem:   asset.Stems[i].String(),
				Amount: asset.Amounts[i].String(),
			})
		}
		result.Assets = append(result.Assets, encoded)
	}
	return result
}

func decodePlan(result *planResult) (*silo.Plan, error) {
	if result == nil {
		return nil, fmt.Errorf("plan is required")
	}
	total, ok := new(big.Int).SetString(strings.TrimSpace(result.TotalAvailableBDV), 10)
	if !ok {
		return nil, fmt.Errorf("totalAvailableBdv is not a valid integer")
	}
	plan := &silo.Plan{TotalAvailableBDV: total}
	for _, asset := range result.Assets {
		addr, err := parseAddress("asset", asset.Asset)
		if err != nil {
			return nil, err
		}
		available, ok := new(big.Int).SetString(strings.TrimSpace(asset.AvailableBDV), 10)
		if !ok {
			return nil, fmt.Errorf("availableBdv is not a valid integer")
		}
		decoded := &silo.AssetPlan{Asset: addr, AvailableBDV: available}
		for _, lot := range asset.Lots {
			stem, ok := new(big.Int).SetString(strings.TrimSpace(lot.Stem), 10)
			if !ok {
				return nil, fmt.Errorf("lot stem is not a valid integer")
			}
			amount, err := parseAmount("lot amount", lot.Amount)
			if err != nil {
				return nil, err
			}
			decoded.Stems = append(decoded.Stems, stem)
			decoded.Amounts = append(decoded.Amounts, amount)
		}
		plan.Assets = append(plan.Assets, decoded)
	}
	return plan, nil
}

func singleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func (s *Server) decodePlanRequest(params planParams) (common.Address, []silo.SourceSelector, *big.Int, silo.FilterPolicy, error) {
	var policy silo.FilterPolicy
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		return common.Address{}, nil, nil, policy, err
	}
	target, err := parseAmount("targetBdv", params.TargetBDV)
	if err != nil {
		return common.Address{}, nil, nil, policy, err
	}
	sources, err := parseSources(params.Sources)
	if err != nil {
		return common.Address{}, nil, nil, policy, err
	}
	policy, err = parsePolicy(params.Policy)
	if err != nil {
		return common.Address{}, nil, nil, policy, err
	}
	return owner, sources, target, policy, nil
}

func (s *Server) handleSiloPlan(w http.ResponseWriter, req *RPCRequest, log *slog.Logger, started time.Time) {
	var params planParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	owner, sources, target, policy, err := s.decodePlanRequest(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	plan, err := s.engine.BuildPlan(owner, sources, target, policy)
	if err != nil {
		s.metrics.ObservePlan("error", false, time.Since(started))
		writePlanError(w, req, err)
		return
	}
	s.metrics.ObservePlan("ok", plan.TotalAvailableBDV.Cmp(target) < 0, time.Since(started))
	log.Info("plan built", "owner", owner.Hex(), "target_bdv", target.String(), "available_bdv", plan.TotalAvailableBDV.String())
	writeResult(w, req.ID, encodePlan(plan))
}

func (s *Server) handleSiloPlanExcluding(w http.ResponseWriter, req *RPCRequest, log *slog.Logger, started time.Time) {
	var params planExcludingParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	owner, sources, target, policy, err := s.decodePlanRequest(params.planParams)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	var prior *silo.Plan
	if params.Prior != nil {
		if prior, err = decodePlan(params.Prior); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	plan, err := s.engine.BuildPlanExcluding(owner, sources, target, policy, prior)
	if err != nil {
		s.metrics.ObservePlan("error", false, time.Since(started))
		writePlanError(w, req, err)
		return
	}
	s.metrics.ObservePlan("ok", plan.TotalAvailableBDV.Cmp(target) < 0, time.Since(started))
	log.Info("exclusion plan built", "owner", owner.Hex(), "target_bdv", target.String(), "available_bdv", plan.TotalAvailableBDV.String())
	writeResult(w, req.ID, encodePlan(plan))
}

func (s *Server) handleSiloExecute(w http.ResponseWriter, req *RPCRequest, log *slog.Logger) {
	var params executeParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	recipient := owner
	if strings.TrimSpace(params.Recipient) != "" {
		if recipient, err = parseAddress("recipient", params.Recipient); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	plan, err := decodePlan(params.Plan)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	slippageBps := s.defaultSlippageBps
	if params.SlippageBps != nil {
		slippageBps = *params.SlippageBps
	}

	delivered, err := s.engine.Execute(owner, plan, slippageBps, recipient)
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, silo.ErrInsufficientDeposit):
			outcome = "stale_plan"
		case errors.Is(err, silo.ErrSlippage),
			errors.Is(err, well.ErrInsufficientOutput):
			outcome = "slippage"
		}
		s.metrics.ObserveExecution(outcome, 0)
		log.Warn("withdrawal aborted", "owner", owner.Hex(), "outcome", outcome, "err", err)
		writePlanError(w, req, err)
		return
	}
	deliveredFloat, _ := new(big.Float).SetInt(delivered).Float64()
	s.metrics.ObserveExecution("ok", deliveredFloat)
	log.Info("withdrawal executed", "owner", owner.Hex(), "recipient", recipient.Hex(), "delivered_bdv", delivered.String())
	writeResult(w, req.ID, executeResult{DeliveredBDV: delivered.String(), Recipient: recipient.Hex()})
}

func (s *Server) handleSiloDeposits(w http.ResponseWriter, req *RPCRequest, log *slog.Logger) {
	var params depositsParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	deposits, err := s.engine.OrderedDeposits(owner, asset)
	if err != nil {
		if errors.Is(err, silo.ErrNoDeposits) {
			writeResult(w, req.ID, []depositResult{})
			return
		}
		writePlanError(w, req, err)
		return
	}
	results := make([]depositResult, 0, len(deposits))
	for _, dep := range deposits {
		results = append(results, depositResult{
			Stem:   dep.Stem.String(),
			Amount: dep.Amount.String(),
			BDV:    dep.BDV.String(),
		})
	}
	writeResult(w, req.ID, results)
}

func (s *Server) handleSiloDeposit(w http.ResponseWriter, req *RPCRequest, log *slog.Logger) {
	var params depositParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	dep, err := s.engine.Deposit(owner, asset, amount)
	if err != nil {
		writePlanError(w, req, err)
		return
	}
	log.Info("deposit recorded", "owner", owner.Hex(), "asset", asset.Hex(), "stem", dep.Stem.String(), "amount", dep.Amount.String())
	writeResult(w, req.ID, depositResult{Stem: dep.Stem.String(), Amount: dep.Amount.String(), BDV: dep.BDV.String()})
}

// writePlanError maps engine sentinels to invalid-params errors and everything
// else to a server error.
func writePlanError(w http.ResponseWriter, req *RPCRequest, err error) {
	switch {
	case errors.Is(err, silo.ErrInvalidPolicy),
		errors.Is(err, silo.ErrAssetNotWhitelisted):
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
	case errors.Is(err, silo.ErrInsufficientDeposit),
		errors.Is(err, silo.ErrSlippage),
		errors.Is(err, well.ErrInsufficientOutput),
		errors.Is(err, silo.ErrNoDeposits):
		writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
	}
}
