package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	xerrors "SnowRail/internal/errors"
	"SnowRail/internal/metering"
	"SnowRail/internal/observability/metrics"
	"SnowRail/internal/payroll"
	"SnowRail/internal/treasury"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type tokenBody struct {
	PaymentToken string `json:"payment_token,omitempty"`
}

type swapBody struct {
	treasury.SwapRequest
	PaymentToken string `json:"payment_token,omitempty"`
}

type listResponse struct {
	Payrolls []*payroll.Payroll `json:"payrolls"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   "snowrail",
		"network":   s.deps.Network,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleFacilitatorHealth(w http.ResponseWriter, _ *http.Request) {
	resources := 0
	if s.deps.Gate != nil {
		resources = len(s.deps.Gate.Entries())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"network":   s.deps.Network,
		"resources": resources,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	if s.deps.Identity == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "identity card not configured"))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Identity.Card())
}

// handlePayroll serves the payroll execution routes; they differ only by the
// metered resource recorded on the payroll.
func (s *Server) handlePayroll(resource metering.Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req payroll.Request
		if !s.admitWithBody(w, r, resource, &req, func() string { return req.PaymentToken }) {
			return
		}
		if s.deps.Payrolls == nil {
			s.writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "orchestrator not configured"))
			return
		}

		outcome, err := s.deps.Payrolls.Execute(r.Context(), string(resource), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		metrics.ObservePayrollOutcome(string(outcome.Status))
		writeJSON(w, http.StatusOK, outcome)
	}
}

func (s *Server) handleTreasuryTest(w http.ResponseWriter, r *http.Request) {
	var body tokenBody
	if !s.admitWithBody(w, r, metering.ResourceContractTest, &body, func() string { return body.PaymentToken }) {
		return
	}
	if s.deps.Treasury == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "treasury not configured"))
		return
	}
	report := s.deps.Treasury.Run(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           report.Summary.Failed == 0,
		"results":           report.Results,
		"transactionHashes": report.TransactionHashes,
		"summary":           report.Summary,
	})
}

func (s *Server) handleSwapAuthorize(w http.ResponseWriter, r *http.Request) {
	var body swapBody
	if !s.admitWithBody(w, r, metering.ResourceSwapExecute, &body, func() string { return body.PaymentToken }) {
		return
	}
	if s.deps.Treasury == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "treasury not configured"))
		return
	}
	receipt, err := s.deps.Treasury.AuthorizeSwap(r.Context(), body.SwapRequest)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"transactionHash": receipt.TxHash,
		"blockNumber":     receipt.BlockNumber,
		"gasUsed":         receipt.GasUsed,
	})
}

func (s *Server) handlePayrollDetail(w http.ResponseWriter, r *http.Request) {
	if s.deps.Records == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "payroll store not configured"))
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		s.writeError(w, r, xerrors.New(xerrors.CodeValidation, "payroll id is required",
			xerrors.WithMetadata("id", "required")))
		return
	}
	record, err := s.deps.Records.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handlePayrollList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Records == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "payroll store not configured"))
		return
	}
	query := r.URL.Query()
	fields := make(map[string]string)

	limit := defaultListLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			fields["limit"] = "must be a positive integer"
		} else {
			limit = min(parsed, maxListLimit)
		}
	}
	offset := 0
	if raw := query.Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			fields["offset"] = "must be a non-negative integer"
		} else {
			offset = parsed
		}
	}
	statuses := parseStatuses(query.Get("status"), fields)
	if len(fields) > 0 {
		s.writeError(w, r, xerrors.New(xerrors.CodeValidation, "request validation failed", xerrors.WithFields(fields)))
		return
	}

	opts := []payroll.ListOption{payroll.WithLimit(limit), payroll.WithOffset(offset)}
	if len(statuses) > 0 {
		opts = append(opts, payroll.WithStatuses(statuses...))
	}
	items, err := s.deps.Records.List(r.Context(), opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []*payroll.Payroll{}
	}
	writeJSON(w, http.StatusOK, listResponse{Payrolls: items, Limit: limit, Offset: offset})
}

func (s *Server) handlePayrollStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Records == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "payroll store not configured"))
		return
	}
	fields := make(map[string]string)
	statuses := parseStatuses(r.URL.Query().Get("status"), fields)
	if len(fields) > 0 {
		s.writeError(w, r, xerrors.New(xerrors.CodeValidation, "request validation failed", xerrors.WithFields(fields)))
		return
	}
	var opts []payroll.ListOption
	if len(statuses) > 0 {
		opts = append(opts, payroll.WithStatuses(statuses...))
	}
	stats, err := s.deps.Records.Stats(r.Context(), opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// parseStatuses reads a comma separated status filter. Unknown values are
// reported in fields.
func parseStatuses(raw string, fields map[string]string) []payroll.Status {
	if raw == "" {
		return nil
	}
	var statuses []payroll.Status
	for _, part := range strings.Split(raw, ",") {
		st := payroll.Status(strings.ToUpper(strings.TrimSpace(part)))
		if !payroll.IsValidStatus(st) {
			fields["status"] = "unknown status " + strconv.Quote(part)
			return nil
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// admit consults the metering gate. It writes the 402 challenge or the
// error response itself and reports whether the handler may continue.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, resource metering.Resource, bodyToken string) bool {
	if s.deps.Gate == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeConfiguration, "metering gate not configured"))
		return false
	}
	token := strings.TrimSpace(r.Header.Get(PaymentHeader))
	if token == "" {
		token = bodyToken
	}
	decision, err := s.deps.Gate.Evaluate(resource, token)
	if err != nil {
		s.writeError(w, r, err)
		return false
	}
	if !decision.Allowed {
		metrics.ObservePaymentChallenge(string(resource))
		s.log.Info("payment challenge issued",
			slog.String("resource", string(resource)),
			slog.Bool("token_present", token != ""))
		s.writeChallenge(w, *decision.Challenge)
		return false
	}
	return true
}

// admitWithBody decodes the body into dst and runs the metering gate. A
// header token is checked before the body is read; without one, a body that
// does not decode carries no token and is challenged rather than rejected.
func (s *Server) admitWithBody(w http.ResponseWriter, r *http.Request, resource metering.Resource, dst any, bodyToken func() string) bool {
	if strings.TrimSpace(r.Header.Get(PaymentHeader)) != "" {
		if !s.admit(w, r, resource, "") {
			return false
		}
		if err := decodeBody(r, dst); err != nil {
			s.writeError(w, r, err)
			return false
		}
		return true
	}
	if err := decodeBody(r, dst); err != nil {
		return s.admit(w, r, resource, "")
	}
	return s.admit(w, r, resource, bodyToken())
}

// decodeBody decodes an optional JSON body. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return xerrors.New(xerrors.CodeValidation, "request body is not valid JSON",
		xerrors.WithMetadata("body", err.Error()))
}
