package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	xerrors "SnowRail/internal/errors"
	"SnowRail/internal/metering"
)

type errorBody struct {
	Code     xerrors.Code        `json:"code"`
	Message  string              `json:"message"`
	Details  map[string]string   `json:"details,omitempty"`
	Metering *metering.Challenge `json:"metering,omitempty"`
	MeterID  string              `json:"meterId,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusFor maps an error code onto the HTTP status surfaced to callers.
func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeValidation, xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodePaymentRequired:
		return http.StatusPaymentRequired
	case xerrors.CodeNotAuthorized:
		return http.StatusForbidden
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := xerrors.From(err)
	if !ok {
		e = xerrors.Wrap(xerrors.CodeUnknown, err, "internal error")
	}
	status := statusFor(e.Code())
	body := errorBody{Code: e.Code(), Message: e.Message()}
	if e.Code() == xerrors.CodeValidation || e.Code() == xerrors.CodeNotAuthorized {
		body.Details = e.Metadata()
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("code", string(e.Code())),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorEnvelope{Error: body})
}

func (s *Server) writeChallenge(w http.ResponseWriter, ch metering.Challenge) {
	e := metering.PaymentRequired(ch)
	writeJSON(w, http.StatusPaymentRequired, errorEnvelope{Error: errorBody{
		Code:     e.Code(),
		Message:  e.Message(),
		Metering: &ch,
		MeterID:  ch.MeterID,
	}})
}
