package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/vsla/pkg/apperr"
	"github.com/mcclellann/vsla/pkg/ledger"
	"github.com/mcclellann/vsla/pkg/logging"
	"github.com/sirupsen/logrus"
)

// Server holds the ledger instance.
type Server struct {
	ledger *ledger.Ledger
	secret []byte
	logger *logrus.Logger
	locale string
}

func NewServer(l *ledger.Ledger, secret []byte, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{ledger: l, secret: secret, logger: logger, locale: "en"}
}

// Router registers every route under /api behind the identity middleware.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.requestLogger)
	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/cycles", s.listCyclesHandler).Methods("GET")
	api.HandleFunc("/cycles", s.createCycleHandler).Methods("POST")
	api.HandleFunc("/cycles/active", s.activeCycleHandler).Methods("GET")
	api.HandleFunc("/cycles/{id}", s.getCycleHandler).Methods("GET")
	api.HandleFunc("/cycles/{id}", s.updateCycleHandler).Methods("PATCH")
	api.HandleFunc("/cycles/{id}/{transition:activate|close|reopen}", s.cycleTransitionHandler).Methods("POST")
	api.HandleFunc("/cycles/{id}/phases", s.phaseConfigsHandler).Methods("GET")
	api.HandleFunc("/cycles/{id}/phases", s.setPhaseConfigHandler).Methods("PUT")
	api.HandleFunc("/cycles/{id}/phases/{phase}/open", s.phaseOpenHandler).Methods("GET")
	api.HandleFunc("/cycles/{id}/scheme", s.getSchemeHandler).Methods("GET")
	api.HandleFunc("/cycles/{id}/scheme", s.createSchemeHandler).Methods("POST")
	api.HandleFunc("/cycles/{id}/ratings", s.assignRatingHandler).Methods("POST")
	api.HandleFunc("/cycles/{id}/members/{member}/limit", s.memberLimitHandler).Methods("GET")
	api.HandleFunc("/cycles/{id}/members/{member}/rate", s.resolveRateHandler).Methods("GET")
	api.HandleFunc("/cycles/{id}/members/{member}/savings", s.savingsHandler).Methods("GET")
	api.HandleFunc("/schemes/{id}/tiers", s.tiersHandler).Methods("GET")
	api.HandleFunc("/schemes/{id}/tiers", s.addTierHandler).Methods("POST")
	api.HandleFunc("/tiers/{id}/rates", s.tierRatesHandler).Methods("GET")
	api.HandleFunc("/tiers/{id}/rates", s.setRateRangeHandler).Methods("PUT")
	api.HandleFunc("/rates/{id}", s.removeRateRangeHandler).Methods("DELETE")

	api.HandleFunc("/declarations", s.listDeclarationsHandler).Methods("GET")
	api.HandleFunc("/declarations", s.createDeclarationHandler).Methods("POST")
	api.HandleFunc("/declarations/{id}", s.getDeclarationHandler).Methods("GET")
	api.HandleFunc("/declarations/{id}", s.updateDeclarationHandler).Methods("PATCH")
	api.HandleFunc("/declarations/{id}/proofs", s.uploadProofHandler).Methods("POST")
	api.HandleFunc("/deposits", s.listDepositsHandler).Methods("GET")
	api.HandleFunc("/deposits/{id}", s.getDepositHandler).Methods("GET")
	api.HandleFunc("/deposits/{id}/document", s.proofDocumentHandler).Methods("GET")
	api.HandleFunc("/deposits/{id}/approve", s.approveDepositHandler).Methods("POST")
	api.HandleFunc("/deposits/{id}/reject", s.rejectDepositHandler).Methods("POST")
	api.HandleFunc("/deposits/{id}/respond", s.respondHandler).Methods("POST")
	api.HandleFunc("/deposits/{id}/resubmit", s.resubmitHandler).Methods("POST")

	api.HandleFunc("/loan-applications", s.listApplicationsHandler).Methods("GET")
	api.HandleFunc("/loan-applications", s.applyForLoanHandler).Methods("POST")
	api.HandleFunc("/loan-applications/{id}/withdraw", s.withdrawApplicationHandler).Methods("POST")
	api.HandleFunc("/loan-applications/{id}/approve", s.approveLoanHandler).Methods("POST")
	api.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	api.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/repayments", s.repaymentsHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/repayments", s.recordRepaymentHandler).Methods("POST")

	api.HandleFunc("/postings", s.postingsHandler).Methods("GET")
	api.HandleFunc("/balances", s.balancesHandler).Methods("GET")
	api.HandleFunc("/reversals", s.reverseHandler).Methods("POST")
	api.HandleFunc("/reconciliation", s.reconcileHandler).Methods("GET")
	api.HandleFunc("/reports/trial-balance", s.trialBalanceHandler).Methods("GET")
	api.HandleFunc("/members/{member}/statement", s.statementHandler).Methods("GET")
	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindPrecondition, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindBusinessRule:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPermission:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var e *apperr.Error
	if errors.As(err, &e) {
		body.Code = e.Code()
	}
	if status == http.StatusInternalServerError {
		logging.LogError(s.logger, "api", r.Method+" "+r.URL.Path, "handle request", nil, err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validationf("invalid request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, apperr.Validationf("invalid %s", name)
	}
	return id, nil
}

// queryID parses an optional UUID query parameter.
func queryID(r *http.Request, name string) (uuid.NullUUID, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return uuid.NullUUID{}, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.NullUUID{}, apperr.Validationf("invalid %s", name)
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}
