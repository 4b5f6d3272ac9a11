package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/vsla/pkg/apperr"
	"github.com/mcclellann/vsla/pkg/ledger"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/mcclellann/vsla/pkg/report"
	"github.com/mcclellann/vsla/pkg/store"
	"github.com/shopspring/decimal"
)

const maxUploadBytes = 10 << 20

func (s *Server) createCycleHandler(w http.ResponseWriter, r *http.Request) {
	var in ledger.CreateCycleInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.ledger.CreateCycle(r.Context(), actorFrom(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listCyclesHandler(w http.ResponseWriter, r *http.Request) {
	cycles, err := s.ledger.ListCycles(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cycles)
}

func (s *Server) activeCycleHandler(w http.ResponseWriter, r *http.Request) {
	c, err := s.ledger.ActiveCycle(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) getCycleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.ledger.GetCycle(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) updateCycleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in ledger.UpdateCycleInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.ledger.UpdateCycle(r.Context(), actorFrom(r), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) cycleTransitionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var c *models.Cycle
	switch mux.Vars(r)["transition"] {
	case "activate":
		c, err = s.ledger.ActivateCycle(r.Context(), actorFrom(r), id)
	case "close":
		c, err = s.ledger.CloseCycle(r.Context(), actorFrom(r), id)
	case "reopen":
		c, err = s.ledger.ReopenCycle(r.Context(), actorFrom(r), id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) phaseConfigsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cfgs, err := s.ledger.PhaseConfigs(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfgs)
}

func (s *Server) setPhaseConfigHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in ledger.PhaseConfigInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg, err := s.ledger.SetPhaseConfig(r.Context(), actorFrom(r), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// phaseOpenHandler evaluates the window for ?date=YYYY-MM-DD, or today.
func (s *Server) phaseOpenHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	today := time.Now().UTC()
	if v := r.URL.Query().Get("date"); v != "" {
		if today, err = time.Parse("2006-01-02", v); err != nil {
			s.writeError(w, r, apperr.Validationf("invalid date %q", v))
			return
		}
	}
	open, err := s.ledger.IsPhaseOpen(r.Context(), id, models.PhaseType(mux.Vars(r)["phase"]), today)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"open": open})
}

func (s *Server) createSchemeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in ledger.SchemeInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	scheme, err := s.ledger.CreateScheme(r.Context(), actorFrom(r), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, scheme)
}

func (s *Server) getSchemeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	scheme, err := s.ledger.SchemeForCycle(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, scheme)
}

func (s *Server) addTierHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in ledger.TierInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	tier, err := s.ledger.AddTier(r.Context(), actorFrom(r), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tier)
}

func (s *Server) tiersHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tiers, err := s.ledger.Tiers(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tiers)
}

func (s *Server) setRateRangeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in ledger.RateRangeInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	rr, err := s.ledger.SetRateRange(r.Context(), actorFrom(r), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rr)
}

func (s *Server) tierRatesHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ranges, err := s.ledger.TierRates(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranges)
}

func (s *Server) removeRateRangeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.RemoveRateRange(r.Context(), actorFrom(r), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) assignRatingHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in ledger.RatingInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	rating, err := s.ledger.AssignRating(r.Context(), actorFrom(r), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}

func (s *Server) memberLimitHandler(w http.ResponseWriter, r *http.Request) {
	cycleID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	memberID, err := pathID(r, "member")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := s.ledger.MemberLimit(r.Context(), actorFrom(r), memberID, cycleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, limit)
}

func (s *Server) savingsHandler(w http.ResponseWriter, r *http.Request) {
	cycleID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	memberID, err := pathID(r, "member")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	savings, err := s.ledger.SavingsBalance(r.Context(), actorFrom(r), memberID, cycleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"member_id": memberID, "cycle_id": cycleID, "savings": savings})
}

// resolveRateHandler takes ?term=N; without it the catch-all range applies.
func (s *Server) resolveRateHandler(w http.ResponseWriter, r *http.Request) {
	cycleID, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	memberID, err := pathID(r, "member")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	term := models.AnyTerm()
	if v := r.URL.Query().Get("term"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, r, apperr.Validationf("invalid term %q", v))
			return
		}
		term = models.TermOf(n)
	}
	rate, err := s.ledger.ResolveRate(r.Context(), memberID, cycleID, term)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"term_months": term, "effective_rate_percent": rate})
}

func (s *Server) createDeclarationHandler(w http.ResponseWriter, r *http.Request) {
	var in ledger.DeclarationInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.ledger.CreateDeclaration(r.Context(), actorFrom(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) listDeclarationsHandler(w http.ResponseWriter, r *http.Request) {
	var f store.DeclarationFilter
	var err error
	if f.MemberID, err = queryID(r, "member_id"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.CycleID, err = queryID(r, "cycle_id"); err != nil {
		s.writeError(w, r, err)
		return
	}
	f.Status = models.DeclarationStatus(r.URL.Query().Get("status"))
	decls, err := s.ledger.ListDeclarations(r.Context(), actorFrom(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decls)
}

func (s *Server) getDeclarationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.ledger.GetDeclaration(r.Context(), actorFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) updateDeclarationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in ledger.DeclarationAmounts
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.ledger.UpdateDeclaration(r.Context(), actorFrom(r), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// formDocument reads the optional "file" part of a multipart request.
// The returned close func is never nil.
func formDocument(r *http.Request) (*ledger.Document, func(), error) {
	file, header, err := r.FormFile("file")
	if err == http.ErrMissingFile {
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, func() {}, apperr.Validationf("invalid file: %v", err)
	}
	return &ledger.Document{Filename: header.Filename, Body: file}, func() { file.Close() }, nil
}

func formDecimal(r *http.Request, name string) (*decimal.Decimal, error) {
	v := strings.TrimSpace(r.FormValue(name))
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, apperr.Validationf("invalid %s %q", name, v)
	}
	return &d, nil
}

// uploadProofHandler expects multipart fields amount, reference and file.
func (s *Server) uploadProofHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, r, apperr.Validationf("invalid multipart form: %v", err))
		return
	}
	doc, closeDoc, err := formDocument(r)
	defer closeDoc()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := formDecimal(r, "amount")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in := ledger.ProofInput{Reference: r.FormValue("reference"), File: doc}
	if amount != nil {
		in.Amount = *amount
	}
	p, err := s.ledger.UploadProof(r.Context(), actorFrom(r), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) listDepositsHandler(w http.ResponseWriter, r *http.Request) {
	proofs, err := s.ledger.ListDepositProofs(r.Context(), actorFrom(r), models.DepositStatus(r.URL.Query().Get("status")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, proofs)
}

func (s *Server) getDepositHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.ledger.GetDepositProof(r.Context(), actorFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) proofDocumentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, key, err := s.ledger.ProofDocument(r.Context(), actorFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(body))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", key[strings.LastIndex(key, "/")+1:]))
	w.Write(body)
}

func (s *Server) approveDepositHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.ledger.ApproveDeposit(r.Context(), actorFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type commentRequest struct {
	Comment string `json:"comment"`
}

func (s *Server) rejectDepositHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req commentRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.ledger.RejectDeposit(r.Context(), actorFrom(r), id, req.Comment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) respondHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req commentRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.ledger.RespondToRejection(r.Context(), actorFrom(r), id, req.Comment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// resubmitHandler accepts the same multipart fields as an upload, all optional, plus comment.
func (s *Server) resubmitHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.writeError(w, r, apperr.Validationf("invalid multipart form: %v", err))
		return
	}
	doc, closeDoc, err := formDocument(r)
	defer closeDoc()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	in := ledger.ResubmitInput{File: doc, Comment: r.FormValue("comment")}
	if in.Amount, err = formDecimal(r, "amount"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, ok := r.MultipartForm.Value["reference"]; ok {
		ref := r.FormValue("reference")
		in.Reference = &ref
	}
	p, err := s.ledger.ResubmitProof(r.Context(), actorFrom(r), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func loanFilter(r *http.Request) (store.LoanFilter, error) {
	var f store.LoanFilter
	var err error
	if f.MemberID, err = queryID(r, "member_id"); err != nil {
		return f, err
	}
	if f.CycleID, err = queryID(r, "cycle_id"); err != nil {
		return f, err
	}
	f.Status = r.URL.Query().Get("status")
	return f, nil
}

func (s *Server) applyForLoanHandler(w http.ResponseWriter, r *http.Request) {
	var in ledger.LoanApplicationInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	app, err := s.ledger.ApplyForLoan(r.Context(), actorFrom(r), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (s *Server) listApplicationsHandler(w http.ResponseWriter, r *http.Request) {
	f, err := loanFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	apps, err := s.ledger.LoanApplications(r.Context(), actorFrom(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (s *Server) withdrawApplicationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	app, err := s.ledger.WithdrawLoanApplication(r.Context(), actorFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) approveLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.ledger.ApproveAndDisburse(r.Context(), actorFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	f, err := loanFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loans, err := s.ledger.ListLoans(r.Context(), actorFrom(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.ledger.GetLoan(r.Context(), actorFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) repaymentsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rps, err := s.ledger.Repayments(r.Context(), actorFrom(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rps)
}

func (s *Server) recordRepaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in ledger.RepaymentInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	rp, err := s.ledger.RecordRepayment(r.Context(), actorFrom(r), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rp)
}

func postingFilter(r *http.Request) (store.PostingFilter, error) {
	q := r.URL.Query()
	f := store.PostingFilter{
		Account:    models.Account(q.Get("account")),
		SourceType: models.SourceType(q.Get("source_type")),
	}
	var err error
	if f.SourceID, err = queryID(r, "source_id"); err != nil {
		return f, err
	}
	if f.MemberID, err = queryID(r, "member_id"); err != nil {
		return f, err
	}
	if f.CycleID, err = queryID(r, "cycle_id"); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) postingsHandler(w http.ResponseWriter, r *http.Request) {
	f, err := postingFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	postings, err := s.ledger.Postings(r.Context(), actorFrom(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, postings)
}

func (s *Server) balancesHandler(w http.ResponseWriter, r *http.Request) {
	f, err := postingFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	balances, err := s.ledger.Balances(r.Context(), actorFrom(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (s *Server) reverseHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceType models.SourceType `json:"source_type"`
		SourceID   string            `json:"source_id"`
		Reason     string            `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sourceID, err := uuid.Parse(req.SourceID)
	if err != nil {
		s.writeError(w, r, apperr.Validationf("invalid source_id"))
		return
	}
	postings, err := s.ledger.ReverseSource(r.Context(), actorFrom(r), req.SourceType, sourceID, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, postings)
}

func (s *Server) reconcileHandler(w http.ResponseWriter, r *http.Request) {
	rep, err := s.ledger.Reconcile(r.Context(), actorFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func wantsXLSX(r *http.Request) bool {
	return r.URL.Query().Get("format") == "xlsx"
}

func writeXLSXHeaders(w http.ResponseWriter, filename string) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
}

func (s *Server) trialBalanceHandler(w http.ResponseWriter, r *http.Request) {
	cycleID, err := queryID(r, "cycle_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	balances, err := s.ledger.Balances(r.Context(), actorFrom(r), store.PostingFilter{CycleID: cycleID})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tb := report.NewTrialBalance(balances, time.Now().UTC())
	if !wantsXLSX(r) {
		writeJSON(w, http.StatusOK, tb)
		return
	}
	writeXLSXHeaders(w, "trial-balance.xlsx")
	if err := tb.WriteXLSX(w); err != nil {
		s.logger.WithError(err).Error("Failed to write trial balance workbook")
	}
}

// statementHandler returns the member's postings; ?format=xlsx downloads a
// workbook and ?locale= picks the number format of the formatted totals.
func (s *Server) statementHandler(w http.ResponseWriter, r *http.Request) {
	memberID, err := pathID(r, "member")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f := store.PostingFilter{MemberID: uuid.NullUUID{UUID: memberID, Valid: true}}
	if f.CycleID, err = queryID(r, "cycle_id"); err != nil {
		s.writeError(w, r, err)
		return
	}
	postings, err := s.ledger.Postings(r.Context(), actorFrom(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st := report.NewStatement(memberID, postings, time.Now().UTC())
	if wantsXLSX(r) {
		writeXLSXHeaders(w, "statement-"+memberID.String()+".xlsx")
		if err := st.WriteXLSX(w); err != nil {
			s.logger.WithError(err).Error("Failed to write statement workbook")
		}
		return
	}
	locale := r.URL.Query().Get("locale")
	if locale == "" {
		locale = s.locale
	}
	fmtr := report.NewFormatter(locale)
	formatted := make(map[models.Account]string, len(st.Totals))
	for a, total := range st.Totals {
		formatted[a] = fmtr.Amount(total)
	}
	writeJSON(w, http.StatusOK, map[string]any{"statement": st, "formatted_totals": formatted})
}
