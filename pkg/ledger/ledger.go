package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/vsla/pkg/apperr"
	"github.com/mcclellann/vsla/pkg/audit"
	"github.com/mcclellann/vsla/pkg/blobstore"
	"github.com/mcclellann/vsla/pkg/clock"
	"github.com/mcclellann/vsla/pkg/logging"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/mcclellann/vsla/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const module = "ledger"

var defaultTolerance = decimal.New(1, -2)

// Options configures a Ledger. Zero fields take defaults.
type Options struct {
	Clock  clock.Clock
	Audit  audit.Sink
	Blobs  blobstore.Store
	Logger *logrus.Logger

	// UnratedMultiplier is the borrowing multiplier for members without a
	// credit rating in the cycle. nil means unrated members may not borrow.
	UnratedMultiplier *decimal.Decimal
	// AmountTolerance is how far a proof amount may differ from the declaration
	// total, bounds included. nil means 0.01; zero demands an exact match.
	AmountTolerance *decimal.Decimal
	// BlobTimeout bounds each blob store call.
	BlobTimeout time.Duration
}

// Ledger handles the business logic for cycles, declarations, deposits, loans and postings.
type Ledger struct {
	storage           store.Storage
	clock             clock.Clock
	audit             audit.Sink
	blobs             blobstore.Store
	logger            *logrus.Logger
	unratedMultiplier *decimal.Decimal
	tolerance         decimal.Decimal
	blobTimeout       time.Duration
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts Options) *Ledger {
	l := &Ledger{
		storage:           s,
		clock:             opts.Clock,
		audit:             opts.Audit,
		blobs:             opts.Blobs,
		logger:            opts.Logger,
		unratedMultiplier: opts.UnratedMultiplier,
		tolerance:         defaultTolerance,
		blobTimeout:       opts.BlobTimeout,
	}
	if l.clock == nil {
		l.clock = clock.Real{}
	}
	if l.logger == nil {
		l.logger = logging.Discard()
	}
	if l.audit == nil {
		l.audit = audit.NewLogSink(l.logger)
	}
	if opts.AmountTolerance != nil {
		l.tolerance = *opts.AmountTolerance
	}
	if l.blobTimeout <= 0 {
		l.blobTimeout = 30 * time.Second
	}
	return l
}

func (l *Ledger) now() time.Time {
	return l.clock.Now().UTC()
}

func (l *Ledger) currentYear() int {
	return l.now().Year()
}

var staff = []models.Role{models.RoleTreasurer, models.RoleChairman, models.RoleCompliance}

func require(actor models.Actor, roles ...models.Role) error {
	if actor.Is(roles...) {
		return nil
	}
	return apperr.Permissionf("role %q may not perform this operation", actor.Role)
}

// requireSelf allows a member acting on their own records, or the treasurer.
func requireSelf(actor models.Actor, memberID uuid.UUID) error {
	if actor.Role == models.RoleMember && actor.MemberID == memberID {
		return nil
	}
	if actor.Is(models.RoleTreasurer) {
		return nil
	}
	return apperr.Permissionf("%s %s may not act for member %s", actor.Role, actor.MemberID, memberID)
}

// requireSelfOrStaff is requireSelf widened to every staff role; used for reads.
func requireSelfOrStaff(actor models.Actor, memberID uuid.UUID) error {
	if actor.Is(staff...) {
		return nil
	}
	return requireSelf(actor, memberID)
}

// record emits an audit entry. Called only after the transaction commits.
func (l *Ledger) record(actor models.Actor, action string, details map[string]any) {
	l.audit.Record(audit.Entry{
		ActorID:   actor.MemberID,
		Role:      actor.Role,
		Action:    action,
		Details:   details,
		Timestamp: l.now(),
	})
}

func (l *Ledger) blobCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.blobTimeout)
}

// logError logs failures that are not part of the error taxonomy.
func (l *Ledger) logError(funcName, what string, data any, err error) {
	if apperr.KindOf(err) != apperr.KindInternal {
		return
	}
	logging.LogError(l.logger, module, funcName, what, data, err)
}
