package ledger

import (
	"context"
	"fmt"
	"time"

	"tradeledger/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

type ReconcileLine struct {
	BotID           uint            `json:"bot_id"`
	Currency        string          `json:"currency"`
	LegacyBalance   decimal.Decimal `json:"legacy_balance"`
	LedgerBalance   decimal.Decimal `json:"ledger_balance"`
	Difference      decimal.Decimal `json:"difference"`
	WithinTolerance bool            `json:"within_tolerance"`
}

type ReconcileReport struct {
	Owner      string          `json:"owner"`
	Lines      []ReconcileLine `json:"lines"`
	Consistent bool            `json:"consistent"`
	CheckedAt  time.Time       `json:"checked_at"`
}

// Reconcile compares each legacy bot account balance against the ledger's
// cash balance for that bot (funding + realized - fees; open positions at
// cost). Discrepancies are reported, never returned as errors.
func (s *Service) Reconcile(ctx context.Context, owner model.Owner) (ReconcileReport, error) {
	report := ReconcileReport{Owner: owner.String(), Consistent: true, CheckedAt: s.now().UTC()}

	accounts, err := s.accounts.ListForOwner(ctx, owner)
	if err != nil {
		return report, fmt.Errorf("load bot accounts: %w", err)
	}

	for _, account := range accounts {
		snap, err := s.load(ctx, model.BotOwner(account.UserID, account.BotID), &report.CheckedAt)
		if err != nil {
			return report, err
		}

		balance := fundingTotal(snap.events).
			Add(realizedPnL(snap.fills, Window{})).
			Sub(feesPaid(snap.fills, Window{}))

		diff := balance.Sub(account.CurrentBalance)
		line := ReconcileLine{
			BotID:           account.BotID,
			Currency:        account.Currency,
			LegacyBalance:   account.CurrentBalance,
			LedgerBalance:   balance,
			Difference:      diff,
			WithinTolerance: diff.Abs().LessThanOrEqual(s.config.ReconcileTolerance),
		}
		if !line.WithinTolerance {
			report.Consistent = false
			logger.WithFields(map[string]interface{}{
				"component":  "ledger",
				"op":         "Reconcile",
				"user_id":    account.UserID,
				"bot_id":     account.BotID,
				"legacy":     account.CurrentBalance.String(),
				"ledger":     balance.String(),
				"difference": diff.String(),
			}).Warn("Legacy balance disagrees with ledger")
		}
		report.Lines = append(report.Lines, line)
	}

	return report, nil
}

const (
	SeverityViolation = "violation"
	SeverityWarning   = "warning"
)

type IntegrityIssue struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Record   string `json:"record"`
	RecordID uint   `json:"record_id"`
	Detail   string `json:"detail"`
}

type IntegrityReport struct {
	Owner         string           `json:"owner"`
	FillsChecked  int              `json:"fills_checked"`
	EventsChecked int              `json:"events_checked"`
	Issues        []IntegrityIssue `json:"issues"`
	CheckedAt     time.Time        `json:"checked_at"`
}

// OK is true when no violation was found. Warnings do not count.
func (r IntegrityReport) OK() bool {
	return r.Violations() == 0
}

func (r IntegrityReport) Violations() int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == SeverityViolation {
			n++
		}
	}
	return n
}

// Err wraps model.ErrIntegrityViolation when the report has violations.
func (r IntegrityReport) Err() error {
	if n := r.Violations(); n > 0 {
		return fmt.Errorf("%w: %d issue(s) for %s", model.ErrIntegrityViolation, n, r.Owner)
	}
	return nil
}

func (r *IntegrityReport) add(code, severity, record string, id uint, format string, args ...interface{}) {
	r.Issues = append(r.Issues, IntegrityIssue{
		Code:     code,
		Severity: severity,
		Record:   record,
		RecordID: id,
		Detail:   fmt.Sprintf(format, args...),
	})
}

// VerifyIntegrity checks the structural invariants of the owner's fills and
// events and returns every finding.
func (s *Service) VerifyIntegrity(ctx context.Context, owner model.Owner) (IntegrityReport, error) {
	report := IntegrityReport{Owner: owner.String(), CheckedAt: s.now().UTC()}

	snap, err := s.load(ctx, owner, nil)
	if err != nil {
		return report, err
	}

	report.FillsChecked = len(snap.fills)
	report.EventsChecked = len(snap.events)

	s.checkFills(&report, snap.fills)
	checkEvents(&report, snap.events)

	if !report.OK() {
		logger.WithFields(owner.Fields()).
			WithField("component", "ledger").
			WithField("violations", report.Violations()).
			Warn("Ledger integrity violations found")
	}

	return report, nil
}

func (s *Service) checkFills(report *IntegrityReport, fills []model.Fill) {
	idempotencyKeys := make(map[string]uint)
	tradeIDs := make(map[string]uint)
	orderIDs := make(map[string]uint)
	b := newBook()

	for _, fill := range fills {
		if fill.Symbol == "" || fill.Exchange == "" || fill.UserID == 0 || fill.BotID == 0 {
			report.add("missing_field", SeverityViolation, "fill", fill.ID, "owner, symbol and exchange are required")
		}
		if !fill.Side.Valid() {
			report.add("invalid_side", SeverityViolation, "fill", fill.ID, "side %q", fill.Side)
		}
		if !fill.Quantity.IsPositive() || !fill.Price.IsPositive() {
			report.add("non_positive_amount", SeverityViolation, "fill", fill.ID, "qty=%s price=%s", fill.Quantity, fill.Price)
		}
		if fill.Fee.IsNegative() {
			report.add("negative_fee", SeverityViolation, "fill", fill.ID, "fee=%s", fill.Fee)
		}
		if fill.Timestamp.IsZero() {
			report.add("missing_timestamp", SeverityViolation, "fill", fill.ID, "timestamp is zero")
		} else if !fill.CreatedAt.IsZero() && fill.Timestamp.After(fill.CreatedAt.Add(s.config.TimestampSkew)) {
			report.add("future_timestamp", SeverityViolation, "fill", fill.ID,
				"executed at %s but recorded at %s", fill.Timestamp.Format(time.RFC3339), fill.CreatedAt.Format(time.RFC3339))
		}

		if fill.IdempotencyKey != nil {
			if prev, ok := idempotencyKeys[*fill.IdempotencyKey]; ok {
				report.add("duplicate_idempotency_key", SeverityViolation, "fill", fill.ID, "key %q also on fill %d", *fill.IdempotencyKey, prev)
			} else {
				idempotencyKeys[*fill.IdempotencyKey] = fill.ID
			}
		}
		if fill.ExchangeTradeID != nil {
			key := string(fill.Exchange) + "/" + *fill.ExchangeTradeID
			if prev, ok := tradeIDs[key]; ok {
				report.add("duplicate_exchange_trade_id", SeverityViolation, "fill", fill.ID, "trade %s also on fill %d", key, prev)
			} else {
				tradeIDs[key] = fill.ID
			}
		} else if fill.OrderID != "" {
			// without a trade id, two fills of one order cannot be told apart
			if prev, ok := orderIDs[fill.OrderID]; ok {
				report.add("duplicate_order_id", SeverityViolation, "fill", fill.ID, "order %s also on fill %d", fill.OrderID, prev)
			} else {
				orderIDs[fill.OrderID] = fill.ID
			}
		}

		if m := b.apply(fill); m.unmatchedQty.IsPositive() {
			report.add("unmatched_sell", SeverityWarning, "fill", fill.ID,
				"%s of %s sold without an open lot; short positions are not tracked", m.unmatchedQty, fill.Symbol)
		}
	}
}

func checkEvents(report *IntegrityReport, events []model.LedgerEvent) {
	for _, event := range events {
		if !event.Kind.Valid() {
			report.add("invalid_kind", SeverityViolation, "event", event.ID, "kind %q", event.Kind)
		}
		if event.UserID == 0 || event.Currency == "" {
			report.add("missing_field", SeverityViolation, "event", event.ID, "owner and currency are required")
		}
		if event.Timestamp.IsZero() {
			report.add("missing_timestamp", SeverityViolation, "event", event.ID, "timestamp is zero")
		}
		if event.Kind == model.EventFunding && event.Amount.IsZero() {
			report.add("empty_funding", SeverityWarning, "event", event.ID, "funding event with zero amount")
		}
	}
}
