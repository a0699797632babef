package repositories

import (
	"context"
	"testing"

	"ticketbackend/internal/domain"
	"ticketbackend/internal/domain/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
)

func TestPaymentGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT .+ FROM payments WHERE id = \\?").WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = PaymentRepository{DB: db}.GetByID(context.Background(), 8)
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMarkRefundRequestedSkipsOpenDispute(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE payments SET refund_status = 'requested'.+dispute_status <> 'open'").
		WithArgs("changed plans", testNow, testNow, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := PaymentRepository{DB: db}.MarkRefundRequested(context.Background(), 5, "changed plans", testNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed {
		t.Fatalf("guarded update with no rows must not claim the refund")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkRefundedOnlyFromCompleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	amount := decimal.RequireFromString("50.00")
	mock.ExpectExec("UPDATE payments SET status = 'refunded'.+WHERE id = \\? AND status = 'completed'").
		WithArgs("re_1", amount, testNow, testNow, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := PaymentRepository{DB: db}.MarkRefunded(context.Background(), 5, "re_1", amount, testNow)
	if err != nil || !ok {
		t.Fatalf("expected refund to apply, ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCloseDisputeOutcome(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE payments SET.+WHERE dispute_id = \\? AND dispute_status = 'open'").
		WithArgs(models.DisputeWon, models.DisputeWon, testNow, testNow, "dp_9").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := PaymentRepository{DB: db}.CloseDispute(context.Background(), "dp_9", models.DisputeWon, testNow)
	if err != nil || !ok {
		t.Fatalf("expected dispute to close, ok=%v err=%v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
