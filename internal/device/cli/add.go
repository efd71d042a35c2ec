package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pokar-monil/kharchakitab-sub000/internal/device/models"
)

// add records one transaction in the local ledger, with an audit-log entry
// so later edits can be traced.
func (a *App) add(ctx context.Context) error {
	item, err := GetSimpleText(a.reader, "Item", os.Stdout)
	if err != nil {
		return err
	}

	amountText, err := GetSimpleText(a.reader, "Amount", os.Stdout)
	if err != nil {
		return err
	}
	amount, err := strconv.ParseFloat(amountText, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", amountText)
	}

	category, err := GetSimpleText(a.reader, "Category", os.Stdout)
	if err != nil {
		return err
	}
	paymentMethod, err := GetSimpleText(a.reader, "Payment method", os.Stdout)
	if err != nil {
		return err
	}
	private, err := GetSimpleText(a.reader, "Private? (y/N)", os.Stdout)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	t := models.Transaction{
		ID:            uuid.NewString(),
		Amount:        amount,
		Item:          item,
		Category:      category,
		PaymentMethod: paymentMethod,
		Timestamp:     now,
		OwnerDeviceID: a.identity.DeviceID,
		IsPrivate:     strings.EqualFold(private, "y"),
		UpdatedAt:     now,
	}
	if err := a.repos.Transactions.Upsert(ctx, &t); err != nil {
		return err
	}
	if err := a.repos.Transactions.AppendVersion(ctx, &models.TransactionVersion{
		ID:              uuid.NewString(),
		TransactionID:   t.ID,
		PayloadSnapshot: t,
		EditorDeviceID:  a.identity.DeviceID,
		UpdatedAt:       now,
	}); err != nil {
		return err
	}

	fmt.Printf("Added %s.\n", t.ID)
	return nil
}

// list prints the live ledger, newest last. Conflicted rows are marked so
// the user knows they need attention.
func (a *App) list(ctx context.Context) error {
	all, err := a.repos.Transactions.UpdatedSince(ctx, nil)
	if err != nil {
		return err
	}

	count := 0
	for _, t := range all {
		if t.Deleted() {
			continue
		}
		mark := " "
		if t.Conflict {
			mark = "!"
		}
		private := ""
		if t.IsPrivate {
			private = " (private)"
		}
		fmt.Printf("%s %s  %10.2f  %-20s %s%s\n",
			mark, t.Timestamp.Local().Format("2006-01-02"), t.Amount, t.Item, t.Category, private)
		count++
	}
	if count == 0 {
		fmt.Println("Ledger is empty.")
	}
	return nil
}
