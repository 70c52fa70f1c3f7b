package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/atm-service/internal/app"
	"github.com/transfa/atm-service/internal/broker"
	"github.com/transfa/atm-service/internal/domain"
	"github.com/transfa/atm-service/internal/store"
)

func parseAmountFlag(name, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: -%s is required", errUsage, name)
	}
	amount, err := domain.ParseAmount(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid -%s %q: %w", name, raw, err)
	}
	return amount, nil
}

func requireFlag(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: -%s is required", errUsage, name)
	}
	return nil
}

func runCreate(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("create")
	card := fs.String("card", "", "16-digit card number")
	pin := fs.String("pin", "", "4-digit PIN")
	balance := fs.String("balance", "0", "opening balance")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag("card", *card); err != nil {
		return err
	}
	if err := requireFlag("pin", *pin); err != nil {
		return err
	}
	opening, err := parseAmountFlag("balance", *balance)
	if err != nil {
		return err
	}

	account, err := e.admin.CreateAccount(ctx, *card, *pin, opening)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "created %s balance=%s\n", account.CardNumber, account.Balance.StringFixed(domain.AmountScale))
	return nil
}

func runDelete(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("delete")
	card := fs.String("card", "", "16-digit card number")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag("card", *card); err != nil {
		return err
	}

	account, err := e.admin.Account(ctx, *card)
	if err != nil {
		return err
	}
	if !*yes {
		fmt.Fprintf(e.out, "Delete account %s with balance %s and its history? Type 'yes' to confirm: ",
			account.CardNumber, account.Balance.StringFixed(domain.AmountScale))
		answer, _ := bufio.NewReader(e.in).ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Fprintln(e.out, "aborted")
			return nil
		}
	}

	if err := e.admin.DeleteAccount(ctx, *card); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "deleted %s\n", account.CardNumber)
	return nil
}

func runSetBalance(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("set-balance")
	card := fs.String("card", "", "16-digit card number")
	balance := fs.String("balance", "", "new balance")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag("card", *card); err != nil {
		return err
	}
	amount, err := parseAmountFlag("balance", *balance)
	if err != nil {
		return err
	}

	if err := e.admin.SetBalance(ctx, *card, amount); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "balance of %s set to %s\n", strings.TrimSpace(*card), amount.StringFixed(domain.AmountScale))
	return nil
}

func runResetPIN(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("reset-pin")
	card := fs.String("card", "", "16-digit card number")
	pin := fs.String("pin", "", "new PIN (default "+domain.DefaultResetPIN+")")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag("card", *card); err != nil {
		return err
	}

	if err := e.admin.ResetPIN(ctx, *card, *pin); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "pin of %s reset; lockout cleared\n", strings.TrimSpace(*card))
	return nil
}

func runTransfer(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("transfer")
	from := fs.String("from", "", "source card number")
	to := fs.String("to", "", "destination card number")
	amountRaw := fs.String("amount", "", "amount to move")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag("from", *from); err != nil {
		return err
	}
	if err := requireFlag("to", *to); err != nil {
		return err
	}
	amount, err := parseAmountFlag("amount", *amountRaw)
	if err != nil {
		return err
	}

	records, err := e.admin.Transfer(ctx, *from, *to, amount)
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Fprintf(e.out, "%-22s %s balance=%s\n", rec.Kind.Label(), rec.CardNumber, rec.BalanceAfter.StringFixed(domain.AmountScale))
	}
	return nil
}

func runAccounts(ctx context.Context, e *env, args []string) error {
	if err := parseFlags(newFlagSet("accounts"), args); err != nil {
		return err
	}
	accounts, err := e.admin.Accounts(ctx)
	if err != nil {
		return err
	}
	return writeAccountsReport(e.out, accounts, time.Now())
}

func runHistory(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("history")
	card := fs.String("card", "", "16-digit card number")
	limit := fs.Int("limit", store.DefaultHistoryLimit, "number of records, newest first")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireFlag("card", *card); err != nil {
		return err
	}

	records, err := e.admin.History(ctx, *card, *limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(e.out, "no transactions")
		return nil
	}
	for _, rec := range records {
		fmt.Fprintf(e.out, "%s  %-22s %12s  balance=%s\n",
			rec.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			rec.Kind.Label(),
			rec.Amount.StringFixed(domain.AmountScale),
			rec.BalanceAfter.StringFixed(domain.AmountScale),
		)
	}
	return nil
}

// runReport writes a CSV of all accounts, or of one account's history with -card.
func runReport(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("report")
	card := fs.String("card", "", "report this account's history instead of all accounts")
	limit := fs.Int("limit", store.MaxHistoryLimit, "history records to include")
	outPath := fs.String("out", "", "output file (default stdout)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	out := e.out
	if *outPath != "" {
		file, err := os.Create(*outPath)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer file.Close()
		out = file
	}

	if strings.TrimSpace(*card) != "" {
		records, err := e.admin.History(ctx, *card, *limit)
		if err != nil {
			return err
		}
		return writeHistoryReport(out, records)
	}
	accounts, err := e.admin.Accounts(ctx)
	if err != nil {
		return err
	}
	return writeAccountsReport(out, accounts, time.Now())
}

func runCash(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("cash")
	set := fs.String("set", "", "replace the machine cash total")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	if *set != "" {
		cash, err := domain.ParseAmount(*set)
		if err != nil {
			return fmt.Errorf("invalid -set %q: %w", *set, err)
		}
		if err := e.admin.SetMachineCash(ctx, cash); err != nil {
			return err
		}
	}
	cash, err := e.admin.MachineCash(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "machine cash %s\n", cash.StringFixed(domain.AmountScale))
	return nil
}

// runWatch prints events until interrupted.
func runWatch(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("watch")
	group := fs.String("group", "", "durable queue or consumer group name")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	tail := app.NewEventTail(e.out, e.logger)
	return broker.Watch(ctx, e.cfg, *group, tail.Handle, e.logger)
}
