package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent price-change attempts from the ledger.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database not configured; cannot show attempts")
	}

	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	attempts, err := st.attempts.ListRecentAttempts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Fprintln(os.Stdout, "no attempts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tProduct\tOld\tNew\tChange%\tStatus\tTrigger\tReason")

	for _, attempt := range attempts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			attempt.AttemptedAt.UTC().Format(time.RFC3339),
			attempt.ProductID,
			attempt.OldPrice.StringFixed(2),
			attempt.NewPrice.StringFixed(2),
			attempt.ChangePercent.StringFixed(2),
			attempt.Status,
			attempt.TriggeredBy,
			sanitizeInline(attempt.Reason),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
