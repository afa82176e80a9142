// Package export renders the tabular user report consumed by /download.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"referral-bot/internal/models"
	"referral-bot/internal/reward"
)

// UsersCSV dumps every user with its reward accounting as a CSV document.
func UsersCSV(users []models.User) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"User Id", "Name", "Wallet Address", "Reward Amount", "Claimed Amount", "Balance Amount"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	for i := range users {
		u := &users[i]
		record := []string{
			fmt.Sprintf("%d", u.TelegramID),
			u.FullName(),
			u.Wallet,
			fmt.Sprintf("%g", u.Reward),
			fmt.Sprintf("%g", u.Claimed),
			reward.Balance(u).String(),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write csv record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
