package entity

import "time"

type User struct {
	ID uint64

	Email string

	// WalletBalanceCents is mutated only through the wallet
	// repository's atomic increment, never read-modify-write.
	WalletBalanceCents int64

	VIPLevel int32

	CreatedAt time.Time
	UpdatedAt time.Time
}
