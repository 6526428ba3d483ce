package model

// AccountID keys a native-currency balance in the ledger.
type AccountID string

const (
	walletPrefix = "wallet:"
	escrowPrefix = "escrow:"
)

// WalletAccount is the spendable balance of a participant.
func WalletAccount(id Identity) AccountID {
	return AccountID(walletPrefix + string(id))
}

// EscrowAccount is the balance held against a campaign record.
func EscrowAccount(addr Address) AccountID {
	return AccountID(escrowPrefix + string(addr))
}

type Balance struct {
	Account AccountID `db:"account" json:"account"`
	Amount  uint64    `db:"amount" json:"amount"`
}
