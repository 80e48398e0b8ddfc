package database

type Table string

const (
	AccountsTable Table = "accounts"
	MessagesTable Table = "channel_messages"
)

func (t Table) valid() bool {
	return t == AccountsTable || t == MessagesTable
}

type Entry struct {
	Key   string
	Value []byte
}
