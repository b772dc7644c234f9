package ledgers

import (
	"database/sql"

	"github.com/fastprodman/pointsync/internal/repos/ledgers"
)

var _ ledgers.Ledgers = (*ledgersRepo)(nil)

type ledgersRepo struct{ db *sql.DB }

func New(db *sql.DB) *ledgersRepo {
	return &ledgersRepo{db: db}
}
