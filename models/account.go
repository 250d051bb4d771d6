package models

import (
	"context"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
	"github.com/pkg/errors"
)

type Account struct {
	tableName      struct{}          `pg:"account"`
	AccountID      int               `pg:"account_id,pk"`
	Enabled        bool              `pg:"enabled,notnull,use_zero"`
	DownloadsLimit *int              `pg:"downloads_limit,use_zero"`
	DownloadsToday int               `pg:"downloads_today,notnull,use_zero"`
	Username       string            `pg:"username,notnull"`
	Password       string            `pg:"password,notnull"`
	Cookies        map[string]string `pg:"cookies,type:jsonb"`
}

// HasQuota reports whether account can download one more torrent today.
func (a *Account) HasQuota() bool {
	return a.DownloadsLimit == nil || a.DownloadsToday < *a.DownloadsLimit
}

func GetEnabledAccounts(ctx context.Context, db pg.DBI) ([]Account, error) {
	var res []Account
	err := db.Model(&res).
		Context(ctx).
		Where("enabled").
		Order("account_id").
		Select()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get accounts")
	}
	return res, nil
}

// CreateAccount inserts account unless it exists, returns true if inserted
// insertAccount keeps a nil downloads limit as NULL, i.e. unlimited.
func insertAccount(q *orm.Query) *orm.Query {
	return q.OnConflict("(account_id) DO NOTHING")
}

func CreateAccount(ctx context.Context, db pg.DBI, a *Account) (bool, error) {
	res, err := insertAccount(db.Model(a)).
		Context(ctx).
		Insert()
	if err != nil {
		return false, errors.Wrap(err, "failed to create account")
	}
	return res.RowsAffected() > 0, nil
}

func IncrementAccountDownloads(ctx context.Context, db pg.DBI, id int) error {
	_, err := db.Model(&Account{}).
		Context(ctx).
		Set("downloads_today = downloads_today + 1").
		Where("account_id = ?", id).
		Update()
	if err != nil {
		return errors.Wrap(err, "failed to increment downloads")
	}
	return nil
}

// ExhaustAccount marks remaining daily quota of the account as spent
func ExhaustAccount(ctx context.Context, db pg.DBI, id int) error {
	_, err := db.Model(&Account{}).
		Context(ctx).
		Set("downloads_today = downloads_limit").
		Where("account_id = ? AND downloads_limit IS NOT NULL", id).
		Update()
	if err != nil {
		return errors.Wrap(err, "failed to exhaust account")
	}
	return nil
}

func ResetAccountDownloads(ctx context.Context, db pg.DBI) (int, error) {
	res, err := db.Model(&Account{}).
		Context(ctx).
		Set("downloads_today = 0").
		Where("TRUE").
		Update()
	if err != nil {
		return 0, errors.Wrap(err, "failed to reset downloads")
	}
	return res.RowsAffected(), nil
}

func UpdateAccountCookies(ctx context.Context, db pg.DBI, id int, cookies map[string]string) error {
	_, err := db.Model(&Account{Cookies: cookies}).
		Context(ctx).
		Column("cookies").
		Where("account_id = ?", id).
		Update()
	if err != nil {
		return errors.Wrap(err, "failed to update cookies")
	}
	return nil
}
