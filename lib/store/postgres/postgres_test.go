package postgres

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openimpact/dtrack/lib/store"
)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewWithDB(db), mock
}

func TestAddWatch(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectQuery(`INSERT INTO watches`).
		WithArgs("amoy", "water fund", "0xaaa1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := p.AddWatch(store.Watch{Label: "water fund", Wallet: "0xaaa1"}, "amoy")
	require.NoError(t, err)
	assert.Equal(t, []byte("7"), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveWatch(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectExec(`DELETE FROM watches`).
		WithArgs("amoy", "0xaaa1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, p.RemoveWatch(store.Watch{Wallet: "0xaaa1"}, "amoy"))

	mock.ExpectExec(`DELETE FROM watches`).
		WithArgs("amoy", "0xmissing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, p.RemoveWatch(store.Watch{Wallet: "0xmissing"}, "amoy"), store.ErrWatchNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWatchesGroupsByNet(t *testing.T) {
	p, mock := newMock(t)

	rows := sqlmock.NewRows([]string{"net", "id", "label", "wallet"}).
		AddRow("amoy", int64(1), "water fund", "0xaaa1").
		AddRow("amoy", int64(2), "", "0xbbb2").
		AddRow("polygon", int64(3), "shelter", "0xccc3")
	mock.ExpectQuery(`SELECT net, id, label, wallet FROM watches ORDER BY`).WillReturnRows(rows)

	watches, err := p.GetWatches(nil)
	require.NoError(t, err)
	require.Len(t, watches, 2)
	assert.Equal(t, "amoy", watches[0].Net)
	require.Len(t, watches[0].Orgs, 2)
	assert.Equal(t, "0xaaa1", watches[0].Orgs[0].Wallet)
	assert.Equal(t, "polygon", watches[1].Net)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCursorRoundTrip(t *testing.T) {
	p, mock := newMock(t)

	cur := store.Cursor{
		Block:  100,
		Hashes: []string{"0x01", "0x02"},
		Idx:    1,
		Orgs:   map[string]interface{}{"0xaaa1": "water fund"},
	}

	mock.ExpectExec(`INSERT INTO cursors`).
		WithArgs("amoy", int64(100), `["0x01","0x02"]`, 1, `{"0xaaa1":"water fund"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, p.SaveCursor("amoy", cur))

	mock.ExpectQuery(`SELECT block, hashes, idx, orgs FROM cursors`).
		WithArgs("amoy").
		WillReturnRows(sqlmock.NewRows([]string{"block", "hashes", "idx", "orgs"}).
			AddRow(int64(100), `["0x01","0x02"]`, 1, `{"0xaaa1":"water fund"}`))

	got, err := p.LoadCursor("amoy")
	require.NoError(t, err)
	assert.Equal(t, cur, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCursorNotFound(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectQuery(`SELECT block, hashes, idx, orgs FROM cursors`).
		WithArgs("amoy").
		WillReturnRows(sqlmock.NewRows([]string{"block", "hashes", "idx", "orgs"}))

	_, err := p.LoadCursor("amoy")
	assert.ErrorIs(t, err, store.ErrDataNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
