package gtfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Stop contains the fields used from a gtfs stops.txt file
type Stop struct {
	StopId   string `db:"stop_id" json:"stop_id"`
	StopName string `db:"stop_name" json:"stop_name"`
}

// RecordStops saves stops to database in a single transaction
func RecordStops(ctx context.Context, db *sqlx.DB, stops []*Stop) error {
	statementString := "insert into stop (stop_id, stop_name) values (:stop_id, :stop_name)"
	return inTransaction(ctx, db, func(tx *sqlx.Tx) error {
		for _, stop := range stops {
			if _, err := tx.NamedExecContext(ctx, statementString, stop); err != nil {
				return fmt.Errorf("unable to record stop %s: %w", stop.StopId, err)
			}
		}
		return nil
	})
}

// GetStopName retrieves the name of stopId, returns nil if the stop is not present
func GetStopName(ctx context.Context, db *sqlx.DB, stopId string) (*string, error) {
	query := db.Rebind("select stop_name from stop where stop_id = ?")
	var name string
	err := db.GetContext(ctx, &name, query, stopId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &name, nil
}
