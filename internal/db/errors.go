package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for database operations.
var (
	// ErrTransactionConflict indicates concurrent writers touched the same records.
	// Callers should retry the batch.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrUnknownTable is returned for a collection with no document table.
	ErrUnknownTable = errors.New("unknown document table")
)

// wrapQueryError maps known SurrealDB query errors onto sentinels.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) && strings.Contains(queryErr.Message, "Transaction conflict") {
		return fmt.Errorf("%w: %s", ErrTransactionConflict, queryErr.Message)
	}

	return err
}
