package storage

import (
	"fmt"
	"regexp"

	"github.com/core-coin/core-etl-go/internal/contracts"
)

// insertThreshold is the accumulated-row count at which a flush=false
// InsertBatch call inserts regardless, matching the 500-750 range spec.md
// notes the original source's batching used.
const insertThreshold = 600

var identifierRE = regexp.MustCompile(`^[a-z0-9_]+$`)

// validIdentifier reports whether s is safe to splice into a DDL/DML
// string as a table name. database/sql has no bind-parameter syntax for
// identifiers, so table names (which vary per watched contract) are
// validated up front instead of parameterized.
func validIdentifier(s string) bool {
	return identifierRE.MatchString(s) && len(s) > 0
}

func blocksTable(prefix string) string       { return prefix + "_blocks" }
func transactionsTable(prefix string) string { return prefix + "_transactions" }

// transferTableName returns "{prefix}_{kind}_{addr8}_transfers", validating
// every component is a safe SQL identifier.
func transferTableName(ref TransferTableRef) (string, error) {
	name := contracts.TableName(ref.TablePrefix, ref.Kind, ref.Address)
	if !validIdentifier(name) {
		return "", fmt.Errorf("storage: unsafe table name %q", name)
	}
	return name, nil
}
