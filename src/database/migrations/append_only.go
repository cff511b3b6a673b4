package migrations

import (
	"fmt"

	"gorm.io/gorm"
)

var appendOnlyTables = []string{"fills", "ledger_events"}

// installAppendOnlyTriggers makes the database itself refuse UPDATE and
// DELETE on the immutable tables.
func installAppendOnlyTriggers(db *gorm.DB) error {
	var statements []string

	switch db.Dialector.Name() {
	case "postgres":
		statements = append(statements, `CREATE OR REPLACE FUNCTION tradeledger_reject_mutation() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION '% is append-only', TG_TABLE_NAME;
END;
$$ LANGUAGE plpgsql`)
		for _, table := range appendOnlyTables {
			statements = append(statements,
				fmt.Sprintf("DROP TRIGGER IF EXISTS %s_append_only ON %s", table, table),
				fmt.Sprintf("CREATE TRIGGER %s_append_only BEFORE UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION tradeledger_reject_mutation()", table, table),
			)
		}
	case "sqlite":
		for _, table := range appendOnlyTables {
			statements = append(statements,
				fmt.Sprintf("CREATE TRIGGER IF NOT EXISTS %s_no_update BEFORE UPDATE ON %s BEGIN SELECT RAISE(ABORT, '%s is append-only'); END", table, table, table),
				fmt.Sprintf("CREATE TRIGGER IF NOT EXISTS %s_no_delete BEFORE DELETE ON %s BEGIN SELECT RAISE(ABORT, '%s is append-only'); END", table, table, table),
			)
		}
	default:
		return fmt.Errorf("append-only triggers not supported for dialect %q", db.Dialector.Name())
	}

	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("install append-only trigger: %w", err)
		}
	}

	return nil
}
