package database

import (
	"context"
	"os"
	"reflect"
	"testing"
)

func TestParseSQLStatements(t *testing.T) {
	content := `-- grants
CREATE TABLE IF NOT EXISTS grants (
    id UUID PRIMARY KEY,
    title TEXT NOT NULL
);

-- indexes
CREATE INDEX IF NOT EXISTS idx_grants_deadline ON grants (deadline);
SELECT 1`

	want := []string{
		"CREATE TABLE IF NOT EXISTS grants ( id UUID PRIMARY KEY, title TEXT NOT NULL )",
		"CREATE INDEX IF NOT EXISTS idx_grants_deadline ON grants (deadline)",
		"SELECT 1",
	}
	if got := parseSQLStatements(content); !reflect.DeepEqual(got, want) {
		t.Errorf("parseSQLStatements:\n got  %q\n want %q", got, want)
	}
}

func TestSchemaFileParses(t *testing.T) {
	content, err := os.ReadFile("schema.sql")
	if err != nil {
		t.Fatal(err)
	}
	statements := parseSQLStatements(string(content))
	if len(statements) == 0 {
		t.Fatal("schema.sql has no statements")
	}
}

func TestMigrateAgainstDatabase(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	if err := Connect(dsn); err != nil {
		t.Fatal(err)
	}
	defer Close()

	if err := Migrate("schema.sql"); err != nil {
		t.Fatal(err)
	}
	missing, err := MissingTables(context.Background(), DB, RequiredTables)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) > 0 {
		t.Errorf("tables missing after migration: %v", missing)
	}
}
