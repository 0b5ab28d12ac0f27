package migrations

import (
	"strings"
	"testing"
)

func TestVersionsAreOrdered(t *testing.T) {
	versions, err := Versions()
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) < 2 {
		t.Fatalf("expected embedded migrations, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i-1] >= versions[i] {
			t.Fatalf("migrations out of order: %v", versions)
		}
	}
	if !strings.HasPrefix(versions[0], "0001_") {
		t.Fatalf("first migration should be 0001, got %s", versions[0])
	}
}

func TestSchemaCoversRepositoryTables(t *testing.T) {
	body, err := files.ReadFile("sql/0001_init.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, table := range []string{"users", "gigs", "jobs", "job_events"} {
		if !strings.Contains(string(body), "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("schema is missing table %s", table)
		}
	}
}
