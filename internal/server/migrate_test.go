package server

import (
	"strings"
	"testing"
)

func TestMigrateRejectsEmptyDSN(t *testing.T) {
	err := Migrate("file://migrations", "", "up", 0)
	if err == nil || !strings.Contains(err.Error(), "empty database dsn") {
		t.Fatalf("expected dsn error, got %v", err)
	}
}

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	err := Migrate("file://migrations", "postgres://cf@db/contextforge", "sideways", 0)
	if err == nil || !strings.Contains(err.Error(), "unknown direction") {
		t.Fatalf("expected direction error, got %v", err)
	}
}
