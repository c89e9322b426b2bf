package database

import (
	"strings"
	"testing"
	"time"
)

func TestConfig_DSN(t *testing.T) {
	cfg := Config{
		Host:            "db",
		Port:            5432,
		Database:        "fiscal",
		User:            "svc",
		Password:        "pw",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}

	dsn := cfg.DSN()
	for _, want := range []string{"host=db", "port=5432", "dbname=fiscal", "pool_max_conns=10", "pool_max_conn_lifetime=30m0s"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q missing %q", dsn, want)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}

	up, down := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			up++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			down++
		}
	}
	if up == 0 || up != down {
		t.Errorf("expected paired up/down migrations, got %d up and %d down", up, down)
	}

	body, err := migrationsFS.ReadFile("migrations/000003_create_fiscal_documents.up.sql")
	if err != nil {
		t.Fatalf("read documents migration: %v", err)
	}
	if !strings.Contains(string(body), "WHERE status = 'AUTHORIZED'") {
		t.Error("documents migration must keep the partial unique index on authorized numbers")
	}
}
