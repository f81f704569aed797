package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mongo.Database != "wayfare" {
		t.Fatalf("expected default database wayfare, got %s", cfg.Mongo.Database)
	}
	if cfg.Mongo.Transactions {
		t.Fatalf("transactions should be off by default")
	}
	if cfg.Server.HTTPAddr() != ":8080" || cfg.Server.GRPCAddr() != ":50051" {
		t.Fatalf("unexpected addrs %s %s", cfg.Server.HTTPAddr(), cfg.Server.GRPCAddr())
	}
	if cfg.Limits.GRPCRequestsPerMinute != 10 || cfg.Limits.WSEventBurst != 40 {
		t.Fatalf("unexpected limits: %+v", cfg.Limits)
	}
}

func TestLoadRequiresMongoURI(t *testing.T) {
	t.Setenv("MONGODB_URI", "")
	t.Setenv("JWT_SECRET", "secret")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when MONGODB_URI is empty")
	}
}

func TestLoadRequiresJWTKey(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_KEYS", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without JWT_SECRET or JWT_KEYS")
	}
}

func TestLoadParsesKeysAndFlags(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("JWT_KEYS", "k1:one,k2:two")
	t.Setenv("JWT_ACTIVE_KID", "k2")
	t.Setenv("MONGODB_TRANSACTIONS", "true")
	t.Setenv("HTTP_PORT", "9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.JWT.Keys) != 2 || cfg.JWT.Keys["k2"] != "two" {
		t.Fatalf("unexpected keys: %v", cfg.JWT.Keys)
	}
	if !cfg.Mongo.Transactions {
		t.Fatal("expected transactions enabled")
	}
	if cfg.Server.HTTPPort != 9000 {
		t.Fatalf("expected HTTP_PORT 9000, got %d", cfg.Server.HTTPPort)
	}
}

func TestParseKeysRejectsMalformed(t *testing.T) {
	if _, err := parseKeys("k1"); err == nil {
		t.Fatal("expected error for entry without secret")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("GRPC_PORT", "abc")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric GRPC_PORT")
	}
}
