package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/livechat/internal/auth"
	"github.com/Tyrowin/livechat/internal/server"
	"github.com/Tyrowin/livechat/internal/store"
)

func TestIssueToken(t *testing.T) {
	token, err := issueToken("cli-secret", time.Hour, 3)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	verifier, _ := auth.NewJWT("cli-secret", time.Hour)
	id, err := verifier.Verify(token)
	if err != nil || id != 3 {
		t.Errorf("Verify = %d, %v", id, err)
	}

	if _, err := issueToken("cli-secret", time.Hour, 0); err == nil {
		t.Error("expected error for user 0")
	}
	if _, err := issueToken("", time.Hour, 3); err == nil {
		t.Error("expected error without a secret")
	}
}

func TestTokenCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("auth:\n  secret: cmd-secret\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "--config", path, "--user", "5"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		cfgFile = ""
		tokenFlags.user = 0
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	verifier, _ := auth.NewJWT("cmd-secret", time.Hour)
	if id, err := verifier.Verify(strings.TrimSpace(out.String())); err != nil || id != 5 {
		t.Errorf("token for %d, err %v", id, err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "")
	if _, err := loadConfig(""); err == nil {
		t.Error("expected validation error for sqlite without url")
	}

	t.Setenv("DATABASE_DRIVER", "memory")
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	mem, err := openStore(ctx, server.DatabaseConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := mem.(*store.Memory); !ok {
		t.Errorf("expected *store.Memory, got %T", mem)
	}

	lite, err := openStore(ctx, server.DatabaseConfig{Driver: "sqlite", URL: filepath.Join(t.TempDir(), "chat.db")})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer lite.Close()
	if _, err := lite.CreateUser(ctx, "a@example.com", "A", nil); err != nil {
		t.Errorf("CreateUser: %v", err)
	}

	if _, err := openStore(ctx, server.DatabaseConfig{Driver: "postgres"}); err == nil {
		t.Error("expected error for postgres without url")
	}
}
