package utils

import (
	"context"
	"testing"
	"time"
)

func TestLeaseScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if leaseAcquireScript == nil || leaseRenewScript == nil || leaseReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestAcquireLease_ValidatesArgs(t *testing.T) {
	if _, err := AcquireLease(context.Background(), nil, "k", "o", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := ReleaseLease(context.Background(), nil, "k", "o"); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := RenewLease(context.Background(), nil, "k", "o", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error without addr")
	}
}

func TestRedisConfig_Defaults(t *testing.T) {
	c := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if c.PoolSize != 20 || c.DialTimeout != 3*time.Second {
		t.Fatalf("unexpected defaults %+v", c)
	}
}
