package server

import (
	"context"
	"testing"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/lsmtree/internal/env"
	"github.com/nainya/lsmtree/pkg/lsmdb"
)

func newTestAdmin(t *testing.T) *AdminServer {
	t.Helper()
	e := env.NewMemEnv()
	db, err := lsmdb.Open(e, "admin.db", lsmdb.Config{})
	if err != nil {
		t.Fatalf("lsmdb.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAdminServer(db)
}

func TestAdminHealthReportsTrue(t *testing.T) {
	s := newTestAdmin(t)
	out, err := s.Health(context.Background(), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !out.GetValue() {
		t.Fatal("Health should report true for an open db")
	}
}

func TestAdminStatsIncludesUptimeAndEngineCounters(t *testing.T) {
	s := newTestAdmin(t)
	s.db.Write([]byte("a"), []byte("1"))
	s.db.Commit(0)

	out, err := s.Stats(context.Background(), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	fields := out.GetFields()
	if _, ok := fields["uptime_seconds"]; !ok {
		t.Fatal("Stats should include uptime_seconds")
	}
	if got := fields["memtree_len"].GetNumberValue(); got != 1 {
		t.Fatalf("memtree_len = %v, want 1", got)
	}
}

func TestAdminWorkRunsFlushAndReportsPagesWritten(t *testing.T) {
	s := newTestAdmin(t)
	s.db.Write([]byte("a"), []byte("1"))
	s.db.Commit(0)

	req, err := structpb.NewStruct(map[string]any{"flags": int64(lsmdb.FlagFlush)})
	if err != nil {
		t.Fatalf("structpb.NewStruct: %v", err)
	}
	out, err := s.Work(context.Background(), req)
	if err != nil {
		t.Fatalf("Work: %v", err)
	}
	if out.GetFields()["n_written"].GetNumberValue() == 0 {
		t.Fatal("Work(flush) should report pages written")
	}
}

func TestAdminWorkRequiresFlags(t *testing.T) {
	s := newTestAdmin(t)
	req, _ := structpb.NewStruct(map[string]any{})
	if _, err := s.Work(context.Background(), req); err == nil {
		t.Fatal("Work without flags should fail")
	}
}
