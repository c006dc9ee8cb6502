package env

import "testing"

func TestMemEnvOpenFileCreate(t *testing.T) {
	e := NewMemEnv()
	f, err := e.OpenFile("a.db", true)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteAt([]byte("hello"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	buf := make([]byte, 5)
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("ReadAt = %q, want %q", buf, "hello")
	}
}

func TestMemEnvOpenFileNoCreateMissing(t *testing.T) {
	e := NewMemEnv()
	if _, err := e.OpenFile("missing.db", false); err == nil {
		t.Fatal("expected error opening a missing file without create")
	}
}

func TestMemEnvOpenFileSharesState(t *testing.T) {
	e := NewMemEnv()
	f1, _ := e.OpenFile("shared.db", true)
	f1.WriteAt([]byte("one"), 0)

	f2, err := e.OpenFile("shared.db", false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	buf := make([]byte, 3)
	f2.ReadAt(buf, 0)
	if string(buf) != "one" {
		t.Fatalf("second handle sees %q, want %q", buf, "one")
	}
}

func TestMemEnvSizeGrowsOnWrite(t *testing.T) {
	e := NewMemEnv()
	f, _ := e.OpenFile("grow.db", true)
	f.WriteAt([]byte("0123456789"), 100)
	sz, err := f.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if sz != 110 {
		t.Fatalf("Size() = %d, want 110", sz)
	}
}

func TestMemEnvReadAtPastEOF(t *testing.T) {
	e := NewMemEnv()
	f, _ := e.OpenFile("short.db", true)
	f.WriteAt([]byte("x"), 0)

	buf := make([]byte, 10)
	n, err := f.ReadAt(buf, 50)
	if err != nil {
		t.Fatalf("ReadAt past EOF: %v", err)
	}
	if n != 0 {
		t.Fatalf("ReadAt past EOF returned n=%d, want 0", n)
	}
}

func TestMemEnvTruncate(t *testing.T) {
	e := NewMemEnv()
	f, _ := e.OpenFile("trunc.db", true)
	f.WriteAt([]byte("0123456789"), 0)

	if err := f.Truncate(4); err != nil {
		t.Fatalf("Truncate shrink: %v", err)
	}
	sz, _ := f.Size()
	if sz != 4 {
		t.Fatalf("Size after shrink = %d, want 4", sz)
	}

	if err := f.Truncate(8); err != nil {
		t.Fatalf("Truncate grow: %v", err)
	}
	sz, _ = f.Size()
	if sz != 8 {
		t.Fatalf("Size after grow = %d, want 8", sz)
	}
	buf := make([]byte, 8)
	f.ReadAt(buf, 0)
	for i := 4; i < 8; i++ {
		if buf[i] != 0 {
			t.Fatalf("byte %d after grow-truncate = %d, want 0", i, buf[i])
		}
	}
}

func TestMemEnvRemove(t *testing.T) {
	e := NewMemEnv()
	f, _ := e.OpenFile("gone.db", true)
	f.WriteAt([]byte("data"), 0)

	if err := e.Remove("gone.db"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := e.OpenFile("gone.db", false); err == nil {
		t.Fatal("expected error reopening a removed file without create")
	}
}

func TestMemEnvSnapshotRestore(t *testing.T) {
	e := NewMemEnv()
	f, _ := e.OpenFile("snap.db", true)
	f.WriteAt([]byte("original"), 0)

	snap := e.Snapshot("snap.db")

	f.WriteAt([]byte("MUTATED!"), 0)

	e2 := NewMemEnv()
	e2.Restore("snap.db", snap)
	f2, err := e2.OpenFile("snap.db", false)
	if err != nil {
		t.Fatalf("OpenFile after Restore: %v", err)
	}
	buf := make([]byte, 8)
	f2.ReadAt(buf, 0)
	if string(buf) != "original" {
		t.Fatalf("restored content = %q, want %q", buf, "original")
	}
}

func TestMemEnvSnapshotMissingReturnsNil(t *testing.T) {
	e := NewMemEnv()
	if snap := e.Snapshot("never-opened.db"); snap != nil {
		t.Fatalf("Snapshot of unknown file = %v, want nil", snap)
	}
}

func TestFaultInjectionFailsExactCall(t *testing.T) {
	e := NewMemEnv()
	f, _ := e.OpenFile("faulty.db", true)
	e.Faults.FailNth("write", 2)

	if _, err := f.WriteAt([]byte("a"), 0); err != nil {
		t.Fatalf("first write should succeed, got %v", err)
	}
	if _, err := f.WriteAt([]byte("b"), 1); err != ErrFaultInjected {
		t.Fatalf("second write error = %v, want ErrFaultInjected", err)
	}
	if _, err := f.WriteAt([]byte("c"), 2); err != nil {
		t.Fatalf("third write should succeed again, got %v", err)
	}
}

func TestFaultInjectionSync(t *testing.T) {
	e := NewMemEnv()
	f, _ := e.OpenFile("syncfault.db", true)
	e.Faults.FailNth("sync", 1)

	if err := f.Sync(); err != ErrFaultInjected {
		t.Fatalf("Sync error = %v, want ErrFaultInjected", err)
	}
}

func TestFaultInjectionUnarmedNeverFails(t *testing.T) {
	e := NewMemEnv()
	f, _ := e.OpenFile("safe.db", true)
	for i := 0; i < 20; i++ {
		if _, err := f.WriteAt([]byte{byte(i)}, int64(i)); err != nil {
			t.Fatalf("unarmed write %d failed: %v", i, err)
		}
	}
}

func TestNewMutexIsUsable(t *testing.T) {
	e := NewMemEnv()
	mu := e.NewMutex()
	mu.Lock()
	mu.Unlock()
}
