package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"activator/internal/db"
	"activator/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	conn, err := db.Open(db.Options{Path: filepath.Join(t.TempDir(), "import.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return store.New(conn)
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunImportsAccountFiles(t *testing.T) {
	st := newStore(t)
	dir := t.TempDir()
	writeFile(t, dir, "alice.json", `{"email":"alice@example.com","password":"pw","captcha_token":"c"}`)
	writeFile(t, dir, "bob.json", `{"email":"bob@example.com","name":"bobby"}`)
	writeFile(t, dir, "noemail.json", `{"name":"ghost"}`)
	writeFile(t, dir, "list.json", `[1,2,3]`)
	writeFile(t, dir, "broken.json", `{`)
	writeFile(t, dir, "notes.txt", `{"email":"carol@example.com"}`)

	n, err := New(st, dir, "migrateddata", nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 2 {
		t.Errorf("migrated = %d, want 2", n)
	}

	accs, err := st.GetAccounts(context.Background(), "migrateddata", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(accs) != 2 {
		t.Fatalf("accounts in import session = %d, want 2", len(accs))
	}
	if _, err := st.GetSession(context.Background(), "migrateddata"); err != nil {
		t.Errorf("import session not created: %v", err)
	}
	for _, a := range accs {
		p, _ := a.DecodePayload()
		if a.Email == "alice@example.com" && p.CaptchaToken != "c" {
			t.Errorf("alice captcha_token = %q, want c", p.CaptchaToken)
		}
	}
}

func TestRunReimportKeepsOneRowPerEmail(t *testing.T) {
	st := newStore(t)
	dir := t.TempDir()
	writeFile(t, dir, "alice.json", `{"email":"alice@example.com"}`)
	im := New(st, dir, "migrateddata", nil)
	for i := 0; i < 2; i++ {
		if _, err := im.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	accs, _ := st.GetAccounts(context.Background(), "migrateddata", false)
	if len(accs) != 1 {
		t.Errorf("accounts after re-import = %d, want 1", len(accs))
	}
}

func TestRunMissingDir(t *testing.T) {
	n, err := New(newStore(t), filepath.Join(t.TempDir(), "nope"), "migrateddata", nil).Run(context.Background())
	if err != nil || n != 0 {
		t.Errorf("Run = %d, %v; want 0, nil", n, err)
	}
}
