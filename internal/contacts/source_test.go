package contacts

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contacts.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("os.WriteFile() failed: %v", err)
	}
	return path
}

func TestReadPreservesOrderAndHeaderNames(t *testing.T) {
	path := writeFile(t, "id,First Name,email\n1,Ada,ada@example.com\n2,Grace,grace@example.com\n3,Linus,\n")

	records, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got, want := len(records), 3; got != want {
		t.Fatalf("len(records) = %d; want %d", got, want)
	}

	wantIDs := []string{"1", "2", "3"}
	for i, rec := range records {
		id, ok := rec.Get("id")
		if !ok {
			t.Fatalf("records[%d] missing id column", i)
		}
		if id != wantIDs[i] {
			t.Fatalf("records[%d].id = %q; want %q", i, id, wantIDs[i])
		}
	}

	name, ok := records[1].Get("First Name")
	if !ok || name != "Grace" {
		t.Fatalf("records[1][First Name] = %q, %v; want %q, true", name, ok, "Grace")
	}
	email, ok := records[2].Get("email")
	if !ok || email != "" {
		t.Fatalf("records[2][email] = %q, %v; want empty, true", email, ok)
	}
	if _, ok := records[0].Get("first name"); ok {
		t.Fatal("header lookup should be exact, got match for lowercased name")
	}
}

func TestReadSkipsBlankLines(t *testing.T) {
	path := writeFile(t, "\nid,name\n\n1,a\n\n\n2,b\n\n")

	records, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got, want := len(records), 2; got != want {
		t.Fatalf("len(records) = %d; want %d", got, want)
	}
	if got := records[1].Line(); got != 7 {
		t.Fatalf("records[1].Line() = %d; want 7", got)
	}
}

func TestReadHeaderOnlyYieldsNoRecords(t *testing.T) {
	path := writeFile(t, "id,name\n")

	records, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("len(records) = %d; want 0", len(records))
	}
}

func TestReadStripsByteOrderMark(t *testing.T) {
	path := writeFile(t, "\xEF\xBB\xBFid,name\n42,x\n")

	records, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	id, ok := records[0].Get("id")
	if !ok || id != "42" {
		t.Fatalf("records[0][id] = %q, %v; want %q, true", id, ok, "42")
	}
}

func TestReadRaggedRowFails(t *testing.T) {
	path := writeFile(t, "id,name\n1,a\n2\n3,c\n")

	records, err := Read(path)
	if err == nil {
		t.Fatalf("Read() = %d records; want error", len(records))
	}
	var re *ReadError
	if !errors.As(err, &re) {
		t.Fatalf("Read() error type = %T; want *ReadError", err)
	}
	if re.Path != path {
		t.Fatalf("ReadError.Path = %q; want %q", re.Path, path)
	}
	if re.Line != 3 {
		t.Fatalf("ReadError.Line = %d; want 3", re.Line)
	}
	if !errors.Is(err, csv.ErrFieldCount) {
		t.Fatalf("Read() error = %v; want csv.ErrFieldCount", err)
	}
}

func TestReadMissingFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.csv")

	_, err := Read(path)
	var re *ReadError
	if !errors.As(err, &re) {
		t.Fatalf("Read() error type = %T; want *ReadError", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Read() error = %v; want os.ErrNotExist", err)
	}
	if !strings.Contains(err.Error(), "nope.csv") {
		t.Fatalf("error = %q; want path in message", err)
	}
}

func TestParseDuplicateHeaderLaterColumnWins(t *testing.T) {
	records, err := Parse(strings.NewReader("id,id\n1,2\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got, _ := records[0].Get("id"); got != "2" {
		t.Fatalf("records[0][id] = %q; want %q", got, "2")
	}
}

func TestRecordFieldsIsCopy(t *testing.T) {
	rec := NewRecord(2, map[string]string{"id": "7"})
	fields := rec.Fields()
	fields["id"] = "changed"
	if got, _ := rec.Get("id"); got != "7" {
		t.Fatalf("record mutated through Fields(): id = %q", got)
	}
}
