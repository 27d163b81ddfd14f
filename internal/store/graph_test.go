package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var testTime = time.Date(2024, 3, 1, 10, 30, 0, 0, time.FixedZone("CET", 3600))

func testNote(id, title string) *NoteRow {
	return &NoteRow{
		NoteID:          id,
		Title:           title,
		Type:            "text",
		Mime:            "text/html",
		BlobID:          "blob-" + id,
		DateCreated:     testTime,
		DateModified:    testTime,
		UTCDateCreated:  testTime,
		UTCDateModified: testTime,
	}
}

func TestUpsertNoteRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.UpsertNote(ctx, testNote("n1", "First")); err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}

	got, err := db.GetNote(ctx, "n1")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if got == nil {
		t.Fatal("expected note, got nil")
	}
	if got.Title != "First" {
		t.Errorf("title = %q, want First", got.Title)
	}
	if !got.DateCreated.Equal(testTime) {
		t.Errorf("date_created = %v, want %v", got.DateCreated, testTime)
	}
	if _, offset := got.DateCreated.Zone(); offset != 3600 {
		t.Errorf("local offset = %d, want 3600", offset)
	}
	if got.UTCDateCreated.Location() != time.UTC {
		t.Errorf("utc date location = %v, want UTC", got.UTCDateCreated.Location())
	}

	// Upsert again with a new title replaces in place
	row := testNote("n1", "Renamed")
	if err := db.UpsertNote(ctx, row); err != nil {
		t.Fatalf("UpsertNote (update): %v", err)
	}
	got, _ = db.GetNote(ctx, "n1")
	if got.Title != "Renamed" {
		t.Errorf("title = %q, want Renamed", got.Title)
	}
}

func TestGetNoteNotFound(t *testing.T) {
	db := testDB(t)
	got, err := db.GetNote(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing note")
	}
}

func TestLoadAllSkipsDeleted(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	db.UpsertNote(ctx, testNote("root", "root"))
	db.UpsertNote(ctx, testNote("a", "A"))
	gone := testNote("b", "B")
	gone.IsDeleted = true
	gone.DeleteID = "del-1"
	db.UpsertNote(ctx, gone)

	db.UpsertBranch(ctx, &BranchRow{BranchID: "root_a", NoteID: "a", ParentNoteID: "root", NotePosition: 10, UTCDateModified: testTime})
	db.UpsertBranch(ctx, &BranchRow{BranchID: "a_b", NoteID: "b", ParentNoteID: "a", NotePosition: 10, IsDeleted: true, UTCDateModified: testTime})

	db.UpsertAttribute(ctx, &AttributeRow{AttributeID: "at2", NoteID: "a", Type: "label", Name: "second", Position: 20, UTCDateModified: testTime})
	db.UpsertAttribute(ctx, &AttributeRow{AttributeID: "at1", NoteID: "a", Type: "label", Name: "first", Position: 10, UTCDateModified: testTime})

	snap, err := db.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(snap.Notes) != 2 {
		t.Errorf("notes = %d, want 2", len(snap.Notes))
	}
	if len(snap.Branches) != 1 {
		t.Fatalf("branches = %d, want 1", len(snap.Branches))
	}
	if snap.Branches[0].Strength != StrengthStrong {
		t.Errorf("default strength = %q, want strong", snap.Branches[0].Strength)
	}
	if len(snap.Attributes) != 2 || snap.Attributes[0].Name != "first" {
		t.Errorf("attributes not ordered by position: %+v", snap.Attributes)
	}

	notes, branches, attrs, err := db.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if notes != 2 || branches != 1 || attrs != 2 {
		t.Errorf("counts = %d/%d/%d, want 2/1/2", notes, branches, attrs)
	}
}

func TestBranchUniqueAmongLive(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.UpsertBranch(ctx, &BranchRow{BranchID: "x1", NoteID: "a", ParentNoteID: "root", UTCDateModified: testTime}); err != nil {
		t.Fatalf("UpsertBranch: %v", err)
	}
	err := db.UpsertBranch(ctx, &BranchRow{BranchID: "x2", NoteID: "a", ParentNoteID: "root", UTCDateModified: testTime})
	if err == nil {
		t.Error("expected unique violation for duplicate (note, parent)")
	}

	// Soft-deleting the first frees the pair
	db.UpsertBranch(ctx, &BranchRow{BranchID: "x1", NoteID: "a", ParentNoteID: "root", IsDeleted: true, UTCDateModified: testTime})
	if err := db.UpsertBranch(ctx, &BranchRow{BranchID: "x2", NoteID: "a", ParentNoteID: "root", UTCDateModified: testTime}); err != nil {
		t.Errorf("UpsertBranch after delete: %v", err)
	}
}

func TestBlobRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.UpsertBlob(ctx, &BlobRow{BlobID: "b1", Content: []byte("<p>hello</p>"), DateModified: testTime, UTCDateModified: testTime}); err != nil {
		t.Fatalf("UpsertBlob: %v", err)
	}
	b, err := db.GetBlob(ctx, "b1")
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if b == nil || string(b.Content) != "<p>hello</p>" {
		t.Errorf("content = %v, want <p>hello</p>", b)
	}

	missing, err := db.GetBlob(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetBlob(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestTransactRollback(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.Transact(ctx, func(c Conn) error {
		if err := c.UpsertNote(ctx, testNote("t1", "Inside")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transact err = %v, want boom", err)
	}

	got, _ := db.GetNote(ctx, "t1")
	if got != nil {
		t.Error("note written inside failed transaction should not exist")
	}
}

func TestTransactCommit(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := db.Transact(ctx, func(c Conn) error {
		if err := c.UpsertNote(ctx, testNote("t1", "Inside")); err != nil {
			return err
		}
		if err := c.UpsertBlob(ctx, &BlobRow{BlobID: "blob-t1", Content: []byte("x"), DateModified: testTime, UTCDateModified: testTime}); err != nil {
			return err
		}
		// Reads inside the transaction see its own writes
		b, err := c.GetBlob(ctx, "blob-t1")
		if err != nil || b == nil {
			t.Errorf("GetBlob inside tx = %v, %v", b, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}

	got, _ := db.GetNote(ctx, "t1")
	if got == nil {
		t.Error("expected committed note")
	}
}

func TestEntityChangesUpsertPerEntity(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	db.RecordChange(ctx, &EntityChange{EntityName: "notes", EntityID: "n1", Hash: "h1", ChangeID: "c1", UTCDateChanged: testTime})
	db.RecordChange(ctx, &EntityChange{EntityName: "notes", EntityID: "n1", Hash: "h2", ChangeID: "c2", UTCDateChanged: testTime})
	db.RecordChange(ctx, &EntityChange{EntityName: "attributes", EntityID: "a1", Hash: "h3", ChangeID: "c3", UTCDateChanged: testTime})

	changes, err := db.EntityChanges(ctx, 0)
	if err != nil {
		t.Fatalf("EntityChanges: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("changes = %d, want 2", len(changes))
	}
	if changes[0].Hash != "h2" {
		t.Errorf("hash = %q, want h2 (latest)", changes[0].Hash)
	}
}

func TestFindAttributesByNameCaseInsensitive(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	db.UpsertAttribute(ctx, &AttributeRow{AttributeID: "a1", NoteID: "n1", Type: "label", Name: "Archived", UTCDateModified: testTime})
	db.UpsertAttribute(ctx, &AttributeRow{AttributeID: "a2", NoteID: "n2", Type: "label", Name: "archived", UTCDateModified: testTime})
	db.UpsertAttribute(ctx, &AttributeRow{AttributeID: "a3", NoteID: "n3", Type: "relation", Name: "archived", Value: "n1", UTCDateModified: testTime})

	attrs, err := db.FindAttributesByName(ctx, "label", "ARCHIVED")
	if err != nil {
		t.Fatalf("FindAttributesByName: %v", err)
	}
	if len(attrs) != 2 {
		t.Errorf("found %d, want 2", len(attrs))
	}
}
