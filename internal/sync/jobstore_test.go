package sync

import (
	"os"
	"testing"
)

func TestJobStorePutGetListDelete(t *testing.T) {
	dir, err := os.MkdirTemp("", "wl-sync-jobstore-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := OpenJobStore(dir)
	if err != nil {
		t.Fatalf("OpenJobStore: %v", err)
	}
	defer store.Close()

	job := &Job{
		ID:            NewJobID("0xalice", "uuid-1"),
		Owner:         "0xalice",
		ContainerUUID: "uuid-1",
		SourceID:      "backend-a",
		TargetID:      "backend-b",
		State:         StateInit,
	}
	if err := store.Put(job); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Owner != "0xalice" || got.State != StateInit {
		t.Fatalf("unexpected job: %+v", got)
	}

	job.State = StateScanning
	if err := store.Put(job); err != nil {
		t.Fatalf("Put update: %v", err)
	}
	got, err = store.Get(job.ID)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got.State != StateScanning {
		t.Fatalf("expected updated state SCANNING, got %s", got.State)
	}

	jobs, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}

	if err := store.Delete(job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(job.ID); err == nil {
		t.Fatal("expected Get to fail after Delete")
	}
}

func TestJobStoreFileRecords(t *testing.T) {
	dir, err := os.MkdirTemp("", "wl-sync-jobstore-*")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	store, err := OpenJobStore(dir)
	if err != nil {
		t.Fatalf("OpenJobStore: %v", err)
	}
	defer store.Close()

	id := NewJobID("0xalice", "uuid-1")
	fr := FileRecord{Path: "/a.txt", SourceHash: "h1", TargetHash: "h1", SourceMtime: 1, TargetMtime: 1}
	if err := store.PutFileRecord(id, fr); err != nil {
		t.Fatalf("PutFileRecord: %v", err)
	}

	records, err := store.FileRecords(id)
	if err != nil {
		t.Fatalf("FileRecords: %v", err)
	}
	if len(records) != 1 || records[0].Path != "/a.txt" {
		t.Fatalf("unexpected records: %+v", records)
	}
}
