package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cbnote/cbnote/internal/events"
)

func TestWatcher_PublishesChanges(t *testing.T) {
	dir := t.TempDir()
	b := events.NewBroadcaster[events.Event]("test", 16)
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	w, err := New(b)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()
	if err := w.Add("onDevice", dir); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(filepath.Join(dir, ".cbnote-tmp"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-ch:
		if ev.Directory != "onDevice" || ev.Name != "note.txt" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event for note.txt")
	}
}

func TestWatcher_AddRejectsFiles(t *testing.T) {
	b := events.NewBroadcaster[events.Event]("test", 1)
	w, err := New(b)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	file := filepath.Join(t.TempDir(), "f.txt")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := w.Add("onDevice", file); err == nil {
		t.Error("expected error when watching a file")
	}
}

func TestWatcher_WatchWaitsForMissingFolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Documents")
	b := events.NewBroadcaster[events.Event]("test", 16)
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	w, err := New(b)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	go w.Watch(ctx, "iCloud", dir, 20*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	if w.watching(dir) {
		t.Fatal("missing folder reported as watched")
	}
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !w.watching(dir) {
		if time.Now().After(deadline) {
			t.Fatal("folder never watched after it appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-ch:
		if ev.Directory != "iCloud" || ev.Name != "note.txt" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event for note.txt")
	}
}
