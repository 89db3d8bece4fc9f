package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewWritesToRotatingFile(t *testing.T) {
	oldDir := "/tmp/xdlogs"
	_ = os.RemoveAll(oldDir)
	defer os.RemoveAll(oldDir)

	logger, err := New("aixd-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Println("hello from test")

	path := filepath.Join(oldDir, "aixd-test.log")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(b) == 0 {
		t.Fatal("log file is empty")
	}
}
