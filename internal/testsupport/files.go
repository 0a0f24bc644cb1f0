package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteSysfsDevice creates <sysfs>/<devpath>/uevent with the given key=value
// lines so regeneration finds the device.
func WriteSysfsDevice(t testing.TB, sysfsRoot, devpath string, env ...string) string {
	t.Helper()

	dir := filepath.Join(sysfsRoot, devpath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", dir, err)
	}
	var body []byte
	for _, line := range env {
		body = append(body, line...)
		body = append(body, '\n')
	}
	path := filepath.Join(dir, "uevent")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
