package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultBootIDPath = "/proc/sys/kernel/random/boot_id"

// detectBoot reports whether the host rebooted since the last run by comparing
// the kernel boot id with the one stored at statePath, then stores the current
// id. The first run (no state yet) counts as a boot.
func detectBoot(bootIDPath, statePath string) (bool, error) {
	if strings.TrimSpace(statePath) == "" {
		return false, nil
	}
	if strings.TrimSpace(bootIDPath) == "" {
		bootIDPath = defaultBootIDPath
	}
	raw, err := os.ReadFile(bootIDPath)
	if err != nil {
		return false, fmt.Errorf("read boot id: %w", err)
	}
	cur := strings.TrimSpace(string(raw))
	if cur == "" {
		return false, errors.New("boot id is empty")
	}

	prev, err := os.ReadFile(statePath)
	switch {
	case err == nil:
		if strings.TrimSpace(string(prev)) == cur {
			return false, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return false, fmt.Errorf("read boot state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		return true, fmt.Errorf("write boot state: %w", err)
	}
	tmp := statePath + ".tmp"
	if err := os.WriteFile(tmp, []byte(cur+"\n"), 0o644); err != nil {
		return true, fmt.Errorf("write boot state: %w", err)
	}
	if err := os.Rename(tmp, statePath); err != nil {
		return true, fmt.Errorf("write boot state: %w", err)
	}
	return true, nil
}
