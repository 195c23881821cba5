//go:build windows

package vendorproc

import (
	"context"
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

// killAllByName walks a toolhelp process snapshot and terminates every
// process whose image name matches (case-insensitive).
func killAllByName(ctx context.Context, image string) (int, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return 0, fmt.Errorf("vendorproc: process snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	var entry windows.ProcessEntry32
	// Size must be set before Process32First per the Win32 contract.
	entry.Size = uint32(unsafe.Sizeof(entry))

	killed := 0
	err = windows.Process32First(snap, &entry)
	for err == nil {
		if ctx.Err() != nil {
			return killed, ctx.Err()
		}
		name := windows.UTF16ToString(entry.ExeFile[:])
		if strings.EqualFold(name, image) {
			if terr := terminatePID(entry.ProcessID); terr == nil {
				killed++
			}
		}
		err = windows.Process32Next(snap, &entry)
	}
	if err == windows.ERROR_NO_MORE_FILES {
		return killed, nil
	}
	return killed, fmt.Errorf("vendorproc: walk snapshot: %w", err)
}

func terminatePID(pid uint32) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, pid)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return windows.TerminateProcess(h, 1)
}
