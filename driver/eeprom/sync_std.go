//go:build !linux

package eeprom

import "os"

func syncFile(f *os.File) error {
	return f.Sync()
}
