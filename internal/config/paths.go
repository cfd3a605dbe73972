package config

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the gateway's data directory: WESGW_DATA_DIR if set,
// else the XDG data directory for "wesgateway".
func GetDataDir() string {
	if dir := os.Getenv("WESGW_DATA_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(getXDGDataDir(), "wesgateway")
}

func getXDGDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		homeDir := os.Getenv("HOME")
		if homeDir == "" {
			var err error
			homeDir, err = os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), ".local", "share")
			}
		}
		dataHome = filepath.Join(homeDir, ".local", "share")
	}
	return dataHome
}
