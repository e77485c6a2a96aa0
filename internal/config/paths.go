package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultProfile = "default"

	configFileName = "config.toml"
	envFileName    = ".env"
	tokenFileName  = "token.jwt"
)

// ProfilePaths contains the files of one broker profile.
type ProfilePaths struct {
	Name   string // Profile name
	Home   string // Profile directory
	Config string // TOML connection profile
	Env    string // Optional dotenv file loaded before the environment
	Token  string // Default JWT location
}

// GetProfilePaths returns the layout of the named profile.
// Empty profile name defaults to "default".
func GetProfilePaths(profileName string) ProfilePaths {
	profileName = strings.TrimSpace(profileName)
	if profileName == "" {
		profileName = DefaultProfile
	}

	home := filepath.Join(GetKuksaHome(), "profiles", profileName)
	return ProfilePaths{
		Name:   profileName,
		Home:   home,
		Config: filepath.Join(home, configFileName),
		Env:    filepath.Join(home, envFileName),
		Token:  filepath.Join(home, tokenFileName),
	}
}

// GetKuksaHome returns the client home directory. KUKSA_HOME overrides the
// default of ~/.kuksa.
func GetKuksaHome() string {
	if home := strings.TrimSpace(os.Getenv(EnvPrefix + "HOME")); home != "" {
		return ExpandPath(home)
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".kuksa")
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureProfileDirs creates the profile directory if it does not exist.
func EnsureProfileDirs(profileName string) (ProfilePaths, error) {
	paths := GetProfilePaths(profileName)
	if err := os.MkdirAll(paths.Home, 0o700); err != nil {
		return paths, err
	}
	return paths, nil
}
