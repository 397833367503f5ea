package confkit

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

var dotenvOnce sync.Once

// LoadDotenvOnce loads a .env file once per process. ENV_FILE names the file
// explicitly; otherwise .env files are searched from the working directory up
// to the project root. NO_DOTENV=1 disables loading and DOTENV_OVERLOAD=1
// lets the file override variables already set.
func LoadDotenvOnce() {
	dotenvOnce.Do(loadDotenv)
}

func loadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}
	overload := os.Getenv("DOTENV_OVERLOAD") == "1"
	load := func(paths ...string) {
		if overload {
			_ = godotenv.Overload(paths...)
		} else {
			_ = godotenv.Load(paths...)
		}
	}

	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		load(envFile)
		return
	}
	for _, dir := range searchDirs() {
		candidate := filepath.Join(dir, ".env")
		if fileExists(candidate) {
			load(candidate)
		}
		if isProjectRoot(dir) {
			return
		}
	}
}

func searchDirs() []string {
	wd, err := os.Getwd()
	if err != nil {
		return nil
	}
	dirs := []string{wd}
	for i := 0; i < 8; i++ {
		parent := filepath.Dir(wd)
		if parent == wd {
			break
		}
		dirs = append(dirs, parent)
		wd = parent
	}
	return dirs
}

func isProjectRoot(dir string) bool {
	return fileExists(filepath.Join(dir, "go.mod")) || fileExists(filepath.Join(dir, ".git"))
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}
