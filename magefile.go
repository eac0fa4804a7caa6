//go:build mage
// +build mage

package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

var (
	binDir  = "bin"
	tmpDir  = "tmp"
	appName = "rx-fulfilment"
)

var Default = Dev

// Dev runs the API with hot reload when air is installed.
func Dev() error {
	mg.Deps(Tidy)

	if _, err := exec.LookPath("air"); err == nil {
		fmt.Println("Starting hot-reload with air ...")
		return sh.RunV("air")
	}

	fmt.Println("air not found. Falling back to `go run ./cmd/web`.")
	fmt.Println("Install with: mage Tools")
	return Run()
}

// Gen regenerates gomock doubles.
func Gen() error {
	if _, err := exec.LookPath("mockgen"); err != nil {
		return fmt.Errorf("mockgen not found. Install with: mage Tools")
	}
	fmt.Println("Generating mocks...")
	return sh.RunV("go", "generate", "./internal/...")
}

func Run() error {
	fmt.Println("Running (go run) on :8080 ...")
	return sh.RunV("go", "run", "./cmd/web")
}

func Build() error {
	mg.Deps(Tidy)

	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	for name, pkg := range map[string]string{
		appName:   "./cmd/web",
		"migrate": "./cmd/tools/migrate",
	} {
		out := filepath.Join(binDir, name+exeSuffix())
		fmt.Println("Building:", out)
		env := map[string]string{"CGO_ENABLED": "0"}
		if err := sh.RunWithV(env, "go", "build", "-trimpath", "-o", out, pkg); err != nil {
			return err
		}
	}
	return nil
}

func Test() error {
	fmt.Println("Testing...")
	return sh.RunV("go", "test", "./...", "-count=1")
}

func TestRace() error {
	fmt.Println("Testing with -race...")
	if runtime.GOOS == "windows" {
		fmt.Println("Note: -race on Windows may be unsupported/unstable depending on your Go toolchain.")
	}
	return sh.RunV("go", "test", "./...", "-race", "-count=1")
}

func Fmt() error {
	fmt.Println("Formatting...")
	return sh.RunV("gofmt", "-w", "./cmd", "./internal", "./pkg", "./magefile.go")
}

func Lint() error {
	fmt.Println("Linting (golangci-lint)...")
	if _, err := exec.LookPath("golangci-lint"); err != nil {
		return fmt.Errorf("golangci-lint not found. Install with: mage Tools")
	}
	return sh.RunV("golangci-lint", "run", "--timeout=3m", "./...")
}

func Check() error {
	mg.Deps(Fmt, Lint, Test)
	fmt.Println("Check OK.")
	return nil
}

func Tidy() error {
	fmt.Println("Tidying go.mod/go.sum...")
	return sh.RunV("go", "mod", "tidy")
}

func Clean() error {
	fmt.Println("Cleaning...")
	_ = os.RemoveAll(binDir)
	_ = os.RemoveAll(tmpDir)
	return nil
}

// Tools installs air, mockgen and golangci-lint.
func Tools() error {
	fmt.Println("Installing tools (air, mockgen, golangci-lint)...")

	for _, pkg := range []string{
		"github.com/air-verse/air@latest",
		"github.com/golang/mock/mockgen@v1.6.0",
		"github.com/golangci/golangci-lint/v2/cmd/golangci-lint@latest",
	} {
		if err := sh.RunV("go", "install", pkg); err != nil {
			return err
		}
	}

	for _, bin := range []string{"air", "mockgen", "golangci-lint"} {
		if _, err := exec.LookPath(bin); err != nil && !errors.Is(err, exec.ErrNotFound) {
			return err
		}
	}

	fmt.Println("Tools installed. Ensure GOBIN/GOPATH/bin is in PATH.")
	return nil
}

func MigrateUp() error {
	return sh.RunV("go", "run", "./cmd/tools/migrate", "-direction", "up")
}

func MigrateDown() error {
	return sh.RunV("go", "run", "./cmd/tools/migrate", "-direction", "down")
}

// Webhook sends a signed payment.succeeded event to the local mock processor.
// Usage: INTENT_REF=mock_pi_... PRESCRIPTION_ID=1 AMOUNT=1250 mage webhook
func Webhook() error {
	args := []string{"run", "./cmd/tools/mockwebhook",
		"-intent-ref", os.Getenv("INTENT_REF"),
		"-prescription-id", envOr("PRESCRIPTION_ID", "0"),
		"-amount", envOr("AMOUNT", "0"),
	}
	return sh.RunV("go", args...)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func exeSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}
