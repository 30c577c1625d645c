// Package browser opens URLs in the user's default web browser, abstracting
// over the per-platform commands behind a small interface.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

var linuxBrowsers = []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}

// OpenURL opens the URL in the default browser. It tries the
// platform-agnostic library first and falls back to OS-specific commands.
func OpenURL(url string) error {
	if err := open.Run(url); err == nil {
		log.Debug("opened URL via open-golang")
		return nil
	}
	return openPlatformSpecific(url)
}

// IsAvailable reports whether the host has any way to open a browser, so the
// login flow can fall back to printing the URL instead.
func IsAvailable() bool {
	switch runtime.GOOS {
	case "darwin":
		_, err := exec.LookPath("open")
		return err == nil
	case "windows":
		_, err := exec.LookPath("rundll32")
		return err == nil
	case "linux":
		for _, candidate := range linuxBrowsers {
			if _, err := exec.LookPath(candidate); err == nil {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func openPlatformSpecific(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "linux":
		for _, candidate := range linuxBrowsers {
			if _, err := exec.LookPath(candidate); err == nil {
				cmd = exec.Command(candidate, url)
				break
			}
		}
		if cmd == nil {
			return fmt.Errorf("lmi browser: no suitable browser found")
		}
	default:
		return fmt.Errorf("lmi browser: unsupported operating system: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("lmi browser: start browser command: %w", err)
	}
	log.Debugf("opened URL via %s", cmd.Path)
	return nil
}
