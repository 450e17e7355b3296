package common

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// crashDir is where crash reports land. Overridden by InstallCrashHandler.
var crashDir = "./logs"

// InstallCrashHandler picks the directory crash reports are written to and
// makes sure it exists. Call once at startup, before the deferred recovery.
func InstallCrashHandler(dir string) {
	if dir != "" {
		crashDir = dir
	}
	if err := os.MkdirAll(crashDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "crash handler: cannot create %s: %v\n", crashDir, err)
	}
}

// RecoverWithCrashFile is the deferred top-of-main recovery. It writes a
// crash report and exits non-zero instead of letting the runtime print a
// bare stack.
//
// Usage: defer common.RecoverWithCrashFile()
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		WriteCrashFile(r, CurrentStack())
		os.Exit(1)
	}
}

// WriteCrashFile persists a crash report and returns its path. The report
// captures the panic value, the failing goroutine, every other goroutine,
// and a short runtime profile. On any write failure the report goes to
// stderr so it is never silently lost.
func WriteCrashFile(panicVal interface{}, stack string) string {
	now := time.Now()
	path := filepath.Join(crashDir, fmt.Sprintf("crash-%s.log", now.Format("20060102-150405")))

	var b strings.Builder
	fmt.Fprintf(&b, "aestimo crash report\n")
	fmt.Fprintf(&b, "time:    %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "version: %s\n", GetFullVersion())
	fmt.Fprintf(&b, "panic:   %v\n", panicVal)

	b.WriteString("\n-- goroutine --\n")
	b.WriteString(stack)
	b.WriteString("\n-- all goroutines --\n")
	b.WriteString(allStacks())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	fmt.Fprintf(&b, "\n-- runtime --\n")
	fmt.Fprintf(&b, "goroutines=%d cpus=%d os=%s arch=%s\n",
		runtime.NumGoroutine(), runtime.NumCPU(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "alloc=%dMB sys=%dMB gc_cycles=%d\n",
		mem.Alloc>>20, mem.Sys>>20, mem.NumGC)

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "crash handler: cannot write %s: %v\n%s", path, err, b.String())
		return ""
	}

	fmt.Fprintf(os.Stderr, "\nfatal: crash report written to %s\npanic: %v\n", path, panicVal)
	return path
}

// CurrentStack returns the calling goroutine's stack.
func CurrentStack() string {
	buf := make([]byte, 16<<10)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// allStacks dumps every goroutine, growing the buffer until the dump fits.
// Capped so a pathological goroutine count cannot stall the crash path.
func allStacks() string {
	for size := 128 << 10; ; size *= 2 {
		buf := make([]byte, size)
		if n := runtime.Stack(buf, true); n < size || size >= 32<<20 {
			return string(buf[:n])
		}
	}
}
