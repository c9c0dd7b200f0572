// Command kernelsh is a demo driver for the simulated user-process
// subsystem: it loads a host ELF64 binary into the in-memory filesystem,
// spawns it as the initial process, forks a child from it, execs a
// (possibly different) program into the child, waits for the child to
// exit, and prints what the simulated console accumulated along the way.
// There is no real hardware to boot this against, so this is the closest
// thing to an end-to-end smoke test a human can drive from a terminal,
// grounded on _examples/ja7ad-consumption/cmd/consumption/main.go's
// cobra-based entrypoint (flags via root.Flags(), RunE returning error,
// slog on failure).
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"userproc/circbuf"
	"userproc/fs"
	"userproc/mem"
	"userproc/proc"
)

type opts struct {
	elfPath  string
	name     string
	execCmd  string
	exitCode int
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "kernelsh --elf <path> [flags]",
		Short: "Drive the simulated user-process subsystem end to end",
		Long: `kernelsh loads a host ELF64 binary into an in-memory filesystem and drives
it through the full spawn/fork/exec/wait/exit lifecycle without any real
hardware underneath: SpawnInitial starts it as the init process, Fork
clones a child, Exec loads a program into the child, Exit terminates it,
and Wait reaps its exit code in the parent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(o)
		},
	}

	root.Flags().StringVar(&o.elfPath, "elf", "", "path to a host ELF64 executable to load (required)")
	root.Flags().StringVar(&o.name, "name", "", "name to register the binary under in the simulated filesystem (default: base name of --elf)")
	root.Flags().StringVar(&o.execCmd, "exec", "", "command line to exec into the forked child (default: the registered name)")
	root.Flags().IntVar(&o.exitCode, "exit-code", 0, "exit code the forked child reports to exit")
	_ = root.MarkFlagRequired("elf")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(o opts) error {
	raw, err := os.ReadFile(o.elfPath)
	if err != nil {
		return fmt.Errorf("read elf: %w", err)
	}

	name := o.name
	if name == "" {
		name = filepath.Base(o.elfPath)
	}
	cmdline := o.execCmd
	if cmdline == "" {
		cmdline = name
	}

	alloc := mem.NewAllocator(0)
	filesystem := fs.New()
	console := circbuf.NewConsole(alloc, mem.PGSIZE)
	sys := proc.NewSystem(alloc, filesystem, console)

	if err := installBinary(sys, name, raw); err != nil {
		return err
	}

	initTask, kerr := sys.SpawnInitial(name)
	if kerr != 0 {
		return fmt.Errorf("spawn_initial: %d", kerr)
	}
	fmt.Printf("init: tid=%d entry=%#x sp=%#x argc=%d argv=%#x\n",
		initTask.Tid, initTask.EntryPoint, initTask.StackPointer, initTask.Argc, initTask.ArgvBase)

	childTid, kerr := sys.Fork(initTask, name+"-child")
	if kerr != 0 {
		return fmt.Errorf("fork: %d", kerr)
	}
	child := initTask.LookupChild(childTid)
	fmt.Printf("fork: child tid=%d\n", childTid)

	if kerr := sys.Exec(child, cmdline); kerr != 0 {
		fmt.Printf("exec(%q) failed: %d\n", cmdline, kerr)
	} else {
		fmt.Printf("exec(%q): entry=%#x sp=%#x argc=%d argv=%#x\n",
			cmdline, child.EntryPoint, child.StackPointer, child.Argc, child.ArgvBase)
	}

	sys.Exit(child, o.exitCode)

	code, kerr := sys.Wait(initTask, childTid)
	if kerr != 0 {
		return fmt.Errorf("wait: %d", kerr)
	}
	fmt.Printf("wait: child tid=%d exited with code %d\n", childTid, code)

	drainConsole(console)
	return nil
}

func installBinary(sys *proc.System, name string, raw []byte) error {
	if err := sys.FS.Create(name, len(raw)); err != 0 {
		return fmt.Errorf("create %q: %d", name, err)
	}
	h, err := sys.FS.Open(name)
	if err != 0 {
		return fmt.Errorf("open %q: %d", name, err)
	}
	if _, err := h.Write(raw); err != 0 {
		h.Close()
		return fmt.Errorf("write %q: %d", name, err)
	}
	if err := h.Close(); err != 0 {
		return fmt.Errorf("close %q: %d", name, err)
	}
	return nil
}

func drainConsole(c *circbuf.Console) {
	buf := make([]byte, mem.PGSIZE)
	n, err := c.Read(buf)
	if err != 0 || n == 0 {
		return
	}
	fmt.Print("console:\n")
	fmt.Print(string(buf[:n]))
}
