// Command shell spawns a kernel instance and drives internal/shell's
// command loop over it, reading from stdin and writing to stdout — the
// in-process stand-in for what would otherwise be a real ELF userland
// binary trapping ecalls into a booted kernel over a serial line.
package main

import (
	"log"
	"os"

	"github.com/cmelnulabs/riscvkern/internal/kconfig"
	"github.com/cmelnulabs/riscvkern/internal/kernel"
	"github.com/cmelnulabs/riscvkern/internal/shell"
)

func main() {
	k, err := kernel.New(kconfig.Default())
	if err != 0 {
		log.Fatalf("kernel.New: %d", err)
	}
	p := k.Spawn("sh")
	sh := shell.New(k, p)
	sh.Run(os.Stdin, os.Stdout)
}
