// Command kernel boots a riscvkern instance: it builds the kernel handle
// in the PMM -> KHEAP -> VM -> TRAP -> PROC -> SIG -> FS order
// internal/kernel.New assembles it in, spawns the init process, and
// drops into its shell the same way the teacher's own kernel falls
// through to /bin/init once its subsystems are up — except here "falls
// through" means handing stdin/stdout to internal/shell rather than
// trapping into a freestanding userland binary, since this model runs
// as an ordinary Go process rather than on bare QEMU virt hardware.
package main

import (
	"log"
	"os"

	"github.com/cmelnulabs/riscvkern/internal/kconfig"
	"github.com/cmelnulabs/riscvkern/internal/kernel"
	"github.com/cmelnulabs/riscvkern/internal/shell"
)

func main() {
	cfg := kconfig.Default()
	log.Printf("riscvkern: booting, ram=%#x+%#x, uart=%#x, clint=%#x, plic=%#x, virtio=%#x",
		cfg.RAMStart, cfg.RAMSize, cfg.UartBase, cfg.ClintBase, cfg.PlicBase, cfg.VirtioBase)

	k, err := kernel.New(cfg)
	if err != 0 {
		log.Fatalf("riscvkern: boot failed: %d", err)
	}
	log.Printf("riscvkern: subsystems up, starting init")

	init := k.Spawn("init")
	sh := shell.New(k, init)
	sh.Run(os.Stdin, os.Stdout)

	log.Printf("riscvkern: init exited, halting")
}
