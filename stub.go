package main

import "github.com/earlyboot/kernelvmm/kernel/kmain"

var (
	multibootInfoPtr       uintptr
	kernelStart, kernelEnd uintptr
	guardPageAddr          uintptr
)

// main makes a dummy call to the actual kernel main entrypoint function. It
// is intentionally defined to prevent the Go compiler from optimizing away the
// real kernel code.
//
// Global variables are passed as arguments to Kmain to prevent the compiler
// from inlining the actual call and removing Kmain from the generated .o file.
// The rt0 assembly that precedes this call (not part of this tree) is
// responsible for populating them from the linker script and the Multiboot
// handoff before jumping here.
func main() {
	kmain.Kmain(multibootInfoPtr, kernelStart, kernelEnd, guardPageAddr)
}
