// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pmem maps physical memory into user space so the gateway can talk
// to UART and mailbox registers directly, bypassing any kernel serial or IPC
// driver (spec.md §4.2, §4.3).
//
// A modern computer has several distinct views of "memory" that matter here:
//
// User
//
// User mode address space is the virtual address space an application runs
// in. Regular Go slices and pointers live here.
//
// Physical
//
// Physical memory address space is the actual address of each page in DRAM
// and anything connected to the memory controller — on Linux this is mapped
// into user space via /dev/mem.
//
// CPU
//
// The CPU memory-maps registers (UART control lines, mailbox doorbells) into
// the same physical address space as DRAM. Reading or writing one of these
// addresses is not a normal memory access: it can have side effects (a read
// may latch a value, a write may trigger an interrupt), so View/Slice give
// callers the raw bytes and leave interpreting them to the caller (spec.md
// §4.2's UARTRegs, §4.3's MailboxRegs).
package pmem
