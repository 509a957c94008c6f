// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pmem_test

import (
	"log"
	"reflect"

	"github.com/pierrejay/dmxgateway/host/pmem"
)

func ExampleMap() {
	// Let's say the CPU has 4 x 32 bits memory mapped registers at the address
	// 0xDEADBEEF.
	view, err := pmem.Map(0xDEADBEEF, 16)
	if err != nil {
		log.Fatal(err)
	}
	defer view.Close()

	var regs *struct{ R [4]uint32 }
	if err := view.Struct(reflect.ValueOf(&regs)); err != nil {
		log.Fatal(err)
	}
	// regs now points to physical memory.
}
