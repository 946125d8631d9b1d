// Package flash drives a device running the nv3p protocol server through a
// list of flashing operations.
//
// # Overview
//
// A Session owns everything one run needs:
//   - the transport and the platform information read on connect
//   - the lazily downloaded bootloader
//   - the cached device partition table
//   - the pending sync, BCT section update, verification list and reset
//
// # Basic Usage
//
// Partition a device from a configuration file and let it boot:
//
//	devs, err := partition.Load("flash.cfg")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	s := flash.New(t,
//	    flash.WithDevices(devs),
//	    flash.WithBct("flash.bct"),
//	    flash.WithBootloader("bootloader.bin"),
//	)
//	defer s.Close()
//
//	err = s.Run(ctx, []flash.Op{
//	    &flash.Create{},
//	    &flash.VerifyPartition{Partition: flash.VerifyAll},
//	    &flash.Go{},
//	})
//
// # Operation Order
//
// Run checks every operation before contacting the device. It then runs the
// operations in order and, once they are done, sends the pending BCT section
// update, the trailing sync, the verification pass and the reset. Go ends the
// list early; the deferred steps still run.
//
// # Progress Tracking
//
//	s := flash.New(t,
//	    flash.WithProgressCallback(func(p flash.Progress) {
//	        if p.Phase == flash.PhaseFormatting {
//	            spinner.Add(1)
//	            return
//	        }
//	        fmt.Printf("[%s] %s %.1f%%\n", p.Phase, p.Partition, p.Percentage)
//	    }),
//	)
//
// Formatting runs on a worker goroutine; the callback is then driven by the
// polling loop with an increasing Tick.
//
// # Error Handling
//
// The package returns structured errors:
//   - protocol.StatusError: the device replied with a status other than Ok
//   - SizeError: a payload does not fit its partition
//   - PartitionNotFoundError: a name matches no partition
//   - VerifyError: partitions failed verification
//   - UsageError: the operation list cannot run as given
//   - layout.MismatchError: a skipped partition moved on the device
package flash
