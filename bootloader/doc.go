// Package bootloader provides a host-side programmer for STM32 system
// bootloaders speaking the USART protocol.
//
// # Overview
//
// This package orchestrates the complete firmware programming sequence:
//   - Synchronising with the bootloader (0x7F autobaud)
//   - Validating the product ID
//   - Erasing the flash pages covered by the image
//   - Writing the image in chunks of up to 256 bytes
//   - Verifying the written data
//   - Starting the application
//
// # Basic Usage
//
// The simplest way to program a device:
//
//	// User provides hardware communication (io.ReadWriter)
//	port, err := serial.Open(&serial.Config{Address: "/dev/ttyUSB0", BaudRate: 115200, Parity: "E"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Parse firmware file
//	img, err := ihex.Parse("firmware.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	prog := bootloader.New(port)
//	if err := prog.Program(context.Background(), img); err != nil {
//	    log.Fatal(err)
//	}
//
// # Progress Tracking
//
// Track programming progress with a callback:
//
//	prog := bootloader.New(port,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% - Block %d/%d\n",
//	            p.Phase, p.Percentage, p.CurrentBlock, p.TotalBlocks)
//	    }),
//	)
//
// # Configuration Options
//
// Customize behavior with functional options:
//
//	prog := bootloader.New(port,
//	    bootloader.WithLogger(bootloader.NewSlogLogger(slog.Default())),
//	    bootloader.WithTimeout(2*time.Second),
//	    bootloader.WithChunkSize(128),
//	    bootloader.WithRetries(5),
//	    bootloader.WithProductID(0x0482),
//	)
//
// # Single Commands
//
// Every bootloader command is available on its own once Connect succeeded:
// Get, GetVersion, GetID, ReadMemory, WriteMemory, EraseMemory, MassErase,
// Go, WriteProtect, WriteUnprotect, ReadoutProtect, ReadoutUnprotect,
// Special and ExtendedSpecial. ReadRange and WriteRange split larger
// transfers into chunks.
//
// # Error Handling
//
// The package provides structured error types:
//   - DeviceMismatchError: product ID doesn't match the expected one
//   - SegmentOutOfRangeError: image data lies outside flash
//   - VerifyMismatchError: read-back data differs from the image
//   - protocol.ProtocolError: the bootloader answered NACK
//   - ErrTimeout: the bootloader did not answer
//
// # Hardware Independence
//
// This package does NOT open serial ports. Any io.ReadWriter carrying the
// USART byte stream works: a serial port, a TCP bridge, or the simulator's
// sim.USART.Pump for tests.
package bootloader
