// ABOUTME: Continuous microphone capture into a ping-pong buffer pair
// ABOUTME: Package documentation for the capture controller
// Package capture drives an ADC and a transfer engine that fill two
// alternating buffers with raw microphone samples.
//
// The transfer engine calls Controller.OnTransferComplete each time a buffer
// fills. Even sequence numbers mean buffer 0 just completed and the engine is
// now filling buffer 1; odd numbers mean the reverse. The handler forwards the
// completed buffer to the function registered with OnReceive and records its
// index for CompletedIndex.
//
// Read and ReadSamples are plain copies. A consumer has one block period to
// read a completed buffer before the engine overwrites it; a late read returns
// torn data and no error.
//
// Example:
//
//	ctrl, err := capture.New(capture.DefaultConfig(), capture.Hardware{
//	    Peripheral: adc,
//	    Engine:     dma,
//	    Pins:       gpio,
//	})
//	ctrl.OnReceive(func(block []uint16) {
//	    ctrl.Resolution().ConvertBlock(pcm, block)
//	})
//	if err := ctrl.Start(); err != nil {
//	    return err
//	}
//	defer ctrl.Stop()
package capture
