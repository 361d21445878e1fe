// ABOUTME: Capture streaming package
// ABOUTME: WebSocket server and listener for captured microphone audio
// Package stream publishes a capture session to listeners on the network.
//
// The Server registers itself as the capture controller's block consumer.
// Each completed buffer is converted to PCM16 inside the completion handler,
// into one of a fixed set of pre-allocated blocks, and handed to a publisher
// goroutine without blocking. When no block is free the buffer is dropped and
// counted. The publisher encodes each block per listener (PCM or Opus) and
// sends it as a binary frame after the listener's stream/start.
//
// Example Server:
//
//	server, err := stream.NewServer(stream.ServerConfig{
//	    Port:  8928,
//	    Codec: "opus",
//	}, controller)
//	go server.Start()
//	err = controller.Start()
//
// Example listener:
//
//	client := stream.NewClient(stream.ClientConfig{ServerAddr: "mic.local:8928", Name: "desk"})
//	err := client.Connect(ctx)
//	for {
//	    select {
//	    case block := <-client.Blocks:
//	        out.Write(block.Samples)
//	    case <-client.Done():
//	        return
//	    }
//	}
package stream
