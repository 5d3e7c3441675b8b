// Package client is a small Go SDK for the orchestration engine's REST and
// WebSocket surface.
//
// # Basic usage
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	t, err := c.SubmitTask(ctx, client.CreateTaskRequest{
//		Prompt:   "summarize the README",
//		Priority: "high",
//	})
//
// # Streaming events
//
//	if err := c.ConnectWebSocket(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer c.CloseWebSocket()
//
//	for evt := range c.Events() {
//		fmt.Println(evt.Kind, evt.Data)
//	}
//
// # Configuration
//
//	c, err := client.New("http://localhost:8080",
//		client.WithTimeout(30*time.Second),
//		client.WithHeader("X-Request-Source", "cli"),
//	)
package client
