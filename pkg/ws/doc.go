// Package ws provides the WebSocket connection and message pipeline.
//
// # Pipeline
//
// Every upgraded connection passes the admission steps of the
// ConnectionProcessor in order: origin policy, channel policy,
// per-channel authorization, connection middlewares. Admitted connections are
// tracked in the Registry and optionally followed by a heartbeat.
//
// Every inbound frame is handled by the MessageProcessor: protocol decoding,
// message middlewares, then the controller registered for the connection's
// channel (or the "*" controller). A non-nil controller result is sent back to
// the sender through the OutputProcessor.
//
// Errors raised anywhere in the pipeline are dispatched by kind to the
// connection-scoped or message-scoped ExceptionProcessor.
//
// # Basic Usage
//
//	server, err := ws.New(
//	    ws.WithAllowedOrigins("https://example.com"),
//	    ws.WithStrictOriginCheck(true),
//	    ws.WithChannels("chat"),
//	    ws.WithHeartbeat(30*time.Second, 10*time.Second),
//	    ws.WithAuthorizer("chat", func(ctx context.Context, conn *ws.Connection, channel string) (bool, error) {
//	        conn.AddTags("member")
//	        return true, nil
//	    }),
//	    ws.WithController("chat", func(ctx context.Context, msg *ws.Message) (any, error) {
//	        return nil, msg.ReplyToChannel(ctx, msg.Raw())
//	    }),
//	    ws.OnMessageError(errors.KindAny, func(ctx context.Context, err error, ec *ws.ExceptionContext) {
//	        if ec.Message != nil {
//	            _ = ec.Message.Reply(ctx, ws.NewErrorResponse("", 500, err.Error()))
//	        }
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	http.Handle("/ws", server)
//
//	// Graceful shutdown
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	server.Shutdown(ctx)
//
// # Event Routing
//
// EventRouter dispatches EventProtocol envelopes by event name:
//
//	router := ws.NewEventRouter()
//	ws.Handle[ChatMessage, ChatResponse](router, "chat.send",
//	    func(ctx context.Context, msg *ws.Message, req *ChatMessage) (*ChatResponse, error) {
//	        return &ChatResponse{Success: true}, nil
//	    })
//
//	server, _ := ws.New(
//	    ws.WithProtocol(ws.EventProtocol{}),
//	    ws.WithController("*", router.Controller()),
//	)
//
// # Cluster
//
// With a Relay configured (see package cluster), channel broadcasts are also
// published to the other nodes, which deliver the encoded frame to their own
// matching connections.
package ws
