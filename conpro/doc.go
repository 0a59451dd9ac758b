// Package conpro opens and maintains EtherNet/IP Class 1 consumer connections to controllers.
//
// A Service owns one UDP socket bound to the cyclic port (2222) and a registry of Sessions, one per
// controller address. Adding a consumer lazily connects and registers a Session over TCP (44818),
// negotiates a connection with Forward_Open, and starts a keep-alive task that sends a sequenced
// datagram every O->T RPI. A single listener task receives produced datagrams and routes each one by
// its T->O connection id to the owning Consumer's Sink.
//
// Example Usage:
//
//	cfg, _ := conpro.NewServiceConfig(conpro.WithLogger(l))
//	svc, _ := conpro.NewService(ctx, cfg)
//	if err := svc.Start(); err != nil {
//	    return err
//	}
//	defer svc.Close()
//
//	queue := conpro.NewConsumerQueue()
//	addr := eip.MustAddress("192.168.1.10", 0)
//	hint := eip.ConnectionHint{Tag: "Motor.Speed", DataSize: 4, RPI: 20000, OTRPI: 20000}
//	id, err := svc.AddConsumer(ctx, addr, hint, queue)
//	...
//	payload, err := queue.Wait(ctx)
//
// Delivery happens on the listener goroutine. ConsumerQueue only enqueues, so slow readers never
// stall routing for other consumers.
package conpro
